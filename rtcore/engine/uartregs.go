package engine

// LCR is the UART line control register value. The spec requires every
// BREAK-window write to be an absolute write of a known-good constant, never
// a read-modify-write, because a RMW leaves a window where a racing write
// (or a latched hardware condition) can strand the BREAK bit asserted — the
// observed symptom is a halved frame rate (spec.md §9).
type LCR = uint8

const (
	// lcrLineFormat is "known good": 8 data bits, 2 stop bits, no parity,
	// DLAB=0, BREAK=0. This is the 8N2 configuration DMX512 requires.
	lcrLineFormat = LCR(0x07) // WLS1|WLS0=11 (8 bits), STB=1 (2 stop), PEN=0
	// lcrBreakBit, ORed onto lcrLineFormat, asserts BREAK on the line.
	lcrBreakBit = LCR(0x40)
)

// LCRIdle is the absolute value written to force 8N2 with BREAK cleared.
const LCRIdle = lcrLineFormat

// LCRBreak is the absolute value written to force 8N2 with BREAK asserted.
const LCRBreak = lcrLineFormat | lcrBreakBit

// UARTRegs is the register-level contract the frame engine drives directly,
// bypassing any OS serial driver (spec.md §4.2 step 5). The production
// implementation backs this with a pmem.View-mapped register block the way
// host/bcm283x maps GPIO/clock registers; tests use enginetest.FakeUART.
type UARTRegs interface {
	// WriteLCR performs an absolute (non-read-modify-write) store to the
	// line control register.
	WriteLCR(v LCR)
	// TxReady reports whether the TX FIFO has room for another byte.
	TxReady() bool
	// TxIdle reports whether the TX FIFO is empty AND the shift register has
	// finished draining — "previous transmission has retired" (spec.md §4.2
	// step 2).
	TxIdle() bool
	// WriteByte pushes one byte into the TX FIFO/holding register. Callers
	// must have already confirmed TxReady().
	WriteByte(b byte)
}
