package engine

import (
	"reflect"

	"github.com/pierrejay/dmxgateway/host/pmem"
)

// uartRegisterBlock mirrors the layout of a typical 16550-derivative UART's
// register window: line control, line status, and transmit holding
// register, each one word wide. The offsets are fixed by this struct (THR at
// word 5, LSR at word 10, LCR at word 12); the caller of MapUART supplies only
// the base address, the same way host/bcm283x takes a base address
// discovered at runtime rather than assuming one.
type uartRegisterBlock struct {
	_   [5]uint32 // reserved/other UART registers below THR/LSR/LCR in this layout
	thr uint32     // transmit holding register (write) / receive buffer (read)
	_   [4]uint32
	lsr uint32 // line status register
	_   [1]uint32
	lcr uint32 // line control register
}

const (
	lsrTxEmpty   = 1 << 5 // THR empty
	lsrTxIdle    = 1 << 6 // THR and shift register both empty
)

// PmemUARTRegs is the production UARTRegs backed by a physical-memory
// mapping, grounded on host/bcm283x's gpioMap/pmem.View struct-mapping
// idiom: map a physical address range, cast it to a register struct, and
// perform absolute writes directly against its fields.
type PmemUARTRegs struct {
	view *pmem.View
	regs *uartRegisterBlock
}

// MapUART maps size bytes at physical address base and returns a UARTRegs
// backed by that mapping. size must be large enough to hold
// uartRegisterBlock.
func MapUART(base uint64, size int) (*PmemUARTRegs, error) {
	view, err := pmem.Map(base, size)
	if err != nil {
		return nil, err
	}
	r := &PmemUARTRegs{view: view}
	if err := view.Struct(reflect.ValueOf(&r.regs)); err != nil {
		view.Close()
		return nil, err
	}
	return r, nil
}

// Close unmaps the register view.
func (r *PmemUARTRegs) Close() error {
	return r.view.Close()
}

// WriteLCR performs the absolute store spec.md §4.2/§9 requires.
func (r *PmemUARTRegs) WriteLCR(v LCR) {
	r.regs.lcr = uint32(v)
}

// TxReady reports whether the holding register has room for another byte.
func (r *PmemUARTRegs) TxReady() bool {
	return r.regs.lsr&lsrTxEmpty != 0
}

// TxIdle reports whether the holding register AND the shift register have
// both drained.
func (r *PmemUARTRegs) TxIdle() bool {
	return r.regs.lsr&lsrTxIdle != 0
}

// WriteByte pushes one byte into the transmit holding register.
func (r *PmemUARTRegs) WriteByte(b byte) {
	r.regs.thr = uint32(b)
}
