package engine

import (
	"time"

	"github.com/pierrejay/dmxgateway/internal/dmxerr"
	"github.com/pierrejay/dmxgateway/internal/hwtimer"
)

// txState is the tiny-core cooperative transmit state machine (spec.md
// §4.2 "Tiny-core variant specifics"): {Idle → TxData}. Unlike
// LargeCoreEngine, nothing here runs on its own goroutine — Poll is called
// repeatedly from a single main loop that also drains the incoming-byte
// ring and advances the command dispatcher, so the frame engine fills its
// 64-byte TX FIFO a little at a time across iterations.
type txState int

const (
	txIdle txState = iota
	txData
)

// tinyFIFODepth mirrors the UART's 64-byte hardware TX FIFO.
const tinyFIFODepth = 64

// TinyCoreEngine is the single-threaded, no-OS variant. There is no
// goroutine, no mutex: the caller's single main loop is the only execution
// context, so "exclusive access" in spec.md §4.2 falls out for free as long
// as SetChannels/Blackout/etc. are only ever called from that same loop
// (true on the real tiny core; true here too, since nothing else calls
// these methods concurrently).
type TinyCoreEngine struct {
	uart    UARTRegs
	counter hwtimer.Counter

	universe [FrameSize]byte
	timing   TimingParams
	enabled  bool

	counters frameCounters

	state       txState
	pending     [FrameSize]byte
	pendingPos  int
	lastRetire  time.Time
	waitingIdle bool
	idleSince   time.Time

	nextFrameAt time.Time
}

// NewTinyCoreEngine constructs the cooperative engine. Call Poll repeatedly
// from the single main loop.
func NewTinyCoreEngine(uart UARTRegs, counter hwtimer.Counter) *TinyCoreEngine {
	return &TinyCoreEngine{
		uart:   uart,
		counter: counter,
		timing: Default(),
	}
}

func (e *TinyCoreEngine) Enable()  { e.enabled = true }
func (e *TinyCoreEngine) Disable() { e.enabled = false }

func (e *TinyCoreEngine) SetChannels(startSlot int, values []byte) error {
	if startSlot < 0 || startSlot+len(values) > UniverseSize {
		return dmxerr.ErrRange
	}
	// Not reflected until the next cycle's snapshot (spec.md §4.2, channel
	// writes during steps 4-5 are double-buffered).
	copy(e.universe[1+startSlot:], values)
	return nil
}

func (e *TinyCoreEngine) Blackout() {
	for i := 1; i < FrameSize; i++ {
		e.universe[i] = 0
	}
}

func (e *TinyCoreEngine) SetTiming(hz, breakUs, mabUs uint16) error {
	if err := validateTiming(hz, breakUs, mabUs); err != nil {
		return err
	}
	applyTiming(&e.timing, hz, breakUs, mabUs)
	return nil
}

func (e *TinyCoreEngine) GetTiming() TimingParams { return e.timing }

func (e *TinyCoreEngine) Status() Status {
	frames, errs, fps := e.counters.snapshot()
	return Status{Enabled: e.enabled, FrameCount: frames, ErrorCount: errs, FpsX100: fps}
}

// Reset zeroes the frame/error/fps counters and restores timing to
// Default() without touching Enable/Disable state.
func (e *TinyCoreEngine) Reset() {
	e.counters.reset()
	e.timing = Default()
}

// Close is a no-op: there is no background goroutine to stop.
func (e *TinyCoreEngine) Close() {}

// Poll advances the dmx_poll state machine by one main-loop iteration. It
// must be called cooperatively and frequently — the tiny-core variant has
// no other source of forward progress.
func (e *TinyCoreEngine) Poll(now time.Time) {
	switch e.state {
	case txIdle:
		e.pollIdle(now)
	case txData:
		e.pollTxData(now)
	}
}

func (e *TinyCoreEngine) pollIdle(now time.Time) {
	if !e.enabled {
		return
	}
	if now.Before(e.nextFrameAt) {
		return
	}

	// Step 2: confirm the previous transmission retired. On the tiny core
	// this check is a poll of TxIdle(), not a blocking wait, so a slow
	// drain just delays entering TxData by a few more Poll() calls; we
	// still bound it so a stuck UART counts as an error eventually.
	if !e.uart.TxIdle() {
		if !e.waitingIdle {
			e.waitingIdle = true
			e.idleSince = now
		} else if now.Sub(e.idleSince) > IdleWaitTimeout {
			e.counters.onIdleWaitTimeout()
			e.waitingIdle = false
		} else {
			return
		}
	}
	e.waitingIdle = false

	// Step 3: snapshot.
	e.pending = e.universe
	e.pendingPos = 0

	// Step 4: BREAK/MAB. The spec documents that on the tiny core this MAY
	// briefly exceed strict cooperative yielding since interrupts are still
	// disabled for the whole window — that trade-off is accepted here too.
	e.uart.WriteLCR(LCRBreak)
	hwtimer.BusyWaitMicros(e.counter, uint32(e.timing.BreakUs))
	e.uart.WriteLCR(LCRIdle)
	hwtimer.BusyWaitMicros(e.counter, uint32(e.timing.MabUs))

	e.state = txData
	e.pollTxData(now)
}

// pollTxData fills the FIFO incrementally: at most tinyFIFODepth bytes per
// call, then yields back to the caller's main loop.
func (e *TinyCoreEngine) pollTxData(now time.Time) {
	stuffed := 0
	for e.pendingPos < FrameSize && stuffed < tinyFIFODepth && e.uart.TxReady() {
		e.uart.WriteByte(e.pending[e.pendingPos])
		e.pendingPos++
		stuffed++
	}
	if e.pendingPos >= FrameSize {
		e.counters.onFrame(now)
		e.state = txIdle
		if e.timing.RefreshHz >= MaxRefreshHz {
			e.nextFrameAt = now
		} else {
			e.nextFrameAt = now.Add(time.Second / time.Duration(e.timing.RefreshHz))
		}
	}
}
