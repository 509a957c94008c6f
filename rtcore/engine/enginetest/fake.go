// Package enginetest provides fake hardware surfaces for exercising
// rtcore/engine without real registers, in the spirit of periph.io's
// conn/gpiotest and conn/conntest fakes.
package enginetest

import "sync"

// FakeUART is a software model of the UART registers the frame engine
// drives: an LCR shadow, a bounded TX FIFO, and a "wire" recording every
// byte pushed out of the FIFO. It does not record BREAK/MAB durations:
// nothing appends to breakLog.
type FakeUART struct {
	mu       sync.Mutex
	lcr      byte
	fifo     []byte
	fifoCap  int
	Wire     []byte
	breakLog []BreakEvent
	lastLCR  byte
	breaking bool
}

// BreakEvent records one BREAK assertion for timing assertions in tests.
type BreakEvent struct {
	AssertedAt int // index into a synthetic tick counter, see FakeCounter
	ClearedAt  int
}

// NewFakeUART returns a FakeUART with a FIFO deep enough to never apply
// backpressure in ordinary tests (set fifoCap to a small value to exercise
// TinyCoreEngine's incremental stuffing).
func NewFakeUART(fifoCap int) *FakeUART {
	if fifoCap <= 0 {
		fifoCap = 4096
	}
	return &FakeUART{fifoCap: fifoCap}
}

func (f *FakeUART) WriteLCR(v byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lcr = v
}

// TxReady reports whether the FIFO has room. A full FIFO reports no room
// once and is then emptied into Wire, modeling the transmitter shifting its
// bytes out before the next check.
func (f *FakeUART) TxReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fifo) < f.fifoCap {
		return true
	}
	f.Wire = append(f.Wire, f.fifo...)
	f.fifo = nil
	return false
}

func (f *FakeUART) TxIdle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	idle := len(f.fifo) == 0
	if idle {
		// Draining model: once idle is observed, flush to Wire.
		f.Wire = append(f.Wire, f.fifo...)
		f.fifo = nil
	}
	return idle
}

func (f *FakeUART) WriteByte(b byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fifo = append(f.fifo, b)
}

// LCR returns the last value written, for assertions.
func (f *FakeUART) LCR() byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lcr
}

// Drain flushes the FIFO into Wire unconditionally and returns the bytes
// transmitted so far, resetting Wire. Tests use this between frames.
func (f *FakeUART) Drain() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Wire = append(f.Wire, f.fifo...)
	f.fifo = nil
	out := f.Wire
	f.Wire = nil
	return out
}

// FakeCounter is an hwtimer.Counter that advances by StepPerRead on every
// Ticks() call, so a BusyWaitMicros loop run synchronously in a test still
// terminates after a bounded number of iterations instead of spinning on a
// clock nothing is advancing.
type FakeCounter struct {
	mu         sync.Mutex
	ticks      uint64
	StepPerRead uint64
}

// Ticks implements hwtimer.Counter.
func (c *FakeCounter) Ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	step := c.StepPerRead
	if step == 0 {
		step = 1
	}
	c.ticks += step
	return c.ticks
}

// TicksPerMicro implements hwtimer.Counter with a 1:1 tick-to-microsecond
// rate so Advance(n) reads naturally as "n microseconds passed".
func (c *FakeCounter) TicksPerMicro() uint64 { return 1 }

// Advance moves the counter forward. BusyWaitMicros spins reading Ticks(),
// so in tests that don't run it on its own goroutine, call Advance from a
// background goroutine or pre-seed enough ticks before invoking the code
// under test.
func (c *FakeCounter) Advance(micros uint64) {
	c.mu.Lock()
	c.ticks += micros
	c.mu.Unlock()
}

// FastForward sets the counter far enough ahead that any BusyWaitMicros
// call already in flight returns immediately. Useful when a test doesn't
// care about exact BREAK/MAB timing, only that the call terminates.
func (c *FakeCounter) FastForward() {
	c.mu.Lock()
	c.ticks += 1 << 20
	c.mu.Unlock()
}
