package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pierrejay/dmxgateway/internal/dmxerr"
	"github.com/pierrejay/dmxgateway/internal/hwtimer"
)

// LargeCoreEngine is the two-thread variant (spec.md §5 "larger-core
// variant"): a dedicated txLoop goroutine owns the UART registers
// exclusively, while HandleCommand-style calls (driven by the dispatcher's
// goroutine) take universeMu only briefly to snapshot or mutate the
// universe. Interrupts are modeled as "do not preempt this goroutine" by
// keeping the BREAK/MAB critical section free of anything that could hand
// control back to the scheduler (no allocation, no channel ops, no locks).
type LargeCoreEngine struct {
	uart    UARTRegs
	counter hwtimer.Counter

	universeMu sync.Mutex
	universe   [FrameSize]byte // universe[0] is always the start code, 0x00.

	timingMu sync.Mutex
	timing   TimingParams

	enabled  atomic.Bool
	counters frameCounters

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLargeCoreEngine constructs the engine and starts its tx loop
// immediately (disabled, per spec.md "enable() — start continuous frame
// emission"; the loop itself always runs, it just does nothing while
// disabled, mirroring step 1 of the frame algorithm).
func NewLargeCoreEngine(uart UARTRegs, counter hwtimer.Counter) *LargeCoreEngine {
	e := &LargeCoreEngine{
		uart:    uart,
		counter: counter,
		timing:  Default(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go e.txLoop()
	return e
}

func (e *LargeCoreEngine) Enable() {
	e.enabled.Store(true)
}

func (e *LargeCoreEngine) Disable() {
	e.enabled.Store(false)
}

func (e *LargeCoreEngine) SetChannels(startSlot int, values []byte) error {
	if startSlot < 0 || startSlot+len(values) > UniverseSize {
		return dmxerr.ErrRange
	}
	e.universeMu.Lock()
	copy(e.universe[1+startSlot:], values)
	e.universeMu.Unlock()
	return nil
}

func (e *LargeCoreEngine) Blackout() {
	e.universeMu.Lock()
	for i := 1; i < FrameSize; i++ {
		e.universe[i] = 0
	}
	e.universeMu.Unlock()
}

func (e *LargeCoreEngine) SetTiming(hz, breakUs, mabUs uint16) error {
	if err := validateTiming(hz, breakUs, mabUs); err != nil {
		return err
	}
	e.timingMu.Lock()
	applyTiming(&e.timing, hz, breakUs, mabUs)
	e.timingMu.Unlock()
	return nil
}

func (e *LargeCoreEngine) GetTiming() TimingParams {
	e.timingMu.Lock()
	defer e.timingMu.Unlock()
	return e.timing
}

func (e *LargeCoreEngine) Status() Status {
	frames, errs, fps := e.counters.snapshot()
	return Status{
		Enabled:    e.enabled.Load(),
		FrameCount: frames,
		ErrorCount: errs,
		FpsX100:    fps,
	}
}

// Reset zeroes the frame/error/fps counters and restores timing to
// Default() without touching Enable/Disable state.
func (e *LargeCoreEngine) Reset() {
	e.counters.reset()
	e.timingMu.Lock()
	e.timing = Default()
	e.timingMu.Unlock()
}

func (e *LargeCoreEngine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

// txLoop is the DMX transmit thread: it implements the frame algorithm of
// spec.md §4.2 verbatim, one iteration per loop body.
func (e *LargeCoreEngine) txLoop() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		if !e.enabled.Load() {
			time.Sleep(time.Millisecond)
			continue
		}
		frameStart := time.Now()

		// Step 2: wait for the previous transmission to retire.
		if !e.waitIdle() {
			e.counters.onIdleWaitTimeout()
		}

		// Step 3: snapshot the universe under exclusive access.
		var frame [FrameSize]byte
		e.universeMu.Lock()
		frame = e.universe
		e.universeMu.Unlock()

		timing := e.GetTiming()

		// Step 4: BREAK/MAB timing-critical region. No allocation, no
		// mutex, no logging here.
		e.uart.WriteLCR(LCRBreak)
		hwtimer.BusyWaitMicros(e.counter, uint32(timing.BreakUs))
		e.uart.WriteLCR(LCRIdle)
		hwtimer.BusyWaitMicros(e.counter, uint32(timing.MabUs))

		// Step 5: push the frame — start code + 512 slots — directly into
		// the UART, bypassing any OS serial driver.
		for _, b := range frame {
			for !e.uart.TxReady() {
			}
			e.uart.WriteByte(b)
		}

		// Step 6.
		e.counters.onFrame(time.Now())

		// Step 7: pace to 1/refresh_hz, skipping entirely at 44Hz.
		if timing.RefreshHz < MaxRefreshHz {
			period := time.Second / time.Duration(timing.RefreshHz)
			if remaining := period - time.Since(frameStart); remaining > 0 {
				time.Sleep(remaining)
			}
		}
	}
}

func (e *LargeCoreEngine) waitIdle() bool {
	deadline := time.Now().Add(IdleWaitTimeout)
	for !e.uart.TxIdle() {
		if time.Now().After(deadline) {
			return false
		}
	}
	return true
}

