// Package engine implements the DMX frame engine (spec.md §4.2): it owns the
// 513-byte universe, drives the UART through BREAK/MAB/start-code/512 slots
// at a configurable refresh rate, and exposes the control surface the
// command dispatcher (rtcore/dispatch) calls into.
//
// Two variants exist, grounded on the teacher's split between a full-OS
// capable host (host/bcm283x, two goroutines, a mutex around shared state)
// and a single-threaded cooperative driver: LargeCoreEngine and
// TinyCoreEngine. Both satisfy Engine.
package engine

import (
	"sync/atomic"
	"time"

	"github.com/pierrejay/dmxgateway/internal/dmxerr"
)

var errRange = dmxerr.ErrRange

// UniverseSize is the number of DMX channel slots, excluding the start code.
const UniverseSize = 512

// FrameSize is the start code plus all 512 slots.
const FrameSize = UniverseSize + 1

// Timing bounds (spec.md §3).
const (
	MinRefreshHz = 1
	MaxRefreshHz = 44
	MinBreakUs   = 88
	MaxBreakUs   = 1000
	MinMabUs     = 8
	MaxMabUs     = 100

	DefaultRefreshHz = 44
	DefaultBreakUs   = 150
	DefaultMabUs     = 12
)

// IdleWaitTimeout bounds how long step 2 of the frame algorithm waits for
// the previous transmission's shift register to go idle before counting an
// error and moving on anyway (spec.md §4.2 step 2).
const IdleWaitTimeout = 100 * time.Millisecond

// TimingParams is the mutable {refresh_hz, break_us, mab_us} triple.
type TimingParams struct {
	RefreshHz uint16
	BreakUs   uint16
	MabUs     uint16
}

// Default returns the spec's default timing triple {44, 150, 12}.
func Default() TimingParams {
	return TimingParams{RefreshHz: DefaultRefreshHz, BreakUs: DefaultBreakUs, MabUs: DefaultMabUs}
}

// Status is the engine's externally visible state (spec.md §3).
type Status struct {
	Enabled    bool
	FrameCount uint32
	ErrorCount uint32
	FpsX100    uint32
}

// Engine is the public contract both variants implement (spec.md §4.2).
type Engine interface {
	// Enable starts continuous frame emission. Idempotent.
	Enable()
	// Disable stops emission after the current frame. Idempotent.
	Disable()
	// SetChannels commits count values starting at startSlot under exclusive
	// access. Returns dmxerr.ErrRange if startSlot+count > UniverseSize.
	SetChannels(startSlot int, values []byte) error
	// Blackout sets all 512 slots to zero; the start code is unaffected.
	Blackout()
	// SetTiming updates the timing triple; a zero field means "leave
	// unchanged". Returns dmxerr.ErrRange if a non-zero field is out of
	// bounds — in that case no field is changed.
	SetTiming(hz, breakUs, mabUs uint16) error
	// GetTiming returns the current timing triple.
	GetTiming() TimingParams
	// Status returns the current engine status.
	Status() Status
	// Reset zeroes frame_count/error_count/fps and restores timing to
	// Default(). It does not change the enabled flag.
	Reset()
	// Close stops any background goroutines the engine owns.
	Close()
}

// frameCounters is the shared, lock-free bookkeeping both variants use for
// frame_count / error_count / fps_x100 (spec.md §4.2 step 6). Using atomics
// here keeps the hot BREAK/MAB path (§4.2 step 4) free of any lock.
type frameCounters struct {
	frameCount uint32
	errorCount uint32
	fpsX100    uint32

	windowStart  time.Time
	windowFrames uint32
}

func (c *frameCounters) onFrame(now time.Time) {
	atomic.AddUint32(&c.frameCount, 1)
	c.windowFrames++
	if c.windowStart.IsZero() {
		c.windowStart = now
		return
	}
	elapsed := now.Sub(c.windowStart)
	if elapsed >= time.Second {
		fps := uint32(0)
		if ms := elapsed.Milliseconds(); ms > 0 {
			fps = uint32(int64(c.windowFrames) * 100000 / ms)
		}
		atomic.StoreUint32(&c.fpsX100, fps)
		c.windowStart = now
		c.windowFrames = 0
	}
}

func (c *frameCounters) onIdleWaitTimeout() {
	atomic.AddUint32(&c.errorCount, 1)
}

func (c *frameCounters) snapshot() (frames, errs, fps uint32) {
	return atomic.LoadUint32(&c.frameCount), atomic.LoadUint32(&c.errorCount), atomic.LoadUint32(&c.fpsX100)
}

func (c *frameCounters) reset() {
	atomic.StoreUint32(&c.frameCount, 0)
	atomic.StoreUint32(&c.errorCount, 0)
	atomic.StoreUint32(&c.fpsX100, 0)
	c.windowStart = time.Time{}
	c.windowFrames = 0
}

func validateTiming(hz, breakUs, mabUs uint16) error {
	if hz != 0 && (hz < MinRefreshHz || hz > MaxRefreshHz) {
		return errRange
	}
	if breakUs != 0 && (breakUs < MinBreakUs || breakUs > MaxBreakUs) {
		return errRange
	}
	if mabUs != 0 && (mabUs < MinMabUs || mabUs > MaxMabUs) {
		return errRange
	}
	return nil
}

func applyTiming(cur *TimingParams, hz, breakUs, mabUs uint16) {
	if hz != 0 {
		cur.RefreshHz = hz
	}
	if breakUs != 0 {
		cur.BreakUs = breakUs
	}
	if mabUs != 0 {
		cur.MabUs = mabUs
	}
}
