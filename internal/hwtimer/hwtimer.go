// Package hwtimer provides the busy-wait primitive the DMX frame engine
// uses for its BREAK/MAB timing window (spec.md §4.2 step 4, §9).
//
// BREAK and MAB must be timed off a free-running hardware counter, not an
// OS sleep primitive and not a bare CPU-cycle loop — a cycle-counting loop
// drifts with cache state and frequency scaling (spec.md §9). Counter
// models that: a register that increments monotonically at a fixed tick
// rate independent of CPU throttling, exactly the role
// host/bcm283x/timer.go's free-running system timer plays on a BCM283x.
package hwtimer

// Counter reads a free-running hardware tick counter. TicksPerMicro reports
// the counter's fixed tick rate so callers can convert microseconds to a
// tick delta without doing floating point in the timing-critical path.
type Counter interface {
	Ticks() uint64
	TicksPerMicro() uint64
}

// BusyWaitMicros spins reading c until at least micros microseconds have
// elapsed, using integer tick arithmetic only. Callers invoke this with
// interrupts disabled for the BREAK/MAB window, so it must not allocate,
// lock, or call into anything that could block.
func BusyWaitMicros(c Counter, micros uint32) {
	if micros == 0 {
		return
	}
	ticksPerUs := c.TicksPerMicro()
	if ticksPerUs == 0 {
		ticksPerUs = 1
	}
	target := c.Ticks() + uint64(micros)*ticksPerUs
	for c.Ticks() < target {
		// Busy-wait: no sleep, no yield — this runs with interrupts disabled.
	}
}
