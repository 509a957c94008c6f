package hwtimer

import (
	"reflect"

	"github.com/pierrejay/dmxgateway/host/pmem"
)

// freeRunningCounter mirrors a classic low/high free-running system-timer
// counter pair (e.g. BCM283x's System Timer CLO/CHI at a 1MHz tick rate):
// two 32-bit words forming a 64-bit count that never wraps in practice.
type freeRunningCounter struct {
	clo uint32
	chi uint32
}

// PmemCounter is the production Counter backed by a physical-memory-mapped
// free-running timer register, using the same pmem.View struct-mapping
// idiom as host/bcm283x/timer.go's system timer access.
type PmemCounter struct {
	view          *pmem.View
	regs          *freeRunningCounter
	ticksPerMicro uint64
}

// MapCounter maps size bytes at physical address base and returns a Counter
// ticking at hz ticks per second (the BCM283x system timer runs at 1 MHz,
// i.e. hz=1_000_000).
func MapCounter(base uint64, size int, hz uint64) (*PmemCounter, error) {
	view, err := pmem.Map(base, size)
	if err != nil {
		return nil, err
	}
	c := &PmemCounter{view: view, ticksPerMicro: hz / 1_000_000}
	if c.ticksPerMicro == 0 {
		c.ticksPerMicro = 1
	}
	if err := view.Struct(reflect.ValueOf(&c.regs)); err != nil {
		view.Close()
		return nil, err
	}
	return c, nil
}

// Close unmaps the counter's register view.
func (c *PmemCounter) Close() error {
	return c.view.Close()
}

// Ticks reads the free-running counter as a 64-bit value, handling the
// classic low/high read race by re-reading chi if clo appears to have
// wrapped between the two reads.
func (c *PmemCounter) Ticks() uint64 {
	hi := c.regs.chi
	lo := c.regs.clo
	if hi != c.regs.chi {
		hi = c.regs.chi
		lo = c.regs.clo
	}
	return uint64(hi)<<32 | uint64(lo)
}

// TicksPerMicro reports the counter's fixed tick rate.
func (c *PmemCounter) TicksPerMicro() uint64 {
	return c.ticksPerMicro
}
