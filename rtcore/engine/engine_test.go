package engine

import (
	"testing"
	"time"

	"github.com/pierrejay/dmxgateway/internal/dmxerr"
	"github.com/pierrejay/dmxgateway/rtcore/engine/enginetest"
)

func newTestLargeCore() (*LargeCoreEngine, *enginetest.FakeUART) {
	uart := enginetest.NewFakeUART(0)
	counter := &enginetest.FakeCounter{StepPerRead: 50}
	return NewLargeCoreEngine(uart, counter), uart
}

func TestLargeCoreSetChannelsRangeError(t *testing.T) {
	e, _ := newTestLargeCore()
	defer e.Close()

	if err := e.SetChannels(500, make([]byte, 20)); err != dmxerr.ErrRange {
		t.Fatalf("err = %v, want ErrRange", err)
	}
	if err := e.SetChannels(0, make([]byte, UniverseSize)); err != nil {
		t.Fatalf("full-universe write should succeed: %v", err)
	}
}

func TestLargeCoreSetTimingPreservesUnchanged(t *testing.T) {
	// S3 from spec.md §8.
	e, _ := newTestLargeCore()
	defer e.Close()

	if got := e.GetTiming(); got != Default() {
		t.Fatalf("initial timing = %+v, want default", got)
	}
	if err := e.SetTiming(0, 200, 0); err != nil {
		t.Fatalf("SetTiming: %v", err)
	}
	want := TimingParams{RefreshHz: DefaultRefreshHz, BreakUs: 200, MabUs: DefaultMabUs}
	if got := e.GetTiming(); got != want {
		t.Fatalf("timing = %+v, want %+v", got, want)
	}
}

func TestLargeCoreSetTimingRangeError(t *testing.T) {
	e, _ := newTestLargeCore()
	defer e.Close()

	before := e.GetTiming()
	if err := e.SetTiming(45, 0, 0); err != dmxerr.ErrRange {
		t.Fatalf("err = %v, want ErrRange", err)
	}
	if got := e.GetTiming(); got != before {
		t.Fatalf("timing changed after rejected SetTiming: %+v != %+v", got, before)
	}
}

func TestLargeCoreFrameCadence(t *testing.T) {
	// Invariant 2 from spec.md §8: frame_count increases while enabled.
	e, _ := newTestLargeCore()
	defer e.Close()
	if err := e.SetTiming(44, 0, 0); err != nil {
		t.Fatalf("SetTiming: %v", err)
	}
	e.Enable()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Status().FrameCount > 5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("frame_count did not advance: %+v", e.Status())
}

func TestLargeCoreUniverseRoundTrip(t *testing.T) {
	// S6 from spec.md §8.
	e, uart := newTestLargeCore()
	defer e.Close()

	values := make([]byte, UniverseSize)
	for i := range values {
		values[i] = byte(i % 256)
	}
	if err := e.SetChannels(0, values); err != nil {
		t.Fatalf("SetChannels: %v", err)
	}

	e.universeMu.Lock()
	got := e.universe
	e.universeMu.Unlock()
	for i := 0; i < UniverseSize; i++ {
		if got[1+i] != byte(i%256) {
			t.Fatalf("slot %d = %d, want %d", i+1, got[1+i], i%256)
		}
	}

	e.Enable()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		wire := uart.Drain()
		if len(wire) >= FrameSize {
			if wire[0] != 0x00 {
				t.Fatalf("start code = %#x, want 0x00", wire[0])
			}
			for i := 0; i < UniverseSize; i++ {
				if wire[1+i] != byte(i%256) {
					t.Fatalf("wire slot %d = %d, want %d", i+1, wire[1+i], i%256)
				}
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("never observed a full frame on the wire")
}

func TestTinyCoreCooperativePoll(t *testing.T) {
	uart := enginetest.NewFakeUART(16) // small FIFO forces incremental stuffing
	counter := &enginetest.FakeCounter{StepPerRead: 50}
	e := NewTinyCoreEngine(uart, counter)
	defer e.Close()

	values := make([]byte, UniverseSize)
	for i := range values {
		values[i] = 0x11
	}
	if err := e.SetChannels(0, values); err != nil {
		t.Fatalf("SetChannels: %v", err)
	}
	e.Enable()

	now := time.Now()
	for i := 0; i < 200; i++ {
		e.Poll(now)
		now = now.Add(time.Millisecond)
	}
	wire := uart.Drain()
	if len(wire) < FrameSize {
		t.Fatalf("only %d bytes stuffed after 200 polls, want at least %d", len(wire), FrameSize)
	}
	if wire[0] != 0x00 {
		t.Fatalf("start code = %#x, want 0", wire[0])
	}
}

func TestTinyCoreBlackout(t *testing.T) {
	uart := enginetest.NewFakeUART(0)
	counter := &enginetest.FakeCounter{StepPerRead: 50}
	e := NewTinyCoreEngine(uart, counter)
	defer e.Close()

	if err := e.SetChannels(0, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	e.Blackout()
	for i := 1; i < FrameSize; i++ {
		if e.universe[i] != 0 {
			t.Fatalf("slot %d = %d after blackout, want 0", i, e.universe[i])
		}
	}
}
