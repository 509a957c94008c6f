package ipc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pierrejay/dmxgateway/internal/dmxerr"
)

func TestRingOrderedDelivery(t *testing.T) {
	r := NewRing(256)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			if err := r.Send(ctx, []byte{byte(i)}); err != nil {
				t.Errorf("Send(%d): %v", i, err)
			}
		}
	}()

	for i := 0; i < 10; i++ {
		msg, err := r.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive(%d): %v", i, err)
		}
		if len(msg) != 1 || msg[0] != byte(i) {
			t.Fatalf("Receive(%d) = %v, want [%d]", i, msg, i)
		}
	}
	wg.Wait()
}

func TestRingBackpressure(t *testing.T) {
	r := NewRing(16) // small enough that one message fills it
	ctx := context.Background()
	if err := r.Send(ctx, make([]byte, 10)); err != nil {
		t.Fatalf("first send: %v", err)
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := r.Send(deadlineCtx, make([]byte, 10))
	if err != dmxerr.ErrBackpressure {
		t.Fatalf("err = %v, want ErrBackpressure", err)
	}
}

type fakeMailboxRegs struct {
	mu      sync.Mutex
	status  uint32
	cmd     uint32
	data    uint32
	enabled bool
}

func (f *fakeMailboxRegs) Status() uint32  { f.mu.Lock(); defer f.mu.Unlock(); return f.status }
func (f *fakeMailboxRegs) Command() uint32 { f.mu.Lock(); defer f.mu.Unlock(); return f.cmd }
func (f *fakeMailboxRegs) Data() uint32    { f.mu.Lock(); defer f.mu.Unlock(); return f.data }

func (f *fakeMailboxRegs) AckWriteOneClear(bits uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status &^= bits
}

func (f *fakeMailboxRegs) Doorbell(cmd, data uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmd, f.data = cmd, data
	f.status |= pendingBit
}

func (f *fakeMailboxRegs) EnableAToBInterrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
}

func TestMailboxDrainsPendingMessageAtInit(t *testing.T) {
	regs := &fakeMailboxRegs{}
	regs.Doorbell(Magic, 7) // arrives "before the ISR was installed"

	var got uint16
	var gotCount int
	m := NewMailbox(regs, func(linkID uint16) {
		got = linkID
		gotCount++
	})
	_ = m

	if !regs.enabled {
		t.Error("expected EnableAToBInterrupt to have been called")
	}
	if gotCount != 1 || got != 7 {
		t.Fatalf("onEvent called %d times with linkID=%d, want 1 time with linkID=7", gotCount, got)
	}
	if regs.status&pendingBit != 0 {
		t.Error("status pending bit should have been acknowledged (write-1-to-clear)")
	}
}

func TestMailboxIgnoresWrongMagic(t *testing.T) {
	regs := &fakeMailboxRegs{}
	regs.Doorbell(0xBAD, 1)

	called := false
	NewMailbox(regs, func(uint16) { called = true })
	if called {
		t.Error("onEvent should not fire for a message with the wrong magic")
	}
}
