// Package ipc implements the two-ring shared-memory transport and the
// mailbox porting layer that signal it (spec.md §4.3, §9).
//
// Ring buffers live in a memory region agreed with the host; direction
// specific mailbox registers signal the peer when a ring has new data. This
// package models that with a byte-slice-backed SPSC ring (NewRingOverBuffer
// accepts any backing slice, such as one from a pmem.View; NewRing allocates
// one on the heap) and a Mailbox abstraction over the status/command/data
// register triad.
package ipc

import (
	"context"
	"sync"

	"github.com/pierrejay/dmxgateway/internal/dmxerr"
)

// Ring is a bounded single-producer/single-consumer byte queue backed by a
// fixed-size buffer. Messages are length-prefixed (uint32 little-endian) so
// Receive can hand back exactly one message at a time, matching "messages
// are delivered in order" (spec.md §4.3 guarantees).
type Ring struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []byte
	r, w     int
	size     int // bytes currently queued
	closed   bool
}

// NewRing allocates a ring over a new capacity-byte heap buffer. Use
// NewRingOverBuffer to supply the buffer instead.
func NewRing(capacity int) *Ring {
	return NewRingOverBuffer(make([]byte, capacity))
}

// NewRingOverBuffer constructs a ring directly over buf, letting the
// production caller pass a pmem.View-backed slice (the shared-memory vring
// region agreed with the host, spec.md §4.3) instead of a heap allocation.
func NewRingOverBuffer(buf []byte) *Ring {
	r := &Ring{buf: buf}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// Close unblocks any pending Send/Receive with an error, modeling an IPC
// endpoint shutdown.
func (r *Ring) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
}

// Send enqueues one message. If the ring is full it waits, bounded by ctx —
// on expiry it returns dmxerr.ErrBackpressure, matching spec.md §4.3's
// failure model ("on ring-full at send time the caller waits, bounded by
// the client's timeout, or fails with Backpressure").
func (r *Ring) Send(ctx context.Context, msg []byte) error {
	framed := make([]byte, 4+len(msg))
	framed[0] = byte(len(msg))
	framed[1] = byte(len(msg) >> 8)
	framed[2] = byte(len(msg) >> 16)
	framed[3] = byte(len(msg) >> 24)
	copy(framed[4:], msg)

	done := r.watchCtx(ctx)
	defer close(done)

	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.closed && r.size+len(framed) > len(r.buf) {
		select {
		case <-ctx.Done():
			return dmxerr.ErrBackpressure
		default:
		}
		r.notFull.Wait()
	}
	if r.closed {
		return dmxerr.ErrTransportFault
	}
	for _, b := range framed {
		r.buf[r.w] = b
		r.w = (r.w + 1) % len(r.buf)
	}
	r.size += len(framed)
	r.notEmpty.Signal()
	return nil
}

// Receive dequeues one message, blocking until one is available or ctx is
// done.
func (r *Ring) Receive(ctx context.Context) ([]byte, error) {
	done := r.watchCtx(ctx)
	defer close(done)

	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.closed && r.size < 4 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		r.notEmpty.Wait()
	}
	if r.closed && r.size < 4 {
		return nil, dmxerr.ErrTransportFault
	}
	hdr := r.peek(4)
	n := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16 | int(hdr[3])<<24
	for r.size < 4+n {
		r.notEmpty.Wait()
	}
	msg := r.peekAt(4, n)
	r.advance(4 + n)
	r.notFull.Signal()
	return msg, nil
}

// watchCtx starts a goroutine that wakes up all waiters when ctx is
// cancelled, so blocked Wait() calls can re-check ctx.Done(). The returned
// channel must be closed by the caller once it stops needing cancellation
// delivery.
func (r *Ring) watchCtx(ctx context.Context) chan struct{} {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.notFull.Broadcast()
			r.notEmpty.Broadcast()
			r.mu.Unlock()
		case <-done:
		}
	}()
	return done
}

func (r *Ring) peek(n int) []byte { return r.peekAt(0, n) }

func (r *Ring) peekAt(offset, n int) []byte {
	out := make([]byte, n)
	idx := (r.r + offset) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[idx]
		idx = (idx + 1) % len(r.buf)
	}
	return out
}

func (r *Ring) advance(n int) {
	r.r = (r.r + n) % len(r.buf)
	r.size -= n
}
