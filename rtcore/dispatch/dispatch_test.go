package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/pierrejay/dmxgateway/internal/wire"
	"github.com/pierrejay/dmxgateway/rtcore/engine"
	"github.com/pierrejay/dmxgateway/rtcore/engine/enginetest"
)

// loopbackTransport lets a test drive handleFrame directly without the real
// ipc.Ring's blocking semantics.
type loopbackTransport struct{}

func (loopbackTransport) Receive(ctx context.Context) ([]byte, error) { return nil, nil }
func (loopbackTransport) Send(ctx context.Context, msg []byte) error  { return nil }

// fakeResetter records whether Reset was invoked, so tests can wait on it
// instead of racing the dispatcher's background goroutine.
type fakeResetter struct {
	called chan struct{}
}

func newFakeResetter() *fakeResetter { return &fakeResetter{called: make(chan struct{}, 1)} }

func (r *fakeResetter) Reset() { r.called <- struct{}{} }

func newTestDispatcher() *Dispatcher {
	uart := enginetest.NewFakeUART(0)
	counter := &enginetest.FakeCounter{StepPerRead: 50}
	eng := engine.NewTinyCoreEngine(uart, counter)
	return New(eng, loopbackTransport{}, nil, nil)
}

func TestDispatchS1EnableAndSetChannel(t *testing.T) {
	d := newTestDispatcher()

	resp := d.handleFrame([]byte{0xAA, 0x03, 0x00, 0x00, 0xA9})
	want := []byte{0xBB, 0x00, 0x00, 0x00, 0xBB}
	if string(resp) != string(want) {
		t.Fatalf("enable response = % x, want % x", resp, want)
	}

	resp = d.handleFrame([]byte{0xAA, 0x01, 0x03, 0x00, 0x00, 0x00, 0xFF, 0x57})
	if string(resp) != string(want) {
		t.Fatalf("set_channels response = % x, want % x", resp, want)
	}
}

func TestDispatchS2BadChecksum(t *testing.T) {
	d := newTestDispatcher()
	resp := d.handleFrame([]byte{0xAA, 0x03, 0x00, 0x00, 0x00})
	dec := wire.NewDecoder(wire.MagicResponse)
	var pkt *wire.Packet
	dec.Write(resp, func(p *wire.Packet, err error) { pkt = p })
	if pkt == nil || pkt.Op != wire.StatusBadChecksum {
		t.Fatalf("response status = %+v, want BadChecksum", pkt)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	d := newTestDispatcher()
	frame := wire.EncodeCommand(0x7F, nil)
	resp := d.handleFrame(frame)
	dec := wire.NewDecoder(wire.MagicResponse)
	var pkt *wire.Packet
	dec.Write(resp, func(p *wire.Packet, err error) { pkt = p })
	if pkt == nil || pkt.Op != wire.StatusInvalidCommand {
		t.Fatalf("response status = %+v, want InvalidCommand", pkt)
	}
}

func TestDispatchSetTimingAndGetTiming(t *testing.T) {
	d := newTestDispatcher()

	setPayload := make([]byte, 6)
	setPayload[2], setPayload[3] = 200, 0 // break_us = 200 LE
	frame := wire.EncodeCommand(wire.OpSetTiming, setPayload)
	resp := d.handleFrame(frame)
	dec := wire.NewDecoder(wire.MagicResponse)
	var pkt *wire.Packet
	dec.Write(resp, func(p *wire.Packet, err error) { pkt = p })
	if pkt == nil || pkt.Op != wire.StatusOK {
		t.Fatalf("set_timing response = %+v, want OK", pkt)
	}

	frame = wire.EncodeCommand(wire.OpGetTiming, nil)
	resp = d.handleFrame(frame)
	dec = wire.NewDecoder(wire.MagicResponse)
	dec.Write(resp, func(p *wire.Packet, err error) { pkt = p })
	if pkt == nil || pkt.Op != wire.StatusOK {
		t.Fatalf("get_timing response = %+v, want OK", pkt)
	}
	gotHz := uint16(pkt.Payload[0]) | uint16(pkt.Payload[1])<<8
	gotBreak := uint16(pkt.Payload[2]) | uint16(pkt.Payload[3])<<8
	if gotHz != engine.DefaultRefreshHz || gotBreak != 200 {
		t.Fatalf("timing payload = %v, want hz=%d break=200", pkt.Payload, engine.DefaultRefreshHz)
	}
}

func TestDispatchSystemReset(t *testing.T) {
	uart := enginetest.NewFakeUART(0)
	counter := &enginetest.FakeCounter{StepPerRead: 50}
	eng := engine.NewTinyCoreEngine(uart, counter)
	resetter := newFakeResetter()
	d := New(eng, loopbackTransport{}, resetter, nil)

	// Enable and drift timing away from Default() before resetting.
	eng.Enable()
	if err := eng.SetTiming(30, 200, 20); err != nil {
		t.Fatalf("SetTiming: %v", err)
	}

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	frame := wire.EncodeCommand(wire.OpSystemReset, payload)
	resp := d.handleFrame(frame)
	dec := wire.NewDecoder(wire.MagicResponse)
	var pkt *wire.Packet
	dec.Write(resp, func(p *wire.Packet, err error) { pkt = p })
	if pkt == nil || pkt.Op != wire.StatusOK {
		t.Fatalf("system_reset response = %+v, want OK", pkt)
	}

	select {
	case <-resetter.called:
	case <-time.After(time.Second):
		t.Fatal("resetter.Reset was not invoked")
	}

	st := eng.Status()
	if !st.Enabled {
		t.Fatal("system_reset must not change the enabled flag")
	}
	if st.FrameCount != 0 || st.ErrorCount != 0 || st.FpsX100 != 0 {
		t.Fatalf("counters not reset: %+v", st)
	}
	timing := eng.GetTiming()
	if timing != engine.Default() {
		t.Fatalf("timing = %+v, want %+v", timing, engine.Default())
	}
}

func TestDispatchSystemResetBadMagic(t *testing.T) {
	d := newTestDispatcher()
	frame := wire.EncodeCommand(wire.OpSystemReset, []byte{0, 0, 0, 0})
	resp := d.handleFrame(frame)
	dec := wire.NewDecoder(wire.MagicResponse)
	var pkt *wire.Packet
	dec.Write(resp, func(p *wire.Packet, err error) { pkt = p })
	if pkt == nil || pkt.Op != wire.StatusInvalidLength {
		t.Fatalf("response status = %+v, want InvalidLength", pkt)
	}
}

func TestDispatchSystemResetNoResetter(t *testing.T) {
	d := newTestDispatcher() // resetter is nil
	frame := wire.EncodeCommand(wire.OpSystemReset, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	resp := d.handleFrame(frame)
	dec := wire.NewDecoder(wire.MagicResponse)
	var pkt *wire.Packet
	dec.Write(resp, func(p *wire.Packet, err error) { pkt = p })
	if pkt == nil || pkt.Op != wire.StatusInvalidCommand {
		t.Fatalf("response status = %+v, want InvalidCommand", pkt)
	}
}
