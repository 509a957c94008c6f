// Package dispatch implements the command dispatcher (spec.md §4.4): it
// reads framed commands off the IPC transport, validates and dispatches
// them by cmd_id into the frame engine, and emits exactly one framed
// response per command.
package dispatch

import (
	"context"
	"encoding/binary"

	"github.com/apex/log"

	"github.com/pierrejay/dmxgateway/internal/dmxerr"
	"github.com/pierrejay/dmxgateway/internal/wire"
	"github.com/pierrejay/dmxgateway/rtcore/engine"
)

// Transport is the minimal surface the dispatcher needs from rtcore/ipc.Ring
// — kept as an interface so tests can swap in an in-memory pair without
// pulling in the real ring's condvar machinery.
type Transport interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, msg []byte) error
}

// ResetMagic is the 4-byte guard value SYSTEM_RESET requires (tiny-core
// variant only, spec.md §4.4).
var ResetMagic = [4]byte{0xDE, 0xAD, 0xBE, 0xEF}

// Resetter abstracts "issue a SoC reset", so the large-core variant (which
// has no SYSTEM_RESET opcode) can simply not provide one.
type Resetter interface {
	Reset()
}

// Dispatcher owns the request/response loop for one engine instance.
type Dispatcher struct {
	eng       engine.Engine
	transport Transport
	resetter  Resetter // nil on the large-core variant
	log       *log.Entry
}

// New constructs a Dispatcher. resetter may be nil if this build has no
// SYSTEM_RESET support (the large-core variant, spec.md §4.4 table).
func New(eng engine.Engine, transport Transport, resetter Resetter, logger *log.Entry) *Dispatcher {
	if logger == nil {
		logger = log.WithField("component", "dispatch")
	}
	return &Dispatcher{eng: eng, transport: transport, resetter: resetter, log: logger}
}

// Run services commands until ctx is cancelled. The dispatcher never
// returns without having produced exactly one response per command it
// accepted, unless the transport itself fails (spec.md §4.4).
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		raw, err := d.transport.Receive(ctx)
		if err != nil {
			return err
		}
		resp := d.handleFrame(raw)
		if resp == nil {
			continue
		}
		if err := d.transport.Send(ctx, resp); err != nil {
			d.log.WithError(err).Warn("dispatch: failed to send response")
		}
	}
}

// handleFrame decodes one already wire-framed command and returns the
// framed response bytes, or nil if the frame was not even a well-formed
// command packet (framing errors still get a response when possible).
func (d *Dispatcher) handleFrame(raw []byte) []byte {
	dec := wire.NewDecoder(wire.MagicCommand)
	var pkt *wire.Packet
	var decodeErr error
	dec.Write(raw, func(p *wire.Packet, err error) {
		if pkt == nil && decodeErr == nil {
			pkt, decodeErr = p, err
		}
	})
	if decodeErr != nil {
		return wire.EncodeResponse(statusFor(decodeErr), nil)
	}
	if pkt == nil {
		return nil
	}
	status, payload := d.dispatch(pkt)
	return wire.EncodeResponse(status, payload)
}

func statusFor(err error) byte {
	switch err {
	case dmxerr.ErrBadMagic:
		return wire.StatusBadMagic
	case dmxerr.ErrBadChecksum:
		return wire.StatusBadChecksum
	case dmxerr.ErrOverLength:
		return wire.StatusOverLength
	default:
		return wire.StatusError
	}
}

func (d *Dispatcher) dispatch(pkt *wire.Packet) (status byte, payload []byte) {
	switch pkt.Op {
	case wire.OpSetChannels:
		return d.handleSetChannels(pkt.Payload)
	case wire.OpGetStatus:
		return d.handleGetStatus()
	case wire.OpEnable:
		d.eng.Enable()
		return wire.StatusOK, nil
	case wire.OpDisable:
		d.eng.Disable()
		return wire.StatusOK, nil
	case wire.OpBlackout:
		d.eng.Blackout()
		return wire.StatusOK, nil
	case wire.OpSetTiming:
		return d.handleSetTiming(pkt.Payload)
	case wire.OpGetTiming:
		return d.handleGetTiming()
	case wire.OpSystemReset:
		return d.handleSystemReset(pkt.Payload)
	default:
		return wire.StatusInvalidCommand, nil
	}
}

func (d *Dispatcher) handleSetChannels(payload []byte) (byte, []byte) {
	if len(payload) < 2 {
		return wire.StatusInvalidLength, nil
	}
	start := int(binary.LittleEndian.Uint16(payload[:2]))
	values := payload[2:]
	if err := d.eng.SetChannels(start, values); err != nil {
		return wire.StatusRangeError, nil
	}
	return wire.StatusOK, nil
}

func (d *Dispatcher) handleGetStatus() (byte, []byte) {
	st := d.eng.Status()
	payload := make([]byte, 9)
	if st.Enabled {
		payload[0] = 1
	}
	binary.LittleEndian.PutUint32(payload[1:5], st.FrameCount)
	binary.LittleEndian.PutUint32(payload[5:9], st.FpsX100)
	return wire.StatusOK, payload
}

func (d *Dispatcher) handleSetTiming(payload []byte) (byte, []byte) {
	if len(payload) != 6 {
		return wire.StatusInvalidLength, nil
	}
	hz := binary.LittleEndian.Uint16(payload[0:2])
	breakUs := binary.LittleEndian.Uint16(payload[2:4])
	mabUs := binary.LittleEndian.Uint16(payload[4:6])
	if err := d.eng.SetTiming(hz, breakUs, mabUs); err != nil {
		return wire.StatusRangeError, nil
	}
	return wire.StatusOK, nil
}

func (d *Dispatcher) handleGetTiming() (byte, []byte) {
	t := d.eng.GetTiming()
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint16(payload[0:2], t.RefreshHz)
	binary.LittleEndian.PutUint16(payload[2:4], t.BreakUs)
	binary.LittleEndian.PutUint16(payload[4:6], t.MabUs)
	return wire.StatusOK, payload
}

func (d *Dispatcher) handleSystemReset(payload []byte) (byte, []byte) {
	if len(payload) != 4 || payload[0] != ResetMagic[0] || payload[1] != ResetMagic[1] ||
		payload[2] != ResetMagic[2] || payload[3] != ResetMagic[3] {
		return wire.StatusInvalidLength, nil
	}
	if d.resetter == nil {
		return wire.StatusInvalidCommand, nil
	}
	// Resets frame/error counters and timing to engine.Default(); the
	// enabled flag is left untouched (spec.md §4.4).
	d.eng.Reset()
	// The resetter runs on a goroutine started here, so it can run before
	// Run has sent this OK response.
	go d.resetter.Reset()
	return wire.StatusOK, nil
}
