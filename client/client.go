// Package client implements the Linux-side client library (spec.md §4.5):
// it opens the shared tty endpoint, puts it into raw mode, and offers one
// method per real-time command, each a full
// encode→write→read-header→read-payload→read-checksum round trip bounded by
// a 1-second timeout.
//
// Raw-mode handling is grounded directly on github.com/daedaluz/goserial,
// the teacher pack's own tty/ioctl library (which in turn wraps
// github.com/daedaluz/goioctl and github.com/daedaluz/fdev/poll for the
// select-with-timeout reads spec.md requires).
package client

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	serial "github.com/daedaluz/goserial"

	"github.com/pierrejay/dmxgateway/internal/dmxerr"
	"github.com/pierrejay/dmxgateway/internal/wire"
)

// DefaultDevice is the tty endpoint the CLI defaults to (spec.md §6).
const DefaultDevice = "/dev/ttyRPMSG0"

// DefaultTimeout is the per-call wall-clock bound for every read
// (spec.md §4.5).
const DefaultTimeout = time.Second

// Status mirrors rtcore/engine.Status for callers that only link this
// client package (they should not need to import rtcore).
type Status struct {
	Enabled    bool
	FrameCount uint32
	FpsX100    uint32
}

// Timing mirrors rtcore/engine.TimingParams.
type Timing struct {
	RefreshHz uint16
	BreakUs   uint16
	MabUs     uint16
}

// Client serializes all calls on one tty endpoint behind a single mutex —
// spec.md §4.5: "concurrent calls on the same library instance are
// serialized".
type Client struct {
	mu      sync.Mutex
	port    *serial.Port
	timeout time.Duration
}

// Open opens device in raw mode (disable canonical, echo, signal chars;
// VMIN=1, VTIME=0) and returns a ready-to-use Client.
func Open(device string) (*Client, error) {
	port, err := serial.Open(device, serial.NewOptions())
	if err != nil {
		return nil, fmt.Errorf("client: open %s: %w: %v", device, dmxerr.ErrTransportFault, err)
	}
	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("client: get attrs: %w: %v", dmxerr.ErrTransportFault, err)
	}
	attrs.MakeRaw()
	attrs.Cc[serial.VMIN] = 1
	attrs.Cc[serial.VTIME] = 0
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("client: set raw mode: %w: %v", dmxerr.ErrTransportFault, err)
	}
	return &Client{port: port, timeout: DefaultTimeout}, nil
}

// Close releases the tty endpoint.
func (c *Client) Close() error {
	return c.port.Close()
}

// SetTimeout overrides the per-call wall-clock bound (default 1s).
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

func (c *Client) roundTrip(op byte, payload []byte) (status byte, respPayload []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame := wire.EncodeCommand(op, payload)
	if err := c.writeAll(frame); err != nil {
		return 0, nil, err
	}

	header, err := c.readExact(4)
	if err != nil {
		return 0, nil, err
	}
	if header[0] != wire.MagicResponse {
		return 0, nil, dmxerr.ErrBadMagic
	}
	status = header[1]
	length := int(header[2]) | int(header[3])<<8

	var body []byte
	if length > 0 {
		body, err = c.readExact(length)
		if err != nil {
			return 0, nil, err
		}
	}
	checksum, err := c.readExact(1)
	if err != nil {
		return 0, nil, err
	}
	xsum := header[0] ^ header[1] ^ header[2] ^ header[3]
	for _, b := range body {
		xsum ^= b
	}
	if checksum[0] != xsum {
		return 0, nil, dmxerr.ErrBadChecksum
	}
	return status, body, nil
}

func (c *Client) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := c.port.Write(buf)
		if err != nil {
			return fmt.Errorf("client: write: %w: %v", dmxerr.ErrTransportFault, err)
		}
		buf = buf[n:]
	}
	return nil
}

func (c *Client) readExact(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		chunk := make([]byte, n-len(out))
		read, err := c.port.ReadTimeout(chunk, c.timeout)
		if err != nil {
			if isTimeout(err) {
				return nil, dmxerr.ErrTimeout
			}
			return nil, fmt.Errorf("client: read: %w: %v", dmxerr.ErrTransportFault, err)
		}
		if read == 0 {
			return nil, dmxerr.ErrTimeout
		}
		out = append(out, chunk[:read]...)
	}
	return out, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}

func statusErr(status byte) error {
	if status == wire.StatusOK {
		return nil
	}
	return &dmxerr.RemoteError{Status: status}
}

// Enable starts continuous frame emission on the real-time side.
func (c *Client) Enable() error {
	status, _, err := c.roundTrip(wire.OpEnable, nil)
	if err != nil {
		return err
	}
	return statusErr(status)
}

// Disable stops emission after the current frame.
func (c *Client) Disable() error {
	status, _, err := c.roundTrip(wire.OpDisable, nil)
	if err != nil {
		return err
	}
	return statusErr(status)
}

// Blackout sets all 512 slots to zero.
func (c *Client) Blackout() error {
	status, _, err := c.roundTrip(wire.OpBlackout, nil)
	if err != nil {
		return err
	}
	return statusErr(status)
}

// SetChannels writes values starting at startSlot (0-based, spec.md §4.2).
func (c *Client) SetChannels(startSlot int, values []byte) error {
	payload := make([]byte, 2+len(values))
	binary.LittleEndian.PutUint16(payload[:2], uint16(startSlot))
	copy(payload[2:], values)
	status, _, err := c.roundTrip(wire.OpSetChannels, payload)
	if err != nil {
		return err
	}
	return statusErr(status)
}

// Status retrieves the engine's current status.
func (c *Client) Status() (Status, error) {
	status, payload, err := c.roundTrip(wire.OpGetStatus, nil)
	if err != nil {
		return Status{}, err
	}
	if err := statusErr(status); err != nil {
		return Status{}, err
	}
	if len(payload) < 9 {
		return Status{}, fmt.Errorf("client: short status payload: %d bytes", len(payload))
	}
	return Status{
		Enabled:    payload[0] != 0,
		FrameCount: binary.LittleEndian.Uint32(payload[1:5]),
		FpsX100:    binary.LittleEndian.Uint32(payload[5:9]),
	}, nil
}

// SetTiming updates the timing triple; zero fields mean "unchanged".
func (c *Client) SetTiming(hz, breakUs, mabUs uint16) error {
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint16(payload[0:2], hz)
	binary.LittleEndian.PutUint16(payload[2:4], breakUs)
	binary.LittleEndian.PutUint16(payload[4:6], mabUs)
	status, _, err := c.roundTrip(wire.OpSetTiming, payload)
	if err != nil {
		return err
	}
	return statusErr(status)
}

// GetTiming reads the current timing triple.
func (c *Client) GetTiming() (Timing, error) {
	status, payload, err := c.roundTrip(wire.OpGetTiming, nil)
	if err != nil {
		return Timing{}, err
	}
	if err := statusErr(status); err != nil {
		return Timing{}, err
	}
	if len(payload) < 6 {
		return Timing{}, fmt.Errorf("client: short timing payload: %d bytes", len(payload))
	}
	return Timing{
		RefreshHz: binary.LittleEndian.Uint16(payload[0:2]),
		BreakUs:   binary.LittleEndian.Uint16(payload[2:4]),
		MabUs:     binary.LittleEndian.Uint16(payload[4:6]),
	}, nil
}
