// Package wire implements the length-delimited, checksummed framing used on
// the shared-memory command/response link between the gateway and the
// real-time core (spec.md §4.1, §6).
//
// Packets look like:
//
//	Command:  AA | op     | len_lo | len_hi | payload[len] | xor
//	Response: BB | status | len_lo | len_hi | payload[len] | xor
//
// Length is little-endian. The checksum is the XOR of every byte preceding
// it. The decoder is a restartable byte-at-a-time state machine so it can be
// driven directly from an interrupt-fed ring buffer on the real-time side.
package wire

import "github.com/pierrejay/dmxgateway/internal/dmxerr"

const (
	// MagicCommand is the leading byte of every command packet.
	MagicCommand = 0xAA
	// MagicResponse is the leading byte of every response packet.
	MagicResponse = 0xBB

	// MaxPayload is the largest payload length the decoder will accept
	// before resetting to Idle with ErrOverLength.
	MaxPayload = 1024
)

// Command opcodes (spec.md §4.4).
const (
	OpSetChannels  = 0x01
	OpGetStatus    = 0x02
	OpEnable       = 0x03
	OpDisable      = 0x04
	OpBlackout     = 0x05
	OpSetTiming    = 0x06
	OpGetTiming    = 0x07
	OpSystemReset  = 0x08 // tiny-core variant only
)

// Response status codes.
const (
	StatusOK              = 0x00
	StatusBadMagic        = 0x01
	StatusBadChecksum     = 0x02
	StatusOverLength       = 0x03
	StatusInvalidLength   = 0x04
	StatusInvalidCommand  = 0x05
	StatusRangeError      = 0x06
	StatusError           = 0x07
)

// Packet is a fully decoded, validated frame. Op carries the command id for
// a request and the status byte for a response; callers know which based on
// which magic they asked the decoder to accept.
type Packet struct {
	Magic   byte
	Op      byte
	Payload []byte
}

// Encode produces the wire bytes for a packet: magic, op, 16-bit
// little-endian length, payload, trailing XOR checksum.
func Encode(magic, op byte, payload []byte) []byte {
	buf := make([]byte, 0, 4+len(payload)+1)
	buf = append(buf, magic, op, byte(len(payload)), byte(len(payload)>>8))
	buf = append(buf, payload...)
	var xsum byte
	for _, b := range buf {
		xsum ^= b
	}
	buf = append(buf, xsum)
	return buf
}

// EncodeCommand builds a command packet (magic 0xAA).
func EncodeCommand(op byte, payload []byte) []byte {
	return Encode(MagicCommand, op, payload)
}

// EncodeResponse builds a response packet (magic 0xBB).
func EncodeResponse(status byte, payload []byte) []byte {
	return Encode(MagicResponse, status, payload)
}

type decodeState int

const (
	stateIdle decodeState = iota
	stateExpectOp
	stateExpectLenLo
	stateExpectLenHi
	stateExpectData
	stateExpectChecksum
)

// Decoder is a restartable, byte-at-a-time framing state machine. It holds
// no allocation beyond its payload buffer and can be fed one byte per call
// from an ISR-driven ring buffer, or in bulk via Write.
type Decoder struct {
	expectMagic byte
	state       decodeState
	op          byte
	lenLo       byte
	length      int
	payload     []byte
	want        int
	xsum        byte
}

// NewDecoder returns a decoder that only accepts frames starting with
// expectMagic (MagicCommand on the real-time side, MagicResponse on the
// client).
func NewDecoder(expectMagic byte) *Decoder {
	return &Decoder{expectMagic: expectMagic}
}

// Reset returns the decoder to Idle, discarding any partially accumulated
// frame.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.payload = nil
	d.want = 0
	d.xsum = 0
}

// PushByte feeds a single byte into the state machine. It returns a
// complete, validated packet when a frame finishes, or a non-nil err for a
// framing failure (BadMagic, BadChecksum, OverLength) — in both cases the
// decoder has already reset itself and is ready for the next frame. Most
// calls return (nil, nil, false) meaning "keep feeding bytes".
func (d *Decoder) PushByte(b byte) (pkt *Packet, err error, done bool) {
	switch d.state {
	case stateIdle:
		if b != d.expectMagic {
			return nil, dmxerr.ErrBadMagic, true
		}
		d.xsum = b
		d.state = stateExpectOp
		return nil, nil, false

	case stateExpectOp:
		d.op = b
		d.xsum ^= b
		d.state = stateExpectLenLo
		return nil, nil, false

	case stateExpectLenLo:
		d.lenLo = b
		d.xsum ^= b
		d.state = stateExpectLenHi
		return nil, nil, false

	case stateExpectLenHi:
		d.xsum ^= b
		d.length = int(d.lenLo) | int(b)<<8
		if d.length > MaxPayload {
			d.Reset()
			return nil, dmxerr.ErrOverLength, true
		}
		d.want = d.length
		d.payload = make([]byte, 0, d.length)
		if d.want == 0 {
			d.state = stateExpectChecksum
		} else {
			d.state = stateExpectData
		}
		return nil, nil, false

	case stateExpectData:
		d.payload = append(d.payload, b)
		d.xsum ^= b
		d.want--
		if d.want == 0 {
			d.state = stateExpectChecksum
		}
		return nil, nil, false

	case stateExpectChecksum:
		ok := b == d.xsum
		p := &Packet{Magic: d.expectMagic, Op: d.op, Payload: d.payload}
		d.Reset()
		if !ok {
			return nil, dmxerr.ErrBadChecksum, true
		}
		return p, nil, true

	default:
		d.Reset()
		return nil, dmxerr.ErrBadMagic, true
	}
}

// Write feeds every byte of buf through the decoder, invoking emit for each
// completed frame (successful or not), so one call can emit several frames.
// It returns the number of bytes consumed, which is always len(buf).
//
// Write never returns an error itself: framing errors are reported through
// emit so the caller can decide whether to keep streaming the rest of buf.
func (d *Decoder) Write(buf []byte, emit func(*Packet, error)) (consumed int) {
	for i, b := range buf {
		pkt, err, done := d.PushByte(b)
		if done {
			emit(pkt, err)
		}
		consumed = i + 1
	}
	return consumed
}
