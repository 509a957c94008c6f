package wire

import (
	"bytes"
	"testing"

	"github.com/pierrejay/dmxgateway/internal/dmxerr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		magic   byte
		op      byte
		payload []byte
	}{
		{"empty payload", MagicCommand, OpEnable, nil},
		{"set channels", MagicCommand, OpSetChannels, []byte{0x00, 0x00, 0xFF, 0xFD}},
		{"status response", MagicResponse, StatusOK, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.magic, tc.op, tc.payload)
			d := NewDecoder(tc.magic)
			var got *Packet
			var gotErr error
			d.Write(encoded, func(p *Packet, err error) {
				got, gotErr = p, err
			})
			if gotErr != nil {
				t.Fatalf("unexpected decode error: %v", gotErr)
			}
			if got == nil {
				t.Fatal("expected a decoded packet")
			}
			if got.Op != tc.op {
				t.Errorf("op = %#x, want %#x", got.Op, tc.op)
			}
			if !bytes.Equal(got.Payload, tc.payload) && !(len(got.Payload) == 0 && len(tc.payload) == 0) {
				t.Errorf("payload = %v, want %v", got.Payload, tc.payload)
			}
		})
	}
}

func TestDecodeS1Scenario(t *testing.T) {
	// S1 from spec.md §8: enable then set channel 1 to 0xFF.
	d := NewDecoder(MagicCommand)
	enable := []byte{0xAA, 0x03, 0x00, 0x00, 0xA9}
	var gotOp byte
	var gotErr error
	d.Write(enable, func(p *Packet, err error) {
		if p != nil {
			gotOp = p.Op
		}
		gotErr = err
	})
	if gotErr != nil || gotOp != OpEnable {
		t.Fatalf("enable frame: op=%#x err=%v", gotOp, gotErr)
	}

	setChan := []byte{0xAA, 0x01, 0x03, 0x00, 0x00, 0x00, 0xFF, 0x57}
	var pkt *Packet
	d.Write(setChan, func(p *Packet, err error) {
		if err != nil {
			t.Fatalf("set channels frame: %v", err)
		}
		pkt = p
	})
	if pkt == nil || pkt.Op != OpSetChannels {
		t.Fatalf("expected SET_CHANNELS packet, got %+v", pkt)
	}
	want := []byte{0x00, 0x00, 0xFF}
	if !bytes.Equal(pkt.Payload, want) {
		t.Errorf("payload = %v, want %v", pkt.Payload, want)
	}
}

func TestDecodeBadChecksum(t *testing.T) {
	// S2 from spec.md §8.
	d := NewDecoder(MagicCommand)
	frame := []byte{0xAA, 0x03, 0x00, 0x00, 0x00}
	var gotErr error
	d.Write(frame, func(p *Packet, err error) {
		gotErr = err
	})
	if gotErr != dmxerr.ErrBadChecksum {
		t.Fatalf("err = %v, want ErrBadChecksum", gotErr)
	}
}

func TestDecodeBadMagicResyncs(t *testing.T) {
	d := NewDecoder(MagicCommand)
	var errs []error
	var pkts []*Packet
	stream := append([]byte{0xFF}, EncodeCommand(OpEnable, nil)...)
	d.Write(stream, func(p *Packet, err error) {
		errs = append(errs, err)
		pkts = append(pkts, p)
	})
	if len(errs) != 2 {
		t.Fatalf("expected 2 frame completions (bad magic + good frame), got %d: %v", len(errs), errs)
	}
	if errs[0] != dmxerr.ErrBadMagic {
		t.Errorf("first completion = %v, want ErrBadMagic", errs[0])
	}
	if errs[1] != nil || pkts[1] == nil || pkts[1].Op != OpEnable {
		t.Errorf("second completion should be a clean ENABLE frame, got pkt=%+v err=%v", pkts[1], errs[1])
	}
}

func TestDecodeOverLength(t *testing.T) {
	d := NewDecoder(MagicCommand)
	frame := []byte{MagicCommand, OpSetChannels, 0x01, 0x04} // length = 0x0401 = 1025
	var gotErr error
	d.Write(frame, func(p *Packet, err error) {
		gotErr = err
	})
	if gotErr != dmxerr.ErrOverLength {
		t.Fatalf("err = %v, want ErrOverLength", gotErr)
	}
}

func TestPushByteDrivesByteAtATime(t *testing.T) {
	d := NewDecoder(MagicCommand)
	frame := EncodeCommand(OpGetStatus, nil)
	var pkt *Packet
	for _, b := range frame {
		p, err, done := d.PushByte(b)
		if err != nil {
			t.Fatalf("unexpected error mid-frame: %v", err)
		}
		if done {
			pkt = p
		}
	}
	if pkt == nil || pkt.Op != OpGetStatus {
		t.Fatalf("expected GET_STATUS packet, got %+v", pkt)
	}
}
