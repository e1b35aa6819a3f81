//go:build linux

package socketcan

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
)

func TestPackUnpack(t *testing.T) {
	rtr := can.New(0x18FF0001)
	rtr.Remote = true
	cases := []can.Frame{
		can.New(0x123, 1, 2, 3),
		can.New(0x18DA10F1, 0x02, 0x10, 0x03, 0, 0, 0, 0, 0),
		rtr,
		{ID: 0x10, Extended: true, Len: 1, Data: [8]byte{7}},
	}
	for _, in := range cases {
		var buf [unix.CAN_MTU]byte
		pack(buf[:], in)
		var out can.Frame
		if err := unpack(buf[:], &out); err != nil {
			t.Fatal(err)
		}
		if !can.SameWire(in, out) {
			t.Fatalf("got %+v want %+v", out, in)
		}
	}
}

func TestUnpackFlags(t *testing.T) {
	var buf [unix.CAN_MTU]byte
	buf[0], buf[3] = 0x01, 0x80 // EFF | 0x1
	buf[4] = 12
	var fr can.Frame
	if err := unpack(buf[:], &fr); err != nil {
		t.Fatal(err)
	}
	if !fr.Extended || fr.ID != 1 || fr.Len != 8 {
		t.Fatalf("frame %+v", fr)
	}
	buf[3] = 0x20 // ERR
	if err := unpack(buf[:], &fr); err != ErrErrorFrame {
		t.Fatalf("err=%v", err)
	}
}
