package i2cframe

import (
	"errors"
	"testing"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
)

// FuzzDecode ensures arbitrary register bytes never panic and that anything
// accepted re-encodes to the same bytes.
func FuzzDecode(f *testing.F) {
	for _, rev := range []regmap.Revision{regmap.Rev1, regmap.Rev2} {
		c := New(rev)
		for _, fr := range sampleFrames(rev) {
			wire, _ := c.Encode(fr)
			f.Add(uint8(rev), wire)
		}
	}
	f.Add(uint8(1), []byte{1, 1, 1, 1})
	f.Fuzz(func(t *testing.T, rev uint8, data []byte) {
		c := New(regmap.Revision(rev))
		fr, err := c.Decode(data)
		if err != nil {
			return
		}
		if fr.Len > can.DataSize {
			t.Fatalf("decoded len %d", fr.Len)
		}
		wire, err := c.Encode(fr)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		back, err := c.Decode(wire)
		if err != nil || !can.SameWire(fr, back) {
			t.Fatalf("unstable round trip: %v", err)
		}
	})
}

// FuzzEncode checks Encode either fails with a classified error or round-trips.
func FuzzEncode(f *testing.F) {
	f.Add(uint32(0x123), true, false, uint8(3), []byte{1, 2, 3})
	f.Add(uint32(0x01010101), true, false, uint8(0), []byte{})
	f.Fuzz(func(t *testing.T, id uint32, ext, rtr bool, ln uint8, data []byte) {
		fr := can.Frame{ID: id, Extended: ext, Remote: rtr, Len: ln}
		copy(fr.Data[:], data)
		c := New(regmap.Rev1)
		wire, err := c.Encode(fr)
		if err != nil {
			if !errors.Is(err, ErrInvalidLength) && !errors.Is(err, ErrInvalidID) && !errors.Is(err, ErrReservedID) {
				t.Fatalf("unclassified error %v", err)
			}
			return
		}
		back, err := c.Decode(wire)
		if err != nil || !can.SameWire(fr, back) {
			t.Fatalf("round trip failed: %v", err)
		}
	})
}
