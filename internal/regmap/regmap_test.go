package regmap

import "testing"

func TestRevisionLayout(t *testing.T) {
	tests := []struct {
		rev   Revision
		size  int
		magic byte
		send  bool
	}{
		{Rev1, 16, 0x5B, false},
		{Rev2, 14, 0x5A, true},
	}
	for _, tc := range tests {
		t.Run(tc.rev.String(), func(t *testing.T) {
			if got := tc.rev.FrameSize(); got != tc.size {
				t.Errorf("FrameSize=%d want %d", got, tc.size)
			}
			if got := tc.rev.ConfirmMagic(); got != tc.magic {
				t.Errorf("ConfirmMagic=0x%X want 0x%X", got, tc.magic)
			}
			if got := tc.rev.HasSendFrame(); got != tc.send {
				t.Errorf("HasSendFrame=%v want %v", got, tc.send)
			}
		})
	}
	if Revision(3).Valid() {
		t.Fatalf("unknown revision reported valid")
	}
}

func TestRegisterIndexes(t *testing.T) {
	if i, ok := MaskIndex(RegMask1); !ok || i != 1 {
		t.Fatalf("MaskIndex(RegMask1)=%d,%v", i, ok)
	}
	if i, ok := FilterIndex(RegFilt5); !ok || i != 5 {
		t.Fatalf("FilterIndex(RegFilt5)=%d,%v", i, ok)
	}
	if _, ok := FilterIndex(RegMask0); ok {
		t.Fatalf("mask register resolved as filter")
	}
}

func TestBitrateTable(t *testing.T) {
	if Bitrate(0).Valid() || Bitrate(19).Valid() {
		t.Fatalf("out of range selectors must be invalid")
	}
	if got := Bitrate500K.BitsPerSecond(); got != 500000 {
		t.Fatalf("500k=%d", got)
	}
	b, err := BitrateFor(125000)
	if err != nil || b != Bitrate125K {
		t.Fatalf("BitrateFor(125000)=%v,%v", b, err)
	}
	if _, err := BitrateFor(123); err == nil {
		t.Fatalf("expected error for unsupported rate")
	}
}

func TestValidAddress(t *testing.T) {
	for _, a := range []byte{0x00, 0x07, 0x78, 0x7F, 0xFF} {
		if ValidAddress(a) {
			t.Errorf("address 0x%02X must be reserved", a)
		}
	}
	if !ValidAddress(DefaultAddress) {
		t.Errorf("default address must be valid")
	}
}
