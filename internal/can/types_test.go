package can

import "testing"

func TestNewInfersExtended(t *testing.T) {
	tests := []struct {
		id   uint32
		ext  bool
		want uint32
	}{
		{0x123, false, 0x123},
		{0x7FF, false, 0x7FF},
		{0x800, true, 0x800},
		{0xFFFFFFFF, true, EFFMask},
	}
	for _, tc := range tests {
		f := New(tc.id)
		if f.Extended != tc.ext || f.ID != tc.want {
			t.Fatalf("New(0x%X) = id 0x%X ext %v, want 0x%X ext %v", tc.id, f.ID, f.Extended, tc.want, tc.ext)
		}
	}
}

func TestNewTruncatesPayload(t *testing.T) {
	f := New(0x10, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	if f.Len != DataSize {
		t.Fatalf("len=%d want %d", f.Len, DataSize)
	}
	if got := f.Payload(); got[7] != 8 {
		t.Fatalf("payload=% X", got)
	}
}

func TestValidID(t *testing.T) {
	f := Frame{ID: 0x800}
	if f.ValidID() {
		t.Fatalf("standard frame with 12-bit id must be invalid")
	}
	f.Extended = true
	if !f.ValidID() {
		t.Fatalf("extended frame with 12-bit id must be valid")
	}
	f.ID = EFFMask + 1
	if f.ValidID() {
		t.Fatalf("id above 29 bits must be invalid")
	}
}

func TestSameWireIgnoresMetadata(t *testing.T) {
	a := New(0x42, 1, 2)
	b := a
	b.Timestamp = 99
	b.Sent = true
	b.Data[5] = 0xEE // beyond Len
	if !SameWire(a, b) {
		t.Fatalf("metadata and bytes beyond Len must be ignored")
	}
	b.Data[1] = 9
	if SameWire(a, b) {
		t.Fatalf("payload difference not detected")
	}
}
