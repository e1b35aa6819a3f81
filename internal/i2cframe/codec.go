// Package i2cframe translates CAN frames to and from the fixed-size byte
// sequence exchanged through the bridge's frame registers.
//
// Revision 1 layout (16 bytes):
//
//	0..3   CAN ID, big-endian (ID_0 is the most significant byte)
//	4      extended flag (0/1)
//	5      remote request flag (0/1)
//	6      data length (0..8)
//	7..14  data, zero padded past the length
//	15     checksum
//
// Revision 2 layout (14 bytes) drops the two flag bytes:
//
//	0..3   CAN ID, 4 data length, 5..12 data, 13 checksum
//
// The checksum is the sum of all preceding bytes modulo 256.
package i2cframe

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
)

var (
	// ErrMalformed is returned when the byte count does not match the layout.
	ErrMalformed = errors.New("i2cframe: malformed frame")
	// ErrChecksumMismatch is returned when the trailing checksum does not verify.
	ErrChecksumMismatch = errors.New("i2cframe: checksum mismatch")
	// ErrInvalidLength is returned when a data length exceeds can.DataSize.
	ErrInvalidLength = errors.New("i2cframe: invalid length")
	// ErrInvalidID is returned for identifiers or flag bytes outside their range.
	ErrInvalidID = errors.New("i2cframe: invalid identifier")
	// ErrReservedID is returned for identifiers that would alias a sentinel response.
	ErrReservedID = errors.New("i2cframe: reserved identifier")
)

// field offsets shared by both layouts
const (
	offID   = 0
	offExt  = 4 // rev1 only
	offRTR  = 5 // rev1 only
	offLen1 = 6
	offLen2 = 4
)

// Codec encodes/decodes register frames for one protocol revision.
// Stateless apart from the revision and safe for concurrent use.
type Codec struct {
	Rev regmap.Revision
}

// New returns a codec for rev, falling back to revision 1 for unknown values.
func New(rev regmap.Revision) Codec {
	if !rev.Valid() {
		rev = regmap.Rev1
	}
	return Codec{Rev: rev}
}

func (c Codec) rev() regmap.Revision {
	if c.Rev.Valid() {
		return c.Rev
	}
	return regmap.Rev1
}

// Size is the encoded frame length.
func (c Codec) Size() int { return c.rev().FrameSize() }

func (c Codec) lenOffset() int {
	if c.rev() == regmap.Rev2 {
		return offLen2
	}
	return offLen1
}

// Checksum returns the sum of b modulo 256.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Reserved reports whether id would encode to a sentinel byte pattern.
func Reserved(id uint32) bool { return regmap.IsSentinel(id) }

// Encode returns the wire representation of f.
func (c Codec) Encode(f can.Frame) ([]byte, error) {
	buf := make([]byte, c.Size())
	if err := c.EncodeTo(buf, f); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeTo writes f into dst, which must hold at least Size() bytes.
func (c Codec) EncodeTo(dst []byte, f can.Frame) error {
	size := c.Size()
	if len(dst) < size {
		return fmt.Errorf("i2cframe encode: %w (buffer %d < %d)", ErrMalformed, len(dst), size)
	}
	if f.Len > can.DataSize {
		return fmt.Errorf("i2cframe encode: %w (%d)", ErrInvalidLength, f.Len)
	}
	if err := c.checkID(f); err != nil {
		return fmt.Errorf("i2cframe encode: %w", err)
	}
	out := dst[:size]
	clear(out)
	binary.BigEndian.PutUint32(out[offID:], f.ID)
	lo := c.lenOffset()
	if c.rev() == regmap.Rev1 {
		out[offExt] = boolByte(f.Extended)
		out[offRTR] = boolByte(f.Remote)
	}
	out[lo] = f.Len
	copy(out[lo+1:lo+1+can.DataSize], f.Data[:f.Len])
	out[size-1] = Checksum(out[:size-1])
	return nil
}

// Decode parses one frame. Bytes beyond the data length are ignored apart
// from their contribution to the checksum.
func (c Codec) Decode(b []byte) (can.Frame, error) {
	var f can.Frame
	size := c.Size()
	if len(b) != size {
		metrics.IncMalformed()
		return f, fmt.Errorf("i2cframe decode: %w (%d bytes, want %d)", ErrMalformed, len(b), size)
	}
	if sum := Checksum(b[:size-1]); sum != b[size-1] {
		metrics.IncMalformed()
		return f, fmt.Errorf("i2cframe decode: %w (got 0x%02X want 0x%02X)", ErrChecksumMismatch, b[size-1], sum)
	}
	lo := c.lenOffset()
	ln := b[lo]
	if ln > can.DataSize {
		metrics.IncMalformed()
		return f, fmt.Errorf("i2cframe decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.ID = binary.BigEndian.Uint32(b[offID:])
	if c.rev() == regmap.Rev1 {
		ext, rtr := b[offExt], b[offRTR]
		if ext > 1 || rtr > 1 {
			metrics.IncMalformed()
			return can.Frame{}, fmt.Errorf("i2cframe decode: %w (flags 0x%02X 0x%02X)", ErrInvalidID, ext, rtr)
		}
		f.Extended = ext == 1
		f.Remote = rtr == 1
	} else {
		f.Extended = f.ID > can.SFFMask
	}
	if err := c.checkID(f); err != nil {
		metrics.IncMalformed()
		return can.Frame{}, fmt.Errorf("i2cframe decode: %w", err)
	}
	f.Len = ln
	copy(f.Data[:], b[lo+1:lo+1+int(ln)])
	return f, nil
}

func (c Codec) checkID(f can.Frame) error {
	if Reserved(f.ID) {
		return fmt.Errorf("%w (0x%08X)", ErrReservedID, f.ID)
	}
	if c.rev() == regmap.Rev2 {
		if f.ID > can.EFFMask {
			return fmt.Errorf("%w (0x%08X)", ErrInvalidID, f.ID)
		}
		return nil
	}
	if !f.ValidID() {
		return fmt.Errorf("%w (0x%08X ext=%v)", ErrInvalidID, f.ID, f.Extended)
	}
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// Sentinel returns the 4-byte big-endian encoding of a sentinel response.
func Sentinel(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// ParseSentinel reports whether b starts with a sentinel response.
func ParseSentinel(b []byte) (uint32, bool) {
	if len(b) < 4 {
		return 0, false
	}
	v := binary.BigEndian.Uint32(b)
	return v, regmap.IsSentinel(v)
}
