// Package regmap defines the bridge's I2C register map, the sentinel response
// values and the two protocol revisions of the frame layout.
package regmap

import "fmt"

// Register addresses.
const (
	RegI2CAddress    byte = 0x01
	RegFramesCount   byte = 0x02
	RegCANBaudRate   byte = 0x03
	RegSendFrame     byte = 0x30 // revision 2 only
	RegReceiveFrame  byte = 0x40
	RegI2CAddressSet byte = 0x51
	RegMask0         byte = 0x60
	RegMask1         byte = 0x65
	RegFilt0         byte = 0x70
	RegFilt1         byte = 0x80
	RegFilt2         byte = 0x90
	RegFilt3         byte = 0xA0
	RegFilt4         byte = 0xB0
	RegFilt5         byte = 0xC0
)

const (
	DefaultAddress byte = 0x25

	// MaskFilterSize is the number of acceptance filters.
	MaskFilterSize = 6
	// I2CDataMaxLength bounds a configuration write payload (ext flag + 4 ID bytes + slack).
	I2CDataMaxLength = MaskFilterSize + 1
	// RuleSize is the payload of a mask/filter register: [ext, id3, id2, id1, id0].
	RuleSize = 5

	// Sentinels returned in place of frame data, big-endian on the wire.
	RespRejected uint32 = 0x01010101
	RespNotReady uint32 = 0x01010102

	// Lowest and highest non-reserved 7-bit slave addresses.
	MinAddress byte = 0x08
	MaxAddress byte = 0x77
)

// Masks lists the mask registers in order.
var Masks = [2]byte{RegMask0, RegMask1}

// Filters lists the filter registers in order.
var Filters = [MaskFilterSize]byte{RegFilt0, RegFilt1, RegFilt2, RegFilt3, RegFilt4, RegFilt5}

// MaskIndex returns the mask slot for reg.
func MaskIndex(reg byte) (int, bool) {
	for i, r := range Masks {
		if r == reg {
			return i, true
		}
	}
	return 0, false
}

// FilterIndex returns the filter slot for reg.
func FilterIndex(reg byte) (int, bool) {
	for i, r := range Filters {
		if r == reg {
			return i, true
		}
	}
	return 0, false
}

// ValidAddress reports whether a is usable as the device's slave address.
func ValidAddress(a byte) bool { return a >= MinAddress && a <= MaxAddress }

// IsSentinel reports whether v is one of the reserved response values.
func IsSentinel(v uint32) bool { return v == RespRejected || v == RespNotReady }

// Revision is the protocol version tag selecting frame layout and confirm magic.
type Revision uint8

const (
	Rev1 Revision = 1 // 16-byte frames with ext/rtr bytes, magic 0x5B
	Rev2 Revision = 2 // 14-byte frames, magic 0x5A, REG_SEND_FRAME
)

// Valid reports whether r is a known revision.
func (r Revision) Valid() bool { return r == Rev1 || r == Rev2 }

// FrameSize is the encoded frame length for r.
func (r Revision) FrameSize() int {
	if r == Rev2 {
		return 14
	}
	return 16
}

// ConfirmMagic is the value written to RegI2CAddressSet to arm an address change.
func (r Revision) ConfirmMagic() byte {
	if r == Rev2 {
		return 0x5A
	}
	return 0x5B
}

// HasSendFrame reports whether RegSendFrame is part of the register map.
func (r Revision) HasSendFrame() bool { return r == Rev2 }

func (r Revision) String() string {
	switch r {
	case Rev1:
		return "rev1"
	case Rev2:
		return "rev2"
	default:
		return fmt.Sprintf("rev?(%d)", uint8(r))
	}
}
