package can

// Identifier ranges for classic CAN.
const (
	SFFMask = 0x7FF      // 11-bit standard identifier
	EFFMask = 0x1FFFFFFF // 29-bit extended identifier

	// DataSize is the payload capacity of a classic CAN frame (MCP2515 max DLEN).
	DataSize = 8
)

// Frame is a CAN frame as held by the bridge device.
// ID carries no flag bits; Extended/Remote are explicit. Only the first Len
// bytes of Data are valid.
type Frame struct {
	ID        uint32
	Extended  bool
	Remote    bool
	Len       uint8
	Data      [DataSize]byte
	Timestamp uint32 // device clock, milliseconds since start
	Sent      bool   // transmitted on the bus, or delivered to the host
}

// Payload returns the valid data bytes.
func (f *Frame) Payload() []byte {
	n := int(f.Len)
	if n > DataSize {
		n = DataSize
	}
	return f.Data[:n]
}

// ValidID reports whether ID fits the identifier width implied by Extended.
func (f *Frame) ValidID() bool {
	if f.Extended {
		return f.ID <= EFFMask
	}
	return f.ID <= SFFMask
}

// SameWire reports whether a and b carry the same identifier, flags and payload.
// Timestamp, Sent and bytes beyond Len are ignored.
func SameWire(a, b Frame) bool {
	if a.ID != b.ID || a.Extended != b.Extended || a.Remote != b.Remote || a.Len != b.Len {
		return false
	}
	return string(a.Payload()) == string(b.Payload())
}

// New builds a frame, inferring Extended from the identifier width.
func New(id uint32, data ...byte) Frame {
	var f Frame
	f.ID = id & EFFMask
	f.Extended = f.ID > SFFMask
	if len(data) > DataSize {
		data = data[:DataSize]
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f
}
