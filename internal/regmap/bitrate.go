package regmap

import "fmt"

// Bitrate is the CAN bus bit-rate selector written to RegCANBaudRate.
// Selector values follow the MCP2515 driver speed table.
type Bitrate uint8

const (
	Bitrate5K Bitrate = iota + 1
	Bitrate10K
	Bitrate20K
	Bitrate25K
	Bitrate31K25
	Bitrate33K
	Bitrate40K
	Bitrate50K
	Bitrate80K
	Bitrate83K3
	Bitrate95K
	Bitrate100K
	Bitrate125K
	Bitrate200K
	Bitrate250K
	Bitrate500K
	Bitrate666K
	Bitrate1000K
)

// DefaultBitrate is applied on a factory-fresh device.
const DefaultBitrate = Bitrate500K

var bitsPerSecond = [...]int{
	Bitrate5K:    5000,
	Bitrate10K:   10000,
	Bitrate20K:   20000,
	Bitrate25K:   25000,
	Bitrate31K25: 31250,
	Bitrate33K:   33000,
	Bitrate40K:   40000,
	Bitrate50K:   50000,
	Bitrate80K:   80000,
	Bitrate83K3:  83300,
	Bitrate95K:   95000,
	Bitrate100K:  100000,
	Bitrate125K:  125000,
	Bitrate200K:  200000,
	Bitrate250K:  250000,
	Bitrate500K:  500000,
	Bitrate666K:  666000,
	Bitrate1000K: 1000000,
}

// Valid reports whether b is an accepted selector.
func (b Bitrate) Valid() bool { return b >= Bitrate5K && b <= Bitrate1000K }

// BitsPerSecond returns the nominal bus rate, or 0 for an invalid selector.
func (b Bitrate) BitsPerSecond() int {
	if !b.Valid() {
		return 0
	}
	return bitsPerSecond[b]
}

// BitrateFor returns the selector for a nominal rate in bit/s.
func BitrateFor(bps int) (Bitrate, error) {
	for b := Bitrate5K; b <= Bitrate1000K; b++ {
		if bitsPerSecond[b] == bps {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unsupported bitrate %d", bps)
}

func (b Bitrate) String() string {
	if !b.Valid() {
		return fmt.Sprintf("invalid(%d)", uint8(b))
	}
	return fmt.Sprintf("%dbps", b.BitsPerSecond())
}
