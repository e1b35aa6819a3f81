// Package host is the master-side API of the bridge: it speaks the register
// protocol over any Bus (a register link or a Linux I2C adapter).
package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/filter"
	"github.com/kstaniek/i2c-can-bridge/internal/i2cframe"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
)

// Bus performs one I2C transaction: write w (if any), then read len(r) bytes.
type Bus interface {
	Tx(addr uint8, w, r []byte) error
}

var (
	// ErrNotReady is returned by ReceiveFrame when no frame is buffered.
	ErrNotReady = errors.New("host: no frame ready")
	// ErrRejected is returned when the device rejected a frame.
	ErrRejected = errors.New("host: frame rejected by device")
	// ErrUnsupported is returned for operations the revision lacks.
	ErrUnsupported = errors.New("host: not supported by protocol revision")
	// ErrNotApplied is returned when a read-back does not match a write.
	ErrNotApplied = errors.New("host: setting not applied")
	// ErrIndex is returned for mask/filter indexes out of range.
	ErrIndex = errors.New("host: index out of range")
)

// Client drives one bridge. Safe for concurrent use.
type Client struct {
	mu    sync.Mutex
	bus   Bus
	addr  uint8
	codec i2cframe.Codec
}

// New returns a client for the bridge at addr speaking revision rev.
func New(bus Bus, addr uint8, rev regmap.Revision) *Client {
	return &Client{bus: bus, addr: addr, codec: i2cframe.New(rev)}
}

// Address returns the slave address the client talks to.
func (c *Client) Address() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

func (c *Client) readReg(reg byte, n int) ([]byte, error) {
	r := make([]byte, n)
	if err := c.bus.Tx(c.addr, []byte{reg}, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Client) writeReg(reg byte, data ...byte) error {
	return c.bus.Tx(c.addr, append([]byte{reg}, data...), nil)
}

// FramesCount returns the number of unread frames (saturated at 255).
func (c *Client) FramesCount() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.readReg(regmap.RegFramesCount, 1)
	if err != nil {
		return 0, err
	}
	return int(b[0]), nil
}

// ReceiveFrame reads the oldest unread frame.
func (c *Client) ReceiveFrame() (can.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.readReg(regmap.RegReceiveFrame, c.codec.Size())
	if err != nil {
		return can.Frame{}, err
	}
	if v, ok := i2cframe.ParseSentinel(b); ok {
		if v == regmap.RespNotReady {
			return can.Frame{}, ErrNotReady
		}
		return can.Frame{}, ErrRejected
	}
	return c.codec.Decode(b)
}

// ReceiveAll drains up to max frames (all when max <= 0).
func (c *Client) ReceiveAll(max int) ([]can.Frame, error) {
	var out []can.Frame
	for max <= 0 || len(out) < max {
		f, err := c.ReceiveFrame()
		if errors.Is(err, ErrNotReady) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

// SendFrame asks the bridge to transmit f (revision 2 only).
func (c *Client) SendFrame(f can.Frame) error {
	if !c.codec.Rev.HasSendFrame() {
		return ErrUnsupported
	}
	enc, err := c.codec.Encode(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeReg(regmap.RegSendFrame, enc...); err != nil {
		return err
	}
	st, err := c.readReg(regmap.RegSendFrame, 4)
	if err != nil {
		return err
	}
	if v, ok := i2cframe.ParseSentinel(st); ok && v == regmap.RespRejected {
		return ErrRejected
	}
	return nil
}

// Bitrate reads the configured bit rate.
func (c *Client) Bitrate() (regmap.Bitrate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.readReg(regmap.RegCANBaudRate, 1)
	if err != nil {
		return 0, err
	}
	return regmap.Bitrate(b[0]), nil
}

// SetBitrate writes and verifies the bit rate.
func (c *Client) SetBitrate(br regmap.Bitrate) error {
	if !br.Valid() {
		return fmt.Errorf("host: invalid bitrate %d", br)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeReg(regmap.RegCANBaudRate, byte(br)); err != nil {
		return err
	}
	b, err := c.readReg(regmap.RegCANBaudRate, 1)
	if err != nil {
		return err
	}
	if regmap.Bitrate(b[0]) != br {
		return fmt.Errorf("%w: bitrate reads %d", ErrNotApplied, b[0])
	}
	return nil
}

// ChangeAddress moves the bridge to addr using the two-step confirmation and
// verifies it answers there. The client follows the device to addr.
func (c *Client) ChangeAddress(addr uint8) error {
	if !regmap.ValidAddress(addr) {
		return fmt.Errorf("host: invalid address 0x%02X", addr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeReg(regmap.RegI2CAddressSet, c.codec.Rev.ConfirmMagic()); err != nil {
		return err
	}
	if err := c.writeReg(regmap.RegI2CAddress, addr); err != nil {
		return err
	}
	r := make([]byte, 1)
	if err := c.bus.Tx(addr, []byte{regmap.RegI2CAddress}, r); err != nil {
		return fmt.Errorf("%w: %v", ErrNotApplied, err)
	}
	if r[0] != addr {
		return fmt.Errorf("%w: address reads 0x%02X", ErrNotApplied, r[0])
	}
	c.addr = addr
	return nil
}

// Mask reads mask i (0-1).
func (c *Client) Mask(i int) (filter.Rule, error) {
	if i < 0 || i >= len(regmap.Masks) {
		return filter.Rule{}, ErrIndex
	}
	return c.readRule(regmap.Masks[i])
}

// SetMask writes and verifies mask i (0-1).
func (c *Client) SetMask(i int, r filter.Rule) error {
	if i < 0 || i >= len(regmap.Masks) {
		return ErrIndex
	}
	return c.writeRule(regmap.Masks[i], r)
}

// Filter reads filter i (0-5).
func (c *Client) Filter(i int) (filter.Rule, error) {
	if i < 0 || i >= len(regmap.Filters) {
		return filter.Rule{}, ErrIndex
	}
	return c.readRule(regmap.Filters[i])
}

// SetFilter writes and verifies filter i (0-5).
func (c *Client) SetFilter(i int, r filter.Rule) error {
	if i < 0 || i >= len(regmap.Filters) {
		return ErrIndex
	}
	return c.writeRule(regmap.Filters[i], r)
}

func (c *Client) readRule(reg byte) (filter.Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.readReg(reg, regmap.RuleSize)
	if err != nil {
		return filter.Rule{}, err
	}
	return filter.ParseRule(b)
}

func (c *Client) writeRule(reg byte, r filter.Rule) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeReg(reg, r.Bytes()...); err != nil {
		return err
	}
	b, err := c.readReg(reg, regmap.RuleSize)
	if err != nil {
		return err
	}
	if got, err := filter.ParseRule(b); err != nil || got != r {
		return fmt.Errorf("%w: rule reads % X", ErrNotApplied, b)
	}
	return nil
}
