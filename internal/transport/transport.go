// Package transport connects the bridge device to a CAN controller backend.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
)

// ErrNoSink is returned when a controller has nowhere to send frames.
var ErrNoSink = errors.New("transport: no frame sink")

// FrameSink is a generic CAN frame transmission target.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// Controller adapts a backend to the device's controller interface.
// OnBitrate may be nil for backends whose bit rate is fixed outside the
// bridge (a SocketCAN interface configured by ip-link); the selector is then
// only recorded.
type Controller struct {
	Sink      FrameSink
	OnBitrate func(regmap.Bitrate) error

	mu      sync.Mutex
	bitrate regmap.Bitrate
}

// SendFrame forwards f to the sink.
func (c *Controller) SendFrame(f can.Frame) error {
	if c.Sink == nil {
		return ErrNoSink
	}
	return c.Sink.SendFrame(f)
}

// SetBitrate applies b through OnBitrate and records it.
func (c *Controller) SetBitrate(b regmap.Bitrate) error {
	if !b.Valid() {
		return fmt.Errorf("transport: invalid bitrate %d", b)
	}
	if c.OnBitrate != nil {
		if err := c.OnBitrate(b); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.bitrate = b
	c.mu.Unlock()
	return nil
}

// Bitrate returns the last applied selector (0 before the first call).
func (c *Controller) Bitrate() regmap.Bitrate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bitrate
}

// LogSink is the controller of the "none" backend: frames are logged and
// counted, and optionally looped back to the receive path.
type LogSink struct {
	Logger   *slog.Logger
	Loopback func(can.Frame)
}

// SendFrame logs f at debug level.
func (s LogSink) SendFrame(f can.Frame) error {
	metrics.IncCANTx()
	if s.Logger != nil {
		s.Logger.Debug("can_tx", "id", fmt.Sprintf("0x%X", f.ID), "ext", f.Extended, "rtr", f.Remote, "len", f.Len, "data", fmt.Sprintf("% X", f.Payload()))
	}
	if s.Loopback != nil {
		s.Loopback(f)
	}
	return nil
}
