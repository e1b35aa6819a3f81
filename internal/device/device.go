// Package device emulates the bridge's I2C slave: it owns the device
// settings, dispatches register reads/writes from the host master and
// accepts frames from the CAN receive path into the receive buffer.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/filter"
	"github.com/kstaniek/i2c-can-bridge/internal/i2cframe"
	"github.com/kstaniek/i2c-can-bridge/internal/logging"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
	"github.com/kstaniek/i2c-can-bridge/internal/rxbuf"
)

// Sentinel errors; all are recovered by the caller of Receive/Deliver.
var (
	ErrInvalidAddressConfirmation = errors.New("device: invalid address confirmation")
	ErrInvalidAddress             = errors.New("device: invalid i2c address")
	ErrInvalidBitrate             = errors.New("device: invalid bitrate selector")
	ErrInvalidRevision            = errors.New("device: invalid protocol revision")
	ErrReadOnly                   = errors.New("device: register is read-only")
	ErrUnknownRegister            = errors.New("device: unknown register")
	ErrEmptyWrite                 = errors.New("device: empty write")
	ErrBadPayload                 = errors.New("device: bad payload size")
	ErrFiltered                   = errors.New("device: frame filtered")
	ErrController                 = errors.New("device: controller")
)

// Controller is the external CAN controller.
type Controller interface {
	SetBitrate(regmap.Bitrate) error
	SendFrame(can.Frame) error
}

// Persister stores committed settings (the device's EEPROM).
type Persister interface {
	Save(Settings) error
}

// Settings is the device configuration owned by the dispatcher.
type Settings struct {
	Address  byte
	Bitrate  regmap.Bitrate
	Filters  filter.Set
	Revision regmap.Revision
}

// DefaultSettings returns factory settings: address 0x25, 500 kbit/s,
// accept-all filters, revision 1.
func DefaultSettings() Settings {
	return Settings{
		Address:  regmap.DefaultAddress,
		Bitrate:  regmap.DefaultBitrate,
		Revision: regmap.Rev1,
	}
}

// Validate checks every field against its accepted range.
func (s Settings) Validate() error {
	if !regmap.ValidAddress(s.Address) {
		return fmt.Errorf("%w: 0x%02X", ErrInvalidAddress, s.Address)
	}
	if !s.Bitrate.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidBitrate, s.Bitrate)
	}
	if !s.Revision.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRevision, s.Revision)
	}
	return s.Filters.Validate()
}

// State of the address-change confirmation.
type State int

const (
	StateIdle State = iota
	StateAddressChangePending
)

func (s State) String() string {
	if s == StateAddressChangePending {
		return "address_change_pending"
	}
	return "idle"
}

// Device is the emulated bridge. Safe for concurrent use; master transactions
// are serialized like on a single I2C bus.
type Device struct {
	mu         sync.Mutex
	settings   Settings
	codec      i2cframe.Codec
	buf        *rxbuf.Buffer
	ctrl       Controller
	persist    Persister
	tap        func(can.Frame)
	clock      func() uint32
	logger     *slog.Logger
	state      State
	selected   byte
	sendStatus []byte
}

type Option func(*Device)

// WithSettings sets the initial settings (invalid settings are ignored by New).
func WithSettings(s Settings) Option { return func(d *Device) { d.settings = s } }

func WithController(c Controller) Option { return func(d *Device) { d.ctrl = c } }
func WithPersister(p Persister) Option   { return func(d *Device) { d.persist = p } }

// WithTap registers a callback receiving every accepted CAN frame.
func WithTap(fn func(can.Frame)) Option { return func(d *Device) { d.tap = fn } }

// WithClock overrides the millisecond device clock used for timestamps.
func WithClock(fn func() uint32) Option {
	return func(d *Device) {
		if fn != nil {
			d.clock = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a device around buf.
func New(buf *rxbuf.Buffer, opts ...Option) *Device {
	start := time.Now()
	d := &Device{
		settings: DefaultSettings(),
		buf:      buf,
		ctrl:     nopController{},
		clock:    func() uint32 { return uint32(time.Since(start).Milliseconds()) },
		logger:   logging.L(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.buf == nil {
		d.buf = rxbuf.New(rxbuf.DefaultCapacity, rxbuf.EvictOldest)
	}
	if err := d.settings.Validate(); err != nil {
		d.logger.Warn("settings_invalid_using_defaults", "error", err)
		d.settings = DefaultSettings()
	}
	d.codec = i2cframe.New(d.settings.Revision)
	return d
}

// Apply replaces the settings, configuring the controller first. On error the
// previous settings are retained.
func (d *Device) Apply(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ctrl.SetBitrate(s.Bitrate); err != nil {
		return fmt.Errorf("%w: %v", ErrController, err)
	}
	d.settings = s
	d.codec = i2cframe.New(s.Revision)
	d.state = StateIdle
	d.logger.Info("settings_applied", "addr", fmt.Sprintf("0x%02X", s.Address), "bitrate", s.Bitrate.String(), "revision", s.Revision.String())
	return nil
}

// Settings returns a copy of the current settings.
func (d *Device) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// Address returns the current slave address.
func (d *Device) Address() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings.Address
}

// State returns the address-change state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Buffer exposes the receive buffer.
func (d *Device) Buffer() *rxbuf.Buffer { return d.buf }

// Codec returns the frame codec for the configured revision.
func (d *Device) Codec() i2cframe.Codec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.codec
}

func (d *Device) persistLocked() {
	if d.persist == nil {
		return
	}
	if err := d.persist.Save(d.settings); err != nil {
		persistFailed(d.logger, err)
	}
}

type nopController struct{}

func (nopController) SetBitrate(regmap.Bitrate) error { return nil }
func (nopController) SendFrame(can.Frame) error       { return nil }
