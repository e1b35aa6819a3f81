package device

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kstaniek/i2c-can-bridge/internal/filter"
	"github.com/kstaniek/i2c-can-bridge/internal/i2cframe"
	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
	"github.com/kstaniek/i2c-can-bridge/internal/rxbuf"
)

// statusOK is what a read of REG_SEND_FRAME returns when nothing was rejected.
var statusOK = []byte{0, 0, 0, 0}

// Receive handles a master write. p[0] selects the register; the rest is the
// payload. A write without payload only selects the register for a following
// read. Errors leave the settings unchanged.
func (d *Device) Receive(p []byte) error {
	if len(p) == 0 {
		metrics.IncRegisterWrite("none", "error")
		return ErrEmptyWrite
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, data := p[0], p[1:]
	d.selected = reg
	if len(data) == 0 {
		return nil
	}
	if d.state == StateAddressChangePending && reg != regmap.RegI2CAddress && reg != regmap.RegI2CAddressSet {
		d.state = StateIdle
		d.logger.Debug("address_change_cancelled", "reg", RegisterName(reg))
	}
	err := d.writeLocked(reg, data)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		d.logger.Debug("register_write_rejected", "reg", RegisterName(reg), "len", len(data), "error", err)
	}
	metrics.IncRegisterWrite(RegisterName(reg), outcome)
	return err
}

func (d *Device) writeLocked(reg byte, data []byte) error {
	switch {
	case reg == regmap.RegI2CAddressSet:
		if len(data) != 1 || data[0] != d.settings.Revision.ConfirmMagic() {
			d.state = StateIdle
			return fmt.Errorf("%w: bad magic", ErrInvalidAddressConfirmation)
		}
		d.state = StateAddressChangePending
		return nil

	case reg == regmap.RegI2CAddress:
		if d.state != StateAddressChangePending {
			return fmt.Errorf("%w: not armed", ErrInvalidAddressConfirmation)
		}
		d.state = StateIdle
		if len(data) != 1 {
			return fmt.Errorf("%w: address wants 1 byte, got %d", ErrBadPayload, len(data))
		}
		if !regmap.ValidAddress(data[0]) {
			return fmt.Errorf("%w: 0x%02X", ErrInvalidAddress, data[0])
		}
		old := d.settings.Address
		d.settings.Address = data[0]
		d.persistLocked()
		d.logger.Info("address_committed", "old", fmt.Sprintf("0x%02X", old), "new", fmt.Sprintf("0x%02X", data[0]))
		return nil

	case reg == regmap.RegCANBaudRate:
		if len(data) != 1 {
			return fmt.Errorf("%w: bitrate wants 1 byte, got %d", ErrBadPayload, len(data))
		}
		br := regmap.Bitrate(data[0])
		if !br.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidBitrate, data[0])
		}
		if err := d.ctrl.SetBitrate(br); err != nil {
			return fmt.Errorf("%w: %v", ErrController, err)
		}
		d.settings.Bitrate = br
		d.persistLocked()
		d.logger.Info("bitrate_set", "bitrate", br.String())
		return nil

	case reg == regmap.RegSendFrame && d.settings.Revision.HasSendFrame():
		return d.sendLocked(data)

	case reg == regmap.RegFramesCount || reg == regmap.RegReceiveFrame:
		return ErrReadOnly
	}

	if i, ok := regmap.MaskIndex(reg); ok {
		r, err := filter.ParseRule(data)
		if err != nil {
			return err
		}
		d.settings.Filters.Masks[i] = r
		d.persistLocked()
		return nil
	}
	if i, ok := regmap.FilterIndex(reg); ok {
		r, err := filter.ParseRule(data)
		if err != nil {
			return err
		}
		d.settings.Filters.Filters[i] = r
		d.persistLocked()
		return nil
	}
	return fmt.Errorf("%w: 0x%02X", ErrUnknownRegister, reg)
}

func (d *Device) sendLocked(data []byte) error {
	f, err := d.codec.Decode(data)
	if err != nil {
		d.sendStatus = i2cframe.Sentinel(regmap.RespRejected)
		return err
	}
	f.Timestamp = d.clock()
	if err := d.ctrl.SendFrame(f); err != nil {
		d.sendStatus = i2cframe.Sentinel(regmap.RespRejected)
		return fmt.Errorf("%w: %v", ErrController, err)
	}
	d.sendStatus = nil
	return nil
}

// Request handles a master read of n bytes from the selected register. The
// reply is padded with 0xFF or truncated to n; n <= 0 returns the natural size.
func (d *Device) Request(n int) []byte {
	d.mu.Lock()
	reg := d.selected
	out := d.readLocked(reg, n)
	d.mu.Unlock()
	metrics.IncRegisterRead(RegisterName(reg))
	return fit(out, n)
}

func (d *Device) readLocked(reg byte, n int) []byte {
	switch {
	case reg == regmap.RegI2CAddress:
		return []byte{d.settings.Address}
	case reg == regmap.RegFramesCount:
		n := d.buf.Len()
		if n > 0xFF {
			n = 0xFF
		}
		return []byte{byte(n)}
	case reg == regmap.RegCANBaudRate:
		return []byte{byte(d.settings.Bitrate)}
	case reg == regmap.RegReceiveFrame:
		return d.nextFrameLocked(n)
	case reg == regmap.RegSendFrame && d.settings.Revision.HasSendFrame():
		st := d.sendStatus
		d.sendStatus = nil
		if st == nil {
			return statusOK
		}
		return st
	}
	if i, ok := regmap.MaskIndex(reg); ok {
		return d.settings.Filters.Masks[i].Bytes()
	}
	if i, ok := regmap.FilterIndex(reg); ok {
		return d.settings.Filters.Filters[i].Bytes()
	}
	return nil
}

// nextFrameLocked pops the oldest frame. A read shorter than a frame only
// peeks, so the frame stays buffered for a full-size read.
func (d *Device) nextFrameLocked(n int) []byte {
	if n > 0 && n < d.codec.Size() {
		f, ok := d.buf.Peek()
		if !ok {
			return i2cframe.Sentinel(regmap.RespNotReady)
		}
		d.logger.Debug("short_frame_read", "n", n, "size", d.codec.Size())
		out, err := d.codec.Encode(f)
		if err != nil {
			return i2cframe.Sentinel(regmap.RespRejected)
		}
		return out
	}
	f, err := d.buf.TakeNext()
	if errors.Is(err, rxbuf.ErrNotReady) {
		return i2cframe.Sentinel(regmap.RespNotReady)
	}
	metrics.SetBuffered(d.buf.Len())
	out, err := d.codec.Encode(f)
	if err != nil {
		d.logger.Warn("frame_encode_failed", "id", fmt.Sprintf("0x%X", f.ID), "error", err)
		return i2cframe.Sentinel(regmap.RespRejected)
	}
	return out
}

func fit(b []byte, n int) []byte {
	if n <= 0 {
		if b == nil {
			return []byte{0xFF}
		}
		return b
	}
	out := make([]byte, n)
	c := copy(out, b)
	for i := c; i < n; i++ {
		out[i] = 0xFF
	}
	return out
}

func persistFailed(l *slog.Logger, err error) {
	metrics.IncError(metrics.ErrPersist)
	l.Warn("settings_persist_failed", "error", err)
}

// RegisterName returns a stable metric label for reg.
func RegisterName(reg byte) string {
	switch reg {
	case regmap.RegI2CAddress:
		return "i2c_address"
	case regmap.RegFramesCount:
		return "frames_count"
	case regmap.RegCANBaudRate:
		return "can_baud_rate"
	case regmap.RegSendFrame:
		return "send_frame"
	case regmap.RegReceiveFrame:
		return "receive_frame"
	case regmap.RegI2CAddressSet:
		return "i2c_address_set"
	}
	if i, ok := regmap.MaskIndex(reg); ok {
		return fmt.Sprintf("mask%d", i)
	}
	if i, ok := regmap.FilterIndex(reg); ok {
		return fmt.Sprintf("filt%d", i)
	}
	return "unknown"
}
