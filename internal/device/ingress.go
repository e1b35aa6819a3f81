package device

import (
	"errors"
	"fmt"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/i2cframe"
	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
	"github.com/kstaniek/i2c-can-bridge/internal/rxbuf"
)

// Deliver is the CAN receive path. The frame is filtered, timestamped,
// stored in the buffer and, once stored, published to the tap. ErrFiltered and the buffer's
// errors are informational; the caller keeps reading the bus.
func (d *Device) Deliver(f can.Frame) (rxbuf.Outcome, error) {
	metrics.IncCANRx()
	if i2cframe.Reserved(f.ID) {
		metrics.IncFiltered()
		d.logger.Debug("frame_reserved_id_dropped", "id", fmt.Sprintf("0x%X", f.ID))
		return 0, rxbuf.ErrReservedID
	}
	if !f.ValidID() || f.Len > can.DataSize {
		metrics.IncMalformed()
		return 0, fmt.Errorf("%w: id 0x%X len %d", i2cframe.ErrInvalidID, f.ID, f.Len)
	}

	d.mu.Lock()
	accept := d.settings.Filters.Accept(f)
	d.mu.Unlock()
	if !accept {
		metrics.IncFiltered()
		return 0, ErrFiltered
	}

	f.Timestamp = d.clock()
	f.Sent = false
	out, evicted, err := d.buf.Insert(f)
	switch {
	case errors.Is(err, rxbuf.ErrBufferFull):
		metrics.IncBufferRejection()
		d.logger.Debug("frame_rejected_buffer_full", "id", fmt.Sprintf("0x%X", f.ID))
	case err != nil:
		return 0, err
	case out == rxbuf.Updated:
		metrics.IncBufferUpdate()
	case out == rxbuf.Evicted:
		metrics.IncBufferEviction()
		d.logger.Debug("frame_evicted", "id", fmt.Sprintf("0x%X", evicted), "by", fmt.Sprintf("0x%X", f.ID))
	}
	metrics.SetBuffered(d.buf.Len())
	if d.tap != nil && err == nil {
		d.tap(f)
	}
	return out, err
}
