// Package serial drives a UART CAN adapter. Frames travel in an envelope
//
//	[0x2D, 0xD4, len, data..., checksum]
//
// where checksum = 0x2D + len + sum(data) (mod 256). The adapter only speaks
// 29-bit identifiers and has no remote-frame flag.
package serial

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
)

const (
	pre0 = 0x2D
	pre1 = 0xD4

	// insSendExt is the adapter instruction "send with extended ID".
	insSendExt = 2
)

// ErrRemoteUnsupported is returned when asked to send a remote frame.
var ErrRemoteUnsupported = errors.New("serial: adapter cannot send remote frames")

type Codec struct{}

// CompactBuffer reclaims consumed prefix capacity when the accumulator grows
// too large relative to unread bytes. It returns true if compaction occurred.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// envelope wraps data: [0x2D, 0xD4, len+1, data..., checksum].
func envelope(data []byte) []byte {
	n := len(data)
	frame := make([]byte, n+4)
	frame[0] = pre0
	frame[1] = pre1
	frame[2] = byte(n + 1)
	sum := frame[2] + pre0
	for i, b := range data {
		frame[3+i] = b
		sum += b
	}
	frame[3+n] = sum
	return frame
}

// Encode builds the adapter TX command for f:
// INS(1) FLAGS(1)=0x80|len ID(4, big-endian) PAYLOAD(0..8).
func (Codec) Encode(f can.Frame) ([]byte, error) {
	if f.Remote {
		return nil, ErrRemoteUnsupported
	}
	n := f.Len
	if n > can.DataSize {
		n = can.DataSize
	}
	tab := make([]byte, 6+n)
	tab[0] = insSendExt
	tab[1] = 0x80 | n
	binary.BigEndian.PutUint32(tab[2:6], f.ID&can.EFFMask)
	copy(tab[6:], f.Data[:n])
	return envelope(tab), nil
}

// DecodeStream consumes complete RX envelopes from in and emits frames via
// out. Partial input is left in the buffer; garbage and corrupt envelopes are
// skipped byte by byte and counted as malformed.
//
// RX envelope payload: ID(4, big-endian) PAYLOAD(0..8), e.g.
//
//	2D D4 0D 00 00 00 02 FE 10 19 09 19 04 01 20 AA
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	const (
		minLn = 4 + 0 + 1 // ID + empty payload + checksum
		maxLn = 4 + 8 + 1
	)
	header := []byte{pre0, pre1}

	for {
		data := in.Bytes()
		_ = CompactBuffer(in)
		if len(data) < 3 {
			return nil
		}

		i := bytes.Index(data, header)
		if i < 0 {
			// keep last byte in case the next read starts with the preamble's second byte
			if in.Len() > 1 {
				last := data[len(data)-1]
				in.Reset()
				_ = in.WriteByte(last)
			}
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		req := 3 + ln
		if len(data) < req {
			return nil
		}

		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		payload := data[7 : req-1]
		var f can.Frame
		f.ID = binary.BigEndian.Uint32(data[3:7]) & can.EFFMask
		f.Extended = true
		f.Len = uint8(len(payload))
		copy(f.Data[:], payload)

		out(f)
		in.Next(req)
	}
}
