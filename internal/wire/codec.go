// Package wire implements the register link: a TCP stand-in for the I2C bus.
//
// After the Handshake every master transaction is one request
//
//	[op, addr, wlen, rlen, w(wlen)]
//
// answered by one response
//
//	[status, n, data(n)]
//
// op is 'W' (write), 'R' (read) or 'T' (write then read without releasing
// the bus, like a repeated start). status is 0 ACK, 1 NACK (no device at
// addr) or 2 error (malformed request).
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
)

// Transaction kinds.
const (
	OpWrite    byte = 'W'
	OpRead     byte = 'R'
	OpTransfer byte = 'T'
)

// Response status codes.
const (
	StatusACK   byte = 0x00
	StatusNACK  byte = 0x01
	StatusError byte = 0x02
)

// MaxLen bounds each direction of a transaction.
const MaxLen = 255

var (
	// ErrBadOp is returned for an unknown op or lengths that do not fit it.
	ErrBadOp = errors.New("wire: bad request")
	// ErrTooLong is returned when a buffer exceeds MaxLen.
	ErrTooLong = errors.New("wire: transaction too long")
	// ErrTruncated is returned when the stream ends inside a message.
	ErrTruncated = errors.New("wire: truncated message")
)

// Request is one master transaction.
type Request struct {
	Op      byte
	Addr    byte
	Write   []byte
	ReadLen int
}

// Validate checks op/length consistency.
func (r Request) Validate() error {
	if len(r.Write) > MaxLen || r.ReadLen > MaxLen || r.ReadLen < 0 {
		return ErrTooLong
	}
	if r.Addr > 0x7F {
		return fmt.Errorf("%w: address 0x%02X", ErrBadOp, r.Addr)
	}
	w, rd := len(r.Write) > 0, r.ReadLen > 0
	switch {
	case r.Op == OpWrite && w && !rd,
		r.Op == OpRead && !w && rd,
		r.Op == OpTransfer && w && rd:
		return nil
	}
	return fmt.Errorf("%w: op %q wlen %d rlen %d", ErrBadOp, r.Op, len(r.Write), r.ReadLen)
}

// Response answers a Request.
type Response struct {
	Status byte
	Data   []byte
}

// Codec encodes/decodes link messages. Stateless and safe for concurrent use.
type Codec struct{}

// EncodeRequest writes r to w in one Write call.
func (Codec) EncodeRequest(w io.Writer, r Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	buf := make([]byte, 4, 4+len(r.Write))
	buf[0], buf[1], buf[2], buf[3] = r.Op, r.Addr, byte(len(r.Write)), byte(r.ReadLen)
	buf = append(buf, r.Write...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire encode request: %w", err)
	}
	return nil
}

// DecodeRequest reads one request. It returns io.EOF at a clean boundary.
// The request is not validated; callers answer invalid ones with StatusError.
func (Codec) DecodeRequest(r io.Reader) (Request, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return Request{}, fmt.Errorf("wire decode request: %w", ErrTruncated)
		}
		return Request{}, err
	}
	req := Request{Op: hdr[0], Addr: hdr[1], ReadLen: int(hdr[3])}
	if n := int(hdr[2]); n > 0 {
		req.Write = make([]byte, n)
		if _, err := io.ReadFull(r, req.Write); err != nil {
			metrics.IncMalformed()
			return Request{}, fmt.Errorf("wire decode request payload: %w", ErrTruncated)
		}
	}
	return req, nil
}

// EncodeResponse writes resp to w in one Write call.
func (Codec) EncodeResponse(w io.Writer, resp Response) error {
	if len(resp.Data) > MaxLen {
		return ErrTooLong
	}
	buf := make([]byte, 2, 2+len(resp.Data))
	buf[0], buf[1] = resp.Status, byte(len(resp.Data))
	buf = append(buf, resp.Data...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wire encode response: %w", err)
	}
	return nil
}

// DecodeResponse reads one response.
func (Codec) DecodeResponse(r io.Reader) (Response, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return Response{}, fmt.Errorf("wire decode response: %w", ErrTruncated)
		}
		return Response{}, err
	}
	resp := Response{Status: hdr[0]}
	if n := int(hdr[1]); n > 0 {
		resp.Data = make([]byte, n)
		if _, err := io.ReadFull(r, resp.Data); err != nil {
			metrics.IncMalformed()
			return Response{}, fmt.Errorf("wire decode response payload: %w", ErrTruncated)
		}
	}
	return resp, nil
}
