package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var (
	// ErrNack is returned when no device answers at the address.
	ErrNack = errors.New("wire: address not acknowledged")
	// ErrRemote is returned when the server rejects the request.
	ErrRemote = errors.New("wire: server rejected request")
	// ErrShortRead is returned when fewer bytes came back than requested.
	ErrShortRead = errors.New("wire: short read")
)

// Client masters the bus over a register link. Safe for concurrent use;
// transactions are serialized.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	codec   Codec
	timeout time.Duration
}

// Dial connects to addr and performs the handshake.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	var d net.Dialer
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, err := NewClient(ctx, conn, timeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps an established connection and performs the handshake.
// timeout also bounds each transaction (0 disables).
func NewClient(ctx context.Context, conn net.Conn, timeout time.Duration) (*Client, error) {
	hs := timeout
	if hs <= 0 {
		hs = 5 * time.Second
	}
	if err := Handshake(ctx, conn, hs); err != nil {
		return nil, err
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Tx performs one transaction with the slave at addr: w is written (if
// non-empty), then len(r) bytes are read into r (if non-empty).
func (c *Client) Tx(addr uint8, w, r []byte) error {
	req := Request{Addr: addr, Write: w, ReadLen: len(r)}
	switch {
	case len(w) > 0 && len(r) > 0:
		req.Op = OpTransfer
	case len(r) > 0:
		req.Op = OpRead
	default:
		req.Op = OpWrite
	}
	if err := req.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := c.codec.EncodeRequest(c.conn, req); err != nil {
		return err
	}
	resp, err := c.codec.DecodeResponse(c.conn)
	if err != nil {
		return fmt.Errorf("wire read response: %w", err)
	}
	switch resp.Status {
	case StatusACK:
	case StatusNACK:
		return fmt.Errorf("%w: 0x%02X", ErrNack, addr)
	default:
		return ErrRemote
	}
	if len(resp.Data) < len(r) {
		return fmt.Errorf("%w: got %d want %d", ErrShortRead, len(resp.Data), len(r))
	}
	copy(r, resp.Data)
	return nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }
