package server

import (
	"context"
	"net"

	"github.com/kstaniek/i2c-can-bridge/internal/wire"
)

// LinkHandshake runs the required TCP hello exchange.
func (s *Server) LinkHandshake(ctx context.Context, c net.Conn) error {
	return wire.Handshake(ctx, c, s.handshakeTimeout)
}
