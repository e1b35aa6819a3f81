package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
	"github.com/kstaniek/i2c-can-bridge/internal/wire"
)

// startSession launches the goroutine answering one master's transactions.
func (s *Server) startSession(ctxDone <-chan struct{}, id uint64, conn net.Conn, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.removeClient(id)
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		for {
			select {
			case <-ctxDone:
				return
			default:
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			req, err := s.codec.DecodeRequest(conn)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					logger.Debug("client_idle_timeout")
					return
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				logger.Warn("link_read_failed", "error", wrap)
				return
			}
			resp := s.Transact(req)
			if resp.Status == wire.StatusError {
				logger.Debug("link_bad_request", "op", string(rune(req.Op)), "wlen", len(req.Write), "rlen", req.ReadLen)
			}
			if err := s.codec.EncodeResponse(conn, resp); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
		}
	}()
}

// Transact runs one bus transaction. Device-level errors are not visible on
// the bus: a write to an existing slave is always acknowledged.
func (s *Server) Transact(req wire.Request) wire.Response {
	if err := req.Validate(); err != nil {
		return wire.Response{Status: wire.StatusError}
	}
	s.busMu.Lock()
	defer s.busMu.Unlock()
	sl := s.lookup(req.Addr)
	if sl == nil {
		s.totalNacks.Add(1)
		metrics.IncLinkNack()
		return wire.Response{Status: wire.StatusNACK}
	}
	s.totalTransactions.Add(1)
	metrics.IncLinkTransaction()
	if len(req.Write) > 0 {
		if err := sl.Receive(req.Write); err != nil {
			s.logger.Debug("slave_write_error", "addr", fmt.Sprintf("0x%02X", req.Addr), "error", err)
		}
	}
	var data []byte
	if req.ReadLen > 0 {
		data = sl.Request(req.ReadLen)
	}
	return wire.Response{Status: wire.StatusACK, Data: data}
}

func (s *Server) lookup(addr uint8) Slave {
	for _, sl := range s.slaves {
		if sl.Address() == addr {
			return sl
		}
	}
	return nil
}
