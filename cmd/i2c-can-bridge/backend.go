package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/transport"
)

// initBackend selects the backend, starts its RX loop feeding rx and returns
// the transmit sink and cleanup. It returns an error instead of exiting the
// process to allow graceful handling by the caller.
func initBackend(ctx context.Context, cfg *appConfig, rx func(can.Frame), l *slog.Logger, wg *sync.WaitGroup) (transport.FrameSink, func(), error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, rx, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, rx, l, wg)
	case "none":
		return initNoneBackend(cfg, rx, l)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use serial|socketcan|none)", cfg.backend)
	}
}

// initNoneBackend logs transmitted frames, optionally looping them back.
func initNoneBackend(cfg *appConfig, rx func(can.Frame), l *slog.Logger) (transport.FrameSink, func(), error) {
	sink := transport.LogSink{Logger: l}
	if cfg.loopback {
		sink.Loopback = rx
	}
	l.Info("backend_none", "loopback", cfg.loopback)
	return sink, func() {}, nil
}
