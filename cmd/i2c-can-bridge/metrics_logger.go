package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"can_rx", snap.CANRx,
					"can_tx", snap.CANTx,
					"filtered", snap.Filtered,
					"buffered", snap.Buffered,
					"updates", snap.Updates,
					"evictions", snap.Evictions,
					"rejections", snap.Rejections,
					"reg_writes", snap.RegWrites,
					"reg_reads", snap.RegReads,
					"link_tx", snap.LinkTx,
					"link_nacks", snap.LinkNacks,
					"link_clients", snap.LinkClients,
					"tap_drops", snap.TapDrops,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
