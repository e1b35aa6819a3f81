package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/device"
	"github.com/kstaniek/i2c-can-bridge/internal/hub"
	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
	"github.com/kstaniek/i2c-can-bridge/internal/mqtttap"
	"github.com/kstaniek/i2c-can-bridge/internal/rxbuf"
	"github.com/kstaniek/i2c-can-bridge/internal/server"
	"github.com/kstaniek/i2c-can-bridge/internal/store"
	"github.com/kstaniek/i2c-can-bridge/internal/transport"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("i2c-can-bridge %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	dev, ctrl, err := initDevice(cfg, h, l)
	if err != nil {
		l.Error("device_init_error", "error", err)
		return
	}
	sink, cleanup, berr := initBackend(ctx, cfg, deliverFunc(dev, l), l, &wg)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		return
	}
	ctrl.Sink = sink

	startMQTTTap(ctx, cfg, h, l, &wg)

	srv := server.NewServer(
		server.WithSlave(dev),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
	)
	srv.SetListenAddr(cfg.listenAddr)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("link_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		portNum := listenPort(srv.Addr())
		cleanupMDNS, err := startMDNS(ctx, cfg, dev.Address(), portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the link listener is bound and context not cancelled.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	cleanup()
	wg.Wait()
}

// initDevice loads persisted settings and builds the bridge device. The
// returned controller gets its sink once the backend is up.
func initDevice(cfg *appConfig, h *hub.Hub, l *slog.Logger) (*device.Device, *transport.Controller, error) {
	policy, err := rxbuf.ParsePolicy(cfg.bufPolicy)
	if err != nil {
		return nil, nil, err
	}
	ctrl := &transport.Controller{}
	opts := []device.Option{
		device.WithController(ctrl),
		device.WithTap(h.Broadcast),
		device.WithLogger(l),
	}
	var st *store.File
	if cfg.settingsPath != "" {
		st = store.NewFile(cfg.settingsPath)
		opts = append(opts, device.WithPersister(st))
	}
	var loader settingsLoader
	if st != nil {
		loader = st
	}
	settings := resolveSettings(cfg, loader, l)
	dev := device.New(rxbuf.New(cfg.bufCapacity, policy), opts...)
	if err := dev.Apply(settings); err != nil {
		return nil, nil, fmt.Errorf("apply settings: %w", err)
	}
	l.Info("device_ready",
		"address", fmt.Sprintf("0x%02X", settings.Address),
		"bitrate", settings.Bitrate.String(),
		"revision", settings.Revision.String(),
		"buffer", cfg.bufCapacity,
		"buffer_policy", policy.String(),
	)
	return dev, ctrl, nil
}

// deliverFunc adapts Device.Deliver to a backend RX callback.
func deliverFunc(dev *device.Device, l *slog.Logger) func(can.Frame) {
	return func(f can.Frame) {
		if _, err := dev.Deliver(f); err != nil && !errors.Is(err, device.ErrFiltered) {
			l.Debug("frame_dropped", "id", fmt.Sprintf("0x%X", f.ID), "error", err)
		}
	}
}

func startMQTTTap(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) {
	if cfg.mqttBroker == "" {
		return
	}
	tap := mqtttap.New(mqtttap.Config{
		Broker:      cfg.mqttBroker,
		Username:    cfg.mqttUser,
		Password:    cfg.mqttPassword,
		UseTLS:      cfg.mqttTLS,
		TopicPrefix: cfg.mqttTopic,
		Logger:      l,
	})
	c := h.Subscribe("mqtt")
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer h.Remove(c)
		if err := tap.Start(ctx); err != nil {
			l.Warn("mqtt_start_failed", "error", err)
			return
		}
		defer tap.Stop()
		tap.Run(ctx, c)
	}()
}

// listenPort extracts the port from a bound address (host:port or :port).
func listenPort(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, perr := strconv.Atoi(p); perr == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, err := strconv.Atoi(addr[i+1:]); err == nil {
			return pn
		}
	}
	return 0
}
