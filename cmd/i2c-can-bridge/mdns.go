package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// startMDNS registers the register link via mDNS and returns a cleanup function.
// It is safe to call even if disabled (no-op).
const mdnsServiceType = "_i2c-can._tcp"

func startMDNS(ctx context.Context, cfg *appConfig, addr byte, port int) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("i2c-can-bridge-%s", host)
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, mdnsTXT(cfg, addr), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}

// mdnsTXT lists what a master needs before dialing: the slave address and
// the frame layout revision.
func mdnsTXT(cfg *appConfig, addr byte) []string {
	return []string{
		"backend=" + cfg.backend,
		fmt.Sprintf("rev=%d", cfg.revision),
		fmt.Sprintf("addr=0x%02x", addr),
		"version=" + version,
		"commit=" + commit,
	}
}
