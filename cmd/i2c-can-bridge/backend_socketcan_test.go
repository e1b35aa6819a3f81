//go:build linux

package main

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
	"github.com/kstaniek/i2c-can-bridge/internal/socketcan"
)

type fakeSocketDev struct {
	mu       sync.Mutex
	frames   []can.Frame
	idx      int
	errAfter bool
	written  []can.Frame
}

func (d *fakeSocketDev) ReadFrame(fr *can.Frame) error {
	d.mu.Lock()
	if d.idx < len(d.frames) {
		*fr = d.frames[d.idx]
		d.idx++
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	if d.errAfter {
		return io.ErrUnexpectedEOF
	}
	return io.EOF
}

func (d *fakeSocketDev) WriteFrame(fr can.Frame) error {
	d.mu.Lock()
	d.written = append(d.written, fr)
	d.mu.Unlock()
	return nil
}
func (d *fakeSocketDev) Close() error { return nil }

func TestInitSocketCANBackendBasic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frame := can.New(0x555, 0x01, 0x02, 0x03)
	openSocketCANDevice = func(iface string) (socketcan.Dev, error) {
		return &fakeSocketDev{frames: []can.Frame{frame}, errAfter: true}, nil
	}
	defer func() {
		openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }
	}()
	sleepFn = func(time.Duration) {}
	defer func() { sleepFn = time.Sleep }()

	dev, c := newTestDevice(t)
	beforeErrs := metrics.Snap().Errors
	cfg := &appConfig{backend: "socketcan", canIf: "vcan0"}
	var wg sync.WaitGroup
	sink, cleanup, err := initSocketCANBackend(ctx, cfg, deliverFunc(dev, testLogger()), testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSocketCANBackend: %v", err)
	}
	defer cleanup()

	select {
	case fr := <-c.Out:
		if fr.ID != frame.ID || fr.Len != frame.Len {
			t.Fatalf("unexpected frame: %+v", fr)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for socketcan frame")
	}
	if err := sink.SendFrame(frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}
	// Allow read error path to trigger once.
	time.Sleep(30 * time.Millisecond)
	if metrics.Snap().Errors == beforeErrs {
		t.Fatalf("expected at least one error increment (read error after frame)")
	}
}
