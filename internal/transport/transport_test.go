package transport

import (
	"errors"
	"testing"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/logging"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
)

type sliceSink struct{ frames []can.Frame }

func (s *sliceSink) SendFrame(f can.Frame) error { s.frames = append(s.frames, f); return nil }

func TestControllerForwards(t *testing.T) {
	sink := &sliceSink{}
	var applied regmap.Bitrate
	c := &Controller{Sink: sink, OnBitrate: func(b regmap.Bitrate) error { applied = b; return nil }}
	if err := c.SendFrame(can.New(0x10, 1)); err != nil {
		t.Fatal(err)
	}
	if len(sink.frames) != 1 {
		t.Fatalf("frames=%d", len(sink.frames))
	}
	if err := c.SetBitrate(regmap.Bitrate250K); err != nil {
		t.Fatal(err)
	}
	if applied != regmap.Bitrate250K || c.Bitrate() != regmap.Bitrate250K {
		t.Fatalf("applied=%v recorded=%v", applied, c.Bitrate())
	}
}

func TestControllerErrors(t *testing.T) {
	c := &Controller{}
	if err := c.SendFrame(can.New(1)); !errors.Is(err, ErrNoSink) {
		t.Fatalf("err=%v", err)
	}
	if err := c.SetBitrate(0); err == nil {
		t.Fatalf("invalid bitrate accepted")
	}
	boom := errors.New("boom")
	c.OnBitrate = func(regmap.Bitrate) error { return boom }
	if err := c.SetBitrate(regmap.Bitrate500K); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if c.Bitrate() != 0 {
		t.Fatalf("bitrate recorded after failure")
	}
}

func TestLogSinkLoopback(t *testing.T) {
	var got []can.Frame
	s := LogSink{Logger: logging.Discard(), Loopback: func(f can.Frame) { got = append(got, f) }}
	if err := s.SendFrame(can.New(0x7FF, 1, 2)); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != 0x7FF {
		t.Fatalf("loopback=%+v", got)
	}
}
