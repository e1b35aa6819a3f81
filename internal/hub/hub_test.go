package hub

import (
	"testing"
	"time"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
)

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := NewClient("slow", 4)
	h.Add(cl)
	defer h.Remove(cl)

	// never read from cl.Out to simulate a slow tap
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(can.New(0x123))
	}
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := NewClient("slow", 1)
	fast := NewClient("fast", 16)
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	pre := metrics.Snap().TapDrops
	h.Broadcast(can.New(0x1))
	for i := 0; i < 10; i++ {
		h.Broadcast(can.New(0x2))
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got >= 5 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatalf("fast client did not receive any frames while slow was backpressured")
	}
	if metrics.Snap().TapDrops <= pre {
		t.Fatalf("tap drops not counted")
	}
}

func TestHub_Kick(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	cl := NewClient("slow", 1)
	h.Add(cl)
	defer h.Remove(cl)
	h.Broadcast(can.New(1))
	h.Broadcast(can.New(2))
	select {
	case <-cl.Closed:
	default:
		t.Fatalf("slow client not kicked")
	}
}

func TestHub_SubscribeRemove(t *testing.T) {
	h := New()
	h.OutBufSize = 8
	c := h.Subscribe("mqtt")
	if h.Count() != 1 || cap(c.Out) != 8 {
		t.Fatalf("count=%d cap=%d", h.Count(), cap(c.Out))
	}
	h.Remove(c)
	h.Remove(c)
	if h.Count() != 0 {
		t.Fatalf("count=%d", h.Count())
	}
	if _, err := ParsePolicy("bogus"); err == nil {
		t.Fatalf("bogus policy accepted")
	}
}
