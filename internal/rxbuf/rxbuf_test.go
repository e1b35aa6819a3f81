package rxbuf

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
)

func TestBuffer_LatestWins(t *testing.T) {
	b := New(4, EvictOldest)
	if out, _, err := b.Insert(can.New(0x100, 1)); err != nil || out != Stored {
		t.Fatalf("first insert: %v %v", out, err)
	}
	if out, _, err := b.Insert(can.New(0x100, 2, 3)); err != nil || out != Updated {
		t.Fatalf("second insert: %v %v", out, err)
	}
	got, ok := b.Lookup(0x100)
	if !ok {
		t.Fatalf("lookup missed")
	}
	if got.Len != 2 || got.Data[0] != 2 || got.Data[1] != 3 {
		t.Fatalf("lookup returned stale payload % X", got.Payload())
	}
	if b.Len() != 1 {
		t.Fatalf("len=%d want 1", b.Len())
	}
}

func TestBuffer_UpdateKeepsFIFOPosition(t *testing.T) {
	b := New(4, EvictOldest)
	_, _, _ = b.Insert(can.New(1, 0xA))
	_, _, _ = b.Insert(can.New(2))
	_, _, _ = b.Insert(can.New(1, 0xB))
	first, err := b.TakeNext()
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if first.ID != 1 || first.Data[0] != 0xB {
		t.Fatalf("expected updated id 1 first, got %+v", first)
	}
	if !first.Sent {
		t.Fatalf("taken frame must be marked delivered")
	}
	if _, ok := b.Lookup(1); ok {
		t.Fatalf("index entry must be removed on take")
	}
}

func TestBuffer_NotReady(t *testing.T) {
	b := New(2, EvictOldest)
	for i := 0; i < 3; i++ {
		if _, err := b.TakeNext(); !errors.Is(err, ErrNotReady) {
			t.Fatalf("take %d on empty: %v", i, err)
		}
	}
	_, _, _ = b.Insert(can.New(7))
	_, _ = b.TakeNext()
	if _, err := b.TakeNext(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("drained buffer: %v", err)
	}
}

func TestBuffer_EvictOldest(t *testing.T) {
	b := New(4, EvictOldest)
	var last Outcome
	var evicted uint32
	for id := uint32(1); id <= 5; id++ {
		out, ev, err := b.Insert(can.New(id, byte(id)))
		if err != nil {
			t.Fatalf("insert %d: %v", id, err)
		}
		last, evicted = out, ev
	}
	if last != Evicted || evicted != 1 {
		t.Fatalf("last outcome %v evicted %d", last, evicted)
	}
	if _, ok := b.Lookup(1); ok {
		t.Fatalf("id 1 should have been evicted")
	}
	f, ok := b.Lookup(5)
	if !ok || f.Data[0] != 5 {
		t.Fatalf("id 5 missing: %+v %v", f, ok)
	}
	want := []uint32{2, 3, 4, 5}
	for _, id := range want {
		f, err := b.TakeNext()
		if err != nil || f.ID != id {
			t.Fatalf("take got %d,%v want %d", f.ID, err, id)
		}
	}
	if st := b.Stats(); st.Evicted != 1 || st.Stored != 5 || st.Taken != 4 {
		t.Fatalf("stats %+v", st)
	}
}

func TestBuffer_Reject(t *testing.T) {
	for run := 0; run < 3; run++ {
		b := New(4, Reject)
		for id := uint32(1); id <= 4; id++ {
			if _, _, err := b.Insert(can.New(id)); err != nil {
				t.Fatalf("insert %d: %v", id, err)
			}
		}
		if _, _, err := b.Insert(can.New(5)); !errors.Is(err, ErrBufferFull) {
			t.Fatalf("run %d: expected ErrBufferFull got %v", run, err)
		}
		if _, ok := b.Lookup(1); !ok {
			t.Fatalf("existing frame lost on reject")
		}
		if _, ok := b.Lookup(5); ok {
			t.Fatalf("rejected frame stored")
		}
		// updates to a known ID are still accepted when full
		if out, _, err := b.Insert(can.New(3, 9)); err != nil || out != Updated {
			t.Fatalf("update while full: %v %v", out, err)
		}
	}
}

func TestBuffer_ReservedID(t *testing.T) {
	b := New(2, EvictOldest)
	for _, id := range []uint32{regmap.RespRejected, regmap.RespNotReady} {
		if _, _, err := b.Insert(can.New(id)); !errors.Is(err, ErrReservedID) {
			t.Fatalf("id 0x%X: %v", id, err)
		}
	}
	if b.Len() != 0 {
		t.Fatalf("reserved ids must not be stored")
	}
}

func TestBuffer_SlotReuse(t *testing.T) {
	b := New(2, Reject)
	for round := 0; round < 10; round++ {
		for id := uint32(0); id < 2; id++ {
			if _, _, err := b.Insert(can.New(uint32(round*2) + id)); err != nil {
				t.Fatalf("round %d insert: %v", round, err)
			}
		}
		for i := 0; i < 2; i++ {
			if _, err := b.TakeNext(); err != nil {
				t.Fatalf("round %d take: %v", round, err)
			}
		}
	}
	e, ok := b.Entry(99)
	if ok {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestBuffer_EntryAndPeek(t *testing.T) {
	b := New(3, EvictOldest)
	_, _, _ = b.Insert(can.New(0x10))
	_, _, _ = b.Insert(can.New(0x20))
	e, ok := b.Entry(0x20)
	if !ok || e.ID != 0x20 || e.Pos < 0 || e.Pos >= b.Cap() {
		t.Fatalf("entry %+v %v", e, ok)
	}
	p, ok := b.Peek()
	if !ok || p.ID != 0x10 {
		t.Fatalf("peek %+v %v", p, ok)
	}
	if b.Len() != 2 {
		t.Fatalf("peek must not consume")
	}
	b.Reset()
	if b.Len() != 0 || b.Stats() != (Stats{}) {
		t.Fatalf("reset left state behind")
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("reject"); err != nil || p != Reject {
		t.Fatalf("reject: %v %v", p, err)
	}
	if p, err := ParsePolicy("evict-oldest"); err != nil || p != EvictOldest {
		t.Fatalf("evict: %v %v", p, err)
	}
	if _, err := ParsePolicy("lifo"); err == nil {
		t.Fatalf("expected error")
	}
}

// TestBuffer_ConcurrentProducerConsumer runs an RX producer against a
// register-read consumer; every taken frame must be internally consistent.
func TestBuffer_ConcurrentProducerConsumer(t *testing.T) {
	b := New(8, EvictOldest)
	var done atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer done.Store(true)
		for i := 0; i < 5000; i++ {
			v := byte(i)
			_, _, _ = b.Insert(can.New(uint32(i%16), v, v, v, v, v, v, v, v))
		}
	}()
	for {
		f, err := b.TakeNext()
		if errors.Is(err, ErrNotReady) {
			if done.Load() && b.Len() == 0 {
				break
			}
			continue
		}
		for _, d := range f.Payload() {
			if d != f.Data[0] {
				t.Fatalf("torn frame % X", f.Payload())
			}
		}
	}
	wg.Wait()
}

func BenchmarkBuffer_InsertTake(b *testing.B) {
	buf := New(64, EvictOldest)
	f := can.New(0x123, 1, 2, 3, 4, 5, 6, 7, 8)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		f.ID = uint32(i % 128)
		_, _, _ = buf.Insert(f)
		if i%2 == 0 {
			_, _ = buf.TakeNext()
		}
	}
}
