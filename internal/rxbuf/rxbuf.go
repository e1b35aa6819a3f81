// Package rxbuf holds received CAN frames until the host reads them.
//
// Storage is an arena of fixed slots plus an index from CAN ID to slot and a
// FIFO ring of occupied slots in arrival order. A newer frame for an ID that
// is still unread overwrites that slot in place and keeps its FIFO position,
// so one chatty ID can never occupy more than one slot. All operations are
// O(1), never block beyond the internal critical section, and report their
// outcome explicitly.
package rxbuf

import (
	"errors"
	"sync"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/regmap"
)

var (
	// ErrBufferFull is returned by Insert under the Reject policy.
	ErrBufferFull = errors.New("rxbuf: buffer full")
	// ErrNotReady is returned by TakeNext when no unread frame exists.
	ErrNotReady = errors.New("rxbuf: no frame ready")
	// ErrReservedID is returned for identifiers that alias a sentinel response.
	ErrReservedID = errors.New("rxbuf: reserved identifier")
)

// Policy decides what happens when a new ID arrives while every slot is unread.
type Policy int

const (
	// EvictOldest drops the oldest unread frame to make room.
	EvictOldest Policy = iota
	// Reject refuses the new frame with ErrBufferFull.
	Reject
)

func (p Policy) String() string {
	switch p {
	case EvictOldest:
		return "evict-oldest"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParsePolicy accepts "evict-oldest" (or "evict") and "reject".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "evict-oldest", "evict":
		return EvictOldest, nil
	case "reject":
		return Reject, nil
	default:
		return 0, errors.New("rxbuf: unknown policy " + s)
	}
}

// Outcome describes what Insert did.
type Outcome int

const (
	Stored  Outcome = iota + 1 // new slot allocated
	Updated                    // unread frame with the same ID overwritten
	Evicted                    // oldest unread frame dropped, new one stored
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Updated:
		return "updated"
	case Evicted:
		return "evicted"
	default:
		return "none"
	}
}

// DefaultCapacity matches a small MCU receive buffer.
const DefaultCapacity = 32

// IndexEntry maps a CAN ID to its buffer slot.
type IndexEntry struct {
	ID  uint32
	Pos int
}

// Stats counts buffer activity since creation or the last Reset.
type Stats struct {
	Stored   uint64
	Updated  uint64
	Evicted  uint64
	Rejected uint64
	Taken    uint64
}

// Buffer is the bounded receive buffer. Safe for concurrent use.
type Buffer struct {
	mu     sync.Mutex
	policy Policy
	slots  []can.Frame
	index  map[uint32]int // CAN ID -> slot
	ring   []int          // FIFO of occupied slots, oldest at head
	head   int
	count  int
	free   []int // stack of free slots
	stats  Stats
}

// New creates a buffer with the given capacity (DefaultCapacity if <= 0).
func New(capacity int, policy Policy) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		policy: policy,
		slots:  make([]can.Frame, capacity),
		index:  make(map[uint32]int, capacity),
		ring:   make([]int, capacity),
		free:   make([]int, 0, capacity),
	}
	b.resetLocked()
	return b
}

func (b *Buffer) resetLocked() {
	clear(b.index)
	b.head, b.count = 0, 0
	b.free = b.free[:0]
	for i := len(b.slots) - 1; i >= 0; i-- {
		b.slots[i] = can.Frame{Sent: true} // Sent marks a free slot
		b.free = append(b.free, i)
	}
}

// Cap returns the slot capacity.
func (b *Buffer) Cap() int { return len(b.slots) }

// Policy returns the full-buffer policy.
func (b *Buffer) Policy() Policy { return b.policy }

// Len returns the number of unread frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Insert stores f, overwriting an unread frame with the same ID. When the
// buffer is full the configured policy applies; the evicted ID is returned
// alongside Evicted.
func (b *Buffer) Insert(f can.Frame) (Outcome, uint32, error) {
	if regmap.IsSentinel(f.ID) {
		return 0, 0, ErrReservedID
	}
	f.Sent = false
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.index[f.ID]; ok {
		b.slots[pos] = f
		b.stats.Updated++
		return Updated, 0, nil
	}
	outcome := Stored
	var evicted uint32
	if len(b.free) == 0 {
		if b.policy == Reject {
			b.stats.Rejected++
			return 0, 0, ErrBufferFull
		}
		old := b.popLocked()
		evicted = b.slots[old].ID
		b.releaseLocked(old)
		b.stats.Evicted++
		outcome = Evicted
	}
	pos := b.free[len(b.free)-1]
	b.free = b.free[:len(b.free)-1]
	b.slots[pos] = f
	b.index[f.ID] = pos
	b.ring[(b.head+b.count)%len(b.ring)] = pos
	b.count++
	b.stats.Stored++
	return outcome, evicted, nil
}

// TakeNext returns the oldest unread frame and releases its slot.
func (b *Buffer) TakeNext() (can.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return can.Frame{}, ErrNotReady
	}
	pos := b.popLocked()
	f := b.slots[pos]
	f.Sent = true
	b.releaseLocked(pos)
	b.stats.Taken++
	return f, nil
}

// Peek returns the oldest unread frame without consuming it.
func (b *Buffer) Peek() (can.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return can.Frame{}, false
	}
	return b.slots[b.ring[b.head]], true
}

// Lookup returns the unread frame for id.
func (b *Buffer) Lookup(id uint32) (can.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.index[id]
	if !ok {
		return can.Frame{}, false
	}
	return b.slots[pos], true
}

// Entry returns the index entry for id.
func (b *Buffer) Entry(id uint32) (IndexEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.index[id]
	return IndexEntry{ID: id, Pos: pos}, ok
}

// Stats returns a copy of the activity counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Reset discards all unread frames and counters.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	b.stats = Stats{}
}

// popLocked removes and returns the FIFO head slot.
func (b *Buffer) popLocked() int {
	pos := b.ring[b.head]
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	return pos
}

// releaseLocked frees a slot and drops its index entry.
func (b *Buffer) releaseLocked(pos int) {
	delete(b.index, b.slots[pos].ID)
	b.slots[pos].Sent = true
	b.free = append(b.free, pos)
}
