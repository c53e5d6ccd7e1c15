package instrument

import "sync"

// Buffer keeps the most recent events in a fixed-size ring.
type Buffer struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

// NewBuffer creates a ring holding up to size events.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{events: make([]Event, size)}
}

// Add stores an event, overwriting the oldest once the ring is full.
func (b *Buffer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[b.next] = event
	b.next = (b.next + 1) % len(b.events)
	if b.next == 0 {
		b.full = true
	}
}

// Len returns the number of stored events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.events)
	}
	return b.next
}

// Recent returns up to limit events, newest first, that match keep.
// A nil keep matches everything; limit <= 0 means no limit.
func (b *Buffer) Recent(limit int, keep func(Event) bool) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.next
	if b.full {
		n = len(b.events)
	}
	out := []Event{}
	for i := 0; i < n; i++ {
		idx := (b.next - 1 - i + len(b.events)) % len(b.events)
		ev := b.events[idx]
		if keep != nil && !keep(ev) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
