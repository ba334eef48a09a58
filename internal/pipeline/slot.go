package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"ambilight/internal/frame"
)

// Sink receives finished frames. Publish must not block.
type Sink interface {
	Publish(f *frame.Frame)
}

// Slot is a single-slot latest-wins channel. Publish never blocks: an
// unconsumed value is replaced by the newer one.
type Slot[T any] struct {
	ch    chan T
	drops atomic.Uint64
}

// NewSlot returns an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ch: make(chan T, 1)}
}

// Put stores v, discarding any value not yet taken.
func (s *Slot[T]) Put(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
			s.drops.Add(1)
		default:
		}
	}
}

// TryTake returns the latest value if one is waiting.
func (s *Slot[T]) TryTake() (T, bool) {
	select {
	case v := <-s.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Take blocks until a value is available or ctx is done.
func (s *Slot[T]) Take(ctx context.Context) (T, error) {
	select {
	case v := <-s.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Drops returns how many values were overwritten before being taken.
func (s *Slot[T]) Drops() uint64 {
	return s.drops.Load()
}

// FrameSlot is the latest-wins channel between compute and presentation.
type FrameSlot struct {
	*Slot[*frame.Frame]
}

// NewFrameSlot returns an empty frame slot.
func NewFrameSlot() FrameSlot {
	return FrameSlot{NewSlot[*frame.Frame]()}
}

// Publish implements Sink.
func (s FrameSlot) Publish(f *frame.Frame) { s.Put(f) }

// Mailbox is an unbounded FIFO drained in full by its single consumer.
type Mailbox[T any] struct {
	mu    sync.Mutex
	items []T
}

// Push appends v. It never blocks on the consumer.
func (m *Mailbox[T]) Push(v T) {
	m.mu.Lock()
	m.items = append(m.items, v)
	m.mu.Unlock()
}

// Drain empties the mailbox and returns the most recent entry.
func (m *Mailbox[T]) Drain() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest T
	if len(m.items) == 0 {
		return latest, false
	}
	latest = m.items[len(m.items)-1]
	m.items = nil
	return latest, true
}

// fanout publishes to a set of sinks that may change between frames.
type fanout struct {
	sinks atomic.Pointer[[]Sink]
}

func (f *fanout) add(s Sink) {
	for {
		old := f.sinks.Load()
		var next []Sink
		if old != nil {
			next = append(next, *old...)
		}
		next = append(next, s)
		if f.sinks.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (f *fanout) remove(s Sink) {
	for {
		old := f.sinks.Load()
		if old == nil {
			return
		}
		next := make([]Sink, 0, len(*old))
		for _, x := range *old {
			if x != s {
				next = append(next, x)
			}
		}
		if f.sinks.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (f *fanout) Publish(fr *frame.Frame) {
	p := f.sinks.Load()
	if p == nil {
		return
	}
	for _, s := range *p {
		s.Publish(fr)
	}
}
