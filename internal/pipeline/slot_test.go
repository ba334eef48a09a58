package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"ambilight/internal/frame"
)

func TestSlot_LatestWins(t *testing.T) {
	s := NewSlot[string]()
	s.Put("A")
	s.Put("B")

	v, ok := s.TryTake()
	if !ok || v != "B" {
		t.Fatalf("expected B, got %q (ok=%v)", v, ok)
	}
	if _, ok := s.TryTake(); ok {
		t.Error("expected slot to be empty after take")
	}
	if s.Drops() != 1 {
		t.Errorf("expected 1 drop, got %d", s.Drops())
	}
}

func TestSlot_TakeWaitsForValue(t *testing.T) {
	s := NewSlot[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Put(7)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := s.Take(ctx)
	if err != nil || v != 7 {
		t.Fatalf("expected 7, got %d (%v)", v, err)
	}
}

func TestSlot_TakeCanceled(t *testing.T) {
	s := NewSlot[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Take(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSlot_ConcurrentPutNeverBlocks(t *testing.T) {
	s := NewSlot[int]()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			s.Put(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked without a consumer")
	}
	if v, ok := s.TryTake(); !ok || v != 9999 {
		t.Errorf("expected last value 9999, got %d", v)
	}
}

func TestMailbox_DrainReturnsLatest(t *testing.T) {
	var m Mailbox[int]
	if _, ok := m.Drain(); ok {
		t.Fatal("expected empty mailbox")
	}
	m.Push(1)
	m.Push(2)
	m.Push(3)
	v, ok := m.Drain()
	if !ok || v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
	if _, ok := m.Drain(); ok {
		t.Error("expected mailbox drained")
	}
}

type countSink struct{ n int }

func (c *countSink) Publish(*frame.Frame) { c.n++ }

func TestFanout_AddRemove(t *testing.T) {
	var f fanout
	a, b := &countSink{}, &countSink{}
	f.Publish(frame.New(1, 1))
	f.add(a)
	f.add(b)
	f.Publish(frame.New(1, 1))
	f.remove(a)
	f.Publish(frame.New(1, 1))
	if a.n != 1 || b.n != 2 {
		t.Errorf("expected a=1 b=2, got a=%d b=%d", a.n, b.n)
	}
}
