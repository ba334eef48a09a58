package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ambilight/internal/display"
	"ambilight/internal/frame"
)

// Reopen delays after a capture source reports its display gone. The first
// reopen is immediate; repeated losses back off up to reopenMax.
const (
	reopenMin = 100 * time.Millisecond
	reopenMax = 5 * time.Second
)

// errReopenPending is returned while a lost source waits to be reopened.
var errReopenPending = errors.New("capture source reopen pending")

// SourceOpener opens a capture source for a display region.
type SourceOpener func(r display.Region) (display.Source, error)

// SleepFor returns how long to sleep after a loop iteration that took
// elapsed so iterations start every interval. It is never negative.
func SleepFor(interval, elapsed time.Duration) time.Duration {
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

type computeWorker struct {
	source   display.Region
	target   display.Region
	cfg      Config
	mailbox  *Mailbox[Config]
	open     SourceOpener
	composer *Composer
	out      Sink
	log      *slog.Logger
	onFrame  func(Composition, string, time.Duration)

	mu     sync.Mutex
	src    display.Source
	killed bool

	// Owned by the run goroutine.
	retryAt time.Time
	backoff time.Duration
}

func (w *computeWorker) run(ctx context.Context) {
	defer w.kill()
	errs := throttle{every: time.Second}

	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if cfg, ok := w.mailbox.Drain(); ok {
			w.cfg = cfg
		}

		if err := w.step(ctx); err != nil {
			switch {
			case errors.Is(err, display.ErrNoFrame), errors.Is(err, errReopenPending):
				w.log.Debug("capture not ready", "source", w.source, "err", err)
			case errs.allow():
				w.log.Error("compute iteration failed", "source", w.source, "err", err, "suppressed", errs.suppressed())
			}
		}

		if !sleepCtx(ctx, SleepFor(w.cfg.Interval(), time.Since(start))) {
			return
		}
	}
}

// step captures, composes and publishes one frame. Panics are recovered so
// a bad frame cannot take the process down.
func (w *computeWorker) step(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compute panic: %v", r)
		}
	}()

	src, err := w.acquire()
	if err != nil {
		return err
	}
	start := time.Now()
	f, err := src.Capture()
	if err != nil {
		if errors.Is(err, display.ErrDisplayGone) {
			w.drop(src)
		}
		return err
	}
	w.backoff = 0
	comp, err := w.composer.Compose(f, w.cfg, w.target.Width, w.target.Height)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	w.out.Publish(comp.Frame)
	if w.onFrame != nil {
		w.onFrame(comp, src.Name(), time.Since(start))
	}
	return nil
}

// acquire opens the source on first use and retries on later iterations
// while opening fails.
func (w *computeWorker) acquire() (display.Source, error) {
	w.mu.Lock()
	if w.src != nil || w.killed {
		src, killed := w.src, w.killed
		w.mu.Unlock()
		if killed {
			return nil, errors.New("capture source closed")
		}
		return src, nil
	}
	w.mu.Unlock()

	if time.Now().Before(w.retryAt) {
		return nil, errReopenPending
	}
	src, err := w.open(w.source)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.killed {
		_ = src.Close()
		return nil, errors.New("capture source closed")
	}
	w.src = src
	w.log.Info("capture started", "source", w.source, "backend", src.Name())
	return src, nil
}

// drop closes a source whose display went away so a later iteration opens
// a fresh one.
func (w *computeWorker) drop(src display.Source) {
	w.mu.Lock()
	if w.src != src {
		w.mu.Unlock()
		return
	}
	w.src = nil
	w.mu.Unlock()

	if err := src.Close(); err != nil {
		w.log.Warn("closing capture failed", "backend", src.Name(), "err", err)
	}
	w.retryAt = time.Now().Add(w.backoff)
	w.backoff = min(max(2*w.backoff, reopenMin), reopenMax)
	w.log.Warn("capture source lost, reopening", "source", w.source, "backend", src.Name(), "retry_in", time.Until(w.retryAt).Round(time.Millisecond))
}

func (w *computeWorker) kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.killed = true
	if w.src == nil {
		return
	}
	if err := w.src.Close(); err != nil {
		w.log.Warn("closing capture failed", "backend", w.src.Name(), "err", err)
	}
	w.src = nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// throttle rate-limits repeated log lines.
type throttle struct {
	every   time.Duration
	last    time.Time
	skipped int
}

func (t *throttle) allow() bool {
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.every {
		t.skipped++
		return false
	}
	t.last = now
	return true
}

// suppressed returns and resets the number of lines skipped since the last
// allowed one.
func (t *throttle) suppressed() int {
	n := t.skipped
	t.skipped = 0
	return n
}

// sinks publishes to every member in order.
type sinks []Sink

func (s sinks) Publish(f *frame.Frame) {
	for _, x := range s {
		x.Publish(f)
	}
}
