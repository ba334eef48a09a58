package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ambilight/internal/display"
	"ambilight/internal/frame"
)

// DefaultPollInterval is how often the presentation worker looks for a new
// frame and style updates.
const DefaultPollInterval = 16 * time.Millisecond

// Style is the part of the config the presentation surface reacts to.
type Style struct {
	Opacity float64 // 0..1
	Blend   bool    // translucent and not always-on-top when set
}

// Surface is a borderless window covering one target display.
type Surface interface {
	Show(f *frame.Frame) error
	Apply(s Style) error
	Close() error
}

// SurfaceFactory creates the surface for a target display.
type SurfaceFactory func(target display.Region, s Style) (Surface, error)

type presentWorker struct {
	target  display.Region
	style   Style
	mailbox *Mailbox[Config]
	frames  FrameSlot
	open    SurfaceFactory
	poll    time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	surface Surface
	killed  bool
}

func (w *presentWorker) run(ctx context.Context) {
	surf, err := w.open(w.target, w.style)
	if err != nil {
		w.log.Error("creating overlay failed", "target", w.target, "err", &PresentationError{Op: "create", Err: err})
		return
	}
	if !w.attach(surf) {
		return
	}
	defer w.kill()

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	errs := throttle{every: time.Second}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if cfg, ok := w.mailbox.Drain(); ok {
			if st := cfg.Style(); st != w.style {
				if err := surf.Apply(st); err != nil {
					w.log.Warn("applying style failed", "err", &PresentationError{Op: "style", Err: err})
				} else {
					w.style = st
				}
			}
		}
		if f, ok := w.frames.TryTake(); ok {
			if err := surf.Show(f); err != nil && errs.allow() {
				w.log.Warn("presenting frame failed", "err", &PresentationError{Op: "show", Err: err}, "suppressed", errs.suppressed())
			}
		}
	}
}

// attach records the surface so kill can reach it. A surface created after
// kill is closed immediately.
func (w *presentWorker) attach(s Surface) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.killed {
		_ = s.Close()
		return false
	}
	w.surface = s
	return true
}

func (w *presentWorker) kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.killed = true
	if w.surface == nil {
		return
	}
	if err := w.surface.Close(); err != nil {
		w.log.Warn("closing overlay failed", "err", err)
	}
	w.surface = nil
}
