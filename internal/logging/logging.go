// Package logging configures the process-wide slog logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// KeyComponent names the subsystem a log line came from.
const KeyComponent = "component"

// switchableHandler lets loggers created before Init pick up the handler
// Init installs. WithAttrs and WithGroup calls are replayed in order.
type switchableHandler struct {
	current *atomic.Value // holder
	steps   []step
}

// holder keeps the stored type constant across handler kinds.
type holder struct{ h slog.Handler }

type step struct {
	group string
	attrs []slog.Attr
}

func (h *switchableHandler) materialize() slog.Handler {
	handler := h.current.Load().(holder).h
	for _, s := range h.steps {
		if s.group != "" {
			handler = handler.WithGroup(s.group)
		} else {
			handler = handler.WithAttrs(s.attrs)
		}
	}
	return handler
}

func (h *switchableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.materialize().Enabled(ctx, level)
}

func (h *switchableHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.materialize().Handle(ctx, r)
}

func (h *switchableHandler) with(s step) *switchableHandler {
	steps := make([]step, 0, len(h.steps)+1)
	steps = append(steps, h.steps...)
	return &switchableHandler{current: h.current, steps: append(steps, s)}
}

func (h *switchableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(step{attrs: attrs})
}

func (h *switchableHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(step{group: name})
}

var root = func() *switchableHandler {
	v := &atomic.Value{}
	v.Store(holder{slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})})
	return &switchableHandler{current: v}
}()

func init() {
	slog.SetDefault(slog.New(root))
}

// Init installs the handler for format ("json" or "text") and level
// ("debug", "info", "warn", "error"). A nil output means stderr.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	root.current.Store(holder{handler})
}

// L returns a logger tagged with component.
func L(component string) *slog.Logger {
	return slog.New(root).With(slog.String(KeyComponent, component))
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
