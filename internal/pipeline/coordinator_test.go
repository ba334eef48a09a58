package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"ambilight/internal/display"
	"ambilight/internal/frame"
)

// tracker records source and surface lifetimes across epochs.
type tracker struct {
	mu             sync.Mutex
	events         []string
	sources        int
	maxSources     int
	surfaces       int
	maxSurfaces    int
	lastSurface    *fakeSurface
	blockCapture   bool
	failSurface    bool
	openedRegions  []display.Region
	surfaceRegions []display.Region
}

func (tr *tracker) log(format string, args ...any) {
	tr.events = append(tr.events, fmt.Sprintf(format, args...))
}

func (tr *tracker) openSource(r display.Region) (display.Source, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.sources++
	tr.maxSources = max(tr.maxSources, tr.sources)
	tr.openedRegions = append(tr.openedRegions, r)
	tr.log("open source %d", r.Index)
	return &fakeSource{tr: tr, region: r, release: make(chan struct{})}, nil
}

func (tr *tracker) openSurface(r display.Region, s Style) (Surface, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.failSurface {
		return nil, errors.New("no window system")
	}
	tr.surfaces++
	tr.maxSurfaces = max(tr.maxSurfaces, tr.surfaces)
	tr.surfaceRegions = append(tr.surfaceRegions, r)
	tr.log("open surface %d", r.Index)
	surf := &fakeSurface{tr: tr, region: r, style: s}
	tr.lastSurface = surf
	return surf, nil
}

func (tr *tracker) active() (int, int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.sources, tr.surfaces
}

func (tr *tracker) snapshot() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.events...)
}

type fakeSource struct {
	tr      *tracker
	region  display.Region
	release chan struct{}
	once    sync.Once
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Capture() (*frame.Frame, error) {
	s.tr.mu.Lock()
	block := s.tr.blockCapture
	s.tr.mu.Unlock()
	if block {
		<-s.release
		return nil, errors.New("closed")
	}
	f := frame.New(s.region.Width, s.region.Height)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			f.Set(x, y, frame.RGB{R: 200, G: 100, B: 50})
		}
	}
	return f, nil
}

func (s *fakeSource) Close() error {
	s.once.Do(func() {
		close(s.release)
		s.tr.mu.Lock()
		s.tr.sources--
		s.tr.log("close source %d", s.region.Index)
		s.tr.mu.Unlock()
	})
	return nil
}

type fakeSurface struct {
	tr     *tracker
	region display.Region
	once   sync.Once

	mu     sync.Mutex
	style  Style
	shown  int
	last   *frame.Frame
	closed bool
}

func (s *fakeSurface) Show(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shown++
	s.last = f
	return nil
}

func (s *fakeSurface) Apply(st Style) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = st
	return nil
}

func (s *fakeSurface) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.tr.mu.Lock()
		s.tr.surfaces--
		s.tr.log("close surface %d", s.region.Index)
		s.tr.mu.Unlock()
	})
	return nil
}

func (s *fakeSurface) state() (Style, int, *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.style, s.shown, s.last
}

func testMonitors() []display.Region {
	return []display.Region{
		{Index: 0, Width: 192, Height: 45, X: 0, Y: 0},
		{Index: 1, Width: 64, Height: 36, X: 0, Y: 0},
		{Index: 2, Width: 80, Height: 45, X: 64, Y: 0},
		{Index: 3, Width: 48, Height: 27, X: 144, Y: 0},
	}
}

func newTestCoordinator(tr *tracker) *Coordinator {
	return NewCoordinator(Options{
		Monitors:     testMonitors(),
		OpenSource:   tr.openSource,
		OpenSurface:  tr.openSurface,
		StopTimeout:  time.Second,
		PollInterval: 2 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStart_EndToEnd(t *testing.T) {
	tr := &tracker{}
	c := newTestCoordinator(tr)
	defer c.Stop()

	res := c.StartJSON([]byte(`{"source_monitor":1,"target_monitor":2,"update_rate":30,"blur_radius":120,"opacity":70,"blend_mode":true}`))
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if c.State() != Running {
		t.Fatalf("expected Running, got %s", c.State())
	}

	waitFor(t, "first frame", func() bool {
		tr.mu.Lock()
		surf := tr.lastSurface
		tr.mu.Unlock()
		if surf == nil {
			return false
		}
		_, shown, _ := surf.state()
		return shown > 0
	})

	tr.mu.Lock()
	region := tr.surfaceRegions[0]
	surf := tr.lastSurface
	tr.mu.Unlock()
	want := testMonitors()[2]
	if region != want {
		t.Errorf("expected surface at %v, got %v", want, region)
	}
	style, _, last := surf.state()
	if math.Abs(style.Opacity-0.7) > 1e-9 || !style.Blend {
		t.Errorf("expected opacity 0.7 blended, got %+v", style)
	}
	if last.Width != want.Width || last.Height != want.Height {
		t.Errorf("expected %dx%d frame, got %dx%d", want.Width, want.Height, last.Width, last.Height)
	}
	got := last.At(last.Width/2, last.Height/2)
	if absDiff(got.R, 200) > 1 || absDiff(got.G, 100) > 1 || absDiff(got.B, 50) > 1 {
		t.Errorf("expected source color to reach the overlay, got %v", got)
	}
	if s := c.Stats(); s.Frames == 0 || s.Backend != "fake" || s.Epoch != c.Epoch() {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestStop_WhenIdle(t *testing.T) {
	c := newTestCoordinator(&tracker{})
	res := c.Stop()
	if !res.Success || res.Error != "" {
		t.Fatalf("expected no-op success, got %+v", res)
	}
	if c.State() != Idle {
		t.Errorf("expected Idle, got %s", c.State())
	}
}

func TestStart_SameConfigKeepsWorkers(t *testing.T) {
	tr := &tracker{}
	c := newTestCoordinator(tr)
	defer c.Stop()

	cfg := DefaultConfig()
	if res := c.Start(cfg); !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	first := c.Epoch()
	waitFor(t, "source open", func() bool { s, _ := tr.active(); return s == 1 })

	if res := c.Start(cfg); !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if c.Epoch() != first {
		t.Errorf("expected epoch %s to survive, got %s", first, c.Epoch())
	}

	cfg.Opacity = 0.4
	cfg.BlendMode = false
	cfg.BlurRadius = 20
	if res := c.Start(cfg); !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if c.Epoch() != first {
		t.Error("expected style change without restart")
	}
	waitFor(t, "style update", func() bool {
		tr.mu.Lock()
		surf := tr.lastSurface
		tr.mu.Unlock()
		st, _, _ := surf.state()
		return st == Style{Opacity: 0.4, Blend: false}
	})

	tr.mu.Lock()
	opened := len(tr.openedRegions)
	surfaces := len(tr.surfaceRegions)
	tr.mu.Unlock()
	if opened != 1 || surfaces != 1 {
		t.Errorf("expected one source and one surface, got %d and %d", opened, surfaces)
	}
	if c.Config().BlurRadius != 20 {
		t.Errorf("expected held config to update, got %+v", c.Config())
	}
}

func TestStart_GeometryChangeRestarts(t *testing.T) {
	tr := &tracker{}
	c := newTestCoordinator(tr)
	defer c.Stop()

	cfg := DefaultConfig()
	c.Start(cfg)
	first := c.Epoch()
	waitFor(t, "first source", func() bool { s, n := tr.active(); return s == 1 && n == 1 })

	cfg.TargetMonitor = 3
	if res := c.Start(cfg); !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if c.Epoch() == first || c.Epoch() == uuid.Nil {
		t.Fatalf("expected a new epoch, got %s", c.Epoch())
	}
	waitFor(t, "second surface", func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.surfaceRegions) == 2 && len(tr.openedRegions) == 2
	})

	tr.mu.Lock()
	maxSources, maxSurfaces := tr.maxSources, tr.maxSurfaces
	target := tr.surfaceRegions[1]
	tr.mu.Unlock()
	if maxSources != 1 || maxSurfaces != 1 {
		t.Errorf("expected old workers gone before new ones start, peak sources=%d surfaces=%d", maxSources, maxSurfaces)
	}
	if target.Index != 3 {
		t.Errorf("expected new surface on monitor 3, got %d", target.Index)
	}

	events := tr.snapshot()
	closeAt, openAt := -1, -1
	for i, e := range events {
		if e == "close surface 2" {
			closeAt = i
		}
		if e == "open surface 3" {
			openAt = i
		}
	}
	if closeAt < 0 || openAt < 0 || closeAt > openAt {
		t.Errorf("expected old surface closed before the new one opened: %v", events)
	}
}

func TestToggle_TwiceReturnsToIdle(t *testing.T) {
	tr := &tracker{}
	var mu sync.Mutex
	var states []State
	c := NewCoordinator(Options{
		Monitors:     testMonitors(),
		OpenSource:   tr.openSource,
		OpenSurface:  tr.openSurface,
		PollInterval: 2 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	if res := c.Toggle(); !res.Success || c.State() != Running {
		t.Fatalf("expected Running after first toggle, got %s (%q)", c.State(), res.Error)
	}
	waitFor(t, "workers up", func() bool { s, n := tr.active(); return s == 1 && n == 1 })

	if res := c.Toggle(); !res.Success || c.State() != Idle {
		t.Fatalf("expected Idle after second toggle, got %s (%q)", c.State(), res.Error)
	}
	if s, n := tr.active(); s != 0 || n != 0 {
		t.Errorf("expected no live workers, got %d sources and %d surfaces", s, n)
	}
	if c.Epoch() != uuid.Nil {
		t.Errorf("expected nil epoch when idle, got %s", c.Epoch())
	}
	if c.Stats().Orphaned != 0 {
		t.Errorf("expected no abandoned workers, got %d", c.Stats().Orphaned)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{Running, Stopping, Idle}
	if len(states) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], states[i])
		}
	}
}

func TestStop_ForcesStuckWorker(t *testing.T) {
	tr := &tracker{blockCapture: true}
	c := NewCoordinator(Options{
		Monitors:     testMonitors(),
		OpenSource:   tr.openSource,
		OpenSurface:  tr.openSurface,
		StopTimeout:  30 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	c.Start(DefaultConfig())
	waitFor(t, "source open", func() bool { s, _ := tr.active(); return s == 1 })

	start := time.Now()
	if res := c.Stop(); !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("stop took too long: %v", time.Since(start))
	}
	if c.State() != Idle {
		t.Errorf("expected Idle, got %s", c.State())
	}
	if c.Stats().Orphaned != 1 {
		t.Errorf("expected the stuck compute worker to be forced, got %d", c.Stats().Orphaned)
	}
	waitFor(t, "source closed", func() bool { s, n := tr.active(); return s == 0 && n == 0 })
}

func TestStart_UnknownMonitor(t *testing.T) {
	c := newTestCoordinator(&tracker{})
	cfg := DefaultConfig()
	cfg.TargetMonitor = 9
	res := c.Start(cfg)
	if res.Success {
		t.Fatal("expected failure for missing monitor")
	}
	if c.State() != Idle {
		t.Errorf("expected Idle, got %s", c.State())
	}
}

func TestStartJSON_MalformedStartsNothing(t *testing.T) {
	tr := &tracker{}
	c := newTestCoordinator(tr)
	res := c.StartJSON([]byte(`{"opacity":"high"}`))
	if res.Success || res.Error == "" {
		t.Fatalf("expected failure result, got %+v", res)
	}
	if c.State() != Idle {
		t.Errorf("expected Idle, got %s", c.State())
	}
	if c.Config() != DefaultConfig() {
		t.Errorf("expected held config unchanged, got %+v", c.Config())
	}
}

func TestStart_SurfaceFailureKeepsCompute(t *testing.T) {
	tr := &tracker{failSurface: true}
	c := newTestCoordinator(tr)
	sink := &recordSink{}
	c.AddSink(sink)

	if res := c.Start(DefaultConfig()); !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	waitFor(t, "sink frame", func() bool { return sink.count() > 0 })
	if res := c.Stop(); !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if c.Stats().Orphaned != 0 {
		t.Errorf("expected clean stop, got %d abandoned", c.Stats().Orphaned)
	}
}

func TestSourceEqualsTargetAllowed(t *testing.T) {
	tr := &tracker{}
	c := newTestCoordinator(tr)
	defer c.Stop()
	cfg := DefaultConfig()
	cfg.TargetMonitor = cfg.SourceMonitor
	if res := c.Start(cfg); !res.Success {
		t.Fatalf("expected permissive start, got %q", res.Error)
	}
}

type recordSink struct {
	mu sync.Mutex
	n  int
}

func (s *recordSink) Publish(*frame.Frame) {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestToggle_ConcurrentTogglesAlternate(t *testing.T) {
	tr := &tracker{}
	c := newTestCoordinator(tr)
	defer c.Stop()

	for i := 0; i < 10; i++ {
		var wg sync.WaitGroup
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Toggle()
			}()
		}
		wg.Wait()
		if c.State() != Idle {
			t.Fatalf("round %d: expected a start and a stop, ended %s", i, c.State())
		}
	}
	if s, n := tr.active(); s != 0 || n != 0 {
		t.Errorf("expected no live workers, got %d sources and %d surfaces", s, n)
	}
}
