package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ambilight/internal/display"
	"ambilight/internal/frame"
	"ambilight/internal/sampler"
)

// DefaultStopTimeout bounds how long Stop waits for each worker.
const DefaultStopTimeout = time.Second

// State is the coordinator lifecycle state.
type State int32

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configures a Coordinator.
type Options struct {
	Monitors      []display.Region
	OpenSource    SourceOpener
	OpenSurface   SurfaceFactory
	Composer      *Composer
	Sinks         []Sink
	StopTimeout   time.Duration
	PollInterval  time.Duration
	Logger        *slog.Logger
	OnStateChange func(State)
}

// Stats describes the running epoch.
type Stats struct {
	Epoch    uuid.UUID
	Backend  string
	Frames   uint64
	Dropped  uint64
	Compose  time.Duration
	Average  frame.RGB
	Orphaned int64
}

// Coordinator owns the compute and presentation workers and applies
// configuration pushes to them.
type Coordinator struct {
	opts   Options
	log    *slog.Logger
	extras fanout

	// ctl serializes control operations. Snapshot reads only take mu so
	// they never wait on a stop in progress.
	ctl     sync.Mutex
	mu      sync.RWMutex
	state   State
	cfg     Config
	current *epoch
	stats   Stats

	orphaned atomic.Int64
}

type epoch struct {
	id      uuid.UUID
	cfg     Config
	cancel  context.CancelFunc
	compute *Mailbox[Config]
	present *Mailbox[Config]
	frames  FrameSlot
	workers []*handle
}

type handle struct {
	name string
	done chan struct{}
	kill func()
}

// NewCoordinator returns an idle coordinator holding the default config.
func NewCoordinator(opts Options) *Coordinator {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Composer == nil {
		opts.Composer = NewComposer()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Coordinator{
		opts: opts,
		log:  opts.Logger.With("component", "pipeline"),
		cfg:  DefaultConfig(),
	}
	for _, s := range opts.Sinks {
		c.extras.add(s)
	}
	return c
}

// Monitors returns the display list captured at construction.
func (c *Coordinator) Monitors() []display.Region {
	return append([]display.Region(nil), c.opts.Monitors...)
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Config returns the most recently accepted config.
func (c *Coordinator) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Epoch identifies the running worker set. It is uuid.Nil while idle.
func (c *Coordinator) Epoch() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return uuid.Nil
	}
	return c.current.id
}

// Stats returns counters for the running epoch.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	if c.current != nil {
		s.Dropped = c.current.frames.Drops()
	}
	s.Orphaned = c.orphaned.Load()
	return s
}

// AddSink attaches an extra frame consumer. It takes effect immediately,
// including for a running pipeline.
func (c *Coordinator) AddSink(s Sink) { c.extras.add(s) }

// RemoveSink detaches a sink added with AddSink.
func (c *Coordinator) RemoveSink(s Sink) { c.extras.remove(s) }

// StartJSON parses a UI payload over the current config and starts with it.
func (c *Coordinator) StartJSON(data []byte) Result {
	cfg, err := ParseConfig(data, c.Config())
	if err != nil {
		c.log.Warn("rejected config", "err", err)
		return failed(err)
	}
	return c.Start(cfg)
}

// Start applies cfg. A running pipeline with the same geometry keeps its
// workers and receives the config through their mailboxes; otherwise the
// old workers are stopped before new ones start.
func (c *Coordinator) Start(cfg Config) Result {
	cfg = cfg.Normalize()
	src, dst, err := c.lookup(cfg)
	if err != nil {
		return failed(err)
	}

	c.ctl.Lock()
	changes, res := c.applyLocked(cfg, src, dst)
	c.ctl.Unlock()
	c.notify(changes)
	return res
}

func (c *Coordinator) lookup(cfg Config) (src, dst display.Region, err error) {
	src, found := display.Lookup(c.opts.Monitors, cfg.SourceMonitor)
	if !found {
		return src, dst, fmt.Errorf("source monitor %d: %w", cfg.SourceMonitor, ErrUnknownMonitor)
	}
	dst, found = display.Lookup(c.opts.Monitors, cfg.TargetMonitor)
	if !found {
		return src, dst, fmt.Errorf("target monitor %d: %w", cfg.TargetMonitor, ErrUnknownMonitor)
	}
	return src, dst, nil
}

// applyLocked forwards cfg to the running workers or restarts them. The
// caller holds ctl.
func (c *Coordinator) applyLocked(cfg Config, src, dst display.Region) ([]State, Result) {
	var changes []State
	c.mu.Lock()
	if e := c.current; e != nil && e.cfg.SameGeometry(cfg) {
		e.cfg = cfg
		c.cfg = cfg
		c.mu.Unlock()
		e.compute.Push(cfg)
		e.present.Push(cfg)
		c.log.Info("config updated", "epoch", e.id, "rate", cfg.UpdateRate, "blur", cfg.BlurRadius,
			"opacity", cfg.Opacity, "blend", cfg.BlendMode, "strategy", cfg.Strategy)
		return changes, ok()
	}
	c.mu.Unlock()

	if c.current != nil {
		c.log.Info("geometry changed, restarting", "source", cfg.SourceMonitor, "target", cfg.TargetMonitor)
		changes = append(changes, c.stopLocked()...)
	}
	if cfg.SourceMonitor == cfg.TargetMonitor {
		c.log.Warn("source and target are the same display", "monitor", cfg.SourceMonitor)
	}
	changes = append(changes, c.startLocked(cfg, src, dst))
	return changes, ok()
}

// Stop ends the running pipeline. Stopping while idle succeeds.
func (c *Coordinator) Stop() Result {
	c.ctl.Lock()
	var changes []State
	defer func() {
		c.ctl.Unlock()
		c.notify(changes)
	}()
	changes = c.stopLocked()
	return ok()
}

// Toggle starts with the last config when idle and stops otherwise.
// The decision and the transition happen under one ctl hold, so concurrent
// toggles alternate.
func (c *Coordinator) Toggle() Result {
	c.ctl.Lock()
	var changes []State
	res := ok()
	if c.current == nil {
		cfg := c.Config()
		src, dst, err := c.lookup(cfg)
		if err != nil {
			res = failed(err)
		} else {
			changes, res = c.applyLocked(cfg, src, dst)
		}
	} else {
		changes = c.stopLocked()
	}
	c.ctl.Unlock()
	c.notify(changes)
	return res
}

func (c *Coordinator) startLocked(cfg Config, src, dst display.Region) State {
	ctx, cancel := context.WithCancel(context.Background())
	e := &epoch{
		id:      uuid.New(),
		cfg:     cfg,
		cancel:  cancel,
		compute: &Mailbox[Config]{},
		present: &Mailbox[Config]{},
		frames:  NewFrameSlot(),
	}
	log := c.log.With("epoch", e.id)

	cw := &computeWorker{
		source:   src,
		target:   dst,
		cfg:      cfg,
		mailbox:  e.compute,
		open:     c.opts.OpenSource,
		composer: c.opts.Composer,
		out:      sinks{e.frames, &c.extras},
		log:      log.With("worker", "compute"),
		onFrame: func(comp Composition, backend string, d time.Duration) {
			c.recordFrame(e.id, comp, backend, d)
		},
	}
	pw := &presentWorker{
		target:  dst,
		style:   cfg.Style(),
		mailbox: e.present,
		frames:  e.frames,
		open:    c.opts.OpenSurface,
		poll:    c.opts.PollInterval,
		log:     log.With("worker", "present"),
	}

	c.mu.Lock()
	c.current = e
	c.cfg = cfg
	c.state = Running
	c.stats = Stats{Epoch: e.id}
	c.mu.Unlock()

	e.workers = []*handle{
		spawn("compute", func() { cw.run(ctx) }, cw.kill),
		spawn("present", func() { pw.run(ctx) }, pw.kill),
	}

	log.Info("pipeline started", "source", src, "target", dst, "rate", cfg.UpdateRate,
		"blur", cfg.BlurRadius, "opacity", cfg.Opacity, "blend", cfg.BlendMode, "strategy", cfg.Strategy)
	return Running
}

// stopLocked cancels the running epoch and waits for its workers. Workers
// that miss the timeout get their handles force-closed and are abandoned.
func (c *Coordinator) stopLocked() []State {
	c.mu.Lock()
	e := c.current
	if e == nil {
		c.mu.Unlock()
		return nil
	}
	c.state = Stopping
	c.mu.Unlock()

	e.cancel()
	for _, h := range e.workers {
		select {
		case <-h.done:
		case <-time.After(c.opts.StopTimeout):
			c.log.Error("forcing worker shutdown", "epoch", e.id,
				"err", &ProcessLifecycleError{Worker: h.name, Timeout: c.opts.StopTimeout})
			h.kill()
			c.orphaned.Add(1)
		}
	}

	c.mu.Lock()
	c.current = nil
	c.state = Idle
	c.mu.Unlock()
	c.log.Info("pipeline stopped", "epoch", e.id)
	return []State{Stopping, Idle}
}

func (c *Coordinator) recordFrame(id uuid.UUID, comp Composition, backend string, d time.Duration) {
	avg := sampler.Average(comp.Samples)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats.Epoch != id {
		return
	}
	c.stats.Frames++
	c.stats.Backend = backend
	c.stats.Compose = d
	c.stats.Average = avg
}

func (c *Coordinator) notify(changes []State) {
	if c.opts.OnStateChange == nil {
		return
	}
	for _, s := range changes {
		c.opts.OnStateChange(s)
	}
}

func spawn(name string, run, kill func()) *handle {
	h := &handle{name: name, done: make(chan struct{}), kill: kill}
	go func() {
		defer close(h.done)
		run()
	}()
	return h
}
