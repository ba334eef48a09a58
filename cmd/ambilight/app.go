package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ambilight/internal/display"
	"ambilight/internal/hue"
	"ambilight/internal/logging"
	"ambilight/internal/overlay"
	"ambilight/internal/pipeline"
	"ambilight/internal/settings"
)

// app wires the coordinator, the overlay host and the optional Hue mirror.
type app struct {
	path     string
	settings settings.Settings
	host     *overlay.Host
	coord    *pipeline.Coordinator
	store    *hue.Store
	log      *slog.Logger

	mu      sync.Mutex
	session *hue.Session
}

func newApp(path string, s settings.Settings, onState func(pipeline.State)) (*app, error) {
	regions, err := display.Enumerate(display.ScreenBounds)
	if err != nil {
		return nil, fmt.Errorf("enumerating displays: %w", err)
	}
	store, err := hue.DefaultStore()
	if err != nil {
		return nil, err
	}

	a := &app{
		path:     path,
		settings: s,
		host:     overlay.NewHost("ambilight"),
		store:    store,
		log:      logging.L("app"),
	}
	backend := s.Backend
	a.coord = pipeline.NewCoordinator(pipeline.Options{
		Monitors: regions,
		OpenSource: func(r display.Region) (display.Source, error) {
			return display.Open(r, backend)
		},
		OpenSurface:   a.host.Open,
		Logger:        slog.Default(),
		OnStateChange: onState,
	})
	for _, r := range regions {
		a.log.Debug("display", "region", r)
	}
	return a, nil
}

// remember persists the current pipeline config.
func (a *app) remember() {
	a.mu.Lock()
	a.settings.Pipeline = a.coord.Config()
	s := a.settings
	a.mu.Unlock()
	if err := settings.Save(a.path, s); err != nil {
		a.log.Warn("saving settings failed", "path", a.path, "err", err)
	}
}

// connectHue starts mirroring to area and records the choice.
func (a *app) connectHue(ctx context.Context, b hue.Bridge, creds hue.Credentials, area hue.Area) error {
	a.disconnectHue()

	s, err := hue.Connect(ctx, b, creds, area, slog.Default())
	if err != nil {
		return err
	}
	a.coord.AddSink(s.Mirror)

	a.mu.Lock()
	a.session = s
	a.settings.Hue = settings.Hue{Enabled: true, BridgeID: b.ID, BridgeIP: b.IP.String(), AreaID: area.ID}
	a.mu.Unlock()
	a.log.Info("mirroring to hue", "bridge", b.ID, "area", area.Name, "channels", len(area.Channels))
	return nil
}

// resumeHue reconnects to the bridge and area saved in settings.
func (a *app) resumeHue(ctx context.Context) error {
	hs := a.settings.Hue
	if !hs.Enabled || hs.BridgeID == "" || hs.AreaID == "" {
		return nil
	}
	b := hue.BridgeAt(hs.BridgeID, hs.BridgeIP)
	if b.IP == nil {
		return fmt.Errorf("hue bridge %s has no stored address", hs.BridgeID)
	}
	creds, found, err := a.store.Load(hs.BridgeID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("hue bridge %s is not paired", hs.BridgeID)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	areas, err := hue.NewClient(b.IP, creds.Username).Areas(ctx)
	if err != nil {
		return err
	}
	for _, area := range areas {
		if area.ID == hs.AreaID {
			return a.connectHue(ctx, b, creds, area)
		}
	}
	return errors.New("saved hue entertainment area no longer exists")
}

func (a *app) hueSession() *hue.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *app) disconnectHue() {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()
	if s == nil {
		return
	}
	a.coord.RemoveSink(s.Mirror)
	if err := s.Close(); err != nil {
		a.log.Warn("deactivating hue area failed", "err", err)
	}
}

// shutdown stops everything and closes the overlay loop.
func (a *app) shutdown() {
	a.coord.Stop()
	a.disconnectHue()
	a.remember()
	a.host.Quit()
}
