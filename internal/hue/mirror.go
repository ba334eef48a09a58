package hue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"

	"ambilight/internal/frame"
	"ambilight/internal/pipeline"
	"ambilight/internal/sampler"
)

const (
	// MirrorInterval caps streaming at the 25 Hz the bridge accepts.
	MirrorInterval = 40 * time.Millisecond
	mirrorWindow   = 9
)

// Sender delivers channel colors to the lights.
type Sender interface {
	Send(colors []ChannelColor) error
	Close() error
}

// Mirror is a pipeline sink that forwards the latest ambient frame to an
// entertainment area. Publish never blocks the compute worker.
type Mirror struct {
	channels []Channel
	send     Sender
	frames   *pipeline.Slot[*frame.Frame]
	interval time.Duration
	log      *slog.Logger
}

// NewMirror returns a mirror for the given channels.
func NewMirror(send Sender, channels []Channel, log *slog.Logger) *Mirror {
	if log == nil {
		log = slog.Default()
	}
	return &Mirror{
		channels: channels,
		send:     send,
		frames:   pipeline.NewSlot[*frame.Frame](),
		interval: MirrorInterval,
		log:      log.With("component", "hue"),
	}
}

// Publish implements pipeline.Sink.
func (m *Mirror) Publish(f *frame.Frame) { m.frames.Put(f) }

// Run streams until ctx is done.
func (m *Mirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	var lastErr time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		f, ok := m.frames.TryTake()
		if !ok {
			continue
		}
		if err := m.send.Send(ColorsAt(f, m.channels, mirrorWindow)); err != nil {
			if time.Since(lastErr) >= time.Second {
				m.log.Warn("streaming to bridge failed", "err", err)
				lastErr = time.Now()
			}
		}
	}
}

// ColorsAt samples f at each channel position. X maps to the horizontal
// axis and Z to the vertical one; Y (depth) is ignored.
func ColorsAt(f *frame.Frame, channels []Channel, window int) []ChannelColor {
	out := make([]ChannelColor, len(channels))
	for i, ch := range channels {
		out[i].Channel = ch.ID
		if f.Empty() {
			continue
		}
		x := int(math.Round(unit(ch.X) * float64(f.Width-1)))
		y := int(math.Round((1 - unit(ch.Z)) * float64(f.Height-1)))
		out[i].Color = sampler.Around(f, x, y, window)
	}
	return out
}

// unit maps -1..1 to 0..1, clamped.
func unit(v float64) float64 {
	return math.Min(1, math.Max(0, (v+1)/2))
}

// Session is an active entertainment stream: the area is activated, the
// DTLS connection is open and the mirror is running.
type Session struct {
	Bridge Bridge
	Area   Area
	Mirror *Mirror

	client   *Client
	streamer *Streamer
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// Connect activates area on the bridge and starts mirroring.
func Connect(ctx context.Context, b Bridge, creds Credentials, area Area, log *slog.Logger) (*Session, error) {
	if b.IP == nil {
		return nil, fmt.Errorf("bridge %s has no address", b.ID)
	}
	client := NewClient(b.IP, creds.Username)
	if err := client.Activate(ctx, area.ID); err != nil {
		return nil, err
	}
	streamer, err := Dial(ctx, b.IP, creds, area.ID)
	if err != nil {
		_ = client.Deactivate(context.Background(), area.ID)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Bridge:   b,
		Area:     area,
		Mirror:   NewMirror(streamer, area.Channels, log),
		client:   client,
		streamer: streamer,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		s.Mirror.Run(runCtx)
	}()
	return s, nil
}

// BridgeAt builds a Bridge from a stored address.
func BridgeAt(id, addr string) Bridge {
	return Bridge{ID: id, Name: id, IP: net.ParseIP(addr)}
}

// Close stops streaming and deactivates the area.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		_ = s.streamer.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.client.Deactivate(ctx, s.Area.ID)
	})
	return err
}
