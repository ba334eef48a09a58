// Package overlay presents ambient frames in a borderless Ebitengine window
// covering the target display.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"ambilight/internal/display"
	"ambilight/internal/frame"
	"ambilight/internal/pipeline"
)

// ErrClosed is returned by a surface that was closed or replaced.
var ErrClosed = errors.New("overlay surface closed")

// Host owns the single overlay window. Window calls are queued and applied
// from Update on the main goroutine.
type Host struct {
	title string

	mu      sync.Mutex
	gen     uint64
	visible bool
	region  display.Region
	style   pipeline.Style
	frame   *image.RGBA
	dirty   bool
	quit    bool

	img *ebiten.Image
}

// NewHost creates a hidden overlay host.
func NewHost(title string) *Host {
	return &Host{title: title, dirty: true}
}

// Run starts the Ebitengine loop. It must be called from the main goroutine
// and returns after Quit.
func (h *Host) Run() error {
	ebiten.SetWindowTitle(h.title)
	ebiten.SetWindowDecorated(false)
	ebiten.SetWindowMousePassthrough(true)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeDisabled)
	ebiten.SetRunnableOnUnfocused(true)
	ebiten.SetWindowSize(1, 1)
	err := ebiten.RunGameWithOptions(h, &ebiten.RunGameOptions{
		ScreenTransparent: true,
		InitUnfocused:     true,
		SkipTaskbar:       true,
	})
	if errors.Is(err, ebiten.Termination) {
		return nil
	}
	return err
}

// Quit ends the loop started by Run.
func (h *Host) Quit() {
	h.mu.Lock()
	h.quit = true
	h.mu.Unlock()
}

// Open shows the window over target. Any previously opened surface is
// invalidated. It matches pipeline.SurfaceFactory.
func (h *Host) Open(target display.Region, st pipeline.Style) (pipeline.Surface, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("open overlay on %v: %w", target, display.ErrInvalidRegion)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.quit {
		return nil, ErrClosed
	}
	h.gen++
	h.region = target
	h.style = st
	h.visible = true
	h.frame = nil
	h.dirty = true
	return &surface{host: h, gen: h.gen}, nil
}

// Window reports the current window placement and style.
func (h *Host) Window() (display.Region, pipeline.Style, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.region, h.style, h.visible
}

// Update implements ebiten.Game.
func (h *Host) Update() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.quit {
		return ebiten.Termination
	}
	if !h.dirty {
		return nil
	}
	h.dirty = false

	if !h.visible {
		ebiten.MinimizeWindow()
		return nil
	}
	mons := ebiten.AppendMonitors(nil)
	infos := make([]monitorInfo, len(mons))
	for i, m := range mons {
		w, ht := m.Size()
		infos[i] = monitorInfo{width: w, height: ht, scale: m.DeviceScaleFactor()}
	}
	p := place(h.region, infos)
	if p.monitor >= 0 {
		ebiten.SetMonitor(mons[p.monitor])
	}
	// Window positions are relative to the monitor set above.
	ebiten.SetWindowPosition(p.x, p.y)
	ebiten.SetWindowSize(p.width, p.height)
	_, floating := windowMode(h.style)
	ebiten.SetWindowFloating(floating)
	ebiten.RestoreWindow()
	return nil
}

// Draw implements ebiten.Game.
func (h *Host) Draw(screen *ebiten.Image) {
	h.mu.Lock()
	img, visible, st := h.frame, h.visible, h.style
	h.mu.Unlock()

	screen.Clear()
	if !visible || img == nil {
		return
	}

	w, ht := img.Bounds().Dx(), img.Bounds().Dy()
	if h.img == nil || h.img.Bounds().Dx() != w || h.img.Bounds().Dy() != ht {
		if h.img != nil {
			h.img.Deallocate()
		}
		h.img = ebiten.NewImage(w, ht)
	}
	h.img.WritePixels(img.Pix)

	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	alpha, _ := windowMode(st)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(float64(sw)/float64(w), float64(sh)/float64(ht))
	op.ColorScale.ScaleAlpha(alpha)
	op.Filter = ebiten.FilterLinear
	screen.DrawImage(h.img, op)
}

// Layout implements ebiten.Game.
func (h *Host) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}

// monitorInfo is what placement needs to know about a system monitor.
// Sizes are in device-independent pixels.
type monitorInfo struct {
	width, height int
	scale         float64
}

func (m monitorInfo) fits(r display.Region) bool {
	return near(float64(m.width)*m.scale, r.Width) && near(float64(m.height)*m.scale, r.Height)
}

func near(v float64, want int) bool {
	return math.Abs(v-float64(want)) <= 1
}

// placement locates the window on one monitor. Coordinates are relative to
// that monitor's origin, in its device-independent pixels. A monitor of -1
// leaves the current monitor in place.
type placement struct {
	monitor             int
	x, y, width, height int
}

// place maps a desktop region to a monitor and a window rectangle on it.
// A display region is matched to the monitor of the same size, preferring
// the one at the same position in the system list. The combined desktop and
// unmatched regions are laid out from the primary monitor, which sits at the
// desktop origin.
func place(r display.Region, mons []monitorInfo) placement {
	if r.Index > 0 {
		match := -1
		if i := r.Index - 1; i < len(mons) && mons[i].fits(r) {
			match = i
		} else {
			for i, m := range mons {
				if m.fits(r) {
					match = i
					break
				}
			}
		}
		if match >= 0 {
			s := scaleOf(mons[match])
			return placement{
				monitor: match,
				width:   int(math.Round(float64(r.Width) / s)),
				height:  int(math.Round(float64(r.Height) / s)),
			}
		}
	}

	p := placement{monitor: -1}
	s := 1.0
	if len(mons) > 0 {
		p.monitor = 0
		s = scaleOf(mons[0])
	}
	p.x = int(math.Round(float64(r.X) / s))
	p.y = int(math.Round(float64(r.Y) / s))
	p.width = int(math.Round(float64(r.Width) / s))
	p.height = int(math.Round(float64(r.Height) / s))
	return p
}

func scaleOf(m monitorInfo) float64 {
	if m.scale <= 0 {
		return 1
	}
	return m.scale
}

// windowMode maps a style to the drawing alpha and the always-on-top flag.
// Blended overlays are translucent and stay in the normal stacking order;
// opaque ones float above other windows.
func windowMode(st pipeline.Style) (alpha float32, floating bool) {
	if st.Blend {
		return float32(st.Opacity), false
	}
	return 1, true
}

type surface struct {
	host *Host
	gen  uint64
}

func (s *surface) Show(f *frame.Frame) error {
	if f.Empty() {
		return nil
	}
	img := f.RGBA()
	h := s.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != s.gen || !h.visible {
		return ErrClosed
	}
	h.frame = img
	return nil
}

func (s *surface) Apply(st pipeline.Style) error {
	h := s.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != s.gen || !h.visible {
		return ErrClosed
	}
	if h.style != st {
		h.style = st
		h.dirty = true
	}
	return nil
}

// Close hides the window. Closing a stale surface leaves a newer one alone.
func (s *surface) Close() error {
	h := s.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != s.gen || !h.visible {
		return nil
	}
	h.visible = false
	h.frame = nil
	h.dirty = true
	return nil
}
