package display

import (
	"bytes"
	"errors"
	"image"
	"log/slog"
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"

	"ambilight/internal/frame"
)

func twoMonitors() []image.Rectangle {
	return []image.Rectangle{
		image.Rect(0, 0, 1920, 1080),
		image.Rect(1920, 0, 1920+1280, 1024),
	}
}

func TestEnumerate_CombinedFirst(t *testing.T) {
	regions, err := Enumerate(twoMonitors)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(regions) != 3 {
		t.Fatalf("expected 3 regions, got %d", len(regions))
	}

	all := regions[0]
	if all.Index != 0 || all.Width != 3200 || all.Height != 1080 {
		t.Errorf("unexpected combined region %+v", all)
	}

	second := regions[2]
	if second.Index != 2 || second.X != 1920 || second.Y != 0 || second.Width != 1280 || second.Height != 1024 {
		t.Errorf("unexpected second region %+v", second)
	}
}

func TestEnumerate_NoDisplays(t *testing.T) {
	_, err := Enumerate(func() []image.Rectangle { return nil })
	if err == nil {
		t.Fatal("expected error with no displays")
	}
}

func TestLookup(t *testing.T) {
	regions, _ := Enumerate(twoMonitors)
	if _, ok := Lookup(regions, 3); ok {
		t.Fatal("expected index 3 to be missing")
	}
	if _, ok := Lookup(regions, -1); ok {
		t.Fatal("expected negative index to be missing")
	}
	r, ok := Lookup(regions, 1)
	if !ok || r.Width != 1920 {
		t.Fatalf("expected monitor 1, got ok=%v region=%+v", ok, r)
	}
}

func TestScreenshotSource_DisplayGone(t *testing.T) {
	regions, _ := Enumerate(twoMonitors)
	onlyOne := func() []image.Rectangle { return twoMonitors()[:1] }

	s := newScreenshotSource(regions[2], onlyOne)
	_, err := s.Capture()
	if !errors.Is(err, ErrDisplayGone) {
		t.Fatalf("expected ErrDisplayGone, got %v", err)
	}

	var ce *CaptureError
	if !errors.As(err, &ce) || ce.Region.Index != 2 {
		t.Fatalf("expected CaptureError for region 2, got %v", err)
	}
}

func TestPresent_Resized(t *testing.T) {
	regions, _ := Enumerate(twoMonitors)
	resized := func() []image.Rectangle {
		return []image.Rectangle{image.Rect(0, 0, 1280, 720), twoMonitors()[1]}
	}
	if present(regions[1], resized) {
		t.Error("expected resized monitor 1 to be reported gone")
	}
	if !present(regions[2], resized) {
		t.Error("expected monitor 2 to be present")
	}
	if present(regions[0], resized) {
		t.Error("expected combined region to change with monitor 1")
	}
}

func TestOpen_InvalidRegion(t *testing.T) {
	_, err := Open(Region{Index: 1}, BackendScreenshot)
	if !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("expected ErrInvalidRegion, got %v", err)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Region{Index: 1, Width: 10, Height: 10}, "dxgi")
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestRawStream_NormalizesBGRA(t *testing.T) {
	r := Region{Index: 1, Width: 2, Height: 1}
	s := newRawStream(r, frame.BGRA32)

	if _, err := s.latest(); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("expected ErrNoFrame before first frame, got %v", err)
	}

	// Two frames back to back; the second one must win.
	data := []byte{
		0, 0, 0, 0, 0, 0, 0, 0,
		10, 20, 30, 0, 40, 50, 60, 0,
	}
	s.readFrames(bytes.NewReader(data))

	// The reader has exited, which reads as a vanished display.
	if _, err := s.latest(); !errors.Is(err, ErrDisplayGone) {
		t.Fatalf("expected ErrDisplayGone after reader exit, got %v", err)
	}

	s.done = make(chan struct{})
	f, err := s.latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got := f.At(0, 0); got != (frame.RGB{R: 30, G: 20, B: 10}) {
		t.Errorf("expected RGB{30, 20, 10}, got %v", got)
	}
	if got := f.At(1, 0); got != (frame.RGB{R: 60, G: 50, B: 40}) {
		t.Errorf("expected RGB{60, 50, 40}, got %v", got)
	}
}

func TestSenderToToken(t *testing.T) {
	if got := senderToToken(":1.42"); got != "1_42" {
		t.Errorf("expected 1_42, got %s", got)
	}
}

func TestExtractNodeID(t *testing.T) {
	resp := map[string]dbus.Variant{
		"streams": dbus.MakeVariant([][]interface{}{
			{uint32(57), map[string]dbus.Variant{}},
		}),
	}
	id, err := extractNodeID(resp)
	if err != nil {
		t.Fatalf("extractNodeID: %v", err)
	}
	if id != 57 {
		t.Errorf("expected node 57, got %d", id)
	}

	if _, err := extractNodeID(map[string]dbus.Variant{}); err == nil {
		t.Error("expected error without streams")
	}
}

func TestWarnPortalSelection(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	warnPortalSelection(log, Region{Index: 2, Width: 1280, Height: 1024, X: 1920})

	out := buf.String()
	for _, want := range []string{"level=WARN", "source_monitor=2", "width=1280"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}
