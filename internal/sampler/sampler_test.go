package sampler

import (
	"testing"

	"ambilight/internal/frame"
)

// halves builds a frame whose left half is red and right half is blue.
func halves(w, h int) *frame.Frame {
	f := frame.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				f.Set(x, y, frame.RGB{R: 255})
			} else {
				f.Set(x, y, frame.RGB{B: 255})
			}
		}
	}
	return f
}

func TestZones_CountAndOrder(t *testing.T) {
	f := halves(400, 200)
	got := Zones(f, ZoneOptions{EdgeWidth: 20, Zones: 2})
	if len(got) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(got))
	}

	// top: left zone red, right zone blue
	if got[0].Color != (frame.RGB{R: 255}) {
		t.Errorf("top-left zone: expected red, got %v", got[0].Color)
	}
	if got[1].Color != (frame.RGB{B: 255}) {
		t.Errorf("top-right zone: expected blue, got %v", got[1].Color)
	}
	// right side strips are blue
	if got[2].Color != (frame.RGB{B: 255}) || got[3].Color != (frame.RGB{B: 255}) {
		t.Errorf("right zones: expected blue, got %v %v", got[2].Color, got[3].Color)
	}
	// bottom runs right to left
	if got[4].Color != (frame.RGB{B: 255}) || got[5].Color != (frame.RGB{R: 255}) {
		t.Errorf("bottom zones: expected blue then red, got %v %v", got[4].Color, got[5].Color)
	}
	// left runs bottom to top
	if got[6].Y <= got[7].Y {
		t.Errorf("left zones should run bottom to top, got y=%v then y=%v", got[6].Y, got[7].Y)
	}
}

func TestZones_CenterPositions(t *testing.T) {
	f := frame.New(100, 100)
	got := Zones(f, ZoneOptions{EdgeWidth: 10, Zones: 1})
	if got[0].X != 50 || got[0].Y != 5 {
		t.Errorf("top zone center: expected (50, 5), got (%v, %v)", got[0].X, got[0].Y)
	}
	if got[1].X != 95 || got[1].Y != 50 {
		t.Errorf("right zone center: expected (95, 50), got (%v, %v)", got[1].X, got[1].Y)
	}
}

func TestZones_EdgeWiderThanFrame(t *testing.T) {
	f := frame.New(10, 6)
	for i := range f.Pix {
		f.Pix[i] = 90
	}
	got := Zones(f, ZoneOptions{EdgeWidth: 50, Zones: 4})
	if len(got) != 16 {
		t.Fatalf("expected 16 samples, got %d", len(got))
	}
	for i, s := range got {
		if s.Color != (frame.RGB{R: 90, G: 90, B: 90}) {
			t.Errorf("sample %d: expected clamped average 90, got %v", i, s.Color)
		}
	}
}

func TestZones_EmptyFrame(t *testing.T) {
	got := Zones(&frame.Frame{}, DefaultZoneOptions())
	if len(got) != 16 {
		t.Fatalf("expected 16 samples, got %d", len(got))
	}
}

func TestPoints_RingOrder(t *testing.T) {
	f := frame.New(200, 100)
	got := Points(f, PointOptions{Points: 4, Window: 3, Inset: 0})
	if len(got) != 16 {
		t.Fatalf("expected 16 samples, got %d", len(got))
	}

	// top: increasing x at y=0
	for i := 1; i < 4; i++ {
		if got[i].X <= got[i-1].X || got[i].Y != 0 {
			t.Fatalf("top edge not left to right at %d: %+v", i, got[i])
		}
	}
	// right: increasing y at x=w-1
	for i := 5; i < 8; i++ {
		if got[i].Y <= got[i-1].Y || got[i].X != 199 {
			t.Fatalf("right edge not top to bottom at %d: %+v", i, got[i])
		}
	}
	// bottom: decreasing x at y=h-1
	for i := 9; i < 12; i++ {
		if got[i].X >= got[i-1].X || got[i].Y != 99 {
			t.Fatalf("bottom edge not right to left at %d: %+v", i, got[i])
		}
	}
	// left: decreasing y at x=0
	for i := 13; i < 16; i++ {
		if got[i].Y >= got[i-1].Y || got[i].X != 0 {
			t.Fatalf("left edge not bottom to top at %d: %+v", i, got[i])
		}
	}
}

func TestPoints_WindowAverage(t *testing.T) {
	f := halves(100, 50)
	got := Points(f, PointOptions{Points: 2, Window: 5, Inset: 2})
	if got[0].Color != (frame.RGB{R: 255}) {
		t.Errorf("first top point: expected red, got %v", got[0].Color)
	}
	if got[1].Color != (frame.RGB{B: 255}) {
		t.Errorf("second top point: expected blue, got %v", got[1].Color)
	}
}

func TestPoints_TinyFrame(t *testing.T) {
	f := frame.New(1, 1)
	f.Set(0, 0, frame.RGB{R: 7, G: 8, B: 9})
	got := Points(f, DefaultPointOptions())
	for i, s := range got {
		if s.Color != (frame.RGB{R: 7, G: 8, B: 9}) {
			t.Fatalf("sample %d: expected single pixel color, got %v", i, s.Color)
		}
	}
}

func TestAverage(t *testing.T) {
	samples := []Sample{
		{Color: frame.RGB{}},
		{Color: frame.RGB{R: 255, G: 255, B: 255}},
	}
	got := Average(samples)
	if got != (frame.RGB{R: 127, G: 127, B: 127}) {
		t.Errorf("expected RGB{127, 127, 127}, got %v", got)
	}
	if Average(nil) != (frame.RGB{}) {
		t.Error("expected zero color for no samples")
	}
}

func TestAround_ClampsAtEdges(t *testing.T) {
	f := frame.New(4, 4)
	f.Set(0, 0, frame.RGB{R: 255})
	if got := Around(f, -10, -10, 1); got.R != 255 {
		t.Errorf("expected clamped corner pixel, got %v", got)
	}
	if got := Around(f, 0, 0, 3); got.R != 255/4 {
		t.Errorf("expected corner window of 4 pixels, got %v", got)
	}
	if got := Around(frame.New(0, 0), 1, 1, 5); got != (frame.RGB{}) {
		t.Errorf("expected black for empty frame, got %v", got)
	}
}
