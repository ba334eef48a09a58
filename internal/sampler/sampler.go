// Package sampler extracts representative colors from the border of a frame.
package sampler

import (
	"ambilight/internal/frame"
)

// Sample is a color at a position in source-frame coordinates.
type Sample struct {
	X, Y  float64
	Color frame.RGB
}

// ZoneOptions configures coarse-zone sampling.
type ZoneOptions struct {
	EdgeWidth int // strip thickness in pixels
	Zones     int // zones per side
}

// PointOptions configures dense-point sampling.
type PointOptions struct {
	Points int // points per side
	Window int // neighborhood size averaged around each point
	Inset  int // distance of the points from the frame edge
}

// DefaultZoneOptions matches the original edge sampler: 50px strips, 4 zones.
func DefaultZoneOptions() ZoneOptions {
	return ZoneOptions{EdgeWidth: 50, Zones: 4}
}

// DefaultPointOptions samples 16 points per side with a 15px window.
func DefaultPointOptions() PointOptions {
	return PointOptions{Points: 16, Window: 15, Inset: 8}
}

// Zones divides each border strip into equal zones and averages each one.
// Samples are ordered top, right, bottom, left; within a side zones run in
// the same rotational order as Points.
func Zones(f *frame.Frame, opts ZoneOptions) []Sample {
	n := opts.Zones
	if n < 1 {
		n = 1
	}
	out := make([]Sample, 0, 4*n)
	if f.Empty() {
		for i := 0; i < 4*n; i++ {
			out = append(out, Sample{})
		}
		return out
	}

	w, h := f.Width, f.Height
	ew := clamp(opts.EdgeWidth, 1, w)
	eh := clamp(opts.EdgeWidth, 1, h)

	// top, left to right
	for i := 0; i < n; i++ {
		x0, x1 := span(w, n, i)
		out = append(out, zone(f, x0, 0, x1, eh))
	}
	// right, top to bottom
	for i := 0; i < n; i++ {
		y0, y1 := span(h, n, i)
		out = append(out, zone(f, w-ew, y0, w, y1))
	}
	// bottom, right to left
	for i := n - 1; i >= 0; i-- {
		x0, x1 := span(w, n, i)
		out = append(out, zone(f, x0, h-eh, x1, h))
	}
	// left, bottom to top
	for i := n - 1; i >= 0; i-- {
		y0, y1 := span(h, n, i)
		out = append(out, zone(f, 0, y0, ew, y1))
	}
	return out
}

// Points samples evenly spaced points along each edge, averaging a
// Window x Window neighborhood around each. Traversal is top left to right,
// right top to bottom, bottom right to left, left bottom to top, so the
// result can be treated as an ordered ring.
func Points(f *frame.Frame, opts PointOptions) []Sample {
	m := opts.Points
	if m < 1 {
		m = 1
	}
	out := make([]Sample, 0, 4*m)
	if f.Empty() {
		for i := 0; i < 4*m; i++ {
			out = append(out, Sample{})
		}
		return out
	}

	w, h := f.Width, f.Height
	half := opts.Window / 2
	if half < 0 {
		half = 0
	}
	top := clamp(opts.Inset, 0, h-1)
	bottom := clamp(h-1-opts.Inset, 0, h-1)
	left := clamp(opts.Inset, 0, w-1)
	right := clamp(w-1-opts.Inset, 0, w-1)

	at := func(x, y int) Sample {
		s := zone(f, x-half, y-half, x+half+1, y+half+1)
		s.X, s.Y = float64(x), float64(y)
		return s
	}

	for i := 0; i < m; i++ {
		out = append(out, at(along(w, m, i), top))
	}
	for i := 0; i < m; i++ {
		out = append(out, at(right, along(h, m, i)))
	}
	for i := m - 1; i >= 0; i-- {
		out = append(out, at(along(w, m, i), bottom))
	}
	for i := m - 1; i >= 0; i-- {
		out = append(out, at(left, along(h, m, i)))
	}
	return out
}

// Average returns the mean color of the samples.
func Average(samples []Sample) frame.RGB {
	if len(samples) == 0 {
		return frame.RGB{}
	}
	var rSum, gSum, bSum uint64
	for _, s := range samples {
		rSum += uint64(s.Color.R)
		gSum += uint64(s.Color.G)
		bSum += uint64(s.Color.B)
	}
	n := uint64(len(samples))
	return frame.RGB{
		R: uint8(rSum / n),
		G: uint8(gSum / n),
		B: uint8(bSum / n),
	}
}

// Around averages a size x size window centered on (x, y), clamped to the
// frame.
func Around(f *frame.Frame, x, y, size int) frame.RGB {
	if f.Empty() {
		return frame.RGB{}
	}
	half := max(size, 1) / 2
	x = clamp(x, 0, f.Width-1)
	y = clamp(y, 0, f.Height-1)
	return zone(f, x-half, y-half, x+half+1, y+half+1).Color
}

// zone averages the rectangle [x0,x1)x[y0,y1), clamped to the frame, and
// positions the sample at the rectangle's center.
func zone(f *frame.Frame, x0, y0, x1, y1 int) Sample {
	x0 = clamp(x0, 0, f.Width)
	x1 = clamp(x1, 0, f.Width)
	y0 = clamp(y0, 0, f.Height)
	y1 = clamp(y1, 0, f.Height)

	s := Sample{X: float64(x0+x1) / 2, Y: float64(y0+y1) / 2}
	pixels := (x1 - x0) * (y1 - y0)
	if pixels <= 0 {
		return s
	}

	var rSum, gSum, bSum uint64
	for y := y0; y < y1; y++ {
		row := f.Pix[(y*f.Width+x0)*3 : (y*f.Width+x1)*3]
		for i := 0; i < len(row); i += 3 {
			rSum += uint64(row[i])
			gSum += uint64(row[i+1])
			bSum += uint64(row[i+2])
		}
	}
	n := uint64(pixels)
	s.Color = frame.RGB{
		R: uint8(rSum / n),
		G: uint8(gSum / n),
		B: uint8(bSum / n),
	}
	return s
}

// span returns the bounds of zone i out of n over a length.
// The last zone absorbs the remainder.
func span(length, n, i int) (int, int) {
	size := length / n
	if size < 1 {
		size = 1
	}
	start := i * size
	end := start + size
	if i == n-1 {
		end = length
	}
	return clamp(start, 0, length), clamp(end, 0, length)
}

// along returns the coordinate of point i out of m, centered in its slot.
func along(length, m, i int) int {
	return int((float64(i) + 0.5) * float64(length) / float64(m))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
