// Package field builds the dense low-resolution ambient color field from a
// captured frame or from sparse border samples.
package field

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"ambilight/internal/frame"
	"ambilight/internal/sampler"
)

// MinRadialFactor is the smallest reduction factor accepted for radial-basis
// synthesis, which costs samples x cells per frame.
const MinRadialFactor = 4

// Field is a dense RGB grid with float channels in [0, 255].
type Field struct {
	Width  int
	Height int
	Pix    []float32
}

// New allocates a black field.
func New(w, h int) *Field {
	return &Field{Width: w, Height: h, Pix: make([]float32, w*h*3)}
}

// At returns the color of cell (x, y).
func (f *Field) At(x, y int) frame.RGB {
	off := (y*f.Width + x) * 3
	return frame.RGB{R: to8(f.Pix[off]), G: to8(f.Pix[off+1]), B: to8(f.Pix[off+2])}
}

// NRGBA converts the field into an opaque image.
func (f *Field) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height
	for i := 0; i < n; i++ {
		img.Pix[i*4] = to8(f.Pix[i*3])
		img.Pix[i*4+1] = to8(f.Pix[i*3+1])
		img.Pix[i*4+2] = to8(f.Pix[i*3+2])
		img.Pix[i*4+3] = 255
	}
	return img
}

// FromNRGBA builds a field from an image.
func FromNRGBA(img *image.NRGBA) *Field {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	f := New(w, h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			di := (y*w + x) * 3
			f.Pix[di] = float32(row[x*4])
			f.Pix[di+1] = float32(row[x*4+1])
			f.Pix[di+2] = float32(row[x*4+2])
		}
	}
	return f
}

// GridSize returns the reduced resolution for a target size and factor.
func GridSize(targetW, targetH, factor int) (int, int) {
	if factor < 1 {
		factor = 1
	}
	return max(1, targetW/factor), max(1, targetH/factor)
}

// ResampleOptions configures thumbnail resampling.
type ResampleOptions struct {
	Thumb  int // thumbnail edge length
	Factor int // target size divisor for the output field
}

// DefaultResampleOptions matches the original pipeline: 32x32 thumbnail,
// output at a tenth of the target size.
func DefaultResampleOptions() ResampleOptions {
	return ResampleOptions{Thumb: 32, Factor: 10}
}

// Resample shrinks the whole frame to a tiny thumbnail and scales it back up
// to the reduced target resolution, bleeding colors smoothly.
func Resample(src *frame.Frame, opts ResampleOptions, targetW, targetH int) *Field {
	gw, gh := GridSize(targetW, targetH, opts.Factor)
	if src.Empty() {
		return New(gw, gh)
	}
	thumb := max(1, opts.Thumb)

	small := imaging.Resize(src.NRGBA(), thumb, thumb, imaging.Linear)
	out := imaging.Resize(small, gw, gh, imaging.CatmullRom)
	return FromNRGBA(out)
}

// RadialOptions configures Gaussian radial-basis synthesis.
type RadialOptions struct {
	Factor     int     // target size divisor for the grid, at least MinRadialFactor
	RadiusFrac float64 // radius as a fraction of the smaller grid dimension
	Epsilon    float64 // total weight below which a cell is background
}

// DefaultRadialOptions uses a quarter-resolution grid and a radius of a
// third of the smaller grid side.
func DefaultRadialOptions() RadialOptions {
	return RadialOptions{Factor: MinRadialFactor, RadiusFrac: 1.0 / 3.0, Epsilon: 1e-6}
}

// RadialBasis fills a grid from sparse samples taken on a srcW x srcH frame.
// Each cell is the Gaussian-weighted mean of all samples with
// weight = exp(-d²/(2σ²)), σ = radius/2. Cells whose total weight falls
// below Epsilon stay black.
func RadialBasis(samples []sampler.Sample, srcW, srcH, targetW, targetH int, opts RadialOptions) *Field {
	gw, gh := GridSize(targetW, targetH, max(opts.Factor, MinRadialFactor))
	out := New(gw, gh)
	if len(samples) == 0 || srcW <= 0 || srcH <= 0 {
		return out
	}

	radius := opts.RadiusFrac * float64(min(gw, gh))
	sigma := radius / 2
	if sigma <= 0 {
		sigma = 0.5
	}
	denom := 2 * sigma * sigma

	// Sample positions in grid space, shifted so pixel centers line up.
	sx := float64(gw) / float64(srcW)
	sy := float64(gh) / float64(srcH)
	px := make([]float64, len(samples))
	py := make([]float64, len(samples))
	for i, s := range samples {
		px[i] = (s.X + 0.5) * sx
		py[i] = (s.Y + 0.5) * sy
	}

	for y := 0; y < gh; y++ {
		cy := float64(y) + 0.5
		for x := 0; x < gw; x++ {
			cx := float64(x) + 0.5

			var wSum, r, g, b float64
			for i, s := range samples {
				dx := cx - px[i]
				dy := cy - py[i]
				w := math.Exp(-(dx*dx + dy*dy) / denom)
				wSum += w
				r += w * float64(s.Color.R)
				g += w * float64(s.Color.G)
				b += w * float64(s.Color.B)
			}
			if wSum < opts.Epsilon {
				continue
			}
			di := (y*gw + x) * 3
			out.Pix[di] = float32(r / wSum)
			out.Pix[di+1] = float32(g / wSum)
			out.Pix[di+2] = float32(b / wSum)
		}
	}
	return out
}

func to8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
