// Package smooth blurs the ambient field and scales it to the output size.
package smooth

import (
	"math"

	"github.com/disintegration/imaging"

	"ambilight/internal/field"
	"ambilight/internal/frame"
)

// BlurMapping turns the user-facing blur intensity into a Gaussian sigma.
// Radius(blur) = max(Min, round(blur * Scale)).
type BlurMapping struct {
	Scale float64
	Min   float64
}

// MappingForFactor returns the mapping for a field reduced by factor.
// The configured intensity is expressed in output pixels, so blurring at
// reduced resolution divides it by the factor (blur/10 for the default
// resample field).
func MappingForFactor(factor int) BlurMapping {
	if factor < 1 {
		factor = 1
	}
	return BlurMapping{Scale: 1 / float64(factor), Min: 1}
}

// Radius returns the sigma for a blur intensity. Never below Min, and never
// below 1 so low settings still smooth.
func (m BlurMapping) Radius(blur int) float64 {
	lo := math.Max(m.Min, 1)
	if blur < 0 {
		blur = 0
	}
	r := math.Round(float64(blur) * m.Scale)
	return math.Max(lo, r)
}

// Smoother blurs a field at its own resolution and upscales the result with
// Catmull-Rom to the target size.
type Smoother struct {
	Mapping BlurMapping
}

// New returns a smoother for fields reduced by factor.
func New(factor int) *Smoother {
	return &Smoother{Mapping: MappingForFactor(factor)}
}

// Apply produces the final RGB24 frame at targetW x targetH.
func (s *Smoother) Apply(f *field.Field, targetW, targetH, blur int) *frame.Frame {
	if f == nil || f.Width == 0 || f.Height == 0 || targetW <= 0 || targetH <= 0 {
		return frame.New(max(targetW, 0), max(targetH, 0))
	}
	blurred := imaging.Blur(f.NRGBA(), s.Mapping.Radius(blur))
	final := imaging.Resize(blurred, targetW, targetH, imaging.CatmullRom)
	return frame.FromImage(final)
}
