package pipeline

import (
	"fmt"

	"ambilight/internal/field"
	"ambilight/internal/frame"
	"ambilight/internal/sampler"
	"ambilight/internal/smooth"
)

// Composition is one finished output frame plus the edge samples it was
// built from.
type Composition struct {
	Frame   *frame.Frame
	Samples []sampler.Sample
}

// Composer turns a captured frame into the ambient image for the target.
type Composer struct {
	Zones    sampler.ZoneOptions
	Points   sampler.PointOptions
	Resample field.ResampleOptions
	Radial   field.RadialOptions
}

// NewComposer returns a composer with the default sampling and synthesis
// parameters for both strategies.
func NewComposer() *Composer {
	return &Composer{
		Zones:    sampler.DefaultZoneOptions(),
		Points:   sampler.DefaultPointOptions(),
		Resample: field.DefaultResampleOptions(),
		Radial:   field.DefaultRadialOptions(),
	}
}

// Compose runs sample, synthesize and smooth for one frame.
func (c *Composer) Compose(src *frame.Frame, cfg Config, targetW, targetH int) (Composition, error) {
	if src == nil || src.Empty() {
		return Composition{}, fmt.Errorf("compose: empty source frame")
	}
	if targetW <= 0 || targetH <= 0 {
		return Composition{}, fmt.Errorf("compose: invalid target size %dx%d", targetW, targetH)
	}

	switch cfg.Strategy {
	case StrategyRadial:
		samples := sampler.Points(src, c.Points)
		f := field.RadialBasis(samples, src.Width, src.Height, targetW, targetH, c.Radial)
		out := smooth.New(max(c.Radial.Factor, field.MinRadialFactor)).Apply(f, targetW, targetH, cfg.BlurRadius)
		return Composition{Frame: out, Samples: samples}, nil
	case StrategyResample, "":
		samples := sampler.Zones(src, c.Zones)
		f := field.Resample(src, c.Resample, targetW, targetH)
		out := smooth.New(c.Resample.Factor).Apply(f, targetW, targetH, cfg.BlurRadius)
		return Composition{Frame: out, Samples: samples}, nil
	default:
		return Composition{}, fmt.Errorf("compose: unknown strategy %q", cfg.Strategy)
	}
}
