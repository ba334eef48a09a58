// Package pipeline runs the capture, composition and presentation workers
// and coordinates their lifecycle.
package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Strategy selects how the ambient field is built.
type Strategy string

const (
	// StrategyResample pairs coarse-zone sampling with thumbnail resampling.
	StrategyResample Strategy = "resample"
	// StrategyRadial pairs dense-point sampling with radial-basis synthesis.
	StrategyRadial Strategy = "radial"
)

// ParseStrategy validates a strategy name. Empty means the default.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyResample:
		return StrategyResample, nil
	case StrategyRadial:
		return StrategyRadial, nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

const (
	defaultSourceMonitor = 1
	defaultTargetMonitor = 2
	defaultUpdateRate    = 30
	defaultBlurRadius    = 120
	defaultOpacity       = 0.7
	defaultBlendMode     = true
)

// Config is the live pipeline configuration. It is replaced wholesale on
// every push.
type Config struct {
	SourceMonitor int      `json:"source_monitor" mapstructure:"source_monitor" yaml:"source_monitor"`
	TargetMonitor int      `json:"target_monitor" mapstructure:"target_monitor" yaml:"target_monitor"`
	UpdateRate    int      `json:"update_rate" mapstructure:"update_rate" yaml:"update_rate"`
	BlurRadius    int      `json:"blur_radius" mapstructure:"blur_radius" yaml:"blur_radius"`
	Opacity       float64  `json:"opacity" mapstructure:"opacity" yaml:"opacity"` // 0..1
	BlendMode     bool     `json:"blend_mode" mapstructure:"blend_mode" yaml:"blend_mode"`
	Strategy      Strategy `json:"strategy" mapstructure:"strategy" yaml:"strategy"`
}

// DefaultConfig returns the configuration used before any push.
func DefaultConfig() Config {
	return Config{
		SourceMonitor: defaultSourceMonitor,
		TargetMonitor: defaultTargetMonitor,
		UpdateRate:    defaultUpdateRate,
		BlurRadius:    defaultBlurRadius,
		Opacity:       defaultOpacity,
		BlendMode:     defaultBlendMode,
		Strategy:      StrategyResample,
	}
}

// Normalize clamps every field into its valid range.
func (c Config) Normalize() Config {
	if c.SourceMonitor < 0 {
		c.SourceMonitor = 0
	}
	if c.TargetMonitor < 0 {
		c.TargetMonitor = 0
	}
	if c.UpdateRate < 1 {
		c.UpdateRate = 1
	}
	if c.BlurRadius < 0 {
		c.BlurRadius = 0
	}
	if c.Opacity < 0 {
		c.Opacity = 0
	}
	if c.Opacity > 1 {
		c.Opacity = 1
	}
	if c.Strategy == "" {
		c.Strategy = StrategyResample
	}
	return c
}

// Interval is the target frame interval for the update rate.
func (c Config) Interval() time.Duration {
	return time.Second / time.Duration(max(1, c.UpdateRate))
}

// SameGeometry reports whether two configs capture from and present on the
// same monitors, so they can be swapped without a restart.
func (c Config) SameGeometry(o Config) bool {
	return c.SourceMonitor == o.SourceMonitor && c.TargetMonitor == o.TargetMonitor
}

// Style is the presentation-level part of the config.
func (c Config) Style() Style {
	return Style{Opacity: c.Opacity, Blend: c.BlendMode}
}

// payload is the wire form pushed by the UI. Opacity arrives as 0..100.
// Absent fields keep the previously held value.
type payload struct {
	SourceMonitor *int     `json:"source_monitor"`
	TargetMonitor *int     `json:"target_monitor"`
	UpdateRate    *int     `json:"update_rate"`
	BlurRadius    *int     `json:"blur_radius"`
	Opacity       *float64 `json:"opacity"`
	BlendMode     *bool    `json:"blend_mode"`
	Strategy      *string  `json:"strategy"`
}

// ParseConfig decodes a JSON configuration push over prev.
// Malformed payloads return a *ConfigParseError.
func ParseConfig(data []byte, prev Config) (Config, error) {
	var p payload
	if err := json.Unmarshal(bytes.TrimSpace(data), &p); err != nil {
		return prev, &ConfigParseError{Err: err}
	}

	cfg := prev
	if p.SourceMonitor != nil {
		if *p.SourceMonitor < 0 {
			return prev, &ConfigParseError{Field: "source_monitor", Err: errors.New("must be >= 0")}
		}
		cfg.SourceMonitor = *p.SourceMonitor
	}
	if p.TargetMonitor != nil {
		if *p.TargetMonitor < 0 {
			return prev, &ConfigParseError{Field: "target_monitor", Err: errors.New("must be >= 0")}
		}
		cfg.TargetMonitor = *p.TargetMonitor
	}
	if p.UpdateRate != nil {
		cfg.UpdateRate = *p.UpdateRate
	}
	if p.BlurRadius != nil {
		cfg.BlurRadius = *p.BlurRadius
	}
	if p.Opacity != nil {
		cfg.Opacity = *p.Opacity / 100
	}
	if p.BlendMode != nil {
		cfg.BlendMode = *p.BlendMode
	}
	if p.Strategy != nil {
		s, err := ParseStrategy(*p.Strategy)
		if err != nil {
			return prev, &ConfigParseError{Field: "strategy", Err: err}
		}
		cfg.Strategy = s
	}
	return cfg.Normalize(), nil
}

// MarshalPayload encodes the config in the UI wire form.
func (c Config) MarshalPayload() ([]byte, error) {
	return json.Marshal(map[string]any{
		"source_monitor": c.SourceMonitor,
		"target_monitor": c.TargetMonitor,
		"update_rate":    c.UpdateRate,
		"blur_radius":    c.BlurRadius,
		"opacity":        c.Opacity * 100,
		"blend_mode":     c.BlendMode,
		"strategy":       string(c.Strategy),
	})
}
