// Package settings loads and saves the user's persistent configuration.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"ambilight/internal/display"
	"ambilight/internal/pipeline"
)

// EnvPrefix prefixes environment overrides, e.g. AMBILIGHT_PIPELINE_UPDATE_RATE.
const EnvPrefix = "AMBILIGHT"

// Settings is everything persisted between runs.
type Settings struct {
	Pipeline pipeline.Config `mapstructure:"pipeline" yaml:"pipeline"`
	Backend  string          `mapstructure:"backend" yaml:"backend"`
	Log      Log             `mapstructure:"log" yaml:"log"`
	Hue      Hue             `mapstructure:"hue" yaml:"hue"`
}

// Log selects the log format and level.
type Log struct {
	Format string `mapstructure:"format" yaml:"format"`
	Level  string `mapstructure:"level" yaml:"level"`
}

// Hue remembers the bridge and entertainment area to mirror to.
type Hue struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	BridgeID string `mapstructure:"bridge_id" yaml:"bridge_id"`
	BridgeIP string `mapstructure:"bridge_ip" yaml:"bridge_ip"`
	AreaID   string `mapstructure:"area_id" yaml:"area_id"`
}

// Default returns the settings used when no file exists.
func Default() Settings {
	return Settings{
		Pipeline: pipeline.DefaultConfig(),
		Backend:  display.BackendAuto,
		Log:      Log{Format: "text", Level: "info"},
	}
}

// Dir returns ~/.ambilight.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".ambilight"), nil
}

// DefaultPath returns ~/.ambilight/settings.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// set registers every key so environment overrides reach Unmarshal.
func set(s Settings, fn func(key string, value any)) {
	p := s.Pipeline
	fn("pipeline.source_monitor", p.SourceMonitor)
	fn("pipeline.target_monitor", p.TargetMonitor)
	fn("pipeline.update_rate", p.UpdateRate)
	fn("pipeline.blur_radius", p.BlurRadius)
	fn("pipeline.opacity", p.Opacity)
	fn("pipeline.blend_mode", p.BlendMode)
	fn("pipeline.strategy", string(p.Strategy))
	fn("backend", s.Backend)
	fn("log.format", s.Log.Format)
	fn("log.level", s.Log.Level)
	fn("hue.enabled", s.Hue.Enabled)
	fn("hue.bridge_id", s.Hue.BridgeID)
	fn("hue.bridge_ip", s.Hue.BridgeIP)
	fn("hue.area_id", s.Hue.AreaID)
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (Settings, error) {
	v := newViper(path)
	set(Default(), v.SetDefault)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Default(), fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Default(), fmt.Errorf("decoding %s: %w", path, err)
	}
	strategy, err := pipeline.ParseStrategy(string(s.Pipeline.Strategy))
	if err != nil {
		return Default(), fmt.Errorf("decoding %s: %w", path, err)
	}
	s.Pipeline.Strategy = strategy
	s.Pipeline = s.Pipeline.Normalize()
	return s, nil
}

// Save writes s to path, readable by the owner only.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	v := viper.New()
	set(s, v.Set)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}

// Dump renders s as YAML.
func Dump(s Settings) ([]byte, error) {
	return yaml.Marshal(s)
}
