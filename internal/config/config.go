// Package config loads and validates the YAML service configuration. The
// schema follows the historical localization config layout: a list of
// tracker profiles, each carrying its algorithm tuning (per-axis model,
// error and threshold blocks) and its protocol binding. Configuration
// errors are fatal at startup; a loaded Config is never mutated afterwards.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/indoor-data/personnelloc/internal/rakf"
)

// maxFileSize caps config reads at 1MB.
const maxFileSize = 1 * 1024 * 1024

// Axes holds one tuning value per spatial axis.
type Axes struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// At returns the value for axis index i (0=x, 1=y, 2=z).
func (a Axes) At(i int) float64 {
	switch i {
	case 0:
		return a.X
	case 1:
		return a.Y
	default:
		return a.Z
	}
}

// Model selects the sensor model and its per-axis observation coefficient.
type Model struct {
	Type        string `yaml:"type"`
	Coefficient Axes   `yaml:"coefficient"`
}

// Errors holds the per-axis noise and covariance tuning.
type Errors struct {
	Model              Axes `yaml:"model"`
	Measurement        Axes `yaml:"measurement"`
	StateErrorVariance Axes `yaml:"state_error_variance"`
}

// Thresholds holds the per-axis robust classification tuning.
type Thresholds struct {
	Residual Axes `yaml:"residual"`
	Adaptive Axes `yaml:"adaptive"`
	Gamma    Axes `yaml:"gamma"`
}

// Estimator holds the residual-window sizing.
type Estimator struct {
	Parameter struct {
		Count int `yaml:"count"`
	} `yaml:"parameter"`
}

// Algorithm is the filter tuning block of one tracker profile.
type Algorithm struct {
	Type           string     `yaml:"type"`
	TrackDimension int        `yaml:"track_dimension"`
	Interval       float64    `yaml:"interval"`
	Model          Model      `yaml:"model"`
	Error          Errors     `yaml:"error"`
	Threshold      Thresholds `yaml:"threshold"`
	Estimator      Estimator  `yaml:"estimator"`
}

// Profile converts the algorithm block into the core filter profile.
func (a Algorithm) Profile() (rakf.Profile, error) {
	axes := make([]rakf.AxisConfig, a.TrackDimension)
	for i := range axes {
		axes[i] = rakf.AxisConfig{
			Coefficient:        a.Model.Coefficient.At(i),
			ProcessNoise:       a.Error.Model.At(i),
			MeasurementNoise:   a.Error.Measurement.At(i),
			StateErrorVariance: a.Error.StateErrorVariance.At(i),
			ResidualThreshold:  a.Threshold.Residual.At(i),
			AdaptiveThreshold:  a.Threshold.Adaptive.At(i),
			Gamma:              a.Threshold.Gamma.At(i),
			WindowSize:         a.Estimator.Parameter.Count,
		}
	}
	p := rakf.Profile{
		Dimension: a.TrackDimension,
		Model:     rakf.ModelType(a.Model.Type),
		Interval:  a.Interval,
		Axes:      axes,
	}
	if err := p.Validate(); err != nil {
		return rakf.Profile{}, err
	}
	return p, nil
}

// Endpoint describes one broker binding for a tracker.
type Endpoint struct {
	Type       string `yaml:"type"`
	Exchange   string `yaml:"exchange"`
	BindingKey string `yaml:"binding_key"`
}

// Protocol lists a tracker's broker bindings.
type Protocol struct {
	Publishers  []Endpoint `yaml:"publishers"`
	Subscribers []Endpoint `yaml:"subscribers"`
}

// Tracker is one personnel tracking profile.
type Tracker struct {
	ID        string    `yaml:"id"`
	Start     []float64 `yaml:"start,omitempty"`
	Algorithm Algorithm `yaml:"algorithm"`
	Protocol  Protocol  `yaml:"protocol"`
}

// Broker holds the AMQP connection settings shared by all trackers.
type Broker struct {
	URL string `yaml:"url"`
}

// Config is the root service configuration.
type Config struct {
	Version  string    `yaml:"version"`
	Broker   Broker    `yaml:"amq"`
	Trackers []Tracker `yaml:"trackers"`
}

type root struct {
	Localization Config `yaml:"localization"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var r root
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg := r.Localization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	if len(c.Trackers) == 0 {
		return fmt.Errorf("no trackers configured")
	}
	seen := make(map[string]bool, len(c.Trackers))
	for i, t := range c.Trackers {
		if t.ID == "" {
			return fmt.Errorf("tracker %d: missing id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tracker %d: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = true

		if t.Algorithm.Type != "rakf" {
			return fmt.Errorf("tracker %q: unsupported algorithm type %q", t.ID, t.Algorithm.Type)
		}
		if _, err := t.Algorithm.Profile(); err != nil {
			return fmt.Errorf("tracker %q: %w", t.ID, err)
		}
		if t.Start != nil && len(t.Start) != t.Algorithm.TrackDimension {
			return fmt.Errorf("tracker %q: %d start coordinates for dimension %d",
				t.ID, len(t.Start), t.Algorithm.TrackDimension)
		}
		for _, e := range append(append([]Endpoint{}, t.Protocol.Publishers...), t.Protocol.Subscribers...) {
			if e.Type != "amq" {
				return fmt.Errorf("tracker %q: unsupported protocol type %q", t.ID, e.Type)
			}
			if e.Exchange == "" {
				return fmt.Errorf("tracker %q: protocol endpoint missing exchange", t.ID)
			}
		}
		if len(t.Protocol.Subscribers) > 0 && c.Broker.URL == "" {
			return fmt.Errorf("tracker %q: broker bindings configured but amq.url is empty", t.ID)
		}
	}
	return nil
}
