package rakf

import (
	"errors"
	"fmt"
)

// ModelType selects how raw sensor readings map to per-axis observations.
type ModelType string

const (
	// ModelUWB uses ultra-wideband position readings alone.
	ModelUWB ModelType = "uwb"
	// ModelUWBIMU fuses ultra-wideband position readings with inertial
	// velocity readings.
	ModelUWBIMU ModelType = "uwb_imu"
)

var (
	// ErrDimensionMismatch reports a measurement whose arity does not match
	// the configured track dimension. The offending measurement mutates
	// nothing.
	ErrDimensionMismatch = errors.New("measurement dimension does not match track dimension")
	// ErrUnknownModel reports an unsupported sensor model type at
	// construction time.
	ErrUnknownModel = errors.New("unknown sensor model type")
	// ErrBadDimension reports a track dimension outside the supported
	// range at construction time.
	ErrBadDimension = errors.New("track dimension must be 2 or 3")
)

// Profile is the immutable per-tracker configuration: dimension, sensor
// model and one AxisConfig per tracked axis. Profiles loaded from a shared
// named configuration may be reused across many estimators.
type Profile struct {
	Dimension int
	Model     ModelType
	Interval  float64 // nominal sampling period in seconds
	Axes      []AxisConfig
}

// Validate checks the profile for construction-time errors.
func (p Profile) Validate() error {
	if p.Dimension < 2 || p.Dimension > 3 {
		return fmt.Errorf("%w: got %d", ErrBadDimension, p.Dimension)
	}
	if p.Model != ModelUWB && p.Model != ModelUWBIMU {
		return fmt.Errorf("%w: %q", ErrUnknownModel, p.Model)
	}
	if len(p.Axes) != p.Dimension {
		return fmt.Errorf("%w: %d axis configs for dimension %d", ErrBadDimension, len(p.Axes), p.Dimension)
	}
	for i, a := range p.Axes {
		if a.WindowSize < 1 {
			return fmt.Errorf("axis %d: window size must be >= 1, got %d", i, a.WindowSize)
		}
		if a.ResidualThreshold < a.AdaptiveThreshold {
			return fmt.Errorf("axis %d: residual threshold %v below adaptive threshold %v",
				i, a.ResidualThreshold, a.AdaptiveThreshold)
		}
	}
	return nil
}

// Measurement is one decoded sensor reading for a tracked person.
// Position carries the ultra-wideband position per axis; Velocity carries
// the inertial velocity per axis and is only consulted by the fused model.
type Measurement struct {
	PersonnelID string
	TimestampMS int64
	Position    []float64
	Velocity    []float64
}

// Estimate is the filtered position produced by one estimator step.
type Estimate struct {
	PersonnelID string
	TimestampMS int64
	Position    []float64
	Dimension   int
}

// Estimator composes one AxisFilter per tracked axis into a personnel-level
// robust adaptive Kalman filter. Axes are filtered independently; the
// configuration schema tunes every threshold per axis and models no
// cross-axis coupling.
//
// An Estimator is not safe for concurrent use; callers serialize steps per
// personnel identifier.
type Estimator struct {
	profile Profile
	axes    []*AxisFilter

	lastMS  int64
	started bool
}

// NewEstimator builds an estimator from a validated profile, seeded at the
// given start coordinates. A nil start seeds every axis at the origin.
func NewEstimator(profile Profile, start []float64) (*Estimator, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if start != nil && len(start) != profile.Dimension {
		return nil, fmt.Errorf("%w: %d start coordinates for dimension %d",
			ErrDimensionMismatch, len(start), profile.Dimension)
	}
	axes := make([]*AxisFilter, profile.Dimension)
	for i := range axes {
		initial := 0.0
		if start != nil {
			initial = start[i]
		}
		axes[i] = NewAxisFilter(profile.Axes[i], initial)
	}
	return &Estimator{profile: profile, axes: axes}, nil
}

// Profile returns the estimator's configuration profile.
func (e *Estimator) Profile() Profile { return e.profile }

// Axis returns the filter for the given axis index.
func (e *Estimator) Axis(i int) *AxisFilter { return e.axes[i] }

// Step applies one measurement: it derives dt from the measurement
// timestamps (zero on the first step, clamped at zero if time runs
// backwards), maps the raw readings to per-axis observations through the
// configured sensor model, then runs predict and the robust update on each
// axis. It returns the composed estimate and the per-axis update outcomes.
func (e *Estimator) Step(m Measurement) (Estimate, []AxisUpdate, error) {
	if len(m.Position) != e.profile.Dimension {
		return Estimate{}, nil, fmt.Errorf("%w: got %d position readings, want %d",
			ErrDimensionMismatch, len(m.Position), e.profile.Dimension)
	}
	if e.profile.Model == ModelUWBIMU && len(m.Velocity) != e.profile.Dimension {
		return Estimate{}, nil, fmt.Errorf("%w: got %d velocity readings, want %d",
			ErrDimensionMismatch, len(m.Velocity), e.profile.Dimension)
	}

	var dt float64
	if e.started {
		dt = float64(m.TimestampMS-e.lastMS) / 1000.0
		if dt < 0 {
			dt = 0
		}
	}
	e.lastMS = m.TimestampMS
	e.started = true

	position := make([]float64, e.profile.Dimension)
	updates := make([]AxisUpdate, e.profile.Dimension)
	for i, axis := range e.axes {
		if e.profile.Model == ModelUWBIMU {
			axis.SetVelocity(m.Velocity[i])
		}
		axis.Predict(dt)
		observation := e.profile.Axes[i].Coefficient * m.Position[i]
		updates[i] = axis.Update(observation)
		position[i] = axis.Position()
	}

	return Estimate{
		PersonnelID: m.PersonnelID,
		TimestampMS: m.TimestampMS,
		Position:    position,
		Dimension:   e.profile.Dimension,
	}, updates, nil
}
