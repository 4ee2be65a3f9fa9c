package rakf

import "math"

// UpdateBranch identifies which path an observation took through the
// robust update.
type UpdateBranch string

const (
	// UpdateNominal means the residual fell inside the inner threshold and
	// the observation was applied with the nominal measurement noise.
	UpdateNominal UpdateBranch = "nominal"
	// UpdateInflated means the residual fell between the inner and outer
	// thresholds and the observation was applied with adaptively inflated
	// measurement noise.
	UpdateInflated UpdateBranch = "inflated"
	// UpdateRejected means the residual exceeded the outer threshold (or
	// the innovation covariance was not positive) and the observation was
	// discarded, leaving the prediction as the posterior.
	UpdateRejected UpdateBranch = "rejected"
)

// AxisConfig holds the immutable tuning for one spatial axis. A single
// AxisConfig value may be shared by every filter built from the same
// configuration profile; filters never mutate it.
type AxisConfig struct {
	Coefficient        float64 // observation scaling applied to the raw reading
	ProcessNoise       float64 // model error variance Q, scaled by dt on predict
	MeasurementNoise   float64 // nominal measurement error variance R
	StateErrorVariance float64 // initial state error variance P
	ResidualThreshold  float64 // outer threshold C: residuals beyond it are rejected
	AdaptiveThreshold  float64 // inner threshold C0: residuals beyond it are down-weighted
	Gamma              float64 // scaling of the window variance in the adaptive band
	WindowSize         int     // residual window length N
}

// AxisUpdate reports the outcome of a single robust update step.
type AxisUpdate struct {
	Residual       float64
	Branch         UpdateBranch
	Gain           float64
	EffectiveNoise float64
	Variance       float64 // posterior state error variance
}

// AxisFilter is a scalar robust adaptive Kalman filter for one spatial
// axis. Each observation's residual is classified against the two
// configured thresholds: fully trusted, down-weighted via a noise estimate
// from the trailing residual window, or rejected outright.
type AxisFilter struct {
	cfg AxisConfig

	position float64
	velocity float64
	variance float64 // state error variance P

	window *ResidualWindow
}

// NewAxisFilter creates a filter seeded at the given initial position.
func NewAxisFilter(cfg AxisConfig, initial float64) *AxisFilter {
	n := cfg.WindowSize
	if n < 1 {
		n = 1
	}
	return &AxisFilter{
		cfg:      cfg,
		position: initial,
		variance: cfg.StateErrorVariance,
		window:   NewResidualWindow(n),
	}
}

// Position returns the current position estimate.
func (f *AxisFilter) Position() float64 { return f.position }

// Velocity returns the current velocity estimate.
func (f *AxisFilter) Velocity() float64 { return f.velocity }

// Variance returns the current state error variance.
func (f *AxisFilter) Variance() float64 { return f.variance }

// Window returns the filter's residual window.
func (f *AxisFilter) Window() *ResidualWindow { return f.window }

// SetVelocity overrides the velocity used by the next prediction. The
// fused sensor model feeds the inertial velocity reading through here.
func (f *AxisFilter) SetVelocity(v float64) { f.velocity = v }

// Predict propagates the state by a constant-velocity model over dt
// seconds and inflates the error variance by the process noise. dt must be
// >= 0; dt == 0 leaves both position and variance unchanged.
func (f *AxisFilter) Predict(dt float64) {
	f.position += f.velocity * dt
	f.variance += f.cfg.ProcessNoise * dt
}

// Update applies one observation with the robust adaptive rule:
//
//	|r| <  C0       accept with nominal noise
//	C0 <= |r| <= C  accept with max(nominal, gamma * window variance)
//	|r| >  C        reject; prediction stands
//
// Rejected residuals are still recorded in the window but never enter the
// adaptive variance. A non-positive innovation covariance also falls back
// to the rejection path.
func (f *AxisFilter) Update(observation float64) AxisUpdate {
	r := observation - f.position
	abs := math.Abs(r)

	if abs > f.cfg.ResidualThreshold {
		f.window.Push(r, true)
		return AxisUpdate{Residual: r, Branch: UpdateRejected, Variance: f.variance}
	}

	branch := UpdateNominal
	noise := f.cfg.MeasurementNoise
	if abs >= f.cfg.AdaptiveThreshold {
		branch = UpdateInflated
		if adapted := f.cfg.Gamma * f.window.Variance(); adapted > noise {
			noise = adapted
		}
	}

	s := f.variance + noise
	if s <= 0 {
		f.window.Push(r, true)
		return AxisUpdate{Residual: r, Branch: UpdateRejected, EffectiveNoise: noise, Variance: f.variance}
	}

	gain := f.variance / s
	f.position += gain * r
	f.variance *= 1 - gain
	f.window.Push(r, false)

	return AxisUpdate{
		Residual:       r,
		Branch:         branch,
		Gain:           gain,
		EffectiveNoise: noise,
		Variance:       f.variance,
	}
}
