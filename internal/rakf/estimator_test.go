package rakf

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testProfile(dim int) Profile {
	axes := make([]AxisConfig, dim)
	for i := range axes {
		axes[i] = AxisConfig{
			Coefficient:        1.0,
			ProcessNoise:       0.01,
			MeasurementNoise:   0.1,
			StateErrorVariance: 0.5,
			ResidualThreshold:  1.5,
			AdaptiveThreshold:  1.0,
			Gamma:              1.0,
			WindowSize:         5,
		}
	}
	return Profile{
		Dimension: dim,
		Model:     ModelUWB,
		Interval:  0.05,
		Axes:      axes,
	}
}

func TestNewEstimatorValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		start   []float64
		wantErr error
	}{
		{
			name:    "dimension too small",
			mutate:  func(p *Profile) { p.Dimension = 1; p.Axes = p.Axes[:1] },
			wantErr: ErrBadDimension,
		},
		{
			name:    "dimension too large",
			mutate:  func(p *Profile) { p.Dimension = 4 },
			wantErr: ErrBadDimension,
		},
		{
			name:    "unknown model",
			mutate:  func(p *Profile) { p.Model = "lidar" },
			wantErr: ErrUnknownModel,
		},
		{
			name:    "axis count mismatch",
			mutate:  func(p *Profile) { p.Axes = p.Axes[:2] },
			wantErr: ErrBadDimension,
		},
		{
			name:    "start arity mismatch",
			mutate:  func(p *Profile) {},
			start:   []float64{1, 2},
			wantErr: ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProfile(3)
			tt.mutate(&p)
			_, err := NewEstimator(p, tt.start)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestEstimatorAxisBranchSelection feeds a single 3-axis measurement whose
// per-axis residuals are (1, 0.3, 0.1) against thresholds C0=1, C=1.5: the
// x residual sits in the adaptive band while y and z stay inside the inner
// threshold.
func TestEstimatorAxisBranchSelection(t *testing.T) {
	e, err := NewEstimator(testProfile(3), []float64{10, 20, 0})
	if err != nil {
		t.Fatal(err)
	}

	_, updates, err := e.Step(Measurement{
		PersonnelID: "walker_1",
		TimestampMS: 50,
		Position:    []float64{11, 20.3, 0.1},
	})
	if err != nil {
		t.Fatal(err)
	}

	wantResiduals := []float64{1, 0.3, 0.1}
	wantBranches := []UpdateBranch{UpdateInflated, UpdateNominal, UpdateNominal}
	for i, u := range updates {
		if math.Abs(u.Residual-wantResiduals[i]) > 1e-12 {
			t.Errorf("axis %d: expected residual %v, got %v", i, wantResiduals[i], u.Residual)
		}
		if u.Branch != wantBranches[i] {
			t.Errorf("axis %d: expected branch %s, got %s", i, wantBranches[i], u.Branch)
		}
	}
}

// TestEstimatorOutlierAxis verifies that an x residual of 3 (beyond C=1.5)
// leaves the x axis at its prediction while y and z update normally.
func TestEstimatorOutlierAxis(t *testing.T) {
	e, err := NewEstimator(testProfile(3), []float64{10, 20, 0})
	if err != nil {
		t.Fatal(err)
	}

	est, updates, err := e.Step(Measurement{
		PersonnelID: "walker_1",
		TimestampMS: 50,
		Position:    []float64{13, 20, 0},
	})
	if err != nil {
		t.Fatal(err)
	}

	if updates[0].Branch != UpdateRejected {
		t.Errorf("expected x axis rejected, got %s", updates[0].Branch)
	}
	if est.Position[0] != 10 {
		t.Errorf("expected x axis to keep its prediction 10, got %v", est.Position[0])
	}
	for i := 1; i < 3; i++ {
		if updates[i].Branch != UpdateNominal {
			t.Errorf("axis %d: expected nominal branch, got %s", i, updates[i].Branch)
		}
		if updates[i].Variance >= e.Profile().Axes[i].StateErrorVariance {
			t.Errorf("axis %d: expected variance reduced by update, got %v", i, updates[i].Variance)
		}
	}
}

func TestEstimatorDimensionMismatch(t *testing.T) {
	e, err := NewEstimator(testProfile(3), []float64{10, 20, 0})
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = e.Step(Measurement{
		PersonnelID: "walker_1",
		TimestampMS: 50,
		Position:    []float64{11, 20.3},
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}

	// The malformed measurement must not have touched any axis.
	for i, want := range []float64{10, 20, 0} {
		if got := e.Axis(i).Position(); got != want {
			t.Errorf("axis %d: position mutated by rejected measurement: %v", i, got)
		}
	}
}

func TestEstimatorFusedVelocityFeed(t *testing.T) {
	p := testProfile(2)
	p.Model = ModelUWBIMU
	e, err := NewEstimator(p, []float64{0, 0})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := e.Step(Measurement{
		PersonnelID: "walker_1",
		TimestampMS: 0,
		Position:    []float64{0, 0},
		Velocity:    []float64{1, -1},
	}); err != nil {
		t.Fatal(err)
	}

	// One second later the person has moved exactly as the inertial
	// velocity predicts: the prediction lands on the observation.
	_, updates, err := e.Step(Measurement{
		PersonnelID: "walker_1",
		TimestampMS: 1000,
		Position:    []float64{1, -1},
		Velocity:    []float64{1, -1},
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, u := range updates {
		if math.Abs(u.Residual) > 1e-9 {
			t.Errorf("axis %d: expected zero residual when prediction matches observation, got %v", i, u.Residual)
		}
	}
}

func TestEstimatorFusedMissingVelocity(t *testing.T) {
	p := testProfile(2)
	p.Model = ModelUWBIMU
	e, err := NewEstimator(p, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = e.Step(Measurement{
		PersonnelID: "walker_1",
		TimestampMS: 0,
		Position:    []float64{1, 2},
	})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch for missing velocity, got %v", err)
	}
}

// TestEstimatorDeterminism builds two estimators from the same profile and
// feeds them an identical sequence; the estimate sequences must match
// exactly.
func TestEstimatorDeterminism(t *testing.T) {
	sequence := make([]Measurement, 0, 100)
	// Deterministic pseudo-noise around a drifting path.
	for i := 0; i < 100; i++ {
		ts := int64(i) * 50
		noise := 0.05 * math.Sin(float64(i)*1.7)
		sequence = append(sequence, Measurement{
			PersonnelID: "walker_1",
			TimestampMS: ts,
			Position:    []float64{10 + 0.01*float64(i) + noise, 20 - noise, 0},
		})
	}

	run := func() []Estimate {
		e, err := NewEstimator(testProfile(3), []float64{10, 20, 0})
		if err != nil {
			t.Fatal(err)
		}
		out := make([]Estimate, 0, len(sequence))
		for _, m := range sequence {
			est, _, err := e.Step(m)
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, est)
		}
		return out
	}

	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("estimate sequences differ (-first +second):\n%s", diff)
	}
}

// TestEstimatorConvergence feeds a constant true position with bounded
// zero-mean noise and expects the estimate to settle near the truth.
func TestEstimatorConvergence(t *testing.T) {
	e, err := NewEstimator(testProfile(2), []float64{4.0, -7.0})
	if err != nil {
		t.Fatal(err)
	}

	truth := []float64{4.2, -7.5}
	var est Estimate
	for i := 0; i < 500; i++ {
		noise := 0.08 * math.Sin(float64(i)*2.3)
		est, _, err = e.Step(Measurement{
			PersonnelID: "walker_1",
			TimestampMS: int64(i) * 50,
			Position:    []float64{truth[0] + noise, truth[1] - noise},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	for i := range truth {
		if math.Abs(est.Position[i]-truth[i]) > 0.1 {
			t.Errorf("axis %d: estimate %v did not converge to %v", i, est.Position[i], truth[i])
		}
	}
}

func TestEstimatorBackwardsTimestampClamped(t *testing.T) {
	e, err := NewEstimator(testProfile(2), []float64{1, 1})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := e.Step(Measurement{TimestampMS: 1000, Position: []float64{1, 1}}); err != nil {
		t.Fatal(err)
	}

	e.Axis(0).SetVelocity(100)
	// An out-of-order timestamp must not propagate the state backwards.
	if _, _, err := e.Step(Measurement{TimestampMS: 500, Position: []float64{1, 1}}); err != nil {
		t.Fatal(err)
	}
	if got := e.Axis(0).Position(); math.Abs(got-1) > 0.5 {
		t.Errorf("negative dt moved the state: position %v", got)
	}
}
