package track

import (
	"sync"

	"github.com/indoor-data/personnelloc/internal/rakf"
)

// Tracker binds one personnel identifier to its estimator. Updates are
// serialized by the tracker's own mutex so measurements for different
// identifiers can be processed in parallel while a single identifier's
// filter state only ever sees one writer.
type Tracker struct {
	PersonnelID string

	mu        sync.Mutex
	estimator *rakf.Estimator

	last     rakf.Estimate
	hasLast  bool
	observed int64
}

// Observe applies one measurement to the tracker's estimator and returns
// the resulting estimate with per-axis update outcomes.
func (t *Tracker) Observe(m rakf.Measurement) (rakf.Estimate, []rakf.AxisUpdate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	est, updates, err := t.estimator.Step(m)
	if err != nil {
		return rakf.Estimate{}, nil, err
	}
	t.last = est
	t.hasLast = true
	t.observed++
	return est, updates, nil
}

// LastEstimate returns the most recent estimate, if any.
func (t *Tracker) LastEstimate() (rakf.Estimate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.hasLast
}

// ObservationCount returns how many measurements the tracker has applied.
func (t *Tracker) ObservationCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observed
}
