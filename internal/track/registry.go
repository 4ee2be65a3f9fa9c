// Package track owns the mapping from personnel identifier to estimator.
// Trackers are created lazily on the first observed measurement for a new
// identifier and persist for the process lifetime; there is no eviction
// because personnel populations are small and bounded in the target
// deployments.
package track

import (
	"sync"

	"github.com/indoor-data/personnelloc/internal/rakf"
)

// Registry resolves personnel identifiers to trackers, creating them on
// first use. The identifier map is the only structure shared between
// ingestion workers; create-on-miss is double-checked under the write lock
// so two concurrent workers can never construct two estimators for the
// same identifier.
type Registry struct {
	profile rakf.Profile

	mu       sync.RWMutex
	trackers map[string]*Tracker
	seeds    map[string][]float64
}

// NewRegistry creates a registry whose trackers share the given immutable
// configuration profile.
func NewRegistry(profile rakf.Profile) (*Registry, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		profile:  profile,
		trackers: make(map[string]*Tracker),
		seeds:    make(map[string][]float64),
	}, nil
}

// RegisterStart records start coordinates for an identifier whose tracker
// has not been created yet. The seed is consumed when the first measurement
// for that identifier arrives; identifiers without a seed start at the
// origin.
func (r *Registry) RegisterStart(personnelID string, start []float64) error {
	if len(start) != r.profile.Dimension {
		return rakf.ErrDimensionMismatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trackers[personnelID]; ok {
		return nil // tracker already live; seed would be ignored
	}
	seed := make([]float64, len(start))
	copy(seed, start)
	r.seeds[personnelID] = seed
	return nil
}

// Resolve returns the tracker for an identifier, creating it on first use.
func (r *Registry) Resolve(personnelID string) (*Tracker, error) {
	r.mu.RLock()
	t, ok := r.trackers[personnelID]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[personnelID]; ok {
		return t, nil
	}

	est, err := rakf.NewEstimator(r.profile, r.seeds[personnelID])
	if err != nil {
		return nil, err
	}
	t = &Tracker{PersonnelID: personnelID, estimator: est}
	r.trackers[personnelID] = t
	delete(r.seeds, personnelID)
	return t, nil
}

// Observe resolves the tracker for the measurement's identifier and applies
// the measurement.
func (r *Registry) Observe(m rakf.Measurement) (rakf.Estimate, []rakf.AxisUpdate, error) {
	t, err := r.Resolve(m.PersonnelID)
	if err != nil {
		return rakf.Estimate{}, nil, err
	}
	return t.Observe(m)
}

// Len returns the number of live trackers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trackers)
}

// Snapshot returns the latest estimate of every tracker that has produced
// one. The slice is a copy and safe to hand to the web layer.
func (r *Registry) Snapshot() []rakf.Estimate {
	r.mu.RLock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.RUnlock()

	out := make([]rakf.Estimate, 0, len(trackers))
	for _, t := range trackers {
		if est, ok := t.LastEstimate(); ok {
			out = append(out, est)
		}
	}
	return out
}
