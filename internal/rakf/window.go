package rakf

import "gonum.org/v1/gonum/stat"

// residualSample is one recorded innovation. Outlier samples stay in the
// window for diagnostics but are excluded from the adaptive variance so a
// gross glitch cannot inflate the noise estimate used against later
// measurements.
type residualSample struct {
	value   float64
	outlier bool
}

// ResidualWindow is a fixed-capacity FIFO of the most recent innovations
// for one axis. The oldest sample is evicted once the window is full.
type ResidualWindow struct {
	samples  []residualSample
	capacity int
}

// NewResidualWindow creates a window holding up to n samples. n must be >= 1.
func NewResidualWindow(n int) *ResidualWindow {
	return &ResidualWindow{
		samples:  make([]residualSample, 0, n),
		capacity: n,
	}
}

// Push records a residual, evicting the oldest sample at capacity.
func (w *ResidualWindow) Push(r float64, outlier bool) {
	if len(w.samples) == w.capacity {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.capacity-1]
	}
	w.samples = append(w.samples, residualSample{value: r, outlier: outlier})
}

// Len returns the number of recorded samples.
func (w *ResidualWindow) Len() int {
	return len(w.samples)
}

// Variance returns the sample variance of the inlier residuals in the
// window. Fewer than two inliers yields zero.
func (w *ResidualWindow) Variance() float64 {
	inliers := make([]float64, 0, len(w.samples))
	for _, s := range w.samples {
		if !s.outlier {
			inliers = append(inliers, s.value)
		}
	}
	if len(inliers) < 2 {
		return 0
	}
	return stat.Variance(inliers, nil)
}

// Values returns the recorded residuals, oldest first, including outliers.
func (w *ResidualWindow) Values() []float64 {
	out := make([]float64, len(w.samples))
	for i, s := range w.samples {
		out[i] = s.value
	}
	return out
}
