package filter

import "fmt"

// PowerFilter rejects sub-threshold power readings and smooths the rest with
// a bounded moving average over the last N accepted samples.
//
// Sub-threshold readings are dropped outright rather than clamped to zero:
// they never enter the smoothing window and produce no output. A reading of
// exactly the threshold is accepted, so with the default threshold of 0 a
// coasting rider still drives the output down to zero.
//
// A PowerFilter is owned by a single goroutine; it is not safe for
// concurrent use.
type PowerFilter struct {
	thresholdWatts float64
	window         []float64
	next           int
	count          int
}

// New creates a filter with the given rejection threshold and smoothing
// window size.
func New(thresholdWatts float64, window int) (*PowerFilter, error) {
	if thresholdWatts < 0 {
		return nil, fmt.Errorf("threshold must be non-negative, got %g W", thresholdWatts)
	}
	if window < 1 {
		return nil, fmt.Errorf("smoothing window must be at least 1, got %d", window)
	}
	return &PowerFilter{
		thresholdWatts: thresholdWatts,
		window:         make([]float64, window),
	}, nil
}

// Accept feeds one raw reading through the filter. It returns the smoothed
// wattage and true, or false when the reading is below the threshold and
// was dropped.
func (f *PowerFilter) Accept(watts float64) (float64, bool) {
	if watts < f.thresholdWatts {
		return 0, false
	}

	f.window[f.next] = watts
	f.next = (f.next + 1) % len(f.window)
	if f.count < len(f.window) {
		f.count++
	}

	var sum float64
	for i := 0; i < f.count; i++ {
		sum += f.window[i]
	}
	return sum / float64(f.count), true
}

// Reset discards all smoothing history. Called when the sensor link leaves
// the subscribed state so a fresh connection starts clean.
func (f *PowerFilter) Reset() {
	f.next = 0
	f.count = 0
}
