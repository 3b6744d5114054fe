package curve

import (
	"fmt"
	"math"
)

// Params holds the calibration anchors for a response curve.
type Params struct {
	// FTPWatts is the functional threshold power used as the calibration
	// anchor: Compute(FTPWatts) == TargetRatioAtFTP.
	FTPWatts float64
	// ThresholdWatts is the dead zone; power at or below it maps to 0.
	ThresholdWatts float64
	// TargetRatioAtFTP is the trigger ratio produced at FTP, in (0, MaxRatio).
	TargetRatioAtFTP float64
	// MaxRatio is the asymptotic ceiling of the curve, in (0, 1].
	MaxRatio float64
}

// Curve maps instantaneous power in watts onto a normalized trigger ratio
// in [0, 1] using a tanh saturation curve. A Curve is immutable after New
// and safe for concurrent use.
type Curve struct {
	thresholdWatts float64
	maxRatio       float64
	k              float64
}

// New solves the curve gain k so that Compute(FTPWatts) == TargetRatioAtFTP
// and returns the calibrated curve. The closed form is
// k = atanh(target/max) / (ftp - threshold).
func New(p Params) (*Curve, error) {
	if p.ThresholdWatts < 0 {
		return nil, fmt.Errorf("threshold must be non-negative, got %g W", p.ThresholdWatts)
	}
	if p.FTPWatts <= p.ThresholdWatts {
		return nil, fmt.Errorf("ftp (%g W) must exceed threshold (%g W)", p.FTPWatts, p.ThresholdWatts)
	}
	if p.MaxRatio <= 0 || p.MaxRatio > 1 {
		return nil, fmt.Errorf("max ratio must be in (0, 1], got %g", p.MaxRatio)
	}
	if p.TargetRatioAtFTP <= 0 || p.TargetRatioAtFTP >= p.MaxRatio {
		return nil, fmt.Errorf("target ratio at ftp must be in (0, %g), got %g", p.MaxRatio, p.TargetRatioAtFTP)
	}

	k := math.Atanh(p.TargetRatioAtFTP/p.MaxRatio) / (p.FTPWatts - p.ThresholdWatts)
	return &Curve{
		thresholdWatts: p.ThresholdWatts,
		maxRatio:       p.MaxRatio,
		k:              k,
	}, nil
}

// Compute returns the trigger ratio for the given power. The result is 0 for
// watts at or below the threshold, monotonically non-decreasing in watts,
// and never exceeds the configured max ratio.
func (c *Curve) Compute(watts float64) float64 {
	if watts <= c.thresholdWatts {
		return 0
	}
	return c.maxRatio * math.Tanh(c.k*(watts-c.thresholdWatts))
}
