// Package norm maps raw metric readings onto the shared 0..1 quality scale.
package norm

import (
	"math"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/uci"
)

// Normalize maps a raw value onto [0,1] where 1.0 is best and 0.0 is worst.
// best and worst are the raw values that pin the ends of the scale; invert
// marks lower-is-better metrics, whose best bound is numerically below worst.
// A degenerate profile with best == worst scores 0.5 for any value.
//
// stale is true when the value is absent, non-finite, or the zero sentinel
// collectors emit for "could not measure"; stale readings score 0.0 so that
// missing data always looks like trouble, never like health.
func Normalize(value *float64, best, worst float64, invert bool) (score float64, stale bool) {
	if value == nil || math.IsNaN(*value) || math.IsInf(*value, 0) || *value == 0 {
		return 0.0, true
	}
	if best == worst {
		return 0.5, false
	}

	v := *value
	if invert {
		score = (worst - v) / (worst - best)
	} else {
		score = (v - worst) / (best - worst)
	}

	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	return score, false
}

// NormalizeSample applies a profile entry to one raw sample
func NormalizeSample(s *pkg.MetricSample, mc uci.MetricConfig) pkg.NormalizedMetric {
	nm := pkg.NormalizedMetric{Name: mc.Name}
	if s != nil {
		nm.InterfaceID = s.InterfaceID
		nm.RawValue = s.Value
	}
	var value *float64
	if s != nil {
		value = s.Value
	}
	nm.Score, nm.IsStale = Normalize(value, mc.Best, mc.Worst, mc.Invert)
	return nm
}

// NormalizeSnapshot normalizes every metric named by the profile against
// the snapshot. Metrics the profile names but the snapshot lacks still
// yield an entry, stale at score 0.0.
func NormalizeSnapshot(snap *pkg.Snapshot, profile []uci.MetricConfig) []pkg.NormalizedMetric {
	out := make([]pkg.NormalizedMetric, 0, len(profile))
	for _, mc := range profile {
		sample := snap.Sample(mc.Name)
		nm := NormalizeSample(sample, mc)
		if nm.InterfaceID == "" && snap != nil {
			nm.InterfaceID = snap.InterfaceID
		}
		out = append(out, nm)
	}
	return out
}
