// Package scoring aggregates normalized metrics into a composite score
// and raises per-metric quality-factor breach flags.
package scoring

import (
	"math"
	"time"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/norm"
	"github.com/linkward/linkward/pkg/uci"
)

// Aggregator scores one interface class
type Aggregator struct {
	profile []uci.MetricConfig
}

// NewAggregator creates an aggregator for the given scoring profile
func NewAggregator(profile []uci.MetricConfig) *Aggregator {
	return &Aggregator{profile: profile}
}

// Score computes the composite score for a snapshot.
//
// Stale readings participate at score 0.0 so that a link that stopped
// reporting drags its own score down. Metrics the profile lists but the
// snapshot simply does not carry, with no sample at all, are excluded
// from the weighted sum rather than punished: a cellular profile applied
// to a modem that never reports SINR should not be permanently penalized.
// An empty evaluation set scores 0.0.
func (a *Aggregator) Score(snap *pkg.Snapshot) *pkg.CompositeScore {
	cs := &pkg.CompositeScore{
		InterfaceID: snap.InterfaceID,
		Timestamp:   snap.CollectedAt,
		Factors:     make(map[string]bool),
		RawMetrics:  make(map[string]float64),
	}
	if cs.Timestamp.IsZero() {
		cs.Timestamp = time.Now()
	}

	var weightedSum, weightTotal float64
	for _, mc := range a.profile {
		if mc.Weight <= 0 {
			continue
		}
		sample := snap.Sample(mc.Name)
		if sample == nil {
			// Absent entirely: excluded from the weighted sum
			continue
		}
		nm := norm.NormalizeSample(sample, mc)
		if nm.IsStale {
			cs.StaleMetrics = append(cs.StaleMetrics, mc.Name)
		}
		if sample.Value != nil {
			cs.RawMetrics[mc.Name] = *sample.Value
		}
		weightedSum += nm.Score * mc.Weight
		weightTotal += mc.Weight

		cs.Factors[mc.Name] = a.breached(mc, sample.Value)
	}

	if weightTotal > 0 {
		cs.WeightedScore = weightedSum / weightTotal
	}
	return cs
}

// breached applies the quality-factor threshold for one metric
func (a *Aggregator) breached(mc uci.MetricConfig, value *float64) bool {
	if mc.BreachThreshold == 0 || value == nil {
		return false
	}
	if math.IsNaN(*value) || math.IsInf(*value, 0) || *value == 0 {
		return false
	}
	if mc.Invert {
		return *value > mc.BreachThreshold
	}
	return *value < mc.BreachThreshold
}

// BreachCount counts raised quality factors in a composite score
func BreachCount(cs *pkg.CompositeScore) int {
	n := 0
	for _, breached := range cs.Factors {
		if breached {
			n++
		}
	}
	return n
}
