package decision

import (
	"time"

	"github.com/sajari/regression"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/telem"
)

// trendWindow is how much recent history feeds the slope estimates
const trendWindow = 10 * time.Minute

// trendMinSamples is the minimum history before a trend is trusted
const trendMinSamples = 5

// Trend holds least-squares slope estimates over the recent telemetry
// window. Slopes are per minute: a latency slope of +40 means latency
// has been climbing 40ms every minute.
type Trend struct {
	InterfaceID        string    `json:"interface_id"`
	LatencySlopePerMin float64   `json:"latency_slope_per_min"`
	LossSlopePerMin    float64   `json:"loss_slope_per_min"`
	ScoreSlopePerMin   float64   `json:"score_slope_per_min"`
	Samples            int       `json:"samples"`
	CalculatedAt       time.Time `json:"calculated_at"`
}

// Degrading reports whether the trend points at worsening quality
func (t *Trend) Degrading() bool {
	return t.ScoreSlopePerMin < -0.01 || t.LatencySlopePerMin > 10 || t.LossSlopePerMin > 0.5
}

// computeTrend fits linear regressions over the sample window. Returns
// nil when there is not enough history to say anything.
func computeTrend(interfaceID string, samples []*telem.Sample) *Trend {
	if len(samples) < trendMinSamples {
		return nil
	}

	origin := samples[0].Timestamp
	elapsed := func(s *telem.Sample) float64 {
		return s.Timestamp.Sub(origin).Minutes()
	}

	trend := &Trend{
		InterfaceID:  interfaceID,
		Samples:      len(samples),
		CalculatedAt: time.Now(),
	}

	trend.ScoreSlopePerMin = slope(samples, elapsed, func(s *telem.Sample) (float64, bool) {
		return s.Score, true
	})
	trend.LatencySlopePerMin = slope(samples, elapsed, func(s *telem.Sample) (float64, bool) {
		v, ok := s.Metrics[pkg.MetricLatencyMS]
		return v, ok
	})
	trend.LossSlopePerMin = slope(samples, elapsed, func(s *telem.Sample) (float64, bool) {
		v, ok := s.Metrics[pkg.MetricLossPct]
		return v, ok
	})
	return trend
}

// slope fits y = a + b*x over the samples and returns b, or 0 when the
// fit is not possible
func slope(samples []*telem.Sample, x func(*telem.Sample) float64, y func(*telem.Sample) (float64, bool)) float64 {
	r := new(regression.Regression)
	r.SetObserved("value")
	r.SetVar(0, "elapsed_min")

	n := 0
	for _, s := range samples {
		v, ok := y(s)
		if !ok {
			continue
		}
		r.Train(regression.DataPoint(v, []float64{x(s)}))
		n++
	}
	if n < trendMinSamples {
		return 0
	}
	if err := r.Run(); err != nil {
		return 0
	}
	return r.Coeff(1)
}
