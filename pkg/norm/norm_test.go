package norm

import (
	"math"
	"testing"
	"time"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/uci"
)

func floatPtr(f float64) *float64 { return &f }

func TestNormalize(t *testing.T) {
	t.Run("latency scales between bounds", func(t *testing.T) {
		score, stale := Normalize(floatPtr(275), 50, 500, true)
		if stale {
			t.Error("Expected fresh reading")
		}
		if math.Abs(score-0.5) > 1e-9 {
			t.Errorf("Expected score 0.5 at midpoint, got %f", score)
		}
	})

	t.Run("best bound scores one", func(t *testing.T) {
		score, _ := Normalize(floatPtr(50), 50, 500, true)
		if score != 1.0 {
			t.Errorf("Expected 1.0 at best bound, got %f", score)
		}
	})

	t.Run("clamps beyond worst", func(t *testing.T) {
		score, stale := Normalize(floatPtr(5000), 50, 500, true)
		if stale || score != 0.0 {
			t.Errorf("Expected clamped 0.0, got %f (stale=%v)", score, stale)
		}
	})

	t.Run("clamps beyond best", func(t *testing.T) {
		score, _ := Normalize(floatPtr(30), 9, 3, false)
		if score != 1.0 {
			t.Errorf("Expected clamped 1.0, got %f", score)
		}
	})

	t.Run("higher is better direction", func(t *testing.T) {
		score, _ := Normalize(floatPtr(6), 9, 3, false)
		if math.Abs(score-0.5) > 1e-9 {
			t.Errorf("Expected 0.5 for snr midpoint, got %f", score)
		}
	})

	t.Run("negative bounds rsrp", func(t *testing.T) {
		score, _ := Normalize(floatPtr(-95), -80, -110, false)
		if math.Abs(score-0.5) > 1e-9 {
			t.Errorf("Expected 0.5 for rsrp midpoint, got %f", score)
		}
	})

	t.Run("degenerate bounds score half", func(t *testing.T) {
		score, stale := Normalize(floatPtr(123), 100, 100, true)
		if stale || score != 0.5 {
			t.Errorf("Expected 0.5 for best==worst, got %f (stale=%v)", score, stale)
		}
	})

	t.Run("missing value is stale zero", func(t *testing.T) {
		score, stale := Normalize(nil, 50, 500, true)
		if !stale || score != 0.0 {
			t.Errorf("Expected stale 0.0 for nil, got %f (stale=%v)", score, stale)
		}
	})

	t.Run("zero sentinel is stale", func(t *testing.T) {
		score, stale := Normalize(floatPtr(0), 50, 500, true)
		if !stale || score != 0.0 {
			t.Errorf("Expected stale 0.0 for zero sentinel, got %f (stale=%v)", score, stale)
		}
	})

	t.Run("non finite values are stale", func(t *testing.T) {
		for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			score, stale := Normalize(floatPtr(v), 50, 500, true)
			if !stale || score != 0.0 {
				t.Errorf("Expected stale 0.0 for %v, got %f (stale=%v)", v, score, stale)
			}
		}
	})

	t.Run("always within unit interval", func(t *testing.T) {
		bounds := [][2]float64{{50, 500}, {0, 10}, {9, 3}, {-80, -110}, {-50, -85}}
		values := []float64{-1e9, -500, -0.001, 0.001, 1, 42, 499.9, 500.1, 1e9}
		for _, b := range bounds {
			for _, v := range values {
				score, _ := Normalize(floatPtr(v), b[0], b[1], b[0] < b[1])
				if score < 0.0 || score > 1.0 {
					t.Errorf("Score %f out of [0,1] for value %f bounds %v", score, v, b)
				}
			}
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		a, _ := Normalize(floatPtr(137.5), 50, 500, true)
		b, _ := Normalize(floatPtr(137.5), 50, 500, true)
		if a != b {
			t.Errorf("Same input gave different scores: %f vs %f", a, b)
		}
	})
}

func TestNormalizeSnapshot(t *testing.T) {
	profile := []uci.MetricConfig{
		{Name: pkg.MetricLatencyMS, Best: 50, Worst: 500, Invert: true, Weight: 0.5},
		{Name: pkg.MetricLossPct, Best: 0, Worst: 10, Invert: true, Weight: 0.5},
	}
	snap := &pkg.Snapshot{
		InterfaceID: "sat0",
		CollectedAt: time.Now(),
		Samples: []pkg.MetricSample{
			{InterfaceID: "sat0", Name: pkg.MetricLatencyMS, Value: floatPtr(50)},
		},
	}

	norms := NormalizeSnapshot(snap, profile)
	if len(norms) != 2 {
		t.Fatalf("Expected one entry per profile metric, got %d", len(norms))
	}
	if norms[0].Score != 1.0 || norms[0].IsStale {
		t.Errorf("Expected fresh 1.0 latency, got %f (stale=%v)", norms[0].Score, norms[0].IsStale)
	}
	if !norms[1].IsStale || norms[1].Score != 0.0 {
		t.Errorf("Expected stale 0.0 for missing loss, got %f (stale=%v)", norms[1].Score, norms[1].IsStale)
	}
	if norms[1].InterfaceID != "sat0" {
		t.Errorf("Expected interface id carried through, got %q", norms[1].InterfaceID)
	}

	t.Logf("✅ Snapshot normalization handled present and missing metrics")
}
