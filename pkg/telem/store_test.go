package telem

import (
	"path/filepath"
	"testing"
	"time"
)

func sampleAt(id string, ts time.Time, score float64) *Sample {
	return &Sample{
		InterfaceID: id,
		Timestamp:   ts,
		Metrics:     map[string]float64{"latency_ms": 80},
		Score:       score,
		State:       "primary",
		Health:      "healthy",
	}
}

func TestStore(t *testing.T) {
	store, err := NewStore(24, 16, "")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	now := time.Now()

	t.Run("add and get since", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			ts := now.Add(time.Duration(i-10) * time.Minute)
			if err := store.AddSample(sampleAt("sat0", ts, 0.9)); err != nil {
				t.Fatalf("AddSample failed: %v", err)
			}
		}
		got := store.GetSamples("sat0", now.Add(-5*time.Minute))
		if len(got) != 5 {
			t.Errorf("Expected 5 samples in window, got %d", len(got))
		}
		for i := 1; i < len(got); i++ {
			if got[i].Timestamp.Before(got[i-1].Timestamp) {
				t.Error("Samples must come back oldest first")
			}
		}
	})

	t.Run("latest", func(t *testing.T) {
		latest := store.Latest("sat0")
		if latest == nil {
			t.Fatal("Expected a latest sample")
		}
		if latest.Timestamp.Before(now.Add(-2 * time.Minute)) {
			t.Error("Latest sample is not the newest")
		}
	})

	t.Run("unknown interface", func(t *testing.T) {
		if got := store.GetSamples("nope", time.Time{}); got != nil {
			t.Errorf("Expected nil for unknown interface, got %d samples", len(got))
		}
		if store.Latest("nope") != nil {
			t.Error("Expected nil latest for unknown interface")
		}
	})

	t.Run("invalid sample rejected", func(t *testing.T) {
		if err := store.AddSample(&Sample{}); err == nil {
			t.Error("Expected error for sample without interface id")
		}
	})
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		rb.Add(sampleAt("cell0", base.Add(time.Duration(i)*time.Second), 0.5))
	}

	if rb.Len() != 3 {
		t.Fatalf("Expected capacity eviction to 3, got %d", rb.Len())
	}
	oldest := rb.GetSince(time.Time{})[0]
	if !oldest.Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Error("Oldest surviving sample is wrong after eviction")
	}

	rb.RemoveBefore(base.Add(4 * time.Second))
	if rb.Len() != 1 {
		t.Errorf("Expected 1 sample after prune, got %d", rb.Len())
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.db")
	store, err := NewStore(24, 16, path)
	if err != nil {
		t.Fatalf("Failed to open persisted store: %v", err)
	}

	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := store.AddSample(sampleAt("sat0", now.Add(time.Duration(i)*time.Second), 0.8)); err != nil {
			t.Fatalf("AddSample failed: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen the database and read history back
	p, err := OpenPersist(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer p.Close()

	got, err := p.LoadSince("sat0", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("LoadSince failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 persisted samples, got %d", len(got))
	}
	if got[0].Score != 0.8 || got[0].State != "primary" {
		t.Errorf("Persisted sample fields lost: %+v", got[0])
	}

	// Prune everything and verify
	if err := p.RemoveBefore(now.Add(time.Minute)); err != nil {
		t.Fatalf("RemoveBefore failed: %v", err)
	}
	got, _ = p.LoadSince("sat0", time.Time{})
	if len(got) != 0 {
		t.Errorf("Expected empty after prune, got %d", len(got))
	}
}

func TestSmoothedScore(t *testing.T) {
	store, err := NewStore(24, 16, "")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	now := time.Now()

	if err := store.AddSample(sampleAt("sat0", now.Add(-2*time.Minute), 1.0)); err != nil {
		t.Fatalf("AddSample failed: %v", err)
	}
	first := store.Latest("sat0")
	if first.SmoothedScore != 1.0 {
		t.Errorf("First sample should seed the smoothed series, got %g", first.SmoothedScore)
	}

	// A sudden drop to 0.0 is damped, not mirrored
	if err := store.AddSample(sampleAt("sat0", now.Add(-time.Minute), 0.0)); err != nil {
		t.Fatalf("AddSample failed: %v", err)
	}
	second := store.Latest("sat0")
	want := (1 - ewmaAlpha) * 1.0
	if diff := second.SmoothedScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected smoothed score %g after drop, got %g", want, second.SmoothedScore)
	}
	if second.Score != 0.0 {
		t.Errorf("Raw score must stay untouched, got %g", second.Score)
	}
}
