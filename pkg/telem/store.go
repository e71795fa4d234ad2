// Package telem provides in-RAM telemetry storage with optional bbolt
// persistence, bounded by retention time and memory ceiling.
package telem

import (
	"fmt"
	"sync"
	"time"

	"github.com/linkward/linkward/pkg"
)

// Sample is one stored scoring result for one interface
type Sample struct {
	InterfaceID string             `json:"interface_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Metrics     map[string]float64 `json:"metrics"`
	Score       float64            `json:"score"`
	// SmoothedScore is an EWMA over Score for dashboards and trend
	// inspection; decisions always use the per-tick Score.
	SmoothedScore float64 `json:"smoothed_score"`
	State         string  `json:"state"`
	Health        string  `json:"health"`
}

// ewmaAlpha weights the newest score in the smoothed series
const ewmaAlpha = 0.3

// Store is a thread-safe in-RAM telemetry store with per-interface
// ring buffers, pruned by age and by total sample count.
type Store struct {
	mu         sync.RWMutex
	buffers    map[string]*RingBuffer
	retention  time.Duration
	maxSamples int
	persist    *Persist
}

// NewStore creates a store. persistPath enables bbolt persistence when
// non-empty.
func NewStore(retentionHours, maxRAMMB int, persistPath string) (*Store, error) {
	if retentionHours <= 0 {
		retentionHours = 24
	}
	if maxRAMMB <= 0 {
		maxRAMMB = 16
	}
	// Rough budget: a stored sample with its metric map runs ~512 bytes
	maxSamples := maxRAMMB * 1024 * 1024 / 512

	s := &Store{
		buffers:    make(map[string]*RingBuffer),
		retention:  time.Duration(retentionHours) * time.Hour,
		maxSamples: maxSamples,
	}

	if persistPath != "" {
		p, err := OpenPersist(persistPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open telemetry db: %w", err)
		}
		s.persist = p
	}
	return s, nil
}

// AddSample stores a sample for an interface
func (s *Store) AddSample(sample *Sample) error {
	if sample == nil || sample.InterfaceID == "" {
		return fmt.Errorf("invalid sample")
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	s.mu.Lock()
	rb, ok := s.buffers[sample.InterfaceID]
	if !ok {
		rb = NewRingBuffer(s.perInterfaceCap())
		s.buffers[sample.InterfaceID] = rb
	}
	if prev := rb.Latest(); prev != nil {
		sample.SmoothedScore = ewmaAlpha*sample.Score + (1-ewmaAlpha)*prev.SmoothedScore
	} else {
		sample.SmoothedScore = sample.Score
	}
	rb.Add(sample)
	s.mu.Unlock()

	if s.persist != nil {
		// Persistence is best-effort; the RAM copy is authoritative
		if err := s.persist.SaveSample(sample); err != nil {
			return err
		}
	}
	return nil
}

// GetSamples returns samples for an interface since the given time,
// oldest first.
func (s *Store) GetSamples(interfaceID string, since time.Time) []*Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rb, ok := s.buffers[interfaceID]
	if !ok {
		return nil
	}
	return rb.GetSince(since)
}

// Latest returns the newest sample for an interface, or nil
func (s *Store) Latest(interfaceID string) *Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rb, ok := s.buffers[interfaceID]
	if !ok {
		return nil
	}
	return rb.Latest()
}

// Interfaces returns the interface IDs with stored samples
func (s *Store) Interfaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		out = append(out, id)
	}
	return out
}

// Cleanup prunes samples older than the retention window, in RAM and
// on disk. Called periodically by the daemon.
func (s *Store) Cleanup() error {
	cutoff := time.Now().Add(-s.retention)

	s.mu.Lock()
	for _, rb := range s.buffers {
		rb.RemoveBefore(cutoff)
	}
	s.mu.Unlock()

	if s.persist != nil {
		return s.persist.RemoveBefore(cutoff)
	}
	return nil
}

// Close releases the persistence backend
func (s *Store) Close() error {
	if s.persist != nil {
		return s.persist.Close()
	}
	return nil
}

func (s *Store) perInterfaceCap() int {
	// Split the sample budget across interfaces, assuming a handful
	n := len(s.buffers) + 1
	if n < 4 {
		n = 4
	}
	c := s.maxSamples / n
	if c < 64 {
		c = 64
	}
	return c
}

// Stats summarizes store usage for the status endpoint
func (s *Store) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	perInterface := make(map[string]int, len(s.buffers))
	for id, rb := range s.buffers {
		n := rb.Len()
		perInterface[id] = n
		total += n
	}
	return map[string]interface{}{
		"total_samples":   total,
		"per_interface":   perInterface,
		"retention_hours": s.retention.Hours(),
		"persisted":       s.persist != nil,
	}
}

// RingBuffer is a fixed-capacity time-ordered sample buffer
type RingBuffer struct {
	samples  []*Sample
	capacity int
}

// NewRingBuffer creates a ring buffer with the given capacity
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{capacity: capacity}
}

// Add appends a sample, evicting the oldest when full
func (rb *RingBuffer) Add(sample *Sample) {
	rb.samples = append(rb.samples, sample)
	if len(rb.samples) > rb.capacity {
		rb.samples = rb.samples[len(rb.samples)-rb.capacity:]
	}
}

// GetSince returns samples at or after the given time, oldest first
func (rb *RingBuffer) GetSince(since time.Time) []*Sample {
	var out []*Sample
	for _, s := range rb.samples {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

// Latest returns the newest sample or nil
func (rb *RingBuffer) Latest() *Sample {
	if len(rb.samples) == 0 {
		return nil
	}
	return rb.samples[len(rb.samples)-1]
}

// RemoveBefore drops samples older than the cutoff
func (rb *RingBuffer) RemoveBefore(cutoff time.Time) {
	idx := 0
	for idx < len(rb.samples) && rb.samples[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		rb.samples = rb.samples[idx:]
	}
}

// Len returns the number of stored samples
func (rb *RingBuffer) Len() int {
	return len(rb.samples)
}

// SampleFromScore builds a telemetry sample from a scoring result
func SampleFromScore(cs *pkg.CompositeScore, state, healthStatus string) *Sample {
	metrics := make(map[string]float64, len(cs.RawMetrics))
	for k, v := range cs.RawMetrics {
		metrics[k] = v
	}
	return &Sample{
		InterfaceID: cs.InterfaceID,
		Timestamp:   cs.Timestamp,
		Metrics:     metrics,
		Score:       cs.WeightedScore,
		State:       state,
		Health:      healthStatus,
	}
}
