package telem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Persist writes telemetry samples to a bbolt database so history
// survives daemon restarts. One bucket per interface, keyed by
// RFC3339Nano timestamp so range scans come back time-ordered.
type Persist struct {
	db *bolt.DB
}

// OpenPersist opens (or creates) the telemetry database
func OpenPersist(path string) (*Persist, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	return &Persist{db: db}, nil
}

// SaveSample stores one sample under its interface bucket
func (p *Persist) SaveSample(sample *Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	key := []byte(sample.Timestamp.UTC().Format(time.RFC3339Nano))
	return p.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(sample.InterfaceID))
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// LoadSince loads samples for an interface at or after the given time
func (p *Persist) LoadSince(interfaceID string, since time.Time) ([]*Sample, error) {
	var out []*Sample
	min := []byte(since.UTC().Format(time.RFC3339Nano))
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(interfaceID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(min); k != nil; k, v = c.Next() {
			var s Sample
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("corrupt telemetry record %s/%s: %w", interfaceID, k, err)
			}
			out = append(out, &s)
		}
		return nil
	})
	return out, err
}

// RemoveBefore deletes samples older than the cutoff across all buckets
func (p *Persist) RemoveBefore(cutoff time.Time) error {
	max := []byte(cutoff.UTC().Format(time.RFC3339Nano))
	return p.db.Update(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			c := b.Cursor()
			var stale [][]byte
			for k, _ := c.First(); k != nil && string(k) < string(max); k, _ = c.Next() {
				stale = append(stale, append([]byte(nil), k...))
			}
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// Close closes the database
func (p *Persist) Close() error {
	return p.db.Close()
}
