package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/linkward/linkward/pkg"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      TEXT NOT NULL,
	interface_id   TEXT NOT NULL,
	type           TEXT NOT NULL,
	trigger_reason TEXT,
	state          TEXT,
	weighted_score REAL,
	health         TEXT,
	from_priority  INTEGER,
	to_priority    INTEGER,
	action_taken   TEXT,
	action_result  TEXT,
	factors        TEXT,
	raw_metrics    TEXT,
	notes          TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_iface_ts ON decisions(interface_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_decisions_type ON decisions(type);
`

// Store is the queryable SQLite copy of the audit trail
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the decision database
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=2000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create decisions schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert stores one decision record
func (s *Store) Insert(d *pkg.Decision) error {
	factors, _ := json.Marshal(d.Factors)
	metrics, _ := json.Marshal(d.RawMetrics)

	_, err := s.db.Exec(`INSERT INTO decisions
		(timestamp, interface_id, type, trigger_reason, state, weighted_score,
		 health, from_priority, to_priority, action_taken, action_result,
		 factors, raw_metrics, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Timestamp.UTC().Format(time.RFC3339Nano),
		d.InterfaceID, d.Type, d.TriggerReason, d.State, d.WeightedScore,
		d.Health, d.FromPriority, d.ToPriority, d.ActionTaken, d.ActionResult,
		string(factors), string(metrics), d.Notes)
	return err
}

// Query returns decisions for an interface since a time, oldest first.
// An empty interfaceID matches all interfaces; limit 0 means no limit.
func (s *Store) Query(interfaceID string, since time.Time, limit int) ([]*pkg.Decision, error) {
	q := `SELECT timestamp, interface_id, type, trigger_reason, state,
		weighted_score, health, from_priority, to_priority, action_taken,
		action_result, factors, raw_metrics, notes
		FROM decisions WHERE timestamp >= ?`
	args := []interface{}{since.UTC().Format(time.RFC3339Nano)}
	if interfaceID != "" {
		q += " AND interface_id = ?"
		args = append(args, interfaceID)
	}
	q += " ORDER BY timestamp ASC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*pkg.Decision
	for rows.Next() {
		var d pkg.Decision
		var ts, factors, metrics string
		if err := rows.Scan(&ts, &d.InterfaceID, &d.Type, &d.TriggerReason,
			&d.State, &d.WeightedScore, &d.Health, &d.FromPriority,
			&d.ToPriority, &d.ActionTaken, &d.ActionResult,
			&factors, &metrics, &d.Notes); err != nil {
			return nil, err
		}
		d.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if factors != "" && factors != "null" {
			_ = json.Unmarshal([]byte(factors), &d.Factors)
		}
		if metrics != "" && metrics != "null" {
			_ = json.Unmarshal([]byte(metrics), &d.RawMetrics)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// CountByType returns decision counts per type since a time
func (s *Store) CountByType(since time.Time) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT type, COUNT(*) FROM decisions WHERE timestamp >= ? GROUP BY type`,
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}

// RemoveBefore deletes records older than the cutoff
func (s *Store) RemoveBefore(cutoff time.Time) error {
	_, err := s.db.Exec(`DELETE FROM decisions WHERE timestamp < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
