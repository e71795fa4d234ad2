// Package audit records every decision the engine makes, in memory for
// the status API and on disk as JSONL, CSV, and an optional SQLite store.
package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/logx"
)

// csvHeader is the fixed CSV column order. Appending to an existing file
// never rewrites the header, so the order must stay stable across releases.
var csvHeader = []string{
	"timestamp", "interface_id", "type", "trigger_reason", "state",
	"weighted_score", "factors", "raw_metrics", "health",
	"from_priority", "to_priority", "action_taken", "action_result", "notes",
}

// DecisionLogger appends decision records to the audit trail
type DecisionLogger struct {
	mu         sync.Mutex
	records    []*pkg.Decision
	maxRecords int
	jsonlPath  string
	csvPath    string
	store      *Store
	logger     *logx.Logger
}

// NewDecisionLogger creates a logger writing under dir. store may be nil
// to skip the SQLite copy.
func NewDecisionLogger(dir string, maxRecords int, store *Store, logger *logx.Logger) (*DecisionLogger, error) {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit dir: %w", err)
		}
	}
	dl := &DecisionLogger{
		maxRecords: maxRecords,
		store:      store,
		logger:     logger,
	}
	if dir != "" {
		dl.jsonlPath = filepath.Join(dir, "decisions.jsonl")
		dl.csvPath = filepath.Join(dir, "decisions.csv")
	}
	return dl, nil
}

// Record appends one decision to every configured sink. The in-memory
// copy always succeeds; a non-nil error means at least one durable sink
// failed and the caller should surface a maintenance decision next tick.
func (dl *DecisionLogger) Record(d *pkg.Decision) error {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.records = append(dl.records, d)
	if len(dl.records) > dl.maxRecords {
		dl.records = dl.records[len(dl.records)-dl.maxRecords:]
	}

	var firstErr error
	if dl.jsonlPath != "" {
		if err := dl.writeJSONL(d); err != nil {
			firstErr = err
		}
	}
	if dl.csvPath != "" {
		if err := dl.writeCSV(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if dl.store != nil {
		if err := dl.store.Insert(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil && dl.logger != nil {
		dl.logger.Error("audit write failed",
			"interface", d.InterfaceID, "type", d.Type, "error", firstErr)
	}
	return firstErr
}

// writeJSONL appends one record as a single JSON line
func (dl *DecisionLogger) writeJSONL(d *pkg.Decision) error {
	f, err := os.OpenFile(dl.jsonlPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// writeCSV appends one record, writing the header on first creation
func (dl *DecisionLogger) writeCSV(d *pkg.Decision) error {
	writeHeader := false
	if _, err := os.Stat(dl.csvPath); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(dl.csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}

	// Breach flags and raw metric values are JSON-encoded cells; the
	// per-metric detail survives in every durable sink, not just JSONL.
	factors, _ := json.Marshal(d.Factors)
	rawMetrics, _ := json.Marshal(d.RawMetrics)

	row := []string{
		d.Timestamp.UTC().Format(time.RFC3339),
		d.InterfaceID,
		d.Type,
		d.TriggerReason,
		d.State,
		strconv.FormatFloat(d.WeightedScore, 'f', 4, 64),
		string(factors),
		string(rawMetrics),
		d.Health,
		strconv.Itoa(d.FromPriority),
		strconv.Itoa(d.ToPriority),
		d.ActionTaken,
		d.ActionResult,
		d.Notes,
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Recent returns up to limit most recent decisions, newest last
func (dl *DecisionLogger) Recent(limit int) []*pkg.Decision {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if limit <= 0 || limit > len(dl.records) {
		limit = len(dl.records)
	}
	out := make([]*pkg.Decision, limit)
	copy(out, dl.records[len(dl.records)-limit:])
	return out
}

// RecentFor returns up to limit most recent decisions for one interface
func (dl *DecisionLogger) RecentFor(interfaceID string, limit int) []*pkg.Decision {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	var out []*pkg.Decision
	for i := len(dl.records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if dl.records[i].InterfaceID == interfaceID {
			out = append(out, dl.records[i])
		}
	}
	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Stats summarizes the in-memory window by decision type and trigger
func (dl *DecisionLogger) Stats() map[string]interface{} {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	byType := make(map[string]int)
	byTrigger := make(map[string]int)
	for _, d := range dl.records {
		byType[d.Type]++
		if d.TriggerReason != "" && d.TriggerReason != pkg.TriggerNone {
			byTrigger[d.TriggerReason]++
		}
	}
	return map[string]interface{}{
		"total":      len(dl.records),
		"by_type":    byType,
		"by_trigger": byTrigger,
	}
}
