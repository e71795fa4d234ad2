// Package collector gathers raw metrics and diagnostics per interface
// class. Every collector emits the class's core metrics on every snapshot;
// readings it could not obtain are emitted with nil values so scoring sees
// them as stale instead of silently absent.
package collector

import (
	"context"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/logx"
)

const defaultPingTarget = "8.8.8.8"
const probesPerTarget = 3

// BaseCollector provides connectivity probing shared by all classes.
// ICMP is frequently blocked or unavailable to an unprivileged daemon,
// so reachability is probed with TCP connect timing instead.
type BaseCollector struct {
	mu             sync.Mutex
	logger         *logx.Logger
	targets        []string
	timeout        time.Duration
	historySize    int
	latencyHistory map[string][]float64
}

// NewBaseCollector creates the shared probing layer
func NewBaseCollector(targets []string, timeout time.Duration, logger *logx.Logger) *BaseCollector {
	if len(targets) == 0 {
		targets = []string{defaultPingTarget}
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &BaseCollector{
		logger:         logger,
		targets:        targets,
		timeout:        timeout,
		historySize:    10,
		latencyHistory: make(map[string][]float64),
	}
}

// Probe measures latency, loss, and jitter toward the configured targets.
// Values are nil when nothing could be measured. Loss is floored at 0.01
// so a clean probe run is distinguishable from the zero stale sentinel.
func (bc *BaseCollector) Probe(ctx context.Context, interfaceID string) (latency, loss, jitter *float64) {
	var latencies []float64
	attempts, failures := 0, 0

	for _, target := range bc.targets {
		for i := 0; i < probesPerTarget; i++ {
			if ctx.Err() != nil {
				break
			}
			attempts++
			ms, err := bc.connectTime(target)
			if err != nil {
				failures++
				continue
			}
			latencies = append(latencies, ms)
		}
	}

	if attempts == 0 {
		return nil, nil, nil
	}

	lossPct := float64(failures) / float64(attempts) * 100
	if lossPct < 0.01 {
		lossPct = 0.01
	}
	loss = &lossPct

	if len(latencies) > 0 {
		var sum float64
		for _, v := range latencies {
			sum += v
		}
		avg := sum / float64(len(latencies))
		latency = &avg

		j := bc.updateJitter(interfaceID, avg)
		jitter = &j
	}
	return latency, loss, jitter
}

// connectTime measures a single TCP connect toward target:80
func (bc *BaseCollector) connectTime(target string) (float64, error) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(target, "80"), bc.timeout)
	if err != nil {
		return 0, err
	}
	conn.Close()
	return float64(time.Since(start).Microseconds()) / 1000.0, nil
}

// updateJitter keeps a rolling latency window per interface and returns
// the standard deviation, floored just above zero
func (bc *BaseCollector) updateJitter(interfaceID string, latency float64) float64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	history := append(bc.latencyHistory[interfaceID], latency)
	if len(history) > bc.historySize {
		history = history[len(history)-bc.historySize:]
	}
	bc.latencyHistory[interfaceID] = history

	if len(history) < 2 {
		return 0.01
	}
	var sum float64
	for _, v := range history {
		sum += v
	}
	mean := sum / float64(len(history))
	var variance float64
	for _, v := range history {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(history))

	j := math.Sqrt(variance)
	if j < 0.01 {
		j = 0.01
	}
	return j
}

// sample builds one metric sample, nil value allowed
func sample(interfaceID, name string, value *float64, at time.Time) pkg.MetricSample {
	return pkg.MetricSample{
		InterfaceID: interfaceID,
		Name:        name,
		Value:       value,
		CollectedAt: at,
	}
}

// targetsFor resolves the probe target list for one interface
func targetsFor(iface *pkg.Interface) []string {
	if t, ok := iface.Config["ping_target"]; ok && t != "" {
		return []string{t}
	}
	return nil
}

// validate rejects interfaces a collector cannot work with
func validate(iface *pkg.Interface) error {
	if iface == nil {
		return fmt.Errorf("interface cannot be nil")
	}
	if iface.ID == "" {
		return fmt.Errorf("interface id cannot be empty")
	}
	return nil
}
