// Package metrics exposes decision-engine state to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/logx"
)

// stateValues maps failover states onto a gauge scale, worst highest
var stateValues = map[string]float64{
	pkg.StatePrimary:        0,
	pkg.StateSoftDegraded:   1,
	pkg.StateStabilizing:    2,
	pkg.StateFailedOverSoft: 3,
	pkg.StateFailedOverHard: 4,
}

// Exporter registers linkward collectors and serves /metrics
type Exporter struct {
	registry *prometheus.Registry
	server   *http.Server
	logger   *logx.Logger

	weightedScore *prometheus.GaugeVec
	state         *prometheus.GaugeVec
	priority      *prometheus.GaugeVec
	decisions     *prometheus.CounterVec
	pushFailures  *prometheus.CounterVec
	tickDuration  prometheus.Histogram
}

// NewExporter creates an exporter with all collectors registered
func NewExporter(logger *logx.Logger) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		logger:   logger,
		weightedScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkward_weighted_score",
			Help: "Composite quality score per interface (0 worst, 1 best)",
		}, []string{"interface"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkward_failover_state",
			Help: "Failover state per interface (0 primary .. 4 failed over hard)",
		}, []string{"interface"}),
		priority: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkward_routing_priority",
			Help: "Routing metric currently applied per interface",
		}, []string{"interface"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkward_decisions_total",
			Help: "Decisions recorded, by type and trigger",
		}, []string{"type", "trigger"}),
		pushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkward_routing_push_failures_total",
			Help: "Failed routing priority pushes per interface",
		}, []string{"interface"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkward_tick_duration_seconds",
			Help:    "Wall time of one full evaluation tick",
			Buckets: prometheus.DefBuckets,
		}),
	}

	e.registry.MustRegister(e.weightedScore, e.state, e.priority,
		e.decisions, e.pushFailures, e.tickDuration)
	return e
}

// ObserveDecision updates collectors from one decision record; wired as
// an engine observer
func (e *Exporter) ObserveDecision(d *pkg.Decision) {
	e.weightedScore.WithLabelValues(d.InterfaceID).Set(d.WeightedScore)
	if v, ok := stateValues[d.State]; ok {
		e.state.WithLabelValues(d.InterfaceID).Set(v)
	}
	e.decisions.WithLabelValues(d.Type, d.TriggerReason).Inc()
	if d.ActionResult == pkg.ResultFailed {
		// a failed push leaves the old priority applied
		e.pushFailures.WithLabelValues(d.InterfaceID).Inc()
		e.priority.WithLabelValues(d.InterfaceID).Set(float64(d.FromPriority))
	} else {
		e.priority.WithLabelValues(d.InterfaceID).Set(float64(d.ToPriority))
	}
}

// ObserveTick records the duration of one evaluation tick
func (e *Exporter) ObserveTick(d time.Duration) {
	e.tickDuration.Observe(d.Seconds())
}

// Start serves /metrics on the given port until Stop is called
func (e *Exporter) Start(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	e.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics listener failed", "error", err)
		}
	}()
	e.logger.Info("metrics listener started", "port", port)
}

// Stop shuts the listener down
func (e *Exporter) Stop(ctx context.Context) {
	if e.server == nil {
		return
	}
	if err := e.server.Shutdown(ctx); err != nil {
		e.logger.Warn("metrics listener shutdown failed", "error", err)
	}
}
