// Package decision runs the per-tick evaluation pipeline and the failover
// state machine for every tracked interface.
package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/audit"
	"github.com/linkward/linkward/pkg/health"
	"github.com/linkward/linkward/pkg/killswitch"
	"github.com/linkward/linkward/pkg/logx"
	"github.com/linkward/linkward/pkg/scoring"
	"github.com/linkward/linkward/pkg/telem"
	"github.com/linkward/linkward/pkg/uci"
)

// CollectorFactory builds a collector for one interface
type CollectorFactory func(iface *pkg.Interface) (pkg.Collector, error)

// Observer is notified of every decision after it has been recorded
type Observer func(*pkg.Decision)

// Engine evaluates all tracked interfaces once per tick. Each interface
// owns its state machine record; ticks evaluate interfaces concurrently
// but never the same interface twice at once.
type Engine struct {
	mu     sync.RWMutex
	cfg    *uci.Config
	logger *logx.Logger

	store    *telem.Store
	auditLog *audit.DecisionLogger
	assessor *health.Assessor

	interfaces  map[string]*pkg.Interface
	states      map[string]*pkg.FailoverState
	collectors  map[string]pkg.Collector
	aggregators map[string]*scoring.Aggregator
	killers     map[string]*killswitch.Evaluator

	// recoverFrom remembers which failed-over state a STABILIZING
	// interface entered recovery from, so slips revert correctly
	recoverFrom map[string]string

	// pendingMaintenance marks interfaces whose previous audit write
	// failed; their next no-op evaluation is surfaced as maintenance
	pendingMaintenance map[string]bool

	trends    map[string]*Trend
	observers []Observer

	factory CollectorFactory

	callTimeout time.Duration
	tickCount   uint64
}

// NewEngine creates an engine with no interfaces; AddInterface wires them
func NewEngine(cfg *uci.Config, logger *logx.Logger, store *telem.Store, auditLog *audit.DecisionLogger, factory CollectorFactory) *Engine {
	return &Engine{
		cfg:                cfg,
		logger:             logger,
		store:              store,
		auditLog:           auditLog,
		assessor:           health.NewAssessor(cfg.WarningWindowS),
		interfaces:         make(map[string]*pkg.Interface),
		states:             make(map[string]*pkg.FailoverState),
		collectors:         make(map[string]pkg.Collector),
		aggregators:        make(map[string]*scoring.Aggregator),
		killers:            make(map[string]*killswitch.Evaluator),
		recoverFrom:        make(map[string]string),
		pendingMaintenance: make(map[string]bool),
		trends:             make(map[string]*Trend),
		factory:            factory,
		callTimeout:        time.Duration(cfg.CallTimeoutS) * time.Second,
	}
}

// AddInterface starts tracking an interface in PRIMARY state
func (e *Engine) AddInterface(iface *pkg.Interface) error {
	collector, err := e.factory(iface)
	if err != nil {
		return fmt.Errorf("no collector for %s (%s): %w", iface.ID, iface.Class, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.interfaces[iface.ID] = iface
	e.collectors[iface.ID] = collector
	e.states[iface.ID] = &pkg.FailoverState{
		InterfaceID:     iface.ID,
		State:           pkg.StatePrimary,
		LastTransition:  time.Now(),
		CurrentPriority: e.cfg.MetricGood,
	}

	profile := e.cfg.ProfileFor(iface.Class)
	if _, ok := e.aggregators[iface.Class]; !ok {
		e.aggregators[iface.Class] = scoring.NewAggregator(profile)
		e.killers[iface.Class] = killswitch.NewEvaluator(profile)
	}

	e.logger.Info("tracking interface", "interface", iface.ID, "class", iface.Class)
	return nil
}

// RemoveInterface stops tracking an interface
func (e *Engine) RemoveInterface(interfaceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.interfaces, interfaceID)
	delete(e.collectors, interfaceID)
	delete(e.states, interfaceID)
	delete(e.recoverFrom, interfaceID)
	delete(e.pendingMaintenance, interfaceID)
	delete(e.trends, interfaceID)
}

// AddObserver registers a decision observer (metrics, mqtt)
func (e *Engine) AddObserver(obs Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, obs)
}

// StateFor returns a copy of one interface's failover state
func (e *Engine) StateFor(interfaceID string) (pkg.FailoverState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.states[interfaceID]
	if !ok {
		return pkg.FailoverState{}, false
	}
	return *st, true
}

// States returns a copy of every failover state
func (e *Engine) States() map[string]pkg.FailoverState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]pkg.FailoverState, len(e.states))
	for id, st := range e.states {
		out[id] = *st
	}
	return out
}

// TrendFor returns the latest quality trend for an interface, or nil
func (e *Engine) TrendFor(interfaceID string) *Trend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trends[interfaceID]
}

// Tick evaluates every tracked interface exactly once and emits exactly
// one decision per interface. Interfaces are evaluated concurrently;
// routing pushes for the same interface are serialized by construction
// since each interface is evaluated by a single goroutine per tick.
func (e *Engine) Tick(ctx context.Context, ctrl pkg.RoutingController) {
	e.mu.RLock()
	ifaces := make([]*pkg.Interface, 0, len(e.interfaces))
	for _, iface := range e.interfaces {
		ifaces = append(ifaces, iface)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, iface := range ifaces {
		wg.Add(1)
		go func(iface *pkg.Interface) {
			defer wg.Done()
			e.evaluateInterface(ctx, ctrl, iface)
		}(iface)
	}
	wg.Wait()

	e.mu.Lock()
	e.tickCount++
	e.mu.Unlock()
}

// evaluateInterface runs the full pipeline for one interface:
// collect -> kill switch -> health -> score -> state machine ->
// routing push -> audit record.
func (e *Engine) evaluateInterface(ctx context.Context, ctrl pkg.RoutingController, iface *pkg.Interface) {
	// Snapshot everything Reconfigure may swap mid-tick; the whole tick
	// for this interface runs against one consistent configuration.
	e.mu.RLock()
	cfg := e.cfg
	callTimeout := e.callTimeout
	assessor := e.assessor
	killer := e.killers[iface.Class]
	agg := e.aggregators[iface.Class]
	e.mu.RUnlock()

	collectCtx, cancel := context.WithTimeout(ctx, callTimeout)
	snap := e.collect(collectCtx, iface)
	cancel()

	killed, killReason := killer.Evaluate(snap)
	var diag *pkg.Diagnostics
	if snap != nil {
		diag = snap.Diagnostics
	}
	h := assessor.Assess(iface.ID, diag)
	cs := agg.Score(snap)

	ev := &evaluation{score: cs, health: h, killed: killed, killReason: killReason}

	e.mu.Lock()
	st := e.states[iface.ID]
	if st == nil {
		e.mu.Unlock()
		return
	}
	out := transition(st, ev, thresholdsFrom(cfg), e.recoverFrom[iface.ID])

	prevState := st.State
	if out.nextState != prevState {
		if out.nextState == pkg.StateStabilizing {
			e.recoverFrom[iface.ID] = prevState
		}
		st.State = out.nextState
		st.LastTransition = cs.Timestamp
	}
	if out.resetCounter {
		st.StabilityCounter = 0
	} else if out.countStep {
		st.StabilityCounter++
	}

	desired := priorityFor(st.State, cfg)
	fromPriority := st.CurrentPriority
	pendingMaint := e.pendingMaintenance[iface.ID]
	e.mu.Unlock()

	actionTaken, actionResult := e.push(ctx, ctrl, iface, st, fromPriority, desired, cfg.MetricGood, callTimeout)

	decType := out.decisionType
	trigger := out.trigger
	if pendingMaint && decType == pkg.DecisionEvaluation {
		decType = pkg.DecisionMaintenance
		trigger = pkg.TriggerAuditWriteError
	}

	d := &pkg.Decision{
		Timestamp:     cs.Timestamp,
		InterfaceID:   iface.ID,
		Type:          decType,
		TriggerReason: trigger,
		State:         st.State,
		WeightedScore: cs.WeightedScore,
		Factors:       cs.Factors,
		RawMetrics:    cs.RawMetrics,
		Health:        h.Status,
		FromPriority:  fromPriority,
		ToPriority:    desired,
		ActionTaken:   actionTaken,
		ActionResult:  actionResult,
	}
	if prevState != st.State {
		d.Notes = fmt.Sprintf("state %s -> %s", prevState, st.State)
	}
	e.attachTrend(d)

	e.record(d)

	if prevState != st.State {
		e.logger.Info("state transition",
			"interface", iface.ID, "from", prevState, "to", st.State,
			"trigger", trigger, "score", cs.WeightedScore)
	} else if e.logger.Verbose() {
		e.logger.Debug("evaluated interface",
			"interface", iface.ID, "state", st.State,
			"score", cs.WeightedScore, "health", h.Status)
	}

	e.storeSample(cs, st.State, h.Status, cfg.Predictive)
}

// collect queries the interface collector, degrading to an empty
// snapshot on failure so the fail-safe scoring path takes over
func (e *Engine) collect(ctx context.Context, iface *pkg.Interface) *pkg.Snapshot {
	e.mu.RLock()
	collector := e.collectors[iface.ID]
	e.mu.RUnlock()
	if collector == nil {
		return &pkg.Snapshot{InterfaceID: iface.ID, CollectedAt: time.Now()}
	}

	snap, err := collector.Collect(ctx, iface)
	if err != nil || snap == nil {
		if err != nil {
			e.logger.Warn("collector failed", "interface", iface.ID, "error", err)
		}
		return &pkg.Snapshot{InterfaceID: iface.ID, CollectedAt: time.Now()}
	}
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = time.Now()
	}
	return snap
}

// push applies the desired routing priority. A failed push leaves the
// cached priority untouched, so the next tick recomputes the same
// desired value and retries naturally.
func (e *Engine) push(ctx context.Context, ctrl pkg.RoutingController, iface *pkg.Interface, st *pkg.FailoverState, from, desired, metricGood int, callTimeout time.Duration) (string, string) {
	if desired == from {
		return pkg.ActionNone, pkg.ResultSkipped
	}

	pushCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	action := pkg.ActionMetricIncrease
	if desired == metricGood {
		action = pkg.ActionMetricRestore
	}

	applied, err := ctrl.ApplyPriority(pushCtx, iface.ID, desired)
	if err != nil {
		e.logger.Error("routing push failed",
			"interface", iface.ID, "priority", desired, "error", err)
		return action, pkg.ResultFailed
	}
	if !applied {
		return pkg.ActionNone, pkg.ResultSkipped
	}

	e.mu.Lock()
	st.PreviousPriority = st.CurrentPriority
	st.CurrentPriority = desired
	e.mu.Unlock()
	return action, pkg.ResultSuccess
}

// record appends the decision to the audit trail and notifies observers.
// An audit write failure flags the interface for a maintenance decision
// on its next quiet tick.
func (e *Engine) record(d *pkg.Decision) {
	err := e.auditLog.Record(d)

	e.mu.Lock()
	if err != nil {
		e.pendingMaintenance[d.InterfaceID] = true
	} else if d.Type == pkg.DecisionMaintenance && d.TriggerReason == pkg.TriggerAuditWriteError {
		delete(e.pendingMaintenance, d.InterfaceID)
	}
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()

	for _, obs := range observers {
		obs(d)
	}
}

// storeSample records the scoring result in telemetry and refreshes the
// quality trend used for predictive context
func (e *Engine) storeSample(cs *pkg.CompositeScore, state, healthStatus string, predictive bool) {
	if e.store == nil {
		return
	}
	if err := e.store.AddSample(telem.SampleFromScore(cs, state, healthStatus)); err != nil {
		e.logger.Warn("telemetry store failed", "interface", cs.InterfaceID, "error", err)
	}

	if predictive {
		samples := e.store.GetSamples(cs.InterfaceID, time.Now().Add(-trendWindow))
		if trend := computeTrend(cs.InterfaceID, samples); trend != nil {
			e.mu.Lock()
			e.trends[cs.InterfaceID] = trend
			e.mu.Unlock()
		}
	}
}

// attachTrend adds the latest slope estimates to the decision context
func (e *Engine) attachTrend(d *pkg.Decision) {
	e.mu.RLock()
	trend := e.trends[d.InterfaceID]
	e.mu.RUnlock()
	if trend == nil {
		return
	}
	if d.Context == nil {
		d.Context = make(map[string]interface{})
	}
	d.Context["latency_slope_per_min"] = trend.LatencySlopePerMin
	d.Context["loss_slope_per_min"] = trend.LossSlopePerMin
	d.Context["score_slope_per_min"] = trend.ScoreSlopePerMin
	d.Context["trend_samples"] = trend.Samples
	if trend.Degrading() {
		d.Context["degrading"] = true
		if d.State == pkg.StatePrimary {
			e.logger.Warn("quality trending down on primary",
				"interface", d.InterfaceID,
				"score_slope_per_min", trend.ScoreSlopePerMin,
				"latency_slope_per_min", trend.LatencySlopePerMin)
		}
	}
}

// TickCount returns how many ticks have completed
func (e *Engine) TickCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tickCount
}

// Reconfigure swaps in a validated configuration on SIGHUP. Scoring
// profiles are rebuilt; per-interface state survives the reload.
func (e *Engine) Reconfigure(cfg *uci.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.callTimeout = time.Duration(cfg.CallTimeoutS) * time.Second
	e.assessor = health.NewAssessor(cfg.WarningWindowS)
	e.aggregators = make(map[string]*scoring.Aggregator)
	e.killers = make(map[string]*killswitch.Evaluator)
	for _, iface := range e.interfaces {
		if _, ok := e.aggregators[iface.Class]; !ok {
			profile := cfg.ProfileFor(iface.Class)
			e.aggregators[iface.Class] = scoring.NewAggregator(profile)
			e.killers[iface.Class] = killswitch.NewEvaluator(profile)
		}
	}
}
