package decision

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/audit"
	"github.com/linkward/linkward/pkg/logx"
	"github.com/linkward/linkward/pkg/telem"
	"github.com/linkward/linkward/pkg/uci"
)

func floatPtr(f float64) *float64 { return &f }

func boolPtr(b bool) *bool { return &b }

// mockCollector serves whatever snapshot the test staged last
type mockCollector struct {
	mu    sync.Mutex
	snap  *pkg.Snapshot
	class string
	err   error
}

func (m *mockCollector) Collect(ctx context.Context, iface *pkg.Interface) (*pkg.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.snap, nil
}

func (m *mockCollector) Class() string { return m.class }

func (m *mockCollector) set(snap *pkg.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
}

// mockRoutingController records every priority push
type mockRoutingController struct {
	mu         sync.Mutex
	priorities map[string]int
	calls      int
	failNext   bool
}

func newMockController() *mockRoutingController {
	return &mockRoutingController{priorities: make(map[string]int)}
}

func (m *mockRoutingController) ApplyPriority(ctx context.Context, interfaceID string, priority int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failNext {
		m.failNext = false
		return false, context.DeadlineExceeded
	}
	if m.priorities[interfaceID] == priority {
		return false, nil
	}
	m.priorities[interfaceID] = priority
	return true, nil
}

func (m *mockRoutingController) CurrentPriority(interfaceID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.priorities[interfaceID]
	return p, ok
}

func (m *mockRoutingController) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testConfig(t *testing.T) *uci.Config {
	t.Helper()
	cfg, err := uci.LoadConfig(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}
	cfg.Predictive = false // tests that need trends enable it explicitly
	return cfg
}

type testEnv struct {
	engine     *Engine
	ctrl       *mockRoutingController
	auditLog   *audit.DecisionLogger
	collectors map[string]*mockCollector
}

func newTestEnv(t *testing.T, cfg *uci.Config, ifaces ...*pkg.Interface) *testEnv {
	t.Helper()
	logger := logx.NewLogger("error", "engine-test")
	store, err := telem.NewStore(24, 16, "")
	if err != nil {
		t.Fatalf("Failed to create telem store: %v", err)
	}
	auditLog, err := audit.NewDecisionLogger("", 1000, nil, logger)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}

	env := &testEnv{
		ctrl:       newMockController(),
		auditLog:   auditLog,
		collectors: make(map[string]*mockCollector),
	}
	factory := func(iface *pkg.Interface) (pkg.Collector, error) {
		mc := &mockCollector{class: iface.Class}
		env.collectors[iface.ID] = mc
		return mc, nil
	}
	env.engine = NewEngine(cfg, logger, store, auditLog, factory)
	for _, iface := range ifaces {
		if err := env.engine.AddInterface(iface); err != nil {
			t.Fatalf("AddInterface failed: %v", err)
		}
		env.ctrl.priorities[iface.ID] = cfg.MetricGood
	}
	return env
}

func starlinkIface() *pkg.Interface {
	return &pkg.Interface{ID: "sat0", Class: pkg.ClassStarlink, Iface: "wan", Mwan3Name: "member1", Weight: 100}
}

func healthyDiag() *pkg.Diagnostics {
	passed := "PASSED"
	return &pkg.Diagnostics{HardwareSelfTest: &passed, ThermalThrottle: boolPtr(false)}
}

func snapWith(id string, metrics map[string]*float64, diag *pkg.Diagnostics) *pkg.Snapshot {
	snap := &pkg.Snapshot{InterfaceID: id, CollectedAt: time.Now(), Diagnostics: diag}
	for name, v := range metrics {
		snap.Samples = append(snap.Samples, pkg.MetricSample{
			InterfaceID: id, Name: name, Value: v, CollectedAt: snap.CollectedAt,
		})
	}
	return snap
}

func goodStarlinkSnap() *pkg.Snapshot {
	return snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS:      floatPtr(55),
		pkg.MetricLossPct:        floatPtr(0.1),
		pkg.MetricObstructionPct: floatPtr(0.5),
		pkg.MetricJitterMS:       floatPtr(6),
		pkg.MetricSNRDB:          floatPtr(9),
	}, healthyDiag())
}

func lastDecision(t *testing.T, env *testEnv, id string) *pkg.Decision {
	t.Helper()
	recent := env.auditLog.RecentFor(id, 1)
	if len(recent) == 0 {
		t.Fatalf("No decision recorded for %s", id)
	}
	return recent[len(recent)-1]
}

func TestHealthyInterfaceStaysPrimary(t *testing.T) {
	env := newTestEnv(t, testConfig(t), starlinkIface())
	env.collectors["sat0"].set(goodStarlinkSnap())

	for i := 0; i < 3; i++ {
		env.engine.Tick(context.Background(), env.ctrl)
	}

	st, _ := env.engine.StateFor("sat0")
	if st.State != pkg.StatePrimary {
		t.Fatalf("Expected primary, got %s", st.State)
	}
	d := lastDecision(t, env, "sat0")
	if d.Type != pkg.DecisionEvaluation || d.ActionTaken != pkg.ActionNone {
		t.Errorf("Expected quiet evaluation, got type=%s action=%s", d.Type, d.ActionTaken)
	}
	if env.ctrl.callCount() != 0 {
		t.Errorf("Expected no routing pushes while healthy, got %d", env.ctrl.callCount())
	}
	t.Logf("✅ Healthy interface produced only no-op evaluations")
}

func TestKillSwitchHardFailover(t *testing.T) {
	cfg := testConfig(t)
	env := newTestEnv(t, cfg, starlinkIface())

	// Packet loss far beyond the kill threshold, everything else clean
	env.collectors["sat0"].set(snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS:      floatPtr(60),
		pkg.MetricLossPct:        floatPtr(22),
		pkg.MetricObstructionPct: floatPtr(0.5),
		pkg.MetricJitterMS:       floatPtr(6),
		pkg.MetricSNRDB:          floatPtr(9),
	}, healthyDiag()))

	env.engine.Tick(context.Background(), env.ctrl)

	st, _ := env.engine.StateFor("sat0")
	if st.State != pkg.StateFailedOverHard {
		t.Fatalf("Expected failed_over_hard, got %s", st.State)
	}
	d := lastDecision(t, env, "sat0")
	if d.Type != pkg.DecisionHardFailover {
		t.Errorf("Expected hard_failover decision, got %s", d.Type)
	}
	if d.TriggerReason != "kill_switch:loss_pct" {
		t.Errorf("Expected kill_switch:loss_pct trigger, got %s", d.TriggerReason)
	}
	if d.ActionTaken != pkg.ActionMetricIncrease || d.ActionResult != pkg.ResultSuccess {
		t.Errorf("Expected successful metric increase, got %s/%s", d.ActionTaken, d.ActionResult)
	}
	if d.FromPriority != cfg.MetricGood || d.ToPriority != cfg.MetricBad {
		t.Errorf("Expected priority %d->%d, got %d->%d",
			cfg.MetricGood, cfg.MetricBad, d.FromPriority, d.ToPriority)
	}
	if p, _ := env.ctrl.CurrentPriority("sat0"); p != cfg.MetricBad {
		t.Errorf("Routing layer not updated, priority is %d", p)
	}
	t.Logf("✅ Kill switch drove an immediate hard failover with audit trail")
}

func TestPredictiveRebootOverridesPerfectMetrics(t *testing.T) {
	env := newTestEnv(t, testConfig(t), starlinkIface())

	// Flawless metrics, but a reboot scheduled two minutes out
	when := time.Now().Add(2 * time.Minute).UTC().Format(time.RFC3339)
	diag := healthyDiag()
	diag.RebootScheduledUTC = &when
	snap := goodStarlinkSnap()
	snap.Diagnostics = diag
	env.collectors["sat0"].set(snap)

	env.engine.Tick(context.Background(), env.ctrl)

	st, _ := env.engine.StateFor("sat0")
	if st.State != pkg.StateFailedOverHard {
		t.Fatalf("Expected hard failover ahead of reboot, got %s", st.State)
	}
	d := lastDecision(t, env, "sat0")
	if d.Type != pkg.DecisionHardFailover || d.TriggerReason != pkg.TriggerPredictiveReboot {
		t.Errorf("Expected predictive_reboot hard failover, got %s/%s", d.Type, d.TriggerReason)
	}
	if d.WeightedScore < 0.9 {
		t.Errorf("Metrics should still have scored high, got %f", d.WeightedScore)
	}
	t.Logf("✅ Scheduled reboot preempted perfect metrics")
}

func TestPredictiveRebootBeatsKillSwitch(t *testing.T) {
	env := newTestEnv(t, testConfig(t), starlinkIface())

	// Both rule 1 and rule 2 fire; rule 1 must name the trigger
	when := time.Now().Add(time.Minute).UTC().Format(time.RFC3339)
	diag := healthyDiag()
	diag.RebootScheduledUTC = &when
	env.collectors["sat0"].set(snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS: floatPtr(60),
		pkg.MetricLossPct:   floatPtr(22),
	}, diag))

	env.engine.Tick(context.Background(), env.ctrl)

	d := lastDecision(t, env, "sat0")
	if d.TriggerReason != pkg.TriggerPredictiveReboot {
		t.Errorf("Expected predictive_reboot to win precedence, got %s", d.TriggerReason)
	}
}

func TestCollectorFailureIsHardFailover(t *testing.T) {
	env := newTestEnv(t, testConfig(t), starlinkIface())
	env.collectors["sat0"].err = context.DeadlineExceeded

	env.engine.Tick(context.Background(), env.ctrl)

	st, _ := env.engine.StateFor("sat0")
	if st.State != pkg.StateFailedOverHard {
		t.Fatalf("Unreachable device must fail over hard, got %s", st.State)
	}
	d := lastDecision(t, env, "sat0")
	if d.TriggerReason != pkg.TriggerHardwareHealth {
		t.Errorf("Expected hardware_health trigger, got %s", d.TriggerReason)
	}
	if d.Health != pkg.HealthUnknown {
		t.Errorf("Expected unknown health, got %s", d.Health)
	}
	if d.WeightedScore != 0.0 {
		t.Errorf("Expected fail-safe zero score, got %f", d.WeightedScore)
	}
	t.Logf("✅ Collector failure degraded to zero score and unknown health")
}

func TestSingleBreachSoftFailover(t *testing.T) {
	cfg := testConfig(t)
	env := newTestEnv(t, cfg, starlinkIface())

	// Latency above its breach threshold but the composite score still
	// decent: one quality factor alone must trigger a soft failover
	env.collectors["sat0"].set(snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS:      floatPtr(300),
		pkg.MetricLossPct:        floatPtr(0.1),
		pkg.MetricObstructionPct: floatPtr(0.5),
		pkg.MetricJitterMS:       floatPtr(6),
		pkg.MetricSNRDB:          floatPtr(9),
	}, healthyDiag()))

	env.engine.Tick(context.Background(), env.ctrl)

	st, _ := env.engine.StateFor("sat0")
	if st.State != pkg.StateFailedOverSoft {
		t.Fatalf("Expected failed_over_soft, got %s", st.State)
	}
	d := lastDecision(t, env, "sat0")
	if d.Type != pkg.DecisionSoftFailover || d.TriggerReason != pkg.TriggerSingleQuality {
		t.Errorf("Expected soft_failover/single_quality_issue, got %s/%s", d.Type, d.TriggerReason)
	}
	if !d.Factors[pkg.MetricLatencyMS] {
		t.Error("Latency breach flag missing from decision record")
	}
	if d.WeightedScore < cfg.FailoverThreshold {
		t.Errorf("Score %f should be above the failover threshold in this scenario", d.WeightedScore)
	}
}

func TestMultipleBreachesHardFailover(t *testing.T) {
	env := newTestEnv(t, testConfig(t), starlinkIface())

	// Three breached quality factors with hard_fail_count=3
	env.collectors["sat0"].set(snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS:      floatPtr(300),
		pkg.MetricLossPct:        floatPtr(7),
		pkg.MetricObstructionPct: floatPtr(12),
		pkg.MetricJitterMS:       floatPtr(6),
		pkg.MetricSNRDB:          floatPtr(9),
	}, healthyDiag()))

	env.engine.Tick(context.Background(), env.ctrl)

	st, _ := env.engine.StateFor("sat0")
	if st.State != pkg.StateFailedOverHard {
		t.Fatalf("Expected failed_over_hard, got %s", st.State)
	}
	d := lastDecision(t, env, "sat0")
	if d.TriggerReason != pkg.TriggerMultipleCritical {
		t.Errorf("Expected multiple_critical_issues, got %s", d.TriggerReason)
	}
}

func TestHysteresisPreventsFlapping(t *testing.T) {
	cfg := testConfig(t)
	env := newTestEnv(t, cfg, starlinkIface())

	// Fail over hard first
	env.collectors["sat0"].set(snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS: floatPtr(60),
		pkg.MetricLossPct:   floatPtr(22),
	}, healthyDiag()))
	env.engine.Tick(context.Background(), env.ctrl)

	// Metrics hover between failover (0.5) and recovery (0.7): good
	// enough not to be a problem, not good enough to recover
	env.collectors["sat0"].set(snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS:      floatPtr(230), // score ~0.6, below breach threshold
		pkg.MetricLossPct:        floatPtr(3.5),
		pkg.MetricObstructionPct: floatPtr(7),
		pkg.MetricJitterMS:       floatPtr(40),
		pkg.MetricSNRDB:          floatPtr(6),
	}, healthyDiag()))

	callsAfterFailover := env.ctrl.callCount()
	for i := 0; i < 10; i++ {
		env.engine.Tick(context.Background(), env.ctrl)
		st, _ := env.engine.StateFor("sat0")
		if st.State != pkg.StateFailedOverHard {
			t.Fatalf("Tick %d: flapped to %s in the hysteresis band", i, st.State)
		}
	}
	if env.ctrl.callCount() != callsAfterFailover {
		t.Errorf("Routing pushed %d extra times inside the hysteresis band",
			env.ctrl.callCount()-callsAfterFailover)
	}
	t.Logf("✅ Scores inside the hysteresis band caused no state changes")
}

func TestRecoveryRequiresStability(t *testing.T) {
	cfg := testConfig(t)
	env := newTestEnv(t, cfg, starlinkIface())
	ctx := context.Background()

	// Hard failover
	env.collectors["sat0"].set(snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS: floatPtr(60),
		pkg.MetricLossPct:   floatPtr(22),
	}, healthyDiag()))
	env.engine.Tick(ctx, env.ctrl)

	// Recovery-grade metrics
	env.collectors["sat0"].set(goodStarlinkSnap())

	// First good tick enters STABILIZING
	env.engine.Tick(ctx, env.ctrl)
	st, _ := env.engine.StateFor("sat0")
	if st.State != pkg.StateStabilizing {
		t.Fatalf("Expected stabilizing, got %s", st.State)
	}
	if d := lastDecision(t, env, "sat0"); d.TriggerReason != pkg.TriggerRecoveryMet {
		t.Errorf("Expected recovery_threshold_met, got %s", d.TriggerReason)
	}

	// Four more good ticks count up but do not restore yet
	for i := 0; i < cfg.StabilityChecks-1; i++ {
		env.engine.Tick(ctx, env.ctrl)
		st, _ = env.engine.StateFor("sat0")
		if i < cfg.StabilityChecks-2 && st.State != pkg.StateStabilizing {
			t.Fatalf("Good tick %d: expected still stabilizing, got %s", i, st.State)
		}
	}

	// The final good tick restores
	if st.State != pkg.StatePrimary {
		env.engine.Tick(ctx, env.ctrl)
		st, _ = env.engine.StateFor("sat0")
	}
	if st.State != pkg.StatePrimary {
		t.Fatalf("Expected primary after stability window, got %s", st.State)
	}
	d := lastDecision(t, env, "sat0")
	if d.Type != pkg.DecisionRestore || d.TriggerReason != pkg.TriggerQualityImproved {
		t.Errorf("Expected restore/quality_improved, got %s/%s", d.Type, d.TriggerReason)
	}
	if d.ActionTaken != pkg.ActionMetricRestore || d.ActionResult != pkg.ResultSuccess {
		t.Errorf("Expected metric_restore success, got %s/%s", d.ActionTaken, d.ActionResult)
	}
	if p, _ := env.ctrl.CurrentPriority("sat0"); p != cfg.MetricGood {
		t.Errorf("Expected restored priority %d, got %d", cfg.MetricGood, p)
	}
	t.Logf("✅ Restore required the full stability window")
}

func TestStabilityCounterResetsOnSlip(t *testing.T) {
	cfg := testConfig(t)
	env := newTestEnv(t, cfg, starlinkIface())
	ctx := context.Background()

	// Fail over, then start recovering
	env.collectors["sat0"].set(snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS: floatPtr(60),
		pkg.MetricLossPct:   floatPtr(22),
	}, healthyDiag()))
	env.engine.Tick(ctx, env.ctrl)

	env.collectors["sat0"].set(goodStarlinkSnap())
	env.engine.Tick(ctx, env.ctrl) // enters stabilizing
	for i := 0; i < cfg.StabilityChecks-1; i++ {
		env.engine.Tick(ctx, env.ctrl)
	}
	st, _ := env.engine.StateFor("sat0")
	if st.State != pkg.StateStabilizing || st.StabilityCounter != cfg.StabilityChecks-1 {
		t.Fatalf("Setup failed: state=%s counter=%d", st.State, st.StabilityCounter)
	}

	// One bad evaluation at counter 4 throws the recovery away
	env.collectors["sat0"].set(snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS: floatPtr(300),
		pkg.MetricLossPct:   floatPtr(0.1),
	}, healthyDiag()))
	env.engine.Tick(ctx, env.ctrl)

	st, _ = env.engine.StateFor("sat0")
	if st.State != pkg.StateFailedOverHard {
		t.Fatalf("Expected revert to failed_over_hard, got %s", st.State)
	}
	if st.StabilityCounter != 0 {
		t.Errorf("Expected counter reset, got %d", st.StabilityCounter)
	}

	// Recovery starts over from zero
	env.collectors["sat0"].set(goodStarlinkSnap())
	env.engine.Tick(ctx, env.ctrl)
	st, _ = env.engine.StateFor("sat0")
	if st.State != pkg.StateStabilizing || st.StabilityCounter != 0 {
		t.Errorf("Expected fresh stabilizing at 0, got %s counter=%d", st.State, st.StabilityCounter)
	}
	t.Logf("✅ A single slip at counter %d reset recovery completely", cfg.StabilityChecks-1)
}

func TestOneDecisionPerInterfacePerTick(t *testing.T) {
	cfg := testConfig(t)
	ifaces := []*pkg.Interface{
		starlinkIface(),
		{ID: "cell0", Class: pkg.ClassCellular, Iface: "wwan", Mwan3Name: "member2"},
		{ID: "wifi0", Class: pkg.ClassWiFi, Iface: "wlan", Mwan3Name: "member3"},
	}
	env := newTestEnv(t, cfg, ifaces...)

	env.collectors["sat0"].set(goodStarlinkSnap())
	env.collectors["cell0"].set(snapWith("cell0", map[string]*float64{
		pkg.MetricLatencyMS: floatPtr(120),
		pkg.MetricLossPct:   floatPtr(22), // kill switch
	}, healthyDiag()))
	env.collectors["wifi0"].set(snapWith("wifi0", map[string]*float64{
		pkg.MetricLatencyMS: floatPtr(40),
		pkg.MetricLossPct:   floatPtr(0.2),
		pkg.MetricSignalDBm: floatPtr(-55),
	}, healthyDiag()))

	const ticks = 4
	for i := 0; i < ticks; i++ {
		env.engine.Tick(context.Background(), env.ctrl)
	}

	all := env.auditLog.Recent(0)
	if len(all) != len(ifaces)*ticks {
		t.Fatalf("Expected %d decisions for %d interfaces x %d ticks, got %d",
			len(ifaces)*ticks, len(ifaces), ticks, len(all))
	}
	perIface := make(map[string]int)
	for _, d := range all {
		perIface[d.InterfaceID]++
	}
	for _, iface := range ifaces {
		if perIface[iface.ID] != ticks {
			t.Errorf("Interface %s has %d decisions, expected %d", iface.ID, perIface[iface.ID], ticks)
		}
	}
	t.Logf("✅ Exactly one decision per interface per tick, failures included")
}

func TestFailedPushRetriesNextTick(t *testing.T) {
	cfg := testConfig(t)
	env := newTestEnv(t, cfg, starlinkIface())
	ctx := context.Background()

	env.collectors["sat0"].set(snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS: floatPtr(60),
		pkg.MetricLossPct:   floatPtr(22),
	}, healthyDiag()))

	env.ctrl.failNext = true
	env.engine.Tick(ctx, env.ctrl)

	d := lastDecision(t, env, "sat0")
	if d.ActionResult != pkg.ResultFailed {
		t.Fatalf("Expected failed push recorded, got %s", d.ActionResult)
	}
	st, _ := env.engine.StateFor("sat0")
	if st.State != pkg.StateFailedOverHard {
		t.Error("State must transition even when the push fails")
	}
	if st.CurrentPriority != cfg.MetricGood {
		t.Error("Cached priority must not advance on a failed push")
	}

	// Next tick retries the same desired priority and succeeds
	env.engine.Tick(ctx, env.ctrl)
	d = lastDecision(t, env, "sat0")
	if d.ActionTaken != pkg.ActionMetricIncrease || d.ActionResult != pkg.ResultSuccess {
		t.Errorf("Expected successful retry, got %s/%s", d.ActionTaken, d.ActionResult)
	}
	if p, _ := env.ctrl.CurrentPriority("sat0"); p != cfg.MetricBad {
		t.Errorf("Expected priority %d after retry, got %d", cfg.MetricBad, p)
	}
	t.Logf("✅ Failed routing push retried by recomputation on the next tick")
}

func TestSoftActionLogOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.SoftAction = uci.SoftActionLog
	env := newTestEnv(t, cfg, starlinkIface())
	ctx := context.Background()

	env.collectors["sat0"].set(snapWith("sat0", map[string]*float64{
		pkg.MetricLatencyMS:      floatPtr(300),
		pkg.MetricLossPct:        floatPtr(0.1),
		pkg.MetricObstructionPct: floatPtr(0.5),
		pkg.MetricJitterMS:       floatPtr(6),
		pkg.MetricSNRDB:          floatPtr(9),
	}, healthyDiag()))
	env.engine.Tick(ctx, env.ctrl)

	st, _ := env.engine.StateFor("sat0")
	if st.State != pkg.StateSoftDegraded {
		t.Fatalf("Expected soft_degraded in log-only mode, got %s", st.State)
	}
	if env.ctrl.callCount() != 0 {
		t.Error("Log-only soft action must not touch routing")
	}
	d := lastDecision(t, env, "sat0")
	if d.Type != pkg.DecisionSoftFailover || d.ActionTaken != pkg.ActionNone {
		t.Errorf("Expected logged soft_failover without action, got %s/%s", d.Type, d.ActionTaken)
	}

	// Cause clears: straight back to primary, no hysteresis
	env.collectors["sat0"].set(goodStarlinkSnap())
	env.engine.Tick(ctx, env.ctrl)
	st, _ = env.engine.StateFor("sat0")
	if st.State != pkg.StatePrimary {
		t.Errorf("Expected immediate return to primary, got %s", st.State)
	}
	t.Logf("✅ Log-only mode observed quality without changing routing")
}

func TestAuditFailureSurfacesAsMaintenance(t *testing.T) {
	cfg := testConfig(t)
	logger := logx.NewLogger("error", "engine-test")
	store, _ := telem.NewStore(24, 16, "")

	// An audit dir whose jsonl path is a directory forces write failures
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "decisions.jsonl"), 0o755); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	auditLog, err := audit.NewDecisionLogger(dir, 100, nil, logger)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}

	collectors := make(map[string]*mockCollector)
	factory := func(iface *pkg.Interface) (pkg.Collector, error) {
		mc := &mockCollector{class: iface.Class}
		collectors[iface.ID] = mc
		return mc, nil
	}
	engine := NewEngine(cfg, logger, store, auditLog, factory)
	if err := engine.AddInterface(starlinkIface()); err != nil {
		t.Fatalf("AddInterface failed: %v", err)
	}
	ctrl := newMockController()
	ctrl.priorities["sat0"] = cfg.MetricGood
	collectors["sat0"].set(goodStarlinkSnap())

	// First tick: the write fails, the decision stays an evaluation
	engine.Tick(context.Background(), ctrl)
	recent := auditLog.RecentFor("sat0", 1)
	if len(recent) != 1 || recent[0].Type != pkg.DecisionEvaluation {
		t.Fatalf("Expected in-memory evaluation despite sink failure, got %+v", recent)
	}

	// Second tick: the failure is surfaced as a maintenance decision
	engine.Tick(context.Background(), ctrl)
	recent = auditLog.RecentFor("sat0", 1)
	if recent[0].Type != pkg.DecisionMaintenance || recent[0].TriggerReason != pkg.TriggerAuditWriteError {
		t.Errorf("Expected maintenance/audit_write_failure, got %s/%s",
			recent[0].Type, recent[0].TriggerReason)
	}

	// Still exactly one record per tick
	if got := len(auditLog.RecentFor("sat0", 0)); got != 2 {
		t.Errorf("Expected 2 records over 2 ticks, got %d", got)
	}
	t.Logf("✅ Audit write failure surfaced without breaking one-record-per-tick")
}

func TestObserversSeeEveryDecision(t *testing.T) {
	env := newTestEnv(t, testConfig(t), starlinkIface())

	var mu sync.Mutex
	var seen []*pkg.Decision
	env.engine.AddObserver(func(d *pkg.Decision) {
		mu.Lock()
		seen = append(seen, d)
		mu.Unlock()
	})

	env.collectors["sat0"].set(goodStarlinkSnap())
	env.engine.Tick(context.Background(), env.ctrl)
	env.engine.Tick(context.Background(), env.ctrl)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("Expected observer to see 2 decisions, got %d", len(seen))
	}
}

func TestTrendAttachedToDecisions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Predictive = true
	env := newTestEnv(t, cfg, starlinkIface())
	ctx := context.Background()

	// Latency climbing tick over tick, stamped 30s apart
	base := time.Now().Add(-4 * time.Minute)
	for i := 0; i < 8; i++ {
		snap := snapWith("sat0", map[string]*float64{
			pkg.MetricLatencyMS:      floatPtr(60 + float64(i)*15),
			pkg.MetricLossPct:        floatPtr(0.1),
			pkg.MetricObstructionPct: floatPtr(0.5),
			pkg.MetricJitterMS:       floatPtr(6),
			pkg.MetricSNRDB:          floatPtr(9),
		}, healthyDiag())
		snap.CollectedAt = base.Add(time.Duration(i) * 30 * time.Second)
		env.collectors["sat0"].set(snap)
		env.engine.Tick(ctx, env.ctrl)
	}

	trend := env.engine.TrendFor("sat0")
	if trend == nil {
		t.Fatal("Expected a computed trend after 8 samples")
	}
	if trend.LatencySlopePerMin <= 0 {
		t.Errorf("Expected positive latency slope, got %f", trend.LatencySlopePerMin)
	}
	d := lastDecision(t, env, "sat0")
	if d.Context == nil || d.Context["latency_slope_per_min"] == nil {
		t.Error("Expected trend context on the decision record")
	}
	t.Logf("✅ Quality trend computed and attached: latency slope %.1f ms/min", trend.LatencySlopePerMin)
}

func TestReconfigureDuringTickIsSafe(t *testing.T) {
	cfg := testConfig(t)
	env := newTestEnv(t, cfg, starlinkIface())
	env.collectors["sat0"].set(goodStarlinkSnap())

	// Hammer ticks and reloads at the same time; under -race this
	// catches any evaluation reading config fields Reconfigure swaps.
	reloads := make([]*uci.Config, 50)
	for i := range reloads {
		next := testConfig(t)
		next.CallTimeoutS = 1 + i%5
		reloads[i] = next
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, next := range reloads {
			env.engine.Reconfigure(next)
		}
	}()
	for i := 0; i < 50; i++ {
		env.engine.Tick(context.Background(), env.ctrl)
	}
	<-done

	st, _ := env.engine.StateFor("sat0")
	if st.State != pkg.StatePrimary {
		t.Errorf("Healthy interface drifted to %s during reloads", st.State)
	}
	if got := len(env.auditLog.RecentFor("sat0", 0)); got != 50 {
		t.Errorf("Expected 50 decisions over 50 ticks, got %d", got)
	}
	t.Logf("✅ Concurrent reloads never disturbed in-flight evaluations")
}
