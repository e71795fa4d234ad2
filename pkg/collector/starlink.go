package collector

import (
	"context"
	"time"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/logx"
	"github.com/linkward/linkward/pkg/starlink"
)

// StarlinkCollector reads quality metrics and hardware diagnostics from
// the dish gRPC API, with TCP probing as the latency fallback when the
// API's own pop ping figures are missing.
type StarlinkCollector struct {
	base   *BaseCollector
	client *starlink.Client
	logger *logx.Logger
}

// NewStarlinkCollector creates a collector backed by the given API client
func NewStarlinkCollector(client *starlink.Client, base *BaseCollector, logger *logx.Logger) *StarlinkCollector {
	return &StarlinkCollector{base: base, client: client, logger: logger}
}

func (sc *StarlinkCollector) Class() string { return pkg.ClassStarlink }

// Collect queries the dish. An unreachable API yields a snapshot with nil
// metric values and no diagnostics block: scoring goes fail-safe and the
// health assessor reports unknown.
func (sc *StarlinkCollector) Collect(ctx context.Context, iface *pkg.Interface) (*pkg.Snapshot, error) {
	if err := validate(iface); err != nil {
		return nil, err
	}
	now := time.Now()
	snap := &pkg.Snapshot{InterfaceID: iface.ID, CollectedAt: now}

	status, err := sc.client.GetStatus(ctx)
	if err != nil {
		sc.logger.Warn("starlink status query failed", "interface", iface.ID, "error", err)
		snap.Samples = []pkg.MetricSample{
			sample(iface.ID, pkg.MetricLatencyMS, nil, now),
			sample(iface.ID, pkg.MetricLossPct, nil, now),
			sample(iface.ID, pkg.MetricObstructionPct, nil, now),
			sample(iface.ID, pkg.MetricSNRDB, nil, now),
		}
		return snap, nil
	}

	st := status.DishGetStatus

	var latency *float64
	if st.PopPingLatencyMs > 0 {
		v := st.PopPingLatencyMs
		latency = &v
	} else {
		latency, _, _ = sc.base.Probe(ctx, iface.ID)
	}

	loss := st.PopPingDropRate * 100
	if loss < 0.01 {
		loss = 0.01
	}
	obstruction := st.ObstructionStats.FractionObstructed * 100
	if obstruction < 0.01 {
		obstruction = 0.01
	}

	var snr *float64
	if st.SNR > 0 {
		v := st.SNR
		snr = &v
	} else if st.IsSnrAboveNoiseFloor {
		// Newer firmware drops the numeric SNR; above-noise-floor maps
		// to a nominal good reading, persistently-low to a poor one
		v := 9.0
		if st.IsSnrPersistentlyLow {
			v = 3.0
		}
		snr = &v
	}

	snap.Samples = []pkg.MetricSample{
		sample(iface.ID, pkg.MetricLatencyMS, latency, now),
		sample(iface.ID, pkg.MetricLossPct, &loss, now),
		sample(iface.ID, pkg.MetricObstructionPct, &obstruction, now),
		sample(iface.ID, pkg.MetricSNRDB, snr, now),
	}

	snap.Diagnostics = sc.diagnostics(ctx, status)
	return snap, nil
}

// diagnostics merges status alerts with the get_diagnostics response.
// The status block alone is enough for a usable verdict when the
// diagnostics call fails.
func (sc *StarlinkCollector) diagnostics(ctx context.Context, status *starlink.StatusResponse) *pkg.Diagnostics {
	st := status.DishGetStatus

	thermalThrottle := st.Alerts.ThermalThrottle
	thermalShutdown := st.Alerts.ThermalShutdown
	roaming := st.Alerts.Roaming
	swupdateReady := st.SwupdateRebootReady
	updateState := st.SoftwareUpdateState

	d := &pkg.Diagnostics{
		ThermalThrottle:     &thermalThrottle,
		ThermalShutdown:     &thermalShutdown,
		RoamingAlert:        &roaming,
		SwupdateRebootReady: &swupdateReady,
	}
	if updateState != "" {
		d.SoftwareUpdateState = &updateState
	}

	diag, err := sc.client.GetDiagnostics(ctx)
	if err != nil {
		sc.logger.Debug("starlink diagnostics query failed", "error", err)
		return d
	}
	dg := diag.DishGetDiagnostics

	if dg.HardwareSelfTest != "" {
		selfTest := dg.HardwareSelfTest
		d.HardwareSelfTest = &selfTest
	}
	if dg.ThermalThrottle {
		t := true
		d.ThermalThrottle = &t
	}
	if dg.ThermalShutdown {
		t := true
		d.ThermalShutdown = &t
	}
	if dg.DLBandwidthRestrictedReason != "" {
		r := dg.DLBandwidthRestrictedReason
		d.DLBandwidthRestrictedReason = &r
	}
	if dg.ULBandwidthRestrictedReason != "" {
		r := dg.ULBandwidthRestrictedReason
		d.ULBandwidthRestrictedReason = &r
	}
	if d.SoftwareUpdateState == nil && dg.SoftwareUpdateState != "" {
		s := dg.SoftwareUpdateState
		d.SoftwareUpdateState = &s
	}
	return d
}
