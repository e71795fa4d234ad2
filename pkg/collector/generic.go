package collector

import (
	"context"
	"time"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/logx"
	"github.com/linkward/linkward/pkg/starlink"
	"github.com/linkward/linkward/pkg/uci"
)

// GenericCollector handles LAN uplinks and anything without a
// device-specific metric source: connectivity probing only.
type GenericCollector struct {
	base  *BaseCollector
	class string
}

// NewGenericCollector creates a probe-only collector for the given class
func NewGenericCollector(base *BaseCollector, class string) *GenericCollector {
	return &GenericCollector{base: base, class: class}
}

func (gc *GenericCollector) Class() string { return gc.class }

// Collect probes connectivity toward the configured targets
func (gc *GenericCollector) Collect(ctx context.Context, iface *pkg.Interface) (*pkg.Snapshot, error) {
	if err := validate(iface); err != nil {
		return nil, err
	}
	now := time.Now()
	snap := &pkg.Snapshot{InterfaceID: iface.ID, CollectedAt: now}

	latency, loss, jitter := gc.base.Probe(ctx, iface.ID)
	snap.Samples = []pkg.MetricSample{
		sample(iface.ID, pkg.MetricLatencyMS, latency, now),
		sample(iface.ID, pkg.MetricLossPct, loss, now),
		sample(iface.ID, pkg.MetricJitterMS, jitter, now),
	}

	if latency != nil {
		notRoaming := false
		snap.Diagnostics = &pkg.Diagnostics{RoamingAlert: &notRoaming}
	}
	return snap, nil
}

// Factory builds per-interface collectors by class. One shared probing
// layer per interface keeps jitter histories separate via interface IDs.
type Factory struct {
	cfg            *uci.Config
	logger         *logx.Logger
	starlinkClient *starlink.Client
}

// NewFactory creates a collector factory
func NewFactory(cfg *uci.Config, logger *logx.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
		starlinkClient: starlink.NewClient(cfg.StarlinkHost, cfg.StarlinkPort,
			time.Duration(cfg.StarlinkTimeoutS)*time.Second, logger.WithComponent("starlink")),
	}
}

// CollectorFor creates the collector for one interface
func (f *Factory) CollectorFor(iface *pkg.Interface) (pkg.Collector, error) {
	timeout := time.Duration(f.cfg.CallTimeoutS) * time.Second / 2
	base := NewBaseCollector(targetsFor(iface), timeout, f.logger)

	switch iface.Class {
	case pkg.ClassStarlink:
		return NewStarlinkCollector(f.starlinkClient, base, f.logger.WithComponent("collector")), nil
	case pkg.ClassCellular:
		return NewCellularCollector(base, f.logger.WithComponent("collector")), nil
	case pkg.ClassWiFi:
		return NewWiFiCollector(base, f.logger.WithComponent("collector")), nil
	default:
		return NewGenericCollector(base, iface.Class), nil
	}
}
