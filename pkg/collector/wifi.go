package collector

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/logx"
)

var signalRe = regexp.MustCompile(`Signal:\s*(-?\d+)\s*dBm`)

// WiFiCollector probes connectivity and reads station signal strength
// from iwinfo.
type WiFiCollector struct {
	base   *BaseCollector
	logger *logx.Logger
}

// NewWiFiCollector creates a WiFi collector
func NewWiFiCollector(base *BaseCollector, logger *logx.Logger) *WiFiCollector {
	return &WiFiCollector{base: base, logger: logger}
}

func (wc *WiFiCollector) Class() string { return pkg.ClassWiFi }

// Collect probes connectivity and the radio signal level
func (wc *WiFiCollector) Collect(ctx context.Context, iface *pkg.Interface) (*pkg.Snapshot, error) {
	if err := validate(iface); err != nil {
		return nil, err
	}
	now := time.Now()
	snap := &pkg.Snapshot{InterfaceID: iface.ID, CollectedAt: now}

	latency, loss, _ := wc.base.Probe(ctx, iface.ID)
	signal := wc.signalLevel(ctx, iface)

	snap.Samples = []pkg.MetricSample{
		sample(iface.ID, pkg.MetricLatencyMS, latency, now),
		sample(iface.ID, pkg.MetricLossPct, loss, now),
		sample(iface.ID, pkg.MetricSignalDBm, signal, now),
	}

	// A responding link counts as an assessable device
	if latency != nil || signal != nil {
		notRoaming := false
		snap.Diagnostics = &pkg.Diagnostics{RoamingAlert: &notRoaming}
	}
	return snap, nil
}

// signalLevel parses the station signal out of iwinfo
func (wc *WiFiCollector) signalLevel(ctx context.Context, iface *pkg.Interface) *float64 {
	dev := iface.Device
	if dev == "" {
		dev = iface.Iface
	}
	out, err := exec.CommandContext(ctx, "iwinfo", dev, "info").Output()
	if err != nil {
		wc.logger.Debug("iwinfo failed", "device", dev, "error", err)
		return nil
	}
	m := signalRe.FindSubmatch(out)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return nil
	}
	return &v
}
