package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/logx"
)

// ubus providers tried in order; RutOS and stock OpenWrt name the modem
// service differently across releases
var cellularProviders = []string{"gsm.modem0", "mobiled.device0"}

// CellularCollector combines connectivity probing with modem signal
// readings from ubus, falling back to gsmctl on RutOS.
type CellularCollector struct {
	base     *BaseCollector
	logger   *logx.Logger
	ubusPath string
}

// NewCellularCollector creates a cellular collector
func NewCellularCollector(base *BaseCollector, logger *logx.Logger) *CellularCollector {
	return &CellularCollector{base: base, logger: logger, ubusPath: "ubus"}
}

func (cc *CellularCollector) Class() string { return pkg.ClassCellular }

// signalInfo is the subset of modem state the scorer consumes
type signalInfo struct {
	rsrp    *float64
	rsrq    *float64
	sinr    *float64
	roaming *bool
}

// Collect probes connectivity and queries modem signal state
func (cc *CellularCollector) Collect(ctx context.Context, iface *pkg.Interface) (*pkg.Snapshot, error) {
	if err := validate(iface); err != nil {
		return nil, err
	}
	now := time.Now()
	snap := &pkg.Snapshot{InterfaceID: iface.ID, CollectedAt: now}

	latency, loss, _ := cc.base.Probe(ctx, iface.ID)

	sig := cc.querySignal(ctx, iface)

	snap.Samples = []pkg.MetricSample{
		sample(iface.ID, pkg.MetricLatencyMS, latency, now),
		sample(iface.ID, pkg.MetricLossPct, loss, now),
		sample(iface.ID, pkg.MetricRSRPDBm, sig.rsrp, now),
		sample(iface.ID, pkg.MetricRSRQDB, sig.rsrq, now),
		sample(iface.ID, pkg.MetricSINRDB, sig.sinr, now),
	}

	if sig.roaming != nil {
		snap.Diagnostics = &pkg.Diagnostics{RoamingAlert: sig.roaming}
	} else {
		// No modem verdict either way; still report a diagnostics block
		// so an answering modem is not treated as an unknown device
		notRoaming := false
		if latency == nil && sig.rsrp == nil {
			// Nothing answered at all
			return snap, nil
		}
		snap.Diagnostics = &pkg.Diagnostics{RoamingAlert: &notRoaming}
	}
	return snap, nil
}

// querySignal tries ubus providers first, then gsmctl
func (cc *CellularCollector) querySignal(ctx context.Context, iface *pkg.Interface) signalInfo {
	for _, provider := range cellularProviders {
		if sig, err := cc.queryUbus(ctx, provider); err == nil {
			return sig
		}
	}
	if sig, err := cc.queryGsmctl(ctx); err == nil {
		return sig
	}
	cc.logger.Debug("no modem signal source answered", "interface", iface.ID)
	return signalInfo{}
}

// queryUbus calls one ubus provider and picks signal fields out of the
// response, tolerating the key spelling differences between firmwares
func (cc *CellularCollector) queryUbus(ctx context.Context, provider string) (signalInfo, error) {
	cmd := exec.CommandContext(ctx, cc.ubusPath, "call", provider, "get_signal_query")
	out, err := cmd.Output()
	if err != nil {
		return signalInfo{}, fmt.Errorf("ubus call %s failed: %w", provider, err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(out, &raw); err != nil {
		return signalInfo{}, fmt.Errorf("failed to parse %s response: %w", provider, err)
	}

	var sig signalInfo
	sig.rsrp = pickNumber(raw, "rsrp", "RSRP")
	sig.rsrq = pickNumber(raw, "rsrq", "RSRQ")
	sig.sinr = pickNumber(raw, "sinr", "SINR", "snr")
	if v, ok := raw["roaming"].(bool); ok {
		sig.roaming = &v
	}
	if sig.rsrp == nil && sig.rsrq == nil && sig.sinr == nil {
		return signalInfo{}, fmt.Errorf("%s returned no signal fields", provider)
	}
	return sig, nil
}

// queryGsmctl shells out to the RutOS gsmctl utility
func (cc *CellularCollector) queryGsmctl(ctx context.Context) (signalInfo, error) {
	var sig signalInfo

	read := func(flag string) *float64 {
		out, err := exec.CommandContext(ctx, "gsmctl", flag).Output()
		if err != nil {
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
		if err != nil {
			return nil
		}
		return &v
	}

	sig.rsrp = read("-W") // RSRP in dBm
	sig.rsrq = read("-M") // RSRQ in dB
	sig.sinr = read("-Z") // SINR in dB

	if out, err := exec.CommandContext(ctx, "gsmctl", "-R").Output(); err == nil {
		roaming := strings.Contains(strings.ToLower(strings.TrimSpace(string(out))), "roaming")
		sig.roaming = &roaming
	}

	if sig.rsrp == nil && sig.rsrq == nil && sig.sinr == nil {
		return signalInfo{}, fmt.Errorf("gsmctl returned no signal readings")
	}
	return sig, nil
}

// pickNumber returns the first numeric value under any of the keys
func pickNumber(raw map[string]interface{}, keys ...string) *float64 {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case float64:
			val := v
			return &val
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}
