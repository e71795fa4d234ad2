package pkg

import (
	"context"
	"time"
)

// Interface classes
const (
	ClassStarlink = "starlink"
	ClassCellular = "cellular"
	ClassWiFi     = "wifi"
	ClassLAN      = "lan"
	ClassGeneric  = "generic"
)

// Health status values, ordered worst-first for precedence
const (
	HealthRebootImminent = "reboot_imminent"
	HealthCritical       = "critical"
	HealthDegraded       = "degraded"
	HealthHealthy        = "healthy"
	HealthUnknown        = "unknown"
)

// Failover states
const (
	StatePrimary        = "primary"
	StateSoftDegraded   = "soft_degraded"
	StateFailedOverSoft = "failed_over_soft"
	StateFailedOverHard = "failed_over_hard"
	StateStabilizing    = "stabilizing"
)

// Decision types
const (
	DecisionEvaluation   = "evaluation"
	DecisionSoftFailover = "soft_failover"
	DecisionHardFailover = "hard_failover"
	DecisionRestore      = "restore"
	DecisionMaintenance  = "maintenance"
)

// Trigger reasons
const (
	TriggerPredictiveReboot = "predictive_reboot"
	TriggerHardwareHealth   = "hardware_health"
	TriggerMultipleCritical = "multiple_critical_issues"
	TriggerSingleQuality    = "single_quality_issue"
	TriggerScoreBelow       = "score_below_threshold"
	TriggerRecoveryMet      = "recovery_threshold_met"
	TriggerStabilityCheck   = "stability_check"
	TriggerQualityImproved  = "quality_improved"
	TriggerAuditWriteError  = "audit_write_failure"
	TriggerNone             = "none"

	// Kill-switch triggers carry the breached metric, e.g. "kill_switch:loss_pct"
	TriggerKillSwitchPrefix = "kill_switch:"
)

// Routing actions
const (
	ActionNone           = "none"
	ActionMetricIncrease = "metric_increase"
	ActionMetricRestore  = "metric_restore"
)

// Routing action results
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Well-known metric names shared by collectors and scoring profiles
const (
	MetricLatencyMS      = "latency_ms"
	MetricLossPct        = "loss_pct"
	MetricJitterMS       = "jitter_ms"
	MetricObstructionPct = "obstruction_pct"
	MetricSNRDB          = "snr_db"
	MetricRSRPDBm        = "rsrp_dbm"
	MetricRSRQDB         = "rsrq_db"
	MetricSINRDB         = "sinr_db"
	MetricSignalDBm      = "signal_dbm"
)

// Interface is a tracked WAN link
type Interface struct {
	ID        string            `json:"id"`         // logical name, e.g. "sat0"
	Class     string            `json:"class"`      // starlink|cellular|wifi|lan|generic
	Iface     string            `json:"iface"`      // netifd logical interface
	Device    string            `json:"device"`     // physical device, e.g. "wwan0"
	Mwan3Name string            `json:"mwan3_name"` // mwan3 member name
	Weight    int               `json:"weight"`
	Config    map[string]string `json:"config,omitempty"`
}

// MetricSample is one raw reading from a collector
type MetricSample struct {
	InterfaceID string    `json:"interface_id"`
	Name        string    `json:"name"`
	Value       *float64  `json:"value,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// Diagnostics carries device self-reported hardware and firmware state.
// All fields are pointers: nil means the device did not report the field.
type Diagnostics struct {
	HardwareSelfTest            *string `json:"hardware_self_test,omitempty"`
	ThermalThrottle             *bool   `json:"thermal_throttle,omitempty"`
	ThermalShutdown             *bool   `json:"thermal_shutdown,omitempty"`
	RoamingAlert                *bool   `json:"roaming_alert,omitempty"`
	DLBandwidthRestrictedReason *string `json:"dl_bandwidth_restricted_reason,omitempty"`
	ULBandwidthRestrictedReason *string `json:"ul_bandwidth_restricted_reason,omitempty"`
	SoftwareUpdateState         *string `json:"software_update_state,omitempty"`
	SwupdateRebootReady         *bool   `json:"swupdate_reboot_ready,omitempty"`
	RebootScheduledUTC          *string `json:"reboot_scheduled_utc,omitempty"`
}

// Snapshot is everything a collector learned about one interface in one tick
type Snapshot struct {
	InterfaceID string        `json:"interface_id"`
	CollectedAt time.Time     `json:"collected_at"`
	Samples     []MetricSample `json:"samples"`
	Diagnostics *Diagnostics  `json:"diagnostics,omitempty"`
}

// Sample returns the sample with the given metric name, or nil
func (s *Snapshot) Sample(name string) *MetricSample {
	if s == nil {
		return nil
	}
	for i := range s.Samples {
		if s.Samples[i].Name == name {
			return &s.Samples[i]
		}
	}
	return nil
}

// NormalizedMetric is a raw sample mapped onto the 0..1 quality scale
type NormalizedMetric struct {
	InterfaceID string   `json:"interface_id"`
	Name        string   `json:"name"`
	Score       float64  `json:"score"` // 0.0 (worst) .. 1.0 (best)
	RawValue    *float64 `json:"raw_value,omitempty"`
	IsStale     bool     `json:"is_stale"`
}

// InterfaceHealth is the assessed hardware condition of one interface
type InterfaceHealth struct {
	InterfaceID      string `json:"interface_id"`
	Status           string `json:"status"` // reboot_imminent|critical|degraded|healthy|unknown
	SelfTestFailed   bool   `json:"self_test_failed"`
	ThermalShutdown  bool   `json:"thermal_shutdown"`
	ThermalThrottle  bool   `json:"thermal_throttle"`
	RoamingAlert     bool   `json:"roaming_alert"`
	BandwidthLimited bool   `json:"bandwidth_limited"`
	RebootImminent   bool   `json:"reboot_imminent"`
	RebootCountdownS int64  `json:"reboot_countdown_s"` // seconds until scheduled reboot, negative if overdue, 0 if none
}

// CompositeScore is the aggregated quality of one interface at one instant
type CompositeScore struct {
	InterfaceID   string             `json:"interface_id"`
	Timestamp     time.Time          `json:"timestamp"`
	WeightedScore float64            `json:"weighted_score"` // 0.0 .. 1.0
	Killed        bool               `json:"killed"`
	KillReason    string             `json:"kill_reason,omitempty"`
	Factors       map[string]bool    `json:"factors"`     // per-metric breach flags
	RawMetrics    map[string]float64 `json:"raw_metrics"` // raw values that went into the score
	StaleMetrics  []string           `json:"stale_metrics,omitempty"`
}

// FailoverState is the persistent per-interface state machine record
type FailoverState struct {
	InterfaceID      string    `json:"interface_id"`
	State            string    `json:"state"`
	StabilityCounter int       `json:"stability_counter"`
	LastTransition   time.Time `json:"last_transition"`
	CurrentPriority  int       `json:"current_priority"`
	PreviousPriority int       `json:"previous_priority"`
}

// Decision is one audit record; exactly one is produced per interface per tick
type Decision struct {
	Timestamp     time.Time              `json:"timestamp"`
	InterfaceID   string                 `json:"interface_id"`
	Type          string                 `json:"type"` // evaluation|soft_failover|hard_failover|restore|maintenance
	TriggerReason string                 `json:"trigger_reason"`
	State         string                 `json:"state"`
	WeightedScore float64                `json:"weighted_score"`
	Factors       map[string]bool        `json:"factors,omitempty"`
	RawMetrics    map[string]float64     `json:"raw_metrics,omitempty"`
	Health        string                 `json:"health,omitempty"`
	FromPriority  int                    `json:"from_priority"`
	ToPriority    int                    `json:"to_priority"`
	ActionTaken   string                 `json:"action_taken"`
	ActionResult  string                 `json:"action_result"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Notes         string                 `json:"notes,omitempty"`
}

// Collector gathers metrics and diagnostics for one interface class
type Collector interface {
	Collect(ctx context.Context, iface *Interface) (*Snapshot, error)
	Class() string
}

// RoutingController is the boundary to the platform routing layer.
// ApplyPriority reports applied=false with a nil error when the
// interface already carries the requested priority.
type RoutingController interface {
	ApplyPriority(ctx context.Context, interfaceID string, priority int) (applied bool, err error)
	CurrentPriority(interfaceID string) (int, bool)
}
