// Package uci loads linkward configuration from OpenWrt/RUTOS UCI files.
package uci

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/linkward/linkward/pkg"
)

// Soft-failover actions
const (
	SoftActionSwitch = "switch" // demote routing priority on soft failover
	SoftActionLog    = "log"    // log-only mode, soft failovers never touch routing
)

// MetricConfig describes one metric inside a class scoring profile.
// Invert is true when lower raw values are better (latency, loss);
// it also sets the comparison direction for breach and kill thresholds.
type MetricConfig struct {
	Name            string  // metric name, e.g. "latency_ms"
	Best            float64 // raw value that scores 1.0
	Worst           float64 // raw value that scores 0.0
	Invert          bool    // lower-is-better
	Weight          float64 // relative weight in the composite score
	BreachThreshold float64 // quality-factor threshold, 0 disables
	KillThreshold   float64 // kill-switch threshold, 0 disables
}

// InterfaceConfig is one tracked WAN link from the config file
type InterfaceConfig struct {
	Name       string // section name, used as interface ID
	Class      string
	Iface      string // netifd logical interface
	Device     string
	Mwan3Name  string // mwan3 member name, defaults to the interface ID
	Weight     int
	PingTarget string
}

// MQTTConfig configures the optional decision publisher
type MQTTConfig struct {
	Enabled     bool
	Broker      string
	Port        int
	Username    string
	Password    string
	TopicPrefix string
	ClientID    string
}

// Config is the complete daemon configuration
type Config struct {
	// Main settings
	Enable           bool
	LogLevel         string
	LogFile          string
	TickIntervalS    int
	CallTimeoutS     int
	CleanupIntervalS int
	RetentionHours   int
	UseMwan3         bool
	MetricGood       int // routing metric carried by healthy interfaces
	MetricBad        int // routing metric applied on failover
	Predictive       bool
	MetricsListener  bool
	MetricsPort      int

	// Failover thresholds
	FailoverThreshold float64
	RecoveryThreshold float64
	HardFailCount     int
	StabilityChecks   int
	WarningWindowS    int
	SoftAction        string

	// Starlink API
	StarlinkHost     string
	StarlinkPort     int
	StarlinkTimeoutS int

	// Storage paths
	AuditDir        string
	AuditDBPath     string
	TelemetryDBPath string

	MQTT MQTTConfig

	// Scoring profiles per interface class
	Profiles map[string][]MetricConfig

	// Tracked interfaces keyed by section name
	Interfaces map[string]*InterfaceConfig

	// metric sections being parsed, merged into Profiles by commitMetrics
	staged map[string]*stagedMetric
}

// LoadConfig loads configuration from the given UCI file path.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if _, err := os.Stat(path); err == nil {
		if err := cfg.parseUCI(path); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	c.Enable = true
	c.LogLevel = "info"
	c.TickIntervalS = 30
	c.CallTimeoutS = 10
	c.CleanupIntervalS = 300
	c.RetentionHours = 24
	c.UseMwan3 = true
	c.MetricGood = 1
	c.MetricBad = 20
	c.Predictive = true
	c.MetricsListener = false
	c.MetricsPort = 9101

	c.FailoverThreshold = 0.5
	c.RecoveryThreshold = 0.7
	c.HardFailCount = 3
	c.StabilityChecks = 5
	c.WarningWindowS = 300
	c.SoftAction = SoftActionSwitch

	c.StarlinkHost = "192.168.100.1"
	c.StarlinkPort = 9200
	c.StarlinkTimeoutS = 10

	c.AuditDir = "/var/log/linkward"
	c.AuditDBPath = "/var/lib/linkward/decisions.db"
	c.TelemetryDBPath = "/var/lib/linkward/telemetry.db"

	c.MQTT = MQTTConfig{
		Enabled:     false,
		Broker:      "localhost",
		Port:        1883,
		TopicPrefix: "linkward",
		ClientID:    "linkwardd",
	}

	c.Profiles = defaultProfiles()
	c.Interfaces = make(map[string]*InterfaceConfig)
}

// defaultProfiles returns the built-in scoring profiles per interface class
func defaultProfiles() map[string][]MetricConfig {
	return map[string][]MetricConfig{
		pkg.ClassStarlink: {
			{Name: pkg.MetricLatencyMS, Best: 50, Worst: 500, Invert: true, Weight: 0.30, BreachThreshold: 250, KillThreshold: 500},
			{Name: pkg.MetricLossPct, Best: 0, Worst: 10, Invert: true, Weight: 0.30, BreachThreshold: 5, KillThreshold: 15},
			{Name: pkg.MetricObstructionPct, Best: 0, Worst: 20, Invert: true, Weight: 0.20, BreachThreshold: 10},
			{Name: pkg.MetricJitterMS, Best: 5, Worst: 100, Invert: true, Weight: 0.10, BreachThreshold: 50},
			{Name: pkg.MetricSNRDB, Best: 9, Worst: 3, Weight: 0.10, BreachThreshold: 4},
		},
		pkg.ClassCellular: {
			{Name: pkg.MetricLatencyMS, Best: 80, Worst: 800, Invert: true, Weight: 0.25, BreachThreshold: 400, KillThreshold: 1000},
			{Name: pkg.MetricLossPct, Best: 0, Worst: 10, Invert: true, Weight: 0.25, BreachThreshold: 5, KillThreshold: 15},
			{Name: pkg.MetricRSRPDBm, Best: -80, Worst: -110, Weight: 0.20, BreachThreshold: -105},
			{Name: pkg.MetricRSRQDB, Best: -10, Worst: -20, Weight: 0.15, BreachThreshold: -18},
			{Name: pkg.MetricSINRDB, Best: 20, Worst: 0, Weight: 0.15, BreachThreshold: 3},
		},
		pkg.ClassWiFi: {
			{Name: pkg.MetricLatencyMS, Best: 20, Worst: 300, Invert: true, Weight: 0.35, BreachThreshold: 150, KillThreshold: 500},
			{Name: pkg.MetricLossPct, Best: 0, Worst: 10, Invert: true, Weight: 0.35, BreachThreshold: 5, KillThreshold: 15},
			{Name: pkg.MetricSignalDBm, Best: -50, Worst: -85, Weight: 0.30, BreachThreshold: -80},
		},
		pkg.ClassLAN: {
			{Name: pkg.MetricLatencyMS, Best: 10, Worst: 250, Invert: true, Weight: 0.50, BreachThreshold: 100, KillThreshold: 500},
			{Name: pkg.MetricLossPct, Best: 0, Worst: 10, Invert: true, Weight: 0.50, BreachThreshold: 5, KillThreshold: 15},
		},
		pkg.ClassGeneric: {
			{Name: pkg.MetricLatencyMS, Best: 20, Worst: 400, Invert: true, Weight: 0.50, BreachThreshold: 200, KillThreshold: 500},
			{Name: pkg.MetricLossPct, Best: 0, Worst: 10, Invert: true, Weight: 0.50, BreachThreshold: 5, KillThreshold: 15},
		},
	}
}

// ProfileFor returns the scoring profile for an interface class,
// falling back to the generic profile for unknown classes.
func (c *Config) ProfileFor(class string) []MetricConfig {
	if p, ok := c.Profiles[class]; ok {
		return p
	}
	return c.Profiles[pkg.ClassGeneric]
}

// parseUCI parses a UCI configuration file using simple text parsing
func (c *Config) parseUCI(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")
	var sectionType, sectionName string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "config ") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				sectionType = parts[1]
				sectionName = ""
				if len(parts) >= 3 {
					sectionName = strings.Trim(parts[2], "'\"")
				}
				if sectionType == "interface" && sectionName != "" {
					if c.Interfaces[sectionName] == nil {
						c.Interfaces[sectionName] = &InterfaceConfig{
							Name:   sectionName,
							Class:  pkg.ClassGeneric,
							Weight: 100,
						}
					}
				}
				if sectionType == "metric" && sectionName != "" {
					// Options fill in the staged entry; it is merged on commitMetric
					c.stageMetric(sectionName)
				}
			}
		} else if strings.HasPrefix(line, "option ") {
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				option := parts[1]
				value := strings.Trim(strings.Join(parts[2:], " "), "'\"")
				c.parseOption(sectionType, sectionName, option, value)
			}
		}
	}

	c.commitMetrics()
	return nil
}

// stagedMetric is a metric section being parsed; merged into Profiles once
// the whole file has been read so option order does not matter.
type stagedMetric struct {
	class string
	mc    MetricConfig
}

func (c *Config) stageMetric(section string) {
	if c.staged == nil {
		c.staged = make(map[string]*stagedMetric)
	}
	if c.staged[section] == nil {
		c.staged[section] = &stagedMetric{}
	}
}

func (c *Config) commitMetrics() {
	for _, sm := range c.staged {
		if sm.class == "" || sm.mc.Name == "" {
			continue
		}
		profile := c.Profiles[sm.class]
		replaced := false
		for i := range profile {
			if profile[i].Name == sm.mc.Name {
				profile[i] = sm.mc
				replaced = true
				break
			}
		}
		if !replaced {
			profile = append(profile, sm.mc)
		}
		c.Profiles[sm.class] = profile
	}
	c.staged = nil
}

// parseOption routes options to the right parser based on section type
func (c *Config) parseOption(sectionType, sectionName, option, value string) {
	switch sectionType {
	case "linkward":
		if sectionName == "main" || sectionName == "" {
			c.parseMainOption(option, value)
		}
	case "thresholds":
		c.parseThresholdOption(option, value)
	case "starlink":
		c.parseStarlinkOption(option, value)
	case "mqtt":
		c.parseMQTTOption(option, value)
	case "interface":
		c.parseInterfaceOption(sectionName, option, value)
	case "metric":
		c.parseMetricOption(sectionName, option, value)
	}
}

func (c *Config) parseMainOption(option, value string) {
	switch option {
	case "enable":
		c.Enable = value == "1" || value == "true"
	case "log_level":
		c.LogLevel = value
	case "log_file":
		c.LogFile = value
	case "tick_interval_s":
		if v, err := strconv.Atoi(value); err == nil {
			c.TickIntervalS = v
		}
	case "call_timeout_s":
		if v, err := strconv.Atoi(value); err == nil {
			c.CallTimeoutS = v
		}
	case "cleanup_interval_s":
		if v, err := strconv.Atoi(value); err == nil {
			c.CleanupIntervalS = v
		}
	case "retention_hours":
		if v, err := strconv.Atoi(value); err == nil {
			c.RetentionHours = v
		}
	case "use_mwan3":
		c.UseMwan3 = value == "1" || value == "true"
	case "metric_good":
		if v, err := strconv.Atoi(value); err == nil {
			c.MetricGood = v
		}
	case "metric_bad":
		if v, err := strconv.Atoi(value); err == nil {
			c.MetricBad = v
		}
	case "predictive":
		c.Predictive = value == "1" || value == "true"
	case "metrics_listener":
		c.MetricsListener = value == "1" || value == "true"
	case "metrics_port":
		if v, err := strconv.Atoi(value); err == nil {
			c.MetricsPort = v
		}
	case "audit_dir":
		c.AuditDir = value
	case "audit_db":
		c.AuditDBPath = value
	case "telemetry_db":
		c.TelemetryDBPath = value
	}
}

func (c *Config) parseThresholdOption(option, value string) {
	switch option {
	case "failover_threshold":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.FailoverThreshold = v
		}
	case "recovery_threshold":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.RecoveryThreshold = v
		}
	case "hard_fail_count":
		if v, err := strconv.Atoi(value); err == nil {
			c.HardFailCount = v
		}
	case "stability_checks":
		if v, err := strconv.Atoi(value); err == nil {
			c.StabilityChecks = v
		}
	case "warning_window_s":
		if v, err := strconv.Atoi(value); err == nil {
			c.WarningWindowS = v
		}
	case "soft_action":
		c.SoftAction = value
	}
}

func (c *Config) parseStarlinkOption(option, value string) {
	switch option {
	case "host":
		c.StarlinkHost = value
	case "port":
		if v, err := strconv.Atoi(value); err == nil {
			c.StarlinkPort = v
		}
	case "timeout_s":
		if v, err := strconv.Atoi(value); err == nil {
			c.StarlinkTimeoutS = v
		}
	}
}

func (c *Config) parseMQTTOption(option, value string) {
	switch option {
	case "enabled":
		c.MQTT.Enabled = value == "1" || value == "true"
	case "broker":
		c.MQTT.Broker = value
	case "port":
		if v, err := strconv.Atoi(value); err == nil {
			c.MQTT.Port = v
		}
	case "username":
		c.MQTT.Username = value
	case "password":
		c.MQTT.Password = value
	case "topic_prefix":
		c.MQTT.TopicPrefix = value
	case "client_id":
		c.MQTT.ClientID = value
	}
}

func (c *Config) parseInterfaceOption(section, option, value string) {
	ic := c.Interfaces[section]
	if ic == nil {
		return
	}
	switch option {
	case "class":
		ic.Class = value
	case "iface":
		ic.Iface = value
	case "device":
		ic.Device = value
	case "mwan3_member":
		ic.Mwan3Name = value
	case "weight":
		if v, err := strconv.Atoi(value); err == nil {
			ic.Weight = v
		}
	case "ping_target":
		ic.PingTarget = value
	}
}

func (c *Config) parseMetricOption(section, option, value string) {
	c.stageMetric(section)
	sm := c.staged[section]
	switch option {
	case "class":
		sm.class = value
	case "name":
		sm.mc.Name = value
	case "best":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			sm.mc.Best = v
		}
	case "worst":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			sm.mc.Worst = v
		}
	case "invert":
		sm.mc.Invert = value == "1" || value == "true"
	case "weight":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			sm.mc.Weight = v
		}
	case "breach_threshold":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			sm.mc.BreachThreshold = v
		}
	case "kill_threshold":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			sm.mc.KillThreshold = v
		}
	}
}

// Validate checks the configuration for values that would make the
// decision engine misbehave. It is called on load and on SIGHUP reload;
// a reload that fails validation keeps the previous configuration.
func (c *Config) Validate() error {
	if c.TickIntervalS <= 0 {
		return fmt.Errorf("tick_interval_s must be positive, got %d", c.TickIntervalS)
	}
	if c.CallTimeoutS <= 0 {
		return fmt.Errorf("call_timeout_s must be positive, got %d", c.CallTimeoutS)
	}
	if c.FailoverThreshold < 0 || c.FailoverThreshold > 1 {
		return fmt.Errorf("failover_threshold must be in [0,1], got %g", c.FailoverThreshold)
	}
	if c.RecoveryThreshold < 0 || c.RecoveryThreshold > 1 {
		return fmt.Errorf("recovery_threshold must be in [0,1], got %g", c.RecoveryThreshold)
	}
	if c.RecoveryThreshold < c.FailoverThreshold {
		return fmt.Errorf("recovery_threshold (%g) must be >= failover_threshold (%g)",
			c.RecoveryThreshold, c.FailoverThreshold)
	}
	if c.HardFailCount < 1 {
		return fmt.Errorf("hard_fail_count must be at least 1, got %d", c.HardFailCount)
	}
	if c.StabilityChecks < 1 {
		return fmt.Errorf("stability_checks must be at least 1, got %d", c.StabilityChecks)
	}
	if c.WarningWindowS < 0 {
		return fmt.Errorf("warning_window_s must not be negative, got %d", c.WarningWindowS)
	}
	if c.SoftAction != SoftActionSwitch && c.SoftAction != SoftActionLog {
		return fmt.Errorf("soft_action must be %q or %q, got %q", SoftActionSwitch, SoftActionLog, c.SoftAction)
	}
	if c.MetricGood >= c.MetricBad {
		return fmt.Errorf("metric_good (%d) must be lower than metric_bad (%d)", c.MetricGood, c.MetricBad)
	}

	for class, profile := range c.Profiles {
		total := 0.0
		for _, mc := range profile {
			if mc.Weight < 0 {
				return fmt.Errorf("profile %s metric %s: weight must not be negative", class, mc.Name)
			}
			if math.IsNaN(mc.Best) || math.IsInf(mc.Best, 0) || math.IsNaN(mc.Worst) || math.IsInf(mc.Worst, 0) {
				return fmt.Errorf("profile %s metric %s: best/worst must be finite", class, mc.Name)
			}
			total += mc.Weight
		}
		if len(profile) > 0 && total <= 0 {
			return fmt.Errorf("profile %s: at least one metric needs a positive weight", class)
		}
	}

	for name, ic := range c.Interfaces {
		if ic.Class == "" {
			return fmt.Errorf("interface %s: class is required", name)
		}
		if ic.Weight < 0 {
			return fmt.Errorf("interface %s: weight must not be negative", name)
		}
	}
	return nil
}

// TrackedInterfaces converts the configured interfaces into runtime records
func (c *Config) TrackedInterfaces() []*pkg.Interface {
	out := make([]*pkg.Interface, 0, len(c.Interfaces))
	for name, ic := range c.Interfaces {
		mwan3 := ic.Mwan3Name
		if mwan3 == "" {
			mwan3 = name
		}
		out = append(out, &pkg.Interface{
			ID:        name,
			Class:     ic.Class,
			Iface:     ic.Iface,
			Device:    ic.Device,
			Mwan3Name: mwan3,
			Weight:    ic.Weight,
			Config:    map[string]string{"ping_target": ic.PingTarget},
		})
	}
	return out
}
