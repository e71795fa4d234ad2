// Package health turns device diagnostics into a hardware health verdict,
// including the predictive reboot-imminent signal that drives proactive
// failover before a scheduled firmware reboot takes the link down.
package health

import (
	"strings"
	"time"

	"github.com/linkward/linkward/pkg"
)

// Self-test verdicts reported by device firmware
const selfTestPassed = "PASSED"

// Bandwidth restriction reasons that mean "no restriction"
func unrestricted(reason string) bool {
	switch strings.ToUpper(reason) {
	case "", "NO_LIMIT", "UNKNOWN":
		return true
	}
	return false
}

// Assessor evaluates interface diagnostics against the warning window
type Assessor struct {
	warningWindow time.Duration
	now           func() time.Time
}

// NewAssessor creates an assessor. warningWindowS is how far ahead of a
// scheduled reboot the interface is declared reboot-imminent.
func NewAssessor(warningWindowS int) *Assessor {
	return &Assessor{
		warningWindow: time.Duration(warningWindowS) * time.Second,
		now:           time.Now,
	}
}

// SetClock overrides the time source, used in tests
func (a *Assessor) SetClock(now func() time.Time) {
	a.now = now
}

// Assess produces the health verdict for one interface. A nil diagnostics
// block means the device could not be queried; that is reported as unknown,
// which downstream treats with the same severity as critical.
func (a *Assessor) Assess(interfaceID string, d *pkg.Diagnostics) *pkg.InterfaceHealth {
	h := &pkg.InterfaceHealth{
		InterfaceID: interfaceID,
		Status:      pkg.HealthUnknown,
	}
	if d == nil {
		return h
	}

	if d.HardwareSelfTest != nil && !strings.EqualFold(*d.HardwareSelfTest, selfTestPassed) {
		h.SelfTestFailed = true
	}
	if d.ThermalShutdown != nil && *d.ThermalShutdown {
		h.ThermalShutdown = true
	}
	if d.ThermalThrottle != nil && *d.ThermalThrottle {
		h.ThermalThrottle = true
	}
	if d.RoamingAlert != nil && *d.RoamingAlert {
		h.RoamingAlert = true
	}
	if d.DLBandwidthRestrictedReason != nil && !unrestricted(*d.DLBandwidthRestrictedReason) {
		h.BandwidthLimited = true
	}
	if d.ULBandwidthRestrictedReason != nil && !unrestricted(*d.ULBandwidthRestrictedReason) {
		h.BandwidthLimited = true
	}

	h.RebootImminent, h.RebootCountdownS = a.rebootImminent(d)

	// Precedence: reboot_imminent > critical > degraded > healthy
	switch {
	case h.RebootImminent:
		h.Status = pkg.HealthRebootImminent
	case h.SelfTestFailed || h.ThermalShutdown:
		h.Status = pkg.HealthCritical
	case h.ThermalThrottle || h.RoamingAlert || h.BandwidthLimited:
		h.Status = pkg.HealthDegraded
	default:
		h.Status = pkg.HealthHealthy
	}
	return h
}

// rebootImminent checks both predictive reboot signals: a firmware update
// staged and waiting to reboot, and a scheduled reboot timestamp inside
// the warning window. A timestamp already in the past still counts; the
// reboot may fire at any moment.
func (a *Assessor) rebootImminent(d *pkg.Diagnostics) (bool, int64) {
	if d.SwupdateRebootReady != nil && *d.SwupdateRebootReady {
		return true, 0
	}
	if d.SoftwareUpdateState != nil && strings.EqualFold(*d.SoftwareUpdateState, "REBOOT_REQUIRED") {
		return true, 0
	}
	if d.RebootScheduledUTC == nil || *d.RebootScheduledUTC == "" {
		return false, 0
	}
	when, err := time.Parse(time.RFC3339, *d.RebootScheduledUTC)
	if err != nil {
		// Malformed schedule: fail safe, assume the reboot is near
		return true, 0
	}
	// Overdue schedules report a negative countdown so the audit trail
	// shows how late the reboot is.
	countdown := int64(when.Sub(a.now()).Seconds())
	return countdown <= int64(a.warningWindow.Seconds()), countdown
}

// Severity ranks health statuses for comparisons; higher is worse.
// Unknown ranks with critical: an unreachable device cannot be trusted.
func Severity(status string) int {
	switch status {
	case pkg.HealthRebootImminent:
		return 4
	case pkg.HealthCritical, pkg.HealthUnknown:
		return 3
	case pkg.HealthDegraded:
		return 2
	case pkg.HealthHealthy:
		return 1
	}
	return 3
}
