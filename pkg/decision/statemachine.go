package decision

import (
	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/health"
	"github.com/linkward/linkward/pkg/scoring"
	"github.com/linkward/linkward/pkg/uci"
)

// thresholds is the subset of configuration the state machine needs
type thresholds struct {
	failover   float64
	recovery   float64
	hardCount  int
	stability  int
	softAction string
}

func thresholdsFrom(cfg *uci.Config) thresholds {
	return thresholds{
		failover:   cfg.FailoverThreshold,
		recovery:   cfg.RecoveryThreshold,
		hardCount:  cfg.HardFailCount,
		stability:  cfg.StabilityChecks,
		softAction: cfg.SoftAction,
	}
}

// evaluation is everything one tick learned about one interface
type evaluation struct {
	score      *pkg.CompositeScore
	health     *pkg.InterfaceHealth
	killed     bool
	killReason string
}

// outcome is the state machine verdict for one evaluation
type outcome struct {
	nextState    string
	decisionType string
	trigger      string
	resetCounter bool // stability counter restarts (entering STABILIZING or reverting)
	countStep    bool // stability counter advances by one good check
}

// transition applies the failover rules in strict priority order and
// returns the verdict. recoverFrom names the failed-over state a
// STABILIZING interface reverts to when quality slips again.
//
// Hard conditions always win over soft ones, soft over recovery, and
// recovery progress over plain no-ops. Demotions fire from any state;
// promotions only ever move one step toward PRIMARY.
func transition(st *pkg.FailoverState, ev *evaluation, th thresholds, recoverFrom string) outcome {
	breaches := scoring.BreachCount(ev.score)

	// Rule 1: a predicted reboot preempts everything, even flawless metrics
	if ev.health != nil && ev.health.RebootImminent {
		return hardOutcome(st, pkg.TriggerPredictiveReboot)
	}

	// Rule 2: kill switch on raw thresholds
	if ev.killed {
		return hardOutcome(st, ev.killReason)
	}

	// Rule 3: critical hardware, or a device we cannot assess at all
	if ev.health == nil || health.Severity(ev.health.Status) >= health.Severity(pkg.HealthCritical) {
		return hardOutcome(st, pkg.TriggerHardwareHealth)
	}

	// Rule 4: enough simultaneous quality breaches count as critical
	if th.hardCount > 0 && breaches >= th.hardCount {
		return hardOutcome(st, pkg.TriggerMultipleCritical)
	}

	// Rule 5: soft degradation on low score or any single breach
	if ev.score.WeightedScore < th.failover || breaches >= 1 {
		return softOutcome(st, ev, th, breaches, recoverFrom)
	}

	// Rule 6: a failed-over interface that recovered past the (higher)
	// recovery threshold starts stabilizing
	if (st.State == pkg.StateFailedOverSoft || st.State == pkg.StateFailedOverHard) &&
		ev.score.WeightedScore > th.recovery {
		return outcome{
			nextState:    pkg.StateStabilizing,
			decisionType: pkg.DecisionEvaluation,
			trigger:      pkg.TriggerRecoveryMet,
			resetCounter: true,
		}
	}

	// Rule 7: stabilizing interfaces earn their way back one clean tick
	// at a time
	if st.State == pkg.StateStabilizing {
		if st.StabilityCounter+1 >= th.stability {
			return outcome{
				nextState:    pkg.StatePrimary,
				decisionType: pkg.DecisionRestore,
				trigger:      pkg.TriggerQualityImproved,
				resetCounter: true,
			}
		}
		return outcome{
			nextState:    pkg.StateStabilizing,
			decisionType: pkg.DecisionEvaluation,
			trigger:      pkg.TriggerStabilityCheck,
			countStep:    true,
		}
	}

	// A log-only degradation whose cause cleared goes straight back to
	// PRIMARY; no routing ever changed, so no hysteresis applies
	if st.State == pkg.StateSoftDegraded {
		return outcome{
			nextState:    pkg.StatePrimary,
			decisionType: pkg.DecisionEvaluation,
			trigger:      pkg.TriggerQualityImproved,
		}
	}

	// Rule 8: nothing to do
	return outcome{
		nextState:    st.State,
		decisionType: pkg.DecisionEvaluation,
		trigger:      pkg.TriggerNone,
	}
}

// hardOutcome moves to FAILED_OVER_HARD, classifying the decision as a
// hard failover only when the state actually changes
func hardOutcome(st *pkg.FailoverState, trigger string) outcome {
	decType := pkg.DecisionHardFailover
	if st.State == pkg.StateFailedOverHard {
		decType = pkg.DecisionEvaluation
	}
	return outcome{
		nextState:    pkg.StateFailedOverHard,
		decisionType: decType,
		trigger:      trigger,
		resetCounter: true,
	}
}

// softOutcome handles rule 5. The configured soft action decides whether
// quality concerns demote routing (FAILED_OVER_SOFT) or only get logged
// (SOFT_DEGRADED). A stabilizing interface reverts to where it came from.
func softOutcome(st *pkg.FailoverState, ev *evaluation, th thresholds, breaches int, recoverFrom string) outcome {
	trigger := pkg.TriggerScoreBelow
	if breaches >= 1 {
		trigger = pkg.TriggerSingleQuality
	}

	if st.State == pkg.StateStabilizing {
		back := recoverFrom
		if back != pkg.StateFailedOverSoft && back != pkg.StateFailedOverHard {
			back = pkg.StateFailedOverSoft
		}
		return outcome{
			nextState:    back,
			decisionType: pkg.DecisionEvaluation,
			trigger:      trigger,
			resetCounter: true,
		}
	}

	target := pkg.StateFailedOverSoft
	if th.softAction == uci.SoftActionLog {
		target = pkg.StateSoftDegraded
	}

	// Already demoted (or harder): soft conditions never promote
	if st.State == pkg.StateFailedOverHard || st.State == target {
		return outcome{
			nextState:    st.State,
			decisionType: pkg.DecisionEvaluation,
			trigger:      trigger,
		}
	}
	// Log-only mode never pulls an already switched interface back up
	if target == pkg.StateSoftDegraded && st.State == pkg.StateFailedOverSoft {
		return outcome{
			nextState:    st.State,
			decisionType: pkg.DecisionEvaluation,
			trigger:      trigger,
		}
	}

	return outcome{
		nextState:    target,
		decisionType: pkg.DecisionSoftFailover,
		trigger:      trigger,
	}
}

// priorityFor maps a state to the routing metric it should carry
func priorityFor(state string, cfg *uci.Config) int {
	switch state {
	case pkg.StatePrimary, pkg.StateSoftDegraded:
		return cfg.MetricGood
	default:
		return cfg.MetricBad
	}
}
