// Package killswitch implements hard-failure detection on raw metric values.
// Kill rules bypass weighted scoring entirely: a single breached threshold
// condemns the interface no matter how good every other metric looks.
package killswitch

import (
	"fmt"
	"math"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/uci"
)

// Rule is one kill predicate on a raw metric value
type Rule struct {
	Metric     string
	Threshold  float64
	WorseAbove bool // true when breaching means value > threshold
}

// Breached reports whether the given raw value trips this rule.
// Absent or non-finite values never trip a rule; missing data is the
// scoring layer's problem, not a hard failure.
func (r Rule) Breached(value *float64) bool {
	if value == nil || math.IsNaN(*value) || math.IsInf(*value, 0) || *value == 0 {
		return false
	}
	if r.WorseAbove {
		return *value > r.Threshold
	}
	return *value < r.Threshold
}

// Evaluator holds the ordered kill rules for one interface class
type Evaluator struct {
	rules []Rule
}

// NewEvaluator builds an evaluator from a scoring profile. Profile entries
// without a kill threshold contribute no rule. Rule order follows profile
// order, which makes evaluation deterministic: the first breached rule wins.
func NewEvaluator(profile []uci.MetricConfig) *Evaluator {
	rules := make([]Rule, 0, len(profile))
	for _, mc := range profile {
		if mc.KillThreshold == 0 {
			continue
		}
		rules = append(rules, Rule{
			Metric:     mc.Name,
			Threshold:  mc.KillThreshold,
			WorseAbove: mc.Invert,
		})
	}
	return &Evaluator{rules: rules}
}

// Rules returns the configured rules in evaluation order
func (e *Evaluator) Rules() []Rule {
	return e.rules
}

// Evaluate checks the snapshot against every rule in order and returns
// the first breach. The reason identifies the breached metric, e.g.
// "kill_switch:loss_pct".
func (e *Evaluator) Evaluate(snap *pkg.Snapshot) (killed bool, reason string) {
	for _, rule := range e.rules {
		sample := snap.Sample(rule.Metric)
		var value *float64
		if sample != nil {
			value = sample.Value
		}
		if rule.Breached(value) {
			return true, fmt.Sprintf("%s%s", pkg.TriggerKillSwitchPrefix, rule.Metric)
		}
	}
	return false, ""
}
