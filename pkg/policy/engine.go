/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package policy implements the policy engine (C2): rule matching with
// typed predicates and an explainable evaluation trace, compiled from a
// bundle's contents.
package policy

import (
	"github.com/canopyiq/toolgateway/pkg/bundle"
)

const defaultRuleName = "__default__"

// Engine is a compiled, immutable view of one bundle's rules. It is a pure
// function of the bundle: rebuilding from the same contents always yields
// the same decisions.
type Engine struct {
	defaultDecision Outcome
	rules           []bundle.Rule
}

// Compile builds an Engine from bundle contents.
func Compile(contents bundle.Contents) *Engine {
	return &Engine{
		defaultDecision: Outcome(contents.Defaults.EffectiveDecision()),
		rules:           contents.Rules,
	}
}

// Evaluate returns the decision for a tool call without a trace.
func (e *Engine) Evaluate(tool string, args Args) Decision {
	t := e.EvaluateWithTrace(tool, args)
	return Decision{
		Outcome:           t.Decision,
		Rule:              t.Rule,
		Reason:            t.Reason,
		RequiredApprovals: t.RequiredApprovals,
	}
}

// EvaluateWithTrace returns the decision plus a per-rule evaluation trace
// (spec §4.2). Invariant (spec §8.1): Evaluate and EvaluateWithTrace always
// agree on outcome/rule/required_approvals.
func (e *Engine) EvaluateWithTrace(tool string, args Args) Trace {
	var steps []Step

	for _, rule := range e.rules {
		if rule.Match != "" && rule.Match != "*" && rule.Match != tool {
			steps = append(steps, Step{Rule: rule.Name, Outcome: StepSkippedToolMismatch})
			continue
		}

		failedPredicate, unknownKeys, matched := matchWhere(rule.Where, args)
		for _, k := range unknownKeys {
			steps = append(steps, Step{Rule: rule.Name, Outcome: StepUnknownPredicate, UnknownPredicate: k})
		}
		if !matched {
			steps = append(steps, Step{Rule: rule.Name, Outcome: StepSkippedPredicate, FailedPredicate: failedPredicate})
			continue
		}

		steps = append(steps, Step{Rule: rule.Name, Outcome: StepMatched})
		requiredApprovals := 0
		if Outcome(rule.Action) == OutcomeApproval {
			requiredApprovals = rule.EffectiveRequiredApprovals()
		}
		return Trace{
			Decision:          Outcome(rule.Action),
			Rule:              rule.Name,
			Reason:            rule.Reason,
			RequiredApprovals: requiredApprovals,
			Steps:             steps,
		}
	}

	return Trace{
		Decision: e.defaultDecision,
		Rule:     defaultRuleName,
		Reason:   "no rules matched",
		Steps:    steps,
	}
}

// matchWhere evaluates a rule's where-predicates in declared order,
// stopping at the first failing predicate (spec §4.2 step 2). An empty or
// absent where always matches. unknownKeys collects every unrecognized
// predicate encountered along the way (they are vacuously true but still
// annotated in the trace).
func matchWhere(where bundle.Where, args Args) (failedPredicate string, unknownKeys []string, matched bool) {
	for _, pred := range where {
		result := evalPredicate(pred.Key, pred.Value, args)
		if result.unknown {
			unknownKeys = append(unknownKeys, pred.Key)
			continue
		}
		if !result.matched {
			return pred.Key, unknownKeys, false
		}
	}
	return "", unknownKeys, true
}
