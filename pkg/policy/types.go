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

package policy

// Outcome is the result of evaluating a policy against a tool call.
type Outcome string

const (
	OutcomeAllow    Outcome = "allow"
	OutcomeDeny     Outcome = "deny"
	OutcomeApproval Outcome = "approval"
)

// Decision is the result of Engine.Evaluate.
type Decision struct {
	Outcome           Outcome
	Rule              string
	Reason            string
	RequiredApprovals int
}

// StepOutcome classifies why a rule did or didn't match, for the trace.
type StepOutcome string

const (
	StepSkippedToolMismatch StepOutcome = "skipped: tool-mismatch"
	StepSkippedPredicate    StepOutcome = "skipped: predicate-failed"
	StepMatched             StepOutcome = "matched"
	StepUnknownPredicate    StepOutcome = "unknown_predicate"
)

// Step is one rule's evaluation record in an evaluate_with_trace call.
type Step struct {
	Rule             string      `json:"rule"`
	Outcome          StepOutcome `json:"outcome"`
	FailedPredicate  string      `json:"failed_predicate,omitempty"`
	UnknownPredicate string      `json:"unknown_predicate,omitempty"`
}

// Trace is the full per-rule evaluation record from evaluate_with_trace.
type Trace struct {
	Decision          Outcome `json:"decision"`
	Rule              string  `json:"rule"`
	Reason            string  `json:"reason"`
	RequiredApprovals int     `json:"required_approvals"`
	Steps             []Step  `json:"trace"`
}
