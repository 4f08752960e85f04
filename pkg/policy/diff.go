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

import (
	"fmt"
	"reflect"

	"github.com/canopyiq/toolgateway/pkg/bundle"
)

// RuleDiff is one changed rule entry in a Diff (spec §4.12 "Diff
// semantics").
type RuleDiff struct {
	Key    string `json:"key"` // "<match>/<name>"
	Before *bundle.Rule `json:"before,omitempty"`
	After  *bundle.Rule `json:"after,omitempty"`
}

// Diff is the result of comparing two bundles (spec §4.12 "POST
// policy/diff").
type Diff struct {
	Added    []RuleDiff `json:"added"`
	Removed  []RuleDiff `json:"removed"`
	Modified []RuleDiff `json:"modified"`
	Risks    []string   `json:"risks"`
}

func ruleKey(r bundle.Rule) string { return fmt.Sprintf("%s/%s", r.Match, r.Name) }

// ruleEqual compares the fields the spec says diff equality is keyed on:
// {match, where, action, required_approvals, reason}.
func ruleEqual(a, b bundle.Rule) bool {
	return a.Match == b.Match &&
		a.Action == b.Action &&
		a.RequiredApprovals == b.RequiredApprovals &&
		a.Reason == b.Reason &&
		reflect.DeepEqual(a.Where, b.Where)
}

// DiffBundles computes the added/removed/modified rule sets and a risk
// headline between two bundle contents, keyed by "<match>/<name>".
func DiffBundles(before, after bundle.Contents) Diff {
	beforeByKey := make(map[string]bundle.Rule, len(before.Rules))
	for _, r := range before.Rules {
		beforeByKey[ruleKey(r)] = r
	}
	afterByKey := make(map[string]bundle.Rule, len(after.Rules))
	for _, r := range after.Rules {
		afterByKey[ruleKey(r)] = r
	}

	var d Diff
	for key, afterRule := range afterByKey {
		beforeRule, existed := beforeByKey[key]
		if !existed {
			ar := afterRule
			d.Added = append(d.Added, RuleDiff{Key: key, After: &ar})
			continue
		}
		if !ruleEqual(beforeRule, afterRule) {
			br, ar := beforeRule, afterRule
			d.Modified = append(d.Modified, RuleDiff{Key: key, Before: &br, After: &ar})
		}
	}
	for key, beforeRule := range beforeByKey {
		if _, stillPresent := afterByKey[key]; !stillPresent {
			br := beforeRule
			d.Removed = append(d.Removed, RuleDiff{Key: key, Before: &br})
		}
	}

	d.Risks = riskHeadline(d)
	return d
}

// riskHeadline flags the changes spec §4.12 calls out as risk signals: new
// allow rules, new approval flows, action changes, host_in changes, and
// required_approvals changes.
func riskHeadline(d Diff) []string {
	var risks []string
	for _, add := range d.Added {
		switch add.After.Action {
		case "allow":
			risks = append(risks, fmt.Sprintf("new allow rule: %s", add.Key))
		case "approval":
			risks = append(risks, fmt.Sprintf("new approval flow: %s", add.Key))
		}
	}
	for _, mod := range d.Modified {
		if mod.Before.Action != mod.After.Action {
			risks = append(risks, fmt.Sprintf("action changed %s -> %s: %s", mod.Before.Action, mod.After.Action, mod.Key))
		}
		if mod.Before.RequiredApprovals != mod.After.RequiredApprovals {
			risks = append(risks, fmt.Sprintf("required_approvals changed %d -> %d: %s", mod.Before.RequiredApprovals, mod.After.RequiredApprovals, mod.Key))
		}
		if hostInChanged(mod.Before.Where, mod.After.Where) {
			risks = append(risks, fmt.Sprintf("host_in changed: %s", mod.Key))
		}
	}
	return risks
}

func hostInChanged(before, after bundle.Where) bool {
	b, _ := before.Get("host_in")
	a, _ := after.Get("host_in")
	return !reflect.DeepEqual(b, a)
}
