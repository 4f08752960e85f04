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

// Package bundle implements signature verification (C1) and the on-disk
// shapes of a policy bundle and its signature envelope (spec §3, §4.1).
package bundle

import "time"

// Contents is the parsed, YAML-shaped bundle payload: defaults plus an
// ordered list of rules. First-match-wins evaluation is implemented by the
// policy engine, not here.
type Contents struct {
	Defaults Defaults `yaml:"defaults" json:"defaults"`
	Rules    []Rule   `yaml:"rules" json:"rules"`
}

type Defaults struct {
	Decision string `yaml:"decision" json:"decision"`
}

// Rule is one ordered entry in a bundle. Match "*" matches any tool name.
type Rule struct {
	Name              string `yaml:"name" json:"name"`
	Match             string `yaml:"match" json:"match"`
	Where             Where  `yaml:"where" json:"where"`
	Action            string `yaml:"action" json:"action"`
	RequiredApprovals int    `yaml:"required_approvals" json:"required_approvals"`
	Reason            string `yaml:"reason" json:"reason"`
	ApproverGroup     string `yaml:"approver_group" json:"approver_group"`
}

// EffectiveRequiredApprovals returns RequiredApprovals, defaulting to 1
// when unset (spec §3: "default 1; only meaningful when action=approval").
func (r Rule) EffectiveRequiredApprovals() int {
	if r.RequiredApprovals <= 0 {
		return 1
	}
	return r.RequiredApprovals
}

// EffectiveDecision returns "deny" if Defaults.Decision is unset, matching
// the bundle contract's fail-closed default (spec §3).
func (d Defaults) EffectiveDecision() string {
	if d.Decision == "" {
		return "deny"
	}
	return d.Decision
}

// Envelope is the JSON signature envelope accompanying a bundle payload.
type Envelope struct {
	Alg               string    `json:"alg"`
	Created           time.Time `json:"created"`
	SHA256            string    `json:"sha256"` // base64
	Sig               string    `json:"sig"`    // base64
	PubkeyFingerprint string    `json:"pubkey_fingerprint"`
}
