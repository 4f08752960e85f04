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
	"testing"

	"github.com/canopyiq/toolgateway/pkg/bundle"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPolicyDiff(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Policy Diff Suite")
}

var _ = Describe("DiffBundles", func() {
	It("flags a newly added allow rule as a risk", func() {
		before := bundle.Contents{Rules: []bundle.Rule{
			{Name: "r1", Match: "t1", Action: "deny"},
		}}
		after := bundle.Contents{Rules: []bundle.Rule{
			{Name: "r1", Match: "t1", Action: "deny"},
			{Name: "r2", Match: "t2", Action: "allow"},
		}}

		d := DiffBundles(before, after)
		Expect(d.Added).To(HaveLen(1))
		Expect(d.Added[0].Key).To(Equal("t2/r2"))
		Expect(d.Risks).To(ContainElement(ContainSubstring("new allow rule")))
	})

	It("flags a required_approvals change on a modified rule", func() {
		before := bundle.Contents{Rules: []bundle.Rule{
			{Name: "r1", Match: "t1", Action: "approval", RequiredApprovals: 1},
		}}
		after := bundle.Contents{Rules: []bundle.Rule{
			{Name: "r1", Match: "t1", Action: "approval", RequiredApprovals: 2},
		}}

		d := DiffBundles(before, after)
		Expect(d.Modified).To(HaveLen(1))
		Expect(d.Risks).To(ContainElement(ContainSubstring("required_approvals changed")))
	})

	It("detects a removed rule", func() {
		before := bundle.Contents{Rules: []bundle.Rule{{Name: "r1", Match: "t1", Action: "deny"}}}
		after := bundle.Contents{Rules: []bundle.Rule{}}

		d := DiffBundles(before, after)
		Expect(d.Removed).To(HaveLen(1))
		Expect(d.Added).To(BeEmpty())
		Expect(d.Modified).To(BeEmpty())
	})

	It("reports no changes for identical bundles", func() {
		rules := []bundle.Rule{{Name: "r1", Match: "t1", Action: "deny", Reason: "x"}}
		before := bundle.Contents{Rules: rules}
		after := bundle.Contents{Rules: rules}

		d := DiffBundles(before, after)
		Expect(d.Added).To(BeEmpty())
		Expect(d.Removed).To(BeEmpty())
		Expect(d.Modified).To(BeEmpty())
		Expect(d.Risks).To(BeEmpty())
	})
})
