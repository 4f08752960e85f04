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

package rpcserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/canopyiq/toolgateway/pkg/approval"
	"github.com/canopyiq/toolgateway/pkg/audit"
	"github.com/canopyiq/toolgateway/pkg/bundle"
	"github.com/canopyiq/toolgateway/pkg/policy"
	"github.com/canopyiq/toolgateway/pkg/toolregistry"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
)

func TestRPCServer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RPC Dispatcher Suite")
}

type fakeResolver struct {
	engine *policy.Engine
}

func (f *fakeResolver) EngineFor(ctx context.Context, tenant string) (*policy.Engine, string, error) {
	return f.engine, "v1", nil
}

type fakeCoordinator struct {
	created []approval.Record
	waitRec approval.Record
	waitOK  bool
}

func (f *fakeCoordinator) Create(ctx context.Context, id, tenant, requester, tool string, args json.RawMessage, requiredApprovals, ttlSec int, reason string) (approval.Record, error) {
	rec := approval.Record{ID: id, Tenant: tenant, Requester: requester, Tool: tool, Status: approval.StatusPending, RequiredApprovals: requiredApprovals, Reason: reason}
	f.created = append(f.created, rec)
	return rec, nil
}

func (f *fakeCoordinator) Wait(ctx context.Context, id string, timeoutSec int) (approval.Record, bool, error) {
	return f.waitRec, f.waitOK, nil
}

type fakeAuditWriter struct {
	entries []audit.Entry
}

func (f *fakeAuditWriter) Write(ctx context.Context, e audit.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}

func engineWith(rules ...bundle.Rule) *policy.Engine {
	return policy.Compile(bundle.Contents{Defaults: bundle.Defaults{Decision: "deny"}, Rules: rules})
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(ginkgoWriterAdapter{})
	return l
}

type ginkgoWriterAdapter struct{}

func (ginkgoWriterAdapter) Write(p []byte) (int, error) { return GinkgoWriter.Write(p) }

var _ = Describe("Dispatcher", func() {
	It("handles initialize", func() {
		d := NewDispatcher(&fakeResolver{engine: engineWith()}, engineWith(), &fakeCoordinator{}, toolregistry.New(), &fakeAuditWriter{}, testLogger(), Config{})
		resp := d.Dispatch(context.Background(), AuthContext{Tenant: "acme"}, Request{JSONRPC: "2.0", ID: 1, Method: "initialize"})
		Expect(resp.Error).To(BeNil())
		result := resp.Result.(map[string]any)
		Expect(result["protocolVersion"]).To(Equal("2025-06-18"))
	})

	It("returns method not found for an unknown method", func() {
		d := NewDispatcher(&fakeResolver{engine: engineWith()}, engineWith(), &fakeCoordinator{}, toolregistry.New(), &fakeAuditWriter{}, testLogger(), Config{})
		resp := d.Dispatch(context.Background(), AuthContext{}, Request{JSONRPC: "2.0", Method: "bogus"})
		Expect(resp.Error).NotTo(BeNil())
		Expect(resp.Error.Code).To(Equal(CodeMethodNotFound))
	})

	It("denies a tool call matching a deny rule and writes an audit entry", func() {
		engine := engineWith(bundle.Rule{Name: "block-delete", Match: "*", Action: "deny", Reason: "destructive op"})
		auditWriter := &fakeAuditWriter{}
		d := NewDispatcher(&fakeResolver{engine: engine}, engine, &fakeCoordinator{}, toolregistry.New(), auditWriter, testLogger(), Config{})

		params, _ := json.Marshal(map[string]any{"name": "cloud.delete", "arguments": map[string]any{}})
		resp := d.Dispatch(context.Background(), AuthContext{Tenant: "acme", Subject: "alice"}, Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})

		result := resp.Result.(ToolCallResult)
		Expect(result.IsError).To(BeTrue())
		Expect(result.Content[0].Text).To(Equal("destructive op"))
		Expect(auditWriter.entries).To(HaveLen(1))
		Expect(auditWriter.entries[0].Decision).To(Equal("deny"))
	})

	It("allows a tool call matching an allow rule and executes the handler", func() {
		engine := engineWith(bundle.Rule{Name: "allow-read", Match: "*", Action: "allow"})
		registry := toolregistry.New()
		registry.Register(toolregistry.Descriptor{Name: "cloud.read"}, func(ctx context.Context, args map[string]any, call toolregistry.CallContext) (any, error) {
			return map[string]any{"ok": true, "tenant": call.Tenant}, nil
		})
		auditWriter := &fakeAuditWriter{}
		d := NewDispatcher(&fakeResolver{engine: engine}, engine, &fakeCoordinator{}, registry, auditWriter, testLogger(), Config{})

		params, _ := json.Marshal(map[string]any{"name": "cloud.read", "arguments": map[string]any{}})
		resp := d.Dispatch(context.Background(), AuthContext{Tenant: "acme", Subject: "alice"}, Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})

		result := resp.Result.(ToolCallResult)
		Expect(result.IsError).To(BeFalse())
		Expect(auditWriter.entries[0].Decision).To(Equal("allow"))
	})

	It("returns invalid params for an allowed call to an unregistered tool", func() {
		engine := engineWith(bundle.Rule{Name: "allow-all", Match: "*", Action: "allow"})
		auditWriter := &fakeAuditWriter{}
		d := NewDispatcher(&fakeResolver{engine: engine}, engine, &fakeCoordinator{}, toolregistry.New(), auditWriter, testLogger(), Config{})

		params, _ := json.Marshal(map[string]any{"name": "no.such.tool", "arguments": map[string]any{}})
		resp := d.Dispatch(context.Background(), AuthContext{Tenant: "acme", Subject: "alice"}, Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})

		Expect(resp.Error).NotTo(BeNil())
		Expect(resp.Error.Code).To(Equal(CodeInvalidParams))
		Expect(auditWriter.entries).To(BeEmpty())
	})

	It("creates a pending approval and replies immediately when no wait timeout is configured", func() {
		engine := engineWith(bundle.Rule{Name: "high-cost", Match: "*", Action: "approval", RequiredApprovals: 2, Reason: "High cost"})
		coordinator := &fakeCoordinator{}
		d := NewDispatcher(&fakeResolver{engine: engine}, engine, coordinator, toolregistry.New(), &fakeAuditWriter{}, testLogger(), Config{})

		params, _ := json.Marshal(map[string]any{"name": "cloud.ops", "arguments": map[string]any{"estimated_cost_usd": 12}})
		resp := d.Dispatch(context.Background(), AuthContext{Tenant: "acme", Subject: "alice"}, Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})

		result := resp.Result.(ToolCallResult)
		Expect(result.IsError).To(BeTrue())
		Expect(coordinator.created).To(HaveLen(1))
		Expect(coordinator.created[0].RequiredApprovals).To(Equal(2))
	})

	It("executes the handler after a synchronous wait resolves to allow", func() {
		engine := engineWith(bundle.Rule{Name: "high-cost", Match: "*", Action: "approval", RequiredApprovals: 1, Reason: "High cost"})
		registry := toolregistry.New()
		registry.Register(toolregistry.Descriptor{Name: "cloud.ops"}, func(ctx context.Context, args map[string]any, call toolregistry.CallContext) (any, error) {
			return "done", nil
		})
		coordinator := &fakeCoordinator{waitOK: true, waitRec: approval.Record{Status: approval.StatusAllow, Approvals: []string{"bob"}}}
		auditWriter := &fakeAuditWriter{}
		d := NewDispatcher(&fakeResolver{engine: engine}, engine, coordinator, registry, auditWriter, testLogger(), Config{ApprovalWaitTimeout: time.Second})

		params, _ := json.Marshal(map[string]any{"name": "cloud.ops", "arguments": map[string]any{}})
		resp := d.Dispatch(context.Background(), AuthContext{Tenant: "acme", Subject: "alice"}, Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})

		result := resp.Result.(ToolCallResult)
		Expect(result.IsError).To(BeFalse())
		Expect(auditWriter.entries[0].Decision).To(Equal("allow"))
		Expect(auditWriter.entries[0].Approver).To(Equal("bob"))
	})
})
