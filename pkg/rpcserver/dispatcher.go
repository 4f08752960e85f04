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
	"fmt"
	"time"

	"github.com/canopyiq/toolgateway/pkg/approval"
	"github.com/canopyiq/toolgateway/pkg/audit"
	"github.com/canopyiq/toolgateway/pkg/log"
	"github.com/canopyiq/toolgateway/pkg/policy"
	"github.com/canopyiq/toolgateway/pkg/toolregistry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const protocolVersion = "2025-06-18"

// AuthContext carries the caller identity through a dispatch. The HTTP
// transport populates it from a verified bearer token; the stdio
// transport hardcodes "local"/"stdio-client" (spec §4.9 step 1).
type AuthContext struct {
	Tenant  string
	Subject string
}

// EngineResolver is the subset of pkg/rollout.Resolver the dispatcher
// needs.
type EngineResolver interface {
	EngineFor(ctx context.Context, tenant string) (*policy.Engine, string, error)
}

// ApprovalCoordinator is the subset of pkg/approval.Coordinator the
// dispatcher needs.
type ApprovalCoordinator interface {
	Create(ctx context.Context, id, tenant, requester, tool string, args json.RawMessage, requiredApprovals, ttlSec int, reason string) (approval.Record, error)
	Wait(ctx context.Context, id string, timeoutSec int) (approval.Record, bool, error)
}

// AuditWriter is the subset of pkg/audit.Writer the dispatcher needs.
type AuditWriter interface {
	Write(ctx context.Context, e audit.Entry) error
}

// Config holds the dispatcher's tunables.
type Config struct {
	// ApprovalWaitTimeout, when > 0, makes tools/call block synchronously
	// on a pending approval up to this duration before replying with the
	// pending id for client-side polling (spec §4.9 step 5).
	ApprovalWaitTimeout time.Duration
	// DefaultApprovalTTL is used when a rule doesn't specify one.
	DefaultApprovalTTL time.Duration
}

// Dispatcher implements the shared JSON-RPC method table (spec §4.9).
type Dispatcher struct {
	resolver     EngineResolver
	staticEngine *policy.Engine
	coordinator  ApprovalCoordinator
	registry     *toolregistry.Registry
	auditWriter  AuditWriter
	logger       *logrus.Logger
	cfg          Config
	newID        func() string
	now          func() time.Time
}

func NewDispatcher(resolver EngineResolver, staticEngine *policy.Engine, coordinator ApprovalCoordinator, registry *toolregistry.Registry, auditWriter AuditWriter, logger *logrus.Logger, cfg Config) *Dispatcher {
	return &Dispatcher{
		resolver:     resolver,
		staticEngine: staticEngine,
		coordinator:  coordinator,
		registry:     registry,
		auditWriter:  auditWriter,
		logger:       logger,
		cfg:          cfg,
		newID:        func() string { return uuid.NewString() },
		now:          time.Now,
	}
}

// Dispatch routes one JSON-RPC request to its method handler.
func (d *Dispatcher) Dispatch(ctx context.Context, auth AuthContext, req Request) Response {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, map[string]any{
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": true}},
			"protocolVersion": protocolVersion,
		})
	case "tools/list":
		return resultResponse(req.ID, map[string]any{
			"tools":      d.registry.List(),
			"nextCursor": nil,
		})
	case "tools/call":
		return d.dispatchToolsCall(ctx, auth, req)
	case "shutdown":
		return resultResponse(req.ID, map[string]any{"ok": true})
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

var tracer = otel.Tracer("rpcserver")

func (d *Dispatcher) dispatchToolsCall(ctx context.Context, auth AuthContext, req Request) Response {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid tools/call params")
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	ctx, span := tracer.Start(ctx, "tools/call", trace.WithAttributes(
		attribute.String("tool", params.Name),
		attribute.String("tenant", auth.Tenant),
	))
	defer span.End()

	engine, version := d.engineFor(ctx, auth.Tenant)
	decision := engine.Evaluate(params.Name, policy.Args(params.Arguments))

	switch decision.Outcome {
	case policy.OutcomeDeny:
		d.audit(ctx, auth, params.Name, params.Arguments, string(decision.Outcome), decision.Rule, nil, "")
		return resultResponse(req.ID, deniedResult(decision.Reason))

	case policy.OutcomeApproval:
		return d.dispatchApproval(ctx, auth, req, params, decision, version)

	case policy.OutcomeAllow:
		return d.dispatchAllow(ctx, auth, req, params, decision)

	default:
		return errorResponse(req.ID, CodeInternal, "policy engine returned an unrecognized outcome")
	}
}

func (d *Dispatcher) engineFor(ctx context.Context, tenant string) (*policy.Engine, string) {
	engine, version, err := d.resolver.EngineFor(ctx, tenant)
	if err != nil {
		d.logger.WithFields(log.NewFields().Component("rpcserver").Tenant(tenant).Error(err).Logrus()).
			Warn("rollout resolution failed, falling back to static engine")
		return d.staticEngine, "__static__"
	}
	return engine, version
}

func (d *Dispatcher) dispatchApproval(ctx context.Context, auth AuthContext, req Request, params toolsCallParams, decision policy.Decision, version string) Response {
	pendingID := d.newID()
	argsRaw, err := json.Marshal(params.Arguments)
	if err != nil {
		return errorResponse(req.ID, CodeInternal, "encode tool arguments")
	}

	ttlSec := int(d.cfg.DefaultApprovalTTL.Seconds())
	_, err = d.coordinator.Create(ctx, pendingID, auth.Tenant, auth.Subject, params.Name, argsRaw, decision.RequiredApprovals, ttlSec, decision.Reason)
	if err != nil {
		return errorResponse(req.ID, CodeInternal, "create pending approval")
	}
	d.logger.WithFields(log.NewFields().Component("rpcserver").Tenant(auth.Tenant).Tool(params.Name).Logrus()).
		WithField("pending_id", pendingID).
		Info("approval requested, bundle version " + version)

	if d.cfg.ApprovalWaitTimeout <= 0 {
		return resultResponse(req.ID, pendingResult(pendingID))
	}

	waitCtx, waitSpan := tracer.Start(ctx, "approval.wait", trace.WithAttributes(
		attribute.String("pending_id", pendingID),
	))
	rec, ok, err := d.coordinator.Wait(waitCtx, pendingID, int(d.cfg.ApprovalWaitTimeout.Seconds()))
	waitSpan.End()
	if err != nil || !ok {
		return resultResponse(req.ID, pendingResult(pendingID))
	}

	switch rec.Status {
	case approval.StatusAllow:
		handler, err := d.registry.Get(params.Name)
		if err != nil {
			return errorResponse(req.ID, CodeInvalidParams, err.Error())
		}
		result := d.executeTool(ctx, auth, params, handler)
		d.audit(ctx, auth, params.Name, params.Arguments, "allow", decision.Rule, resultMetaFor(result), approverList(rec))
		return resultResponse(req.ID, result)
	case approval.StatusDeny:
		d.audit(ctx, auth, params.Name, params.Arguments, "deny", decision.Rule, nil, approverList(rec))
		return resultResponse(req.ID, deniedResult(decision.Reason))
	default:
		return resultResponse(req.ID, pendingResult(pendingID))
	}
}

func (d *Dispatcher) dispatchAllow(ctx context.Context, auth AuthContext, req Request, params toolsCallParams, decision policy.Decision) Response {
	handler, err := d.registry.Get(params.Name)
	if err != nil {
		return errorResponse(req.ID, CodeInvalidParams, err.Error())
	}
	result := d.executeTool(ctx, auth, params, handler)
	d.audit(ctx, auth, params.Name, params.Arguments, "allow", decision.Rule, resultMetaFor(result), "")
	return resultResponse(req.ID, result)
}

// executeTool runs an already-resolved tool handler. Callers look the
// handler up via the registry first so a missing tool reports as the
// JSON-RPC error -32602 (unknown_tool) rather than the in-band tool error
// below, which is reserved for exceptions the handler itself raises.
func (d *Dispatcher) executeTool(ctx context.Context, auth AuthContext, params toolsCallParams, handler toolregistry.Handler) ToolCallResult {
	out, err := handler(ctx, params.Arguments, toolregistry.CallContext{Tenant: auth.Tenant, Subject: auth.Subject})
	if err != nil {
		return ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("Tool error: %s", err.Error())}},
			IsError: true,
		}
	}

	text, err := json.Marshal(out)
	if err != nil {
		return ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("Tool error: %s", err.Error())}},
			IsError: true,
		}
	}
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: string(text)}}, IsError: false}
}

func (d *Dispatcher) audit(ctx context.Context, auth AuthContext, tool string, args map[string]any, decisionOutcome, rule string, resultMeta map[string]any, approver string) {
	if d.auditWriter == nil {
		return
	}
	err := d.auditWriter.Write(ctx, audit.Entry{
		TS:         d.now().UTC(),
		Tenant:     auth.Tenant,
		Subject:    auth.Subject,
		Tool:       tool,
		Args:       args,
		Decision:   decisionOutcome,
		Rule:       rule,
		ResultMeta: resultMeta,
		Approver:   approver,
	})
	if err != nil {
		d.logger.WithFields(log.NewFields().Component("rpcserver").Tenant(auth.Tenant).Tool(tool).Error(err).Logrus()).
			Warn("audit write failed; reply already emitted")
	}
}

func deniedResult(reason string) ToolCallResult {
	if reason == "" {
		reason = "Blocked by policy"
	}
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: reason}}, IsError: true}
}

func pendingResult(pendingID string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf("Approval pending: %s", pendingID)}},
		IsError: true,
	}
}

func resultMetaFor(result ToolCallResult) map[string]any {
	return map[string]any{"is_error": result.IsError}
}

func approverList(rec approval.Record) string {
	if len(rec.Approvals) == 0 {
		return ""
	}
	return rec.Approvals[len(rec.Approvals)-1]
}
