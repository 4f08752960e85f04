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

package callback

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
	"github.com/canopyiq/toolgateway/pkg/approval"
	"github.com/canopyiq/toolgateway/pkg/log"
	"github.com/sirupsen/logrus"
)

// AuditRecorder is the narrow slice of the audit writer (C10) the callback
// handlers need: record each decision made by an out-of-band approver,
// tagged with how it arrived.
type AuditRecorder interface {
	RecordApprovalDecision(rec approval.Record, approver, source string) error
}

// Handlers wires the Callback Verifier to the Approval Coordinator and the
// audit writer, exposing the two HTTP endpoints named in spec §6.
type Handlers struct {
	verifier    *Verifier
	coordinator *approval.Coordinator
	audit       AuditRecorder
	logger      *logrus.Logger
}

func NewHandlers(verifier *Verifier, coordinator *approval.Coordinator, audit AuditRecorder, logger *logrus.Logger) *Handlers {
	return &Handlers{verifier: verifier, coordinator: coordinator, audit: audit, logger: logger}
}

// chatAction is one element of the chat payload's "actions" array: the
// pending id (value) and which button was pressed (action_id).
type chatAction struct {
	ActionID string `json:"action_id"`
	Value    string `json:"value"`
}

// chatUser identifies the approver; chat integrations send either a
// username or a numeric/opaque id depending on the workspace.
type chatUser struct {
	Username string `json:"username"`
	ID       string `json:"id"`
}

type chatCallbackPayload struct {
	Actions []chatAction `json:"actions"`
	User    chatUser     `json:"user"`
}

// HandleChatCallback implements "POST /callback/chat": webhook-style HMAC
// verification of a chat-integration approve/deny action. The body is
// form-encoded with a single "payload" field holding the JSON described
// above.
func (h *Handlers) HandleChatCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeFailure(w, ReasonBadSignature)
		return
	}

	result := h.verifier.VerifyWebhook(r.Header.Get("X-Request-Timestamp"), r.Header.Get("X-Request-Signature"), body)
	if !result.OK {
		writeFailure(w, result.Reason)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		writeFailure(w, ReasonBadSignature)
		return
	}

	var payload chatCallbackPayload
	if err := json.Unmarshal([]byte(form.Get("payload")), &payload); err != nil || len(payload.Actions) == 0 {
		writeFailure(w, ReasonBadSignature)
		return
	}

	action := payload.Actions[0]
	approver := payload.User.Username
	if approver == "" {
		approver = payload.User.ID
	}

	h.applyDecision(w, r, action.Value, action.ActionID, approver, "chat")
}

// HandleURLCallback implements "GET /callback/url": the signed-URL
// approve/reject link (spec §4.7, scenario S6).
func (h *Handlers) HandleURLCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ts := q.Get("ts")
	pendingID := q.Get("pending_id")
	decision := q.Get("decision")
	sig := q.Get("sig")

	result := h.verifier.VerifySignedURL(ts, pendingID, decision, sig)
	if !result.OK {
		writeFailure(w, result.Reason)
		return
	}

	approver := q.Get("approver")
	if approver == "" {
		approver = "ci-approver"
	}
	h.applyDecision(w, r, pendingID, decision, approver, "url")
}

func (h *Handlers) applyDecision(w http.ResponseWriter, r *http.Request, pendingID, decision, approver, source string) {
	var d approval.Decision
	switch decision {
	case "approve", string(approval.DecisionAllow):
		d = approval.DecisionAllow
	case "reject", string(approval.DecisionDeny):
		d = approval.DecisionDeny
	default:
		writeAppError(w, appErrors.NewValidationError("decision must be approve or reject"))
		return
	}

	rec, err := h.coordinator.Decide(r.Context(), pendingID, approver, d, "")
	if err != nil {
		writeAppError(w, err)
		return
	}

	if h.audit != nil {
		if err := h.audit.RecordApprovalDecision(rec, approver, source); err != nil {
			h.logger.WithFields(log.NewFields().Operation("callback_decide").Error(err).Logrus()).
				WithField("pending_id", pendingID).
				Warn("audit write for approval decision failed")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"id": rec.ID, "status": rec.Status})
}

func writeFailure(w http.ResponseWriter, reason FailureReason) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "about:blank",
		"title":  "callback signature verification failed",
		"status": http.StatusUnauthorized,
		"reason": reason,
	})
}

func writeAppError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(appErrors.GetStatusCode(err))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "about:blank",
		"title":  appErrors.SafeErrorMessage(err),
		"status": appErrors.GetStatusCode(err),
	})
}
