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

package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
	"github.com/canopyiq/toolgateway/pkg/approval"
	"github.com/canopyiq/toolgateway/pkg/sqlstore"
)

// Persister is the subset of sqlstore.AuditStore the writer needs.
type Persister interface {
	Append(ctx context.Context, row sqlstore.AuditRow) error
	LastHash(ctx context.Context) ([]byte, error)
}

// Writer appends audit entries, chaining each one's hash to the previous
// via compute_hash + persist under a single lock (spec §5: "a writer lock
// around compute_hash + persist preserves chain ordering per writer").
type Writer struct {
	store Persister
	mu    sync.Mutex
	now   func() time.Time
}

func NewWriter(store Persister) *Writer {
	return &Writer{store: store, now: time.Now}
}

// Write appends one entry, computing its hash against the chain's current
// tail. Per spec §7, audit writes are best-effort on the reply path: the
// caller logs a failure but must not let it change the user-visible reply.
func (w *Writer) Write(ctx context.Context, e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	prevHash, err := w.store.LastHash(ctx)
	if err != nil {
		return err
	}
	hash, err := ComputeHash(e, prevHash)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "compute audit hash")
	}

	argsRaw, err := json.Marshal(e.Args)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "encode audit args")
	}
	var resultMetaRaw json.RawMessage
	if e.ResultMeta != nil {
		resultMetaRaw, err = json.Marshal(e.ResultMeta)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrorTypeInternal, "encode audit result_meta")
		}
	}
	var approver *string
	if e.Approver != "" {
		approver = &e.Approver
	}

	return w.store.Append(ctx, sqlstore.AuditRow{
		TS:         e.TS,
		Tenant:     e.Tenant,
		Subject:    e.Subject,
		Tool:       e.Tool,
		Decision:   e.Decision,
		Rule:       e.Rule,
		Args:       argsRaw,
		ResultMeta: resultMetaRaw,
		Approver:   approver,
		Hash:       hash,
		PrevHash:   prevHash,
	})
}

// RecordApprovalDecision satisfies callback.AuditRecorder: it logs the
// approval record as it stands after an approver's decision (its status may
// still be pending when a quorum is not yet reached) with the approver and
// arrival channel (chat webhook vs. signed URL), as required for scenario
// S6's "source=url, approver=ci-approver" semantics.
func (w *Writer) RecordApprovalDecision(rec approval.Record, approver, source string) error {
	var args map[string]any
	_ = json.Unmarshal(rec.Args, &args)

	return w.Write(context.Background(), Entry{
		TS:       w.now().UTC(),
		Tenant:   rec.Tenant,
		Subject:  rec.Requester,
		Tool:     rec.Tool,
		Args:     args,
		Decision: string(rec.Status),
		Rule:     "approval_coordinator",
		ResultMeta: map[string]any{
			"pending_id": rec.ID,
			"source":     source,
		},
		Approver: approver,
	})
}
