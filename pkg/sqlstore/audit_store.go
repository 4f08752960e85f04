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

package sqlstore

import (
	"context"
	"encoding/json"
	"time"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
)

// AuditRow is one persisted audit_log row (spec §3, §6).
type AuditRow struct {
	TS         time.Time
	Tenant     string
	Subject    string
	Tool       string
	Decision   string
	Rule       string
	Args       json.RawMessage
	ResultMeta json.RawMessage
	Approver   *string
	Hash       []byte
	PrevHash   []byte
}

// AuditStore appends audit rows. Writes are best-effort per spec §7: a
// failure here is logged by the caller but never changes the user-visible
// reply.
type AuditStore struct {
	store *Store
}

func NewAuditStore(store *Store) *AuditStore { return &AuditStore{store: store} }

func (as *AuditStore) Append(ctx context.Context, row AuditRow) error {
	_, err := as.store.call(func() (any, error) {
		_, execErr := as.store.db.ExecContext(ctx, `
			INSERT INTO audit_log (ts, tenant, subject, tool, decision, rule, args, result_meta, approver, hash, prev_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, row.TS, row.Tenant, row.Subject, row.Tool, row.Decision, row.Rule, row.Args, row.ResultMeta, row.Approver, row.Hash, row.PrevHash)
		return nil, execErr
	})
	if err != nil {
		return appErrors.NewDatabaseError("append audit_log", err)
	}
	return nil
}

// LastHash returns the hash of the most recently appended row, or nil if
// the log is empty (used to chain the next entry's prev_hash).
func (as *AuditStore) LastHash(ctx context.Context) ([]byte, error) {
	var hash []byte
	_, err := as.store.call(func() (any, error) {
		return nil, as.store.db.GetContext(ctx, &hash, `SELECT hash FROM audit_log ORDER BY id DESC LIMIT 1`)
	})
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("get last audit hash", err)
	}
	return hash, nil
}
