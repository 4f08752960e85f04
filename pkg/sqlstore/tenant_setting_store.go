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

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
)

// TenantSettingKind distinguishes the two opaque per-tenant setting blobs
// the Admin API exposes (spec §4.12: "PUT tenants/<tenant>/quota and
// PUT tenants/<tenant>/rate-limit: opaque settings; store as-is").
type TenantSettingKind string

const (
	TenantSettingQuota     TenantSettingKind = "quota"
	TenantSettingRateLimit TenantSettingKind = "rate_limit"
)

// TenantSettingStore persists opaque per-tenant JSON settings blobs.
type TenantSettingStore struct {
	store *Store
}

func NewTenantSettingStore(store *Store) *TenantSettingStore {
	return &TenantSettingStore{store: store}
}

// Set upserts the settings blob for (tenant, kind). The value is stored
// as-is; the Admin API never interprets its shape.
func (ts *TenantSettingStore) Set(ctx context.Context, tenant string, kind TenantSettingKind, settings json.RawMessage) error {
	_, err := ts.store.call(func() (any, error) {
		_, execErr := ts.store.db.ExecContext(ctx, `
			INSERT INTO tenant_setting (tenant, kind, settings) VALUES ($1, $2, $3)
			ON CONFLICT (tenant, kind) DO UPDATE SET settings = EXCLUDED.settings, updated_at = now()
		`, tenant, string(kind), settings)
		return nil, execErr
	})
	if err != nil {
		return appErrors.NewDatabaseError("upsert tenant_setting", err)
	}
	return nil
}

// Get returns the settings blob for (tenant, kind), or a not-found error.
func (ts *TenantSettingStore) Get(ctx context.Context, tenant string, kind TenantSettingKind) (json.RawMessage, error) {
	var raw json.RawMessage
	_, err := ts.store.call(func() (any, error) {
		return nil, ts.store.db.GetContext(ctx, &raw,
			`SELECT settings FROM tenant_setting WHERE tenant = $1 AND kind = $2`, tenant, string(kind))
	})
	if err == ErrNotFound {
		return nil, appErrors.NewNotFoundError("tenant setting")
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("get tenant_setting", err)
	}
	return raw, nil
}
