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

// RBACStore persists (tenant, subject) -> roles bindings (spec §3 Role
// binding).
type RBACStore struct {
	store *Store
}

func NewRBACStore(store *Store) *RBACStore { return &RBACStore{store: store} }

// GetRoles returns the roles bound to (tenant, subject), or an empty slice
// if no binding exists.
func (rs *RBACStore) GetRoles(ctx context.Context, tenant, subject string) ([]string, error) {
	var raw []byte
	_, err := rs.store.call(func() (any, error) {
		return nil, rs.store.db.GetContext(ctx, &raw,
			`SELECT roles FROM rbac_binding WHERE tenant = $1 AND subject = $2`, tenant, subject)
	})
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("get rbac_binding", err)
	}
	var roles []string
	if err := json.Unmarshal(raw, &roles); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "decode rbac_binding roles")
	}
	return roles, nil
}

// SetRoles upserts the role list for (tenant, subject).
func (rs *RBACStore) SetRoles(ctx context.Context, tenant, subject string, roles []string) error {
	raw, err := json.Marshal(roles)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeValidation, "encode roles")
	}
	_, err = rs.store.call(func() (any, error) {
		_, execErr := rs.store.db.ExecContext(ctx, `
			INSERT INTO rbac_binding (tenant, subject, roles) VALUES ($1, $2, $3)
			ON CONFLICT (tenant, subject) DO UPDATE SET roles = EXCLUDED.roles
		`, tenant, subject, raw)
		return nil, execErr
	})
	if err != nil {
		return appErrors.NewDatabaseError("upsert rbac_binding", err)
	}
	return nil
}
