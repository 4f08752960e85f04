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
	"time"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
)

// RolloutRow is the singleton policy_rollout row (spec §3).
type RolloutRow struct {
	ActiveVersion string  `db:"active_version"`
	CanaryVersion *string `db:"canary_version"`
	CanaryPercent int     `db:"canary_percent"`
	Seed          int     `db:"seed"`
}

// RolloutStore persists the rollout singleton and tenant overrides backing
// C4 (Rollout Resolver) and the rollout-mutating parts of C12 (Admin API).
type RolloutStore struct {
	store *Store
}

func NewRolloutStore(store *Store) *RolloutStore { return &RolloutStore{store: store} }

// GetRollout reads the singleton rollout row, bootstrapping it to
// {active_version: "__builtin__"} if it doesn't exist yet.
func (rs *RolloutStore) GetRollout(ctx context.Context) (RolloutRow, error) {
	var row RolloutRow
	_, err := rs.store.call(func() (any, error) {
		return nil, rs.store.db.GetContext(ctx, &row,
			`SELECT active_version, canary_version, canary_percent, seed FROM policy_rollout WHERE id = 1`)
	})
	if err == ErrNotFound {
		return RolloutRow{ActiveVersion: "__builtin__", CanaryPercent: 0, Seed: 0}, nil
	}
	if err != nil {
		return RolloutRow{}, appErrors.NewDatabaseError("get policy_rollout", err)
	}
	return row, nil
}

// SetImmediate implements strategy=immediate_all: set active_version,
// clear canary.
func (rs *RolloutStore) SetImmediate(ctx context.Context, version string) error {
	return rs.upsertRollout(ctx, version, nil, 0, 0, true)
}

// SetCanary implements strategy=canary_percent: keep/seed active_version,
// set canary_version/percent/seed.
func (rs *RolloutStore) SetCanary(ctx context.Context, activeVersion, canaryVersion string, percent, seed int) error {
	cv := canaryVersion
	return rs.upsertRollout(ctx, activeVersion, &cv, percent, seed, false)
}

// Rollback implements POST policy/rollback: set active_version, clear
// canary.
func (rs *RolloutStore) Rollback(ctx context.Context, toVersion string) error {
	return rs.upsertRollout(ctx, toVersion, nil, 0, 0, true)
}

func (rs *RolloutStore) upsertRollout(ctx context.Context, active string, canary *string, percent, seed int, clearCanary bool) error {
	_ = clearCanary
	_, err := rs.store.call(func() (any, error) {
		_, execErr := rs.store.db.ExecContext(ctx, `
			INSERT INTO policy_rollout (id, active_version, canary_version, canary_percent, seed, updated_at)
			VALUES (1, $1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				active_version = EXCLUDED.active_version,
				canary_version = EXCLUDED.canary_version,
				canary_percent = EXCLUDED.canary_percent,
				seed = EXCLUDED.seed,
				updated_at = EXCLUDED.updated_at
		`, active, canary, percent, seed, time.Now().UTC())
		return nil, execErr
	})
	if err != nil {
		return appErrors.NewDatabaseError("upsert policy_rollout", err)
	}
	return nil
}

// GetOverride returns the tenant's pinned version, if any.
func (rs *RolloutStore) GetOverride(ctx context.Context, tenant string) (string, bool, error) {
	var version string
	_, err := rs.store.call(func() (any, error) {
		return nil, rs.store.db.GetContext(ctx, &version,
			`SELECT version FROM tenant_policy_override WHERE tenant = $1`, tenant)
	})
	if err == ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, appErrors.NewDatabaseError("get tenant_policy_override", err)
	}
	return version, true, nil
}

// SetOverride upserts a tenant's version pin (strategy=explicit).
func (rs *RolloutStore) SetOverride(ctx context.Context, tenant, version string) error {
	_, err := rs.store.call(func() (any, error) {
		_, execErr := rs.store.db.ExecContext(ctx, `
			INSERT INTO tenant_policy_override (tenant, version, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant) DO UPDATE SET version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
		`, tenant, version, time.Now().UTC())
		return nil, execErr
	})
	if err != nil {
		return appErrors.NewDatabaseError("upsert tenant_policy_override", err)
	}
	return nil
}

// CountOverrides returns the number of tenant overrides, for policy/status.
func (rs *RolloutStore) CountOverrides(ctx context.Context) (int, error) {
	var count int
	_, err := rs.store.call(func() (any, error) {
		return nil, rs.store.db.GetContext(ctx, &count, `SELECT count(*) FROM tenant_policy_override`)
	})
	if err != nil {
		return 0, appErrors.NewDatabaseError("count tenant_policy_override", err)
	}
	return count, nil
}
