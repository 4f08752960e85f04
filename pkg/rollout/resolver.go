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

// Package rollout implements C4: resolving a tenant to the policy engine
// it should see, given tenant overrides and canary-percent bucketing.
package rollout

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
	"github.com/canopyiq/toolgateway/pkg/enginecache"
	"github.com/canopyiq/toolgateway/pkg/policy"
	"github.com/canopyiq/toolgateway/pkg/sqlstore"
)

// RolloutReader is the subset of sqlstore.RolloutStore the resolver needs.
type RolloutReader interface {
	GetRollout(ctx context.Context) (sqlstore.RolloutRow, error)
	GetOverride(ctx context.Context, tenant string) (string, bool, error)
}

const builtinVersion = "__builtin__"

// Resolver implements engine_for(tenant) (spec §4.4).
type Resolver struct {
	rollouts RolloutReader
	cache    *enginecache.Cache
}

func New(rollouts RolloutReader, cache *enginecache.Cache) *Resolver {
	return &Resolver{rollouts: rollouts, cache: cache}
}

// EngineFor resolves the compiled engine a tenant should be evaluated
// against:
//  1. a tenant override pins an exact version;
//  2. otherwise canary bucketing may route to canary_version;
//  3. otherwise active_version;
//  4. "__builtin__" loads the bootstrap bundle via the cache's loader.
func (r *Resolver) EngineFor(ctx context.Context, tenant string) (*policy.Engine, string, error) {
	if version, ok, err := r.rollouts.GetOverride(ctx, tenant); err != nil {
		return nil, "", err
	} else if ok {
		engine, err := r.cache.Get(version)
		return engine, version, err
	}

	row, err := r.rollouts.GetRollout(ctx)
	if err != nil {
		return nil, "", err
	}

	version := row.ActiveVersion
	if row.CanaryVersion != nil && row.CanaryPercent > 0 {
		if Bucket(tenant, row.Seed) < row.CanaryPercent {
			version = *row.CanaryVersion
		}
	}

	engine, err := r.cache.Get(version)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrorTypeInternal, "resolve policy engine").WithDetails(fmt.Sprintf("version=%s tenant=%s", version, tenant))
	}
	return engine, version, nil
}

// Bucket computes bucket(tenant, seed) = (first two bytes of
// SHA-256(seed || ":" || tenant)) mod 100 (spec §4.4). It must be
// deterministic and stable across processes for a fixed (tenant, seed).
func Bucket(tenant string, seed int) int {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s", seed, tenant)
	sum := h.Sum(nil)
	first2 := binary.BigEndian.Uint16(sum[:2])
	return int(first2) % 100
}

// BuiltinVersion is the bootstrap version string used when no bundle has
// ever been registered.
const BuiltinVersion = builtinVersion
