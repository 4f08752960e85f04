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

// Package sqlstore provides the Postgres-backed persistence for the
// version store (C3), rollout/override rows (C4), audit log (C10), and
// RBAC bindings, using pgx as the driver and sqlx for query ergonomics —
// the same combination the teacher corpus uses for its Postgres-backed
// stores.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" sql driver
	"github.com/sony/gobreaker"
)

// Store is the shared handle used by all sub-stores (VersionStore,
// RolloutStore, AuditStore, RBACStore). Wrapping calls through a circuit
// breaker turns a wedged database into fast, typed `store_unavailable`
// failures (spec §5, §7) instead of a pool-wide stall.
type Store struct {
	db *sqlx.DB
	cb *gobreaker.CircuitBreaker
}

// Open connects to Postgres via pgx and wraps the pool with a circuit
// breaker.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sql store: %w", err)
	}
	return New(db), nil
}

// New wraps an already-open *sqlx.DB (tests may supply a sqlmock-backed
// DB here).
func New(db *sqlx.DB) *Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sqlstore",
		MaxRequests: 1,
	})
	return &Store{db: db, cb: cb}
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sqlx.DB for callers that need it directly
// (the migrate subcommand's goose.Up call).
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.call(func() (any, error) { return nil, s.db.PingContext(ctx) })
	return err
}

// call runs fn through the circuit breaker. It returns fn's error
// unchanged (callers compare it with ErrNotFound and wrap the rest as
// database errors), or the breaker's own error while the breaker is open.
func (s *Store) call(fn func() (any, error)) (any, error) {
	return s.cb.Execute(fn)
}

var ErrNotFound = sql.ErrNoRows
