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
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSQLStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SQL Store Suite")
}

func newMockStore() (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	Expect(err).NotTo(HaveOccurred())
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return New(sqlxDB), mock
}

var _ = Describe("RolloutStore", func() {
	It("bootstraps to __builtin__ when no row exists", func() {
		store, mock := newMockStore()
		mock.ExpectQuery("SELECT active_version").WillReturnError(ErrNotFound)

		rs := NewRolloutStore(store)
		row, err := rs.GetRollout(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(row.ActiveVersion).To(Equal("__builtin__"))
	})

	It("returns the stored rollout row", func() {
		store, mock := newMockStore()
		rows := sqlmock.NewRows([]string{"active_version", "canary_version", "canary_percent", "seed"}).
			AddRow("2026-01-01_000000_ab12", nil, 10, 1)
		mock.ExpectQuery("SELECT active_version").WillReturnRows(rows)

		rs := NewRolloutStore(store)
		row, err := rs.GetRollout(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(row.ActiveVersion).To(Equal("2026-01-01_000000_ab12"))
		Expect(row.CanaryPercent).To(Equal(10))
	})

	It("upserts an immediate rollout", func() {
		store, mock := newMockStore()
		mock.ExpectExec("INSERT INTO policy_rollout").WillReturnResult(sqlmock.NewResult(0, 1))

		rs := NewRolloutStore(store)
		Expect(rs.SetImmediate(context.Background(), "v2")).To(Succeed())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("reports no override when absent", func() {
		store, mock := newMockStore()
		mock.ExpectQuery("SELECT version FROM tenant_policy_override").WillReturnError(ErrNotFound)

		rs := NewRolloutStore(store)
		_, ok, err := rs.GetOverride(context.Background(), "acme")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})
