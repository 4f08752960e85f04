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

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TenantSettingStore", func() {
	It("upserts a quota blob", func() {
		store, mock := newMockStore()
		mock.ExpectExec("INSERT INTO tenant_setting").WillReturnResult(sqlmock.NewResult(0, 1))

		ts := NewTenantSettingStore(store)
		err := ts.Set(context.Background(), "acme", TenantSettingQuota, []byte(`{"max_calls_per_min":100}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("returns the stored settings blob", func() {
		store, mock := newMockStore()
		rows := sqlmock.NewRows([]string{"settings"}).AddRow([]byte(`{"rps":5}`))
		mock.ExpectQuery("SELECT settings FROM tenant_setting").WillReturnRows(rows)

		ts := NewTenantSettingStore(store)
		raw, err := ts.Get(context.Background(), "acme", TenantSettingRateLimit)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(MatchJSON(`{"rps":5}`))
	})

	It("reports not found when absent", func() {
		store, mock := newMockStore()
		mock.ExpectQuery("SELECT settings FROM tenant_setting").WillReturnError(ErrNotFound)

		ts := NewTenantSettingStore(store)
		_, err := ts.Get(context.Background(), "acme", TenantSettingQuota)
		Expect(err).To(HaveOccurred())
	})
})
