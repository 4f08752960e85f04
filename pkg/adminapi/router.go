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

package adminapi

import (
	"github.com/canopyiq/toolgateway/pkg/authtoken"
	"github.com/canopyiq/toolgateway/pkg/enginecache"
	"github.com/canopyiq/toolgateway/pkg/sqlstore"
	"github.com/go-chi/chi/v5"
)

// NewRouter builds the Admin API's chi router with RBAC enforced per spec
// §4.12: every endpoint requires admin unless noted otherwise.
func NewRouter(verifier *authtoken.Verifier, versions *sqlstore.VersionStore, rollouts *sqlstore.RolloutStore, rbac *sqlstore.RBACStore, settings *sqlstore.TenantSettingStore, cache *enginecache.Cache) *chi.Mux {
	h := NewHandlers(versions, rollouts, rbac, settings, cache)
	r := chi.NewRouter()
	r.Use(authMiddleware(verifier, rbac))

	viewerOrAbove := requireRoles(RoleViewer, RoleApprover, RoleAdmin)
	adminOnly := requireRoles(RoleAdmin)

	r.With(adminOnly).Post("/policy/apply", h.HandleApply)
	r.With(adminOnly).Post("/policy/rollback", h.HandleRollback)
	r.With(viewerOrAbove).Get("/policy/status", h.HandleStatus)
	r.With(viewerOrAbove).Post("/policy/diff", h.HandleDiff)
	r.With(viewerOrAbove).Post("/policy/simulate", h.HandleSimulate)
	r.With(adminOnly).Put("/rbac/{tenant}/users/{subject}", h.HandleSetRoles)
	r.With(adminOnly).Put("/tenants/{tenant}/quota", h.HandleSetTenantSetting(sqlstore.TenantSettingQuota))
	r.With(adminOnly).Put("/tenants/{tenant}/rate-limit", h.HandleSetTenantSetting(sqlstore.TenantSettingRateLimit))

	return r
}
