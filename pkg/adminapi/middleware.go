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

// Package adminapi implements C12: the RBAC-guarded operator endpoints for
// bundle rollout, diff/simulate, RBAC bindings, and opaque tenant settings.
package adminapi

import (
	"context"
	"net/http"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
	"github.com/canopyiq/toolgateway/pkg/authtoken"
	"github.com/canopyiq/toolgateway/pkg/sqlstore"
)

// Role is one of the three RBAC roles named in spec §3.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleApprover Role = "approver"
	RoleViewer   Role = "viewer"
)

type ctxKey int

const identityKey ctxKey = iota

// Identity is the authenticated caller, with roles resolved from both the
// bearer token's claims and the persisted RBAC binding.
type Identity struct {
	Tenant  string
	Subject string
	Roles   map[Role]bool
}

func (i Identity) Has(role Role) bool { return i.Roles[role] }

func (i Identity) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if i.Roles[r] {
			return true
		}
	}
	return false
}

// IdentityFrom extracts the Identity a requireRoles middleware stored in
// the request context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// authMiddleware verifies the bearer token and resolves effective RBAC
// roles: the union of the token's own "roles" claim and whatever
// (tenant, subject) binding is on file (spec §3 "Role binding").
func authMiddleware(verifier *authtoken.Verifier, rbac *sqlstore.RBACStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := verifier.VerifyHeader(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				writeAppError(w, appErrors.NewAuthError("authentication failed"))
				return
			}

			roles := make(map[Role]bool, len(claims.Roles))
			for _, role := range claims.Roles {
				roles[Role(role)] = true
			}
			if bound, err := rbac.GetRoles(r.Context(), claims.Tenant, claims.Subject); err == nil {
				for _, role := range bound {
					roles[Role(role)] = true
				}
			}

			id := Identity{Tenant: claims.Tenant, Subject: claims.Subject, Roles: roles}
			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireRoles rejects the request with 403 unless the resolved identity
// holds at least one of the given roles.
func requireRoles(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok || !id.HasAny(roles...) {
				writeAppError(w, appErrors.NewForbiddenError("insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
