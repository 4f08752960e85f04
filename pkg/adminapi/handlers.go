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
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
	"github.com/canopyiq/toolgateway/pkg/bundle"
	"github.com/canopyiq/toolgateway/pkg/enginecache"
	"github.com/canopyiq/toolgateway/pkg/policy"
	"github.com/canopyiq/toolgateway/pkg/sqlstore"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Handlers wires the Admin API endpoints to the version/rollout/RBAC/
// tenant-setting stores and the engine cache (spec §4.12).
type Handlers struct {
	versions *sqlstore.VersionStore
	rollouts *sqlstore.RolloutStore
	rbac     *sqlstore.RBACStore
	settings *sqlstore.TenantSettingStore
	cache    *enginecache.Cache
	validate *validator.Validate
}

func NewHandlers(versions *sqlstore.VersionStore, rollouts *sqlstore.RolloutStore, rbac *sqlstore.RBACStore, settings *sqlstore.TenantSettingStore, cache *enginecache.Cache) *Handlers {
	return &Handlers{
		versions: versions,
		rollouts: rollouts,
		rbac:     rbac,
		settings: settings,
		cache:    cache,
		validate: validator.New(),
	}
}

type applyRequest struct {
	PayloadFile   string `json:"payload_file" validate:"required"`
	SignatureFile string `json:"signature_file" validate:"required"`
	PubkeyB64     string `json:"pubkey_b64" validate:"required"`
	Strategy      string `json:"strategy" validate:"required,oneof=immediate_all canary_percent explicit"`
	CanaryPercent int    `json:"canary_percent" validate:"gte=0,lte=100"`
	Seed          int    `json:"seed"`
	TenantsCSV    string `json:"tenants_csv"`
}

// HandleApply implements "POST policy/apply" (spec §4.12).
func (h *Handlers) HandleApply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, appErrors.NewParseError("invalid JSON body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeAppError(w, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "invalid policy/apply request"))
		return
	}

	row, err := h.versions.Register(r.Context(), req.PayloadFile, req.SignatureFile, req.PubkeyB64)
	if err != nil {
		writeAppError(w, err)
		return
	}

	switch req.Strategy {
	case "immediate_all":
		err = h.rollouts.SetImmediate(r.Context(), row.Version)
	case "canary_percent":
		current, getErr := h.rollouts.GetRollout(r.Context())
		if getErr != nil {
			writeAppError(w, getErr)
			return
		}
		err = h.rollouts.SetCanary(r.Context(), current.ActiveVersion, row.Version, req.CanaryPercent, req.Seed)
	case "explicit":
		for _, tenant := range splitCSV(req.TenantsCSV) {
			if setErr := h.rollouts.SetOverride(r.Context(), tenant, row.Version); setErr != nil {
				err = setErr
				break
			}
		}
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": row.Version})
}

// HandleRollback implements "POST policy/rollback?to_version=...".
func (h *Handlers) HandleRollback(w http.ResponseWriter, r *http.Request) {
	toVersion := r.URL.Query().Get("to_version")
	if toVersion == "" {
		writeAppError(w, appErrors.NewValidationError("to_version is required"))
		return
	}
	if err := h.rollouts.Rollback(r.Context(), toVersion); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active_version": toVersion})
}

// HandleStatus implements "GET policy/status".
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	row, err := h.rollouts.GetRollout(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	count, err := h.rollouts.CountOverrides(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_version": row.ActiveVersion,
		"canary_version": row.CanaryVersion,
		"canary_percent": row.CanaryPercent,
		"seed":           row.Seed,
		"override_count": count,
	})
}

type diffRequest struct {
	CurrentVersion string `json:"current_version"`
	NewPayload     string `json:"new_payload" validate:"required"`
}

// HandleDiff implements "POST policy/diff".
func (h *Handlers) HandleDiff(w http.ResponseWriter, r *http.Request) {
	var req diffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, appErrors.NewParseError("invalid JSON body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeAppError(w, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "invalid policy/diff request"))
		return
	}

	currentVersion := req.CurrentVersion
	if currentVersion == "" {
		row, err := h.rollouts.GetRollout(r.Context())
		if err != nil {
			writeAppError(w, err)
			return
		}
		currentVersion = row.ActiveVersion
	}
	before, err := h.loadBundleByVersion(r.Context(), currentVersion)
	if err != nil {
		writeAppError(w, err)
		return
	}

	var after bundle.Contents
	if err := yaml.Unmarshal([]byte(req.NewPayload), &after); err != nil {
		writeAppError(w, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "decode new bundle payload"))
		return
	}

	writeJSON(w, http.StatusOK, policy.DiffBundles(before, after))
}

type simulateRequest struct {
	Tool       string         `json:"tool" validate:"required"`
	Arguments  map[string]any `json:"arguments"`
	PolicyFile string         `json:"policy_file"`
}

// HandleSimulate implements "POST policy/simulate".
func (h *Handlers) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, appErrors.NewParseError("invalid JSON body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeAppError(w, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "invalid policy/simulate request"))
		return
	}

	var engine *policy.Engine
	if req.PolicyFile != "" {
		raw, err := os.ReadFile(req.PolicyFile)
		if err != nil {
			writeAppError(w, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "read policy_file"))
			return
		}
		var contents bundle.Contents
		if err := yaml.Unmarshal(raw, &contents); err != nil {
			writeAppError(w, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "decode policy_file"))
			return
		}
		engine = policy.Compile(contents)
	} else {
		row, err := h.rollouts.GetRollout(r.Context())
		if err != nil {
			writeAppError(w, err)
			return
		}
		engine, err = h.cache.Get(row.ActiveVersion)
		if err != nil {
			writeAppError(w, err)
			return
		}
	}

	trace := engine.EvaluateWithTrace(req.Tool, policy.Args(req.Arguments))
	writeJSON(w, http.StatusOK, trace)
}

type setRolesRequest struct {
	Roles []string `json:"roles" validate:"required"`
}

// HandleSetRoles implements "PUT rbac/<tenant>/users/<subject>".
func (h *Handlers) HandleSetRoles(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	subject := chi.URLParam(r, "subject")

	var req setRolesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, appErrors.NewParseError("invalid JSON body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeAppError(w, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "invalid rbac request"))
		return
	}

	if err := h.rbac.SetRoles(r.Context(), tenant, subject, req.Roles); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": tenant, "subject": subject, "roles": req.Roles})
}

// HandleSetTenantSetting implements "PUT tenants/<tenant>/quota" and "PUT
// tenants/<tenant>/rate-limit": opaque JSON bodies stored as-is.
func (h *Handlers) HandleSetTenantSetting(kind sqlstore.TenantSettingKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant")
		raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeAppError(w, appErrors.NewParseError("invalid request body"))
			return
		}
		if err := h.settings.Set(r.Context(), tenant, kind, raw); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tenant": tenant, "kind": kind})
	}
}

// loadBundleByVersion reads and decodes a stored bundle's contents by
// version. The "__builtin__" bootstrap version has no version_store row,
// so it decodes to an empty, default-deny bundle instead of erroring.
func (h *Handlers) loadBundleByVersion(ctx context.Context, version string) (bundle.Contents, error) {
	if version == "__builtin__" {
		return bundle.Contents{Defaults: bundle.Defaults{Decision: "deny"}}, nil
	}
	path, err := h.versions.Lookup(ctx, version)
	if err != nil {
		return bundle.Contents{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return bundle.Contents{}, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "read bundle").WithDetails(version)
	}
	var contents bundle.Contents
	if err := yaml.Unmarshal(raw, &contents); err != nil {
		return bundle.Contents{}, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "decode bundle").WithDetails(version)
	}
	return contents, nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeAppError(w http.ResponseWriter, err error) {
	status := appErrors.GetStatusCode(err)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "about:blank",
		"title":  appErrors.SafeErrorMessage(err),
		"status": status,
	})
}
