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

// Package authtoken implements C8: bearer-token verification, preferring
// RS256 against a JWKS endpoint and falling back to a development HS256
// shared secret.
package authtoken

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/sync/singleflight"
)

// Claims is the subset of a verified token's claims the rest of the
// gateway reads (spec §4.8).
type Claims struct {
	Subject string
	Tenant  string
	Roles   []string
}

// Config configures a Verifier. JWKSURL/Issuer/Audience enable the
// primary RS256 path; DevSecret enables the HS256 fallback. Both may be
// set; RS256 is tried first.
type Config struct {
	JWKSURL   string
	Issuer    string
	Audience  string
	DevSecret string
}

// Verifier implements the two-tier resolution order from spec §4.8.
type Verifier struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	cached  jwk.Set
	fetchedAt time.Time
	group   singleflight.Group
	httpClient *http.Client
}

func NewVerifier(cfg Config) *Verifier {
	return &Verifier{cfg: cfg, now: time.Now, httpClient: http.DefaultClient}
}

// VerifyHeader extracts "Bearer <token>" from an Authorization header and
// verifies it.
func (v *Verifier) VerifyHeader(ctx context.Context, authorization string) (Claims, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return Claims{}, appErrors.NewAuthError("missing bearer token")
	}
	token := strings.TrimPrefix(authorization, prefix)
	return v.Verify(ctx, token)
}

// Verify tries RS256-via-JWKS first (when configured), then falls back to
// the HS256 dev secret on any failure (including JWKS being unconfigured).
func (v *Verifier) Verify(ctx context.Context, token string) (Claims, error) {
	if v.cfg.JWKSURL != "" {
		claims, err := v.verifyRS256(ctx, token)
		if err == nil {
			return claims, nil
		}
	}
	if v.cfg.DevSecret != "" {
		return v.verifyHS256(token)
	}
	return Claims{}, appErrors.NewAuthError("token verification failed: no verification path succeeded")
}

func (v *Verifier) verifyRS256(ctx context.Context, token string) (Claims, error) {
	set, err := v.jwks(ctx)
	if err != nil {
		return Claims{}, err
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
	)
	if err != nil {
		return Claims{}, appErrors.Wrap(err, appErrors.ErrorTypeAuth, "invalid RS256 token")
	}
	return claimsFrom(parsed)
}

func (v *Verifier) verifyHS256(token string) (Claims, error) {
	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256(), []byte(v.cfg.DevSecret)),
		jwt.WithValidate(true),
	)
	if err != nil {
		return Claims{}, appErrors.Wrap(err, appErrors.ErrorTypeAuth, "invalid HS256 dev token")
	}
	return claimsFrom(parsed)
}

// jwks returns the cached key set, fetching (and memoizing concurrent
// fetches via singleflight) on first use. The cache is single-slot and
// never proactively refreshed beyond process start, matching spec §5
// ("JWKS cache: single-slot, refreshed on process start").
func (v *Verifier) jwks(ctx context.Context) (jwk.Set, error) {
	v.mu.RLock()
	if v.cached != nil {
		set := v.cached
		v.mu.RUnlock()
		return set, nil
	}
	v.mu.RUnlock()

	result, err, _ := v.group.Do("jwks", func() (any, error) {
		v.mu.RLock()
		if v.cached != nil {
			set := v.cached
			v.mu.RUnlock()
			return set, nil
		}
		v.mu.RUnlock()

		set, err := jwk.Fetch(ctx, v.cfg.JWKSURL, jwk.WithHTTPClient(v.httpClient))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrorTypeUnavailable, "fetch jwks")
		}
		v.mu.Lock()
		v.cached = set
		v.fetchedAt = v.now()
		v.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(jwk.Set), nil
}

func claimsFrom(token jwt.Token) (Claims, error) {
	var claims Claims
	claims.Subject = token.Subject()

	if tenantRaw, ok := token.Get("tenant"); ok {
		if tenant, ok := tenantRaw.(string); ok {
			claims.Tenant = tenant
		}
	}

	if rolesRaw, ok := token.Get("roles"); ok {
		switch r := rolesRaw.(type) {
		case string:
			claims.Roles = []string{r}
		case []any:
			for _, item := range r {
				if s, ok := item.(string); ok {
					claims.Roles = append(claims.Roles, s)
				}
			}
		case []string:
			claims.Roles = r
		}
	}
	return claims, nil
}
