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

// Package callback implements C7: the two HMAC signature schemes used by
// the approval callback endpoints (webhook-style and signed-URL).
package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// FailureReason is a typed verification failure (spec §4.7).
type FailureReason string

const (
	ReasonStaleRequest  FailureReason = "stale_request"
	ReasonBadSignature  FailureReason = "bad_signature"
	ReasonBadTimestamp  FailureReason = "bad_timestamp"
	ReasonNotConfigured FailureReason = "not_configured"
)

const defaultToleranceSeconds = 300

// Result is the outcome of a verification attempt. OK is true only when
// Reason is empty.
type Result struct {
	OK     bool
	Reason FailureReason
}

func ok() Result  { return Result{OK: true} }
func fail(r FailureReason) Result { return Result{OK: false, Reason: r} }

// Verifier holds the signing secret(s) and freshness tolerance shared by
// both schemes.
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a Verifier. toleranceSec <= 0 uses the spec default
// of 300s. An empty secret makes every call return not_configured.
func NewVerifier(secret string, toleranceSec int) *Verifier {
	if toleranceSec <= 0 {
		toleranceSec = defaultToleranceSeconds
	}
	return &Verifier{secret: secret, tolerance: time.Duration(toleranceSec) * time.Second, now: time.Now}
}

// VerifyWebhook checks the "v0=<hex>" timestamped HMAC scheme used by the
// chat callback endpoint (spec §4.7 "Webhook-style").
func (v *Verifier) VerifyWebhook(timestampHeader, signatureHeader string, body []byte) Result {
	if v.secret == "" {
		return fail(ReasonNotConfigured)
	}
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return fail(ReasonBadTimestamp)
	}
	if v.stale(ts) {
		return fail(ReasonStaleRequest)
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	fmt.Fprintf(mac, "v0:%d:%s", ts, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return fail(ReasonBadSignature)
	}
	return ok()
}

// VerifySignedURL checks the urlsafe-base64 HMAC scheme used by the
// GET /callback/url approval link (spec §4.7 "Signed-URL approval").
func (v *Verifier) VerifySignedURL(timestamp, pendingID, decision, signature string) Result {
	if v.secret == "" {
		return fail(ReasonNotConfigured)
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fail(ReasonBadTimestamp)
	}
	if v.stale(ts) {
		return fail(ReasonStaleRequest)
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	fmt.Fprintf(mac, "%d:%s:%s", ts, pendingID, decision)
	expected := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fail(ReasonBadSignature)
	}
	return ok()
}

func (v *Verifier) stale(ts int64) bool {
	now := v.now()
	delta := now.Sub(time.Unix(ts, 0))
	if delta < 0 {
		delta = -delta
	}
	return delta > v.tolerance
}
