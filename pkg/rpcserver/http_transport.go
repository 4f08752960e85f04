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

package rpcserver

import (
	"encoding/json"
	"net/http"

	"github.com/canopyiq/toolgateway/pkg/authtoken"
)

// HTTPTransport exposes the dispatcher over "POST /mcp" (spec §6). Every
// request must carry a valid "Authorization: Bearer <token>" header.
type HTTPTransport struct {
	dispatcher *Dispatcher
	verifier   *authtoken.Verifier
}

func NewHTTPTransport(dispatcher *Dispatcher, verifier *authtoken.Verifier) *HTTPTransport {
	return &HTTPTransport{dispatcher: dispatcher, verifier: verifier}
}

func (t *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, errorResponse(nil, CodeParseError, "invalid JSON"))
		return
	}

	claims, err := t.verifier.VerifyHeader(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		writeJSON(w, errorResponse(req.ID, CodeAuthFailure, "authentication failed"))
		return
	}

	auth := AuthContext{Tenant: claims.Tenant, Subject: claims.Subject}
	resp := t.dispatcher.Dispatch(r.Context(), auth, req)
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
