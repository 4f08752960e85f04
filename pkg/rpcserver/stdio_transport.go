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
	"bufio"
	"context"
	"encoding/json"
	"io"
)

// stdioAuth is the fixed caller identity for the stdio transport (spec
// §4.9 step 1: "stdio treats caller as local/stdio-client").
var stdioAuth = AuthContext{Tenant: "local", Subject: "stdio-client"}

// StdioTransport runs the line-delimited JSON-RPC loop described in spec
// §6: one JSON object per line, LF-terminated, single-threaded
// cooperative request/response pairing.
type StdioTransport struct {
	dispatcher *Dispatcher
}

func NewStdioTransport(dispatcher *Dispatcher) *StdioTransport {
	return &StdioTransport{dispatcher: dispatcher}
}

// Run reads requests from r and writes responses to w until shutdown is
// requested, EOF, or ctx is cancelled.
func (t *StdioTransport) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(errorResponse(nil, CodeParseError, "invalid JSON")); encErr != nil {
				return encErr
			}
			continue
		}

		resp := t.dispatcher.Dispatch(ctx, stdioAuth, req)
		if err := enc.Encode(resp); err != nil {
			return err
		}

		if req.Method == "shutdown" {
			return nil
		}
	}
	return scanner.Err()
}
