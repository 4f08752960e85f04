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

// Package audit implements C10: canonical-JSON hash chaining over audit
// entries. It exposes the hash for the caller to persist; it does not
// persist chain state itself (spec §4.10).
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Entry is one audit record (spec §3 "Audit entry").
type Entry struct {
	TS         time.Time      `json:"ts"`
	Tenant     string         `json:"tenant"`
	Subject    string         `json:"subject"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	Decision   string         `json:"decision"`
	Rule       string         `json:"rule"`
	ResultMeta map[string]any `json:"result_meta,omitempty"`
	Approver   string         `json:"approver,omitempty"`
}

// CanonicalJSON serializes e with lexicographically sorted keys at every
// object level, so the same logical entry always produces the same bytes
// regardless of map iteration order (spec §4.10).
func CanonicalJSON(e Entry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal audit entry: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode audit entry for canonicalization: %w", err)
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// ComputeHash returns SHA-256(prevHash || canonical_json(entry)). prevHash
// may be nil for the chain's first entry.
func ComputeHash(e Entry, prevHash []byte) ([]byte, error) {
	body, err := CanonicalJSON(e)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(prevHash)
	h.Write(body)
	sum := h.Sum(nil)
	return sum, nil
}
