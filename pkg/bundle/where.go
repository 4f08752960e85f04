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

package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Predicate is one key/value pair from a rule's "where" block.
type Predicate struct {
	Key   string
	Value any
}

// Where preserves the declared order of a rule's predicate map. The policy
// engine evaluates predicates "in declared key order" (spec §4.2); a plain
// Go map cannot make that guarantee, so bundles decode into this ordered
// form instead.
type Where []Predicate

// Get returns the value for key and whether it was present, without
// caring about order (used by callers that just want one predicate, e.g.
// the admin diff tool).
func (w Where) Get(key string) (any, bool) {
	for _, p := range w {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

func (w Where) Len() int { return len(w) }

// UnmarshalYAML decodes a mapping node into an ordered Where, preserving
// the file's key order instead of a Go map's unspecified iteration order.
func (w *Where) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == 0 {
		*w = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("where must be a mapping, got kind %d", value.Kind)
	}
	out := make(Where, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode := value.Content[i]
		valNode := value.Content[i+1]
		var key string
		if err := keyNode.Decode(&key); err != nil {
			return err
		}
		var val any
		if err := valNode.Decode(&val); err != nil {
			return err
		}
		out = append(out, Predicate{Key: key, Value: normalizeYAMLValue(val)})
	}
	*w = out
	return nil
}

// MarshalYAML re-emits a Where as an ordered mapping.
func (w Where) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range w {
		keyNode := &yaml.Node{}
		if err := keyNode.Encode(p.Key); err != nil {
			return nil, err
		}
		valNode := &yaml.Node{}
		if err := valNode.Encode(p.Value); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

// UnmarshalJSON decodes a JSON object into an ordered Where using a
// streaming token decoder, since encoding/json's map decoding does not
// preserve source key order either.
func (w *Where) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil { // null
		*w = nil
		return nil
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("where must be a JSON object")
	}

	out := Where{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var val any
		if err := dec.Decode(&val); err != nil {
			return err
		}
		out = append(out, Predicate{Key: key, Value: normalizeJSONValue(val)})
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return err
	}
	*w = out
	return nil
}

// MarshalJSON re-emits a Where preserving key order (Go's encoding/json
// does not guarantee object key order for maps, so we build the object
// text directly).
func (w Where) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range w {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(p.Key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(p.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// normalizeYAMLValue converts yaml.v3's native int decoding to float64 so
// predicate value handling doesn't need to special-case int vs float64.
func normalizeYAMLValue(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return v
	}
}

func normalizeJSONValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return 0.0
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = normalizeJSONValue(item)
		}
		return out
	default:
		return v
	}
}
