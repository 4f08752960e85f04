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

// Package toolregistry implements C11: the static name-to-handler mapping
// the RPC Dispatcher consults after a policy "allow" decision.
package toolregistry

import (
	"context"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
)

// CallContext supplies the identity a handler executes under (spec §4.11:
// "ctx supplies at least tenant and subject").
type CallContext struct {
	Tenant  string
	Subject string
}

// Handler executes one tool call. Errors surface to the dispatcher as
// in-band tool errors (spec §4.9 step 6), never as a transport failure.
type Handler func(ctx context.Context, args map[string]any, call CallContext) (any, error)

// Descriptor is the tools/list shape for one registered tool.
type Descriptor struct {
	Name         string         `json:"name"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

type entry struct {
	descriptor Descriptor
	handler    Handler
}

// Registry is the static tool table. It is built once at startup and read
// concurrently thereafter; no locking is needed.
type Registry struct {
	entries map[string]entry
	order   []string
}

func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. Re-registering the same name overwrites it but
// keeps its original position in List's output.
func (r *Registry) Register(descriptor Descriptor, handler Handler) {
	if _, exists := r.entries[descriptor.Name]; !exists {
		r.order = append(r.order, descriptor.Name)
	}
	r.entries[descriptor.Name] = entry{descriptor: descriptor, handler: handler}
}

// List returns every registered tool's descriptor, in registration order,
// for the tools/list RPC method.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].descriptor)
	}
	return out
}

// Get returns the handler for name, or an unknown_tool error.
func (r *Registry) Get(name string) (Handler, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, appErrors.NewUnknownToolError(name)
	}
	return e.handler, nil
}
