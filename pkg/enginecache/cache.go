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

// Package enginecache provides C5: a process-local cache of compiled
// policy engines, keyed by bundle version, so the Rollout Resolver never
// recompiles a bundle it has already loaded.
package enginecache

import (
	"os"
	"sync"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
	"github.com/canopyiq/toolgateway/pkg/bundle"
	"github.com/canopyiq/toolgateway/pkg/policy"
	"gopkg.in/yaml.v3"
)

// Loader resolves a version to the bytes of its bundle payload. FileLoader
// below is the production implementation backed by sqlstore.VersionStore.
type Loader interface {
	Load(version string) ([]byte, error)
}

// FileLoaderFunc adapts a plain function to the Loader interface, mainly
// for tests.
type FileLoaderFunc func(version string) ([]byte, error)

func (f FileLoaderFunc) Load(version string) ([]byte, error) { return f(version) }

// Cache is a sync.RWMutex-guarded map[version]*policy.Engine. Lookups are
// lazy: the first caller for a version pays compilation cost, every
// subsequent caller reads the cached engine.
type Cache struct {
	mu      sync.RWMutex
	engines map[string]*policy.Engine
	loader  Loader
}

func New(loader Loader) *Cache {
	return &Cache{
		engines: make(map[string]*policy.Engine),
		loader:  loader,
	}
}

// Get returns the compiled engine for version, loading and compiling it on
// first use.
func (c *Cache) Get(version string) (*policy.Engine, error) {
	c.mu.RLock()
	if e, ok := c.engines[version]; ok {
		c.mu.RUnlock()
		return e, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.engines[version]; ok {
		return e, nil
	}

	raw, err := c.loader.Load(version)
	if err != nil {
		return nil, err
	}
	var contents bundle.Contents
	if err := yaml.Unmarshal(raw, &contents); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "decode bundle contents").WithDetails(version)
	}
	engine := policy.Compile(contents)
	c.engines[version] = engine
	return engine, nil
}

// Invalidate drops a cached engine, forcing the next Get to recompile it.
// Used when an operator republishes the same version path with different
// contents (not expected in steady state, but cheap insurance in tests).
func (c *Cache) Invalidate(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.engines, version)
}

// FileLoader reads bundle payload bytes directly off disk, given a
// version-to-path resolver (sqlstore.VersionStore.Lookup, or a static path
// for "__builtin__").
type FileLoader struct {
	PathFor func(version string) (string, error)
}

func (fl FileLoader) Load(version string) ([]byte, error) {
	path, err := fl.PathFor(version)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "read bundle file").WithDetails(path)
	}
	return b, nil
}
