/*
 *     Copyright 2022 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package loader

import (
	"fmt"
	"sync"
)

// Backend describes a loader implementation and how to probe for it.
type Backend struct {
	// Name is the loader type.
	Name string

	// IsSupported probes whether the backend can serve the url in this environment.
	IsSupported func(rawURL string) bool

	// New constructs a loader reporting failures to onError.
	New func(onError ErrorHandler) (Loader, error)
}

// Registry keeps backends in registration order, earlier ones are preferred.
type Registry struct {
	mu       sync.RWMutex
	backends []Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a backend, replacing any backend with the same name in place.
func (r *Registry) Register(backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.backends {
		if r.backends[i].Name == backend.Name {
			r.backends[i] = backend
			return
		}
	}
	r.backends = append(r.backends, backend)
}

// UnRegister removes the backend with name.
func (r *Registry) UnRegister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.backends {
		if r.backends[i].Name == name {
			r.backends = append(r.backends[:i], r.backends[i+1:]...)
			return
		}
	}
}

// Names returns the registered backend names in preference order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for _, b := range r.backends {
		names = append(names, b.Name)
	}
	return names
}

// Select returns the first backend whose probe accepts rawURL.
func (r *Registry) Select(rawURL string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.backends {
		if b.IsSupported != nil && b.IsSupported(rawURL) {
			return b, nil
		}
	}
	return Backend{}, fmt.Errorf("%w for url %s", ErrNoSupportedBackend, rawURL)
}

// New selects a backend for rawURL and constructs a loader with it.
func (r *Registry) New(rawURL string, onError ErrorHandler) (Loader, error) {
	b, err := r.Select(rawURL)
	if err != nil {
		return nil, err
	}
	return b.New(onError)
}
