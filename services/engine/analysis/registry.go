// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"fmt"
	"sort"
	"sync"
)

// Key identifies an analysis instance across sessions.
type Key struct {
	InstanceID string
	AnalysisID int32
}

// Registry holds live analysis instances. It is constructor-injected
// into whatever owns it; there is no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	analyses map[Key]*Analysis
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{analyses: make(map[Key]*Analysis)}
}

// Create registers a fresh instance. Re-creating a live key is an
// error; the client must DELETE first.
func (r *Registry) Create(instanceID string, analysisID int32, name, ns string) (*Analysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{InstanceID: instanceID, AnalysisID: analysisID}
	if _, exists := r.analyses[key]; exists {
		return nil, fmt.Errorf("analysis %d already exists in instance %s", analysisID, instanceID)
	}
	a := New(instanceID, analysisID, name, ns)
	r.analyses[key] = a
	return a, nil
}

// Get returns the instance for the key.
func (r *Registry) Get(instanceID string, analysisID int32) (*Analysis, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyses[Key{InstanceID: instanceID, AnalysisID: analysisID}]
	return a, ok
}

// Delete cancels any in-flight run and drops the instance. Returns
// whether the key existed.
func (r *Registry) Delete(instanceID string, analysisID int32) bool {
	r.mu.Lock()
	key := Key{InstanceID: instanceID, AnalysisID: analysisID}
	a, ok := r.analyses[key]
	delete(r.analyses, key)
	r.mu.Unlock()

	if ok {
		a.Cancel()
	}
	return ok
}

// List returns the instances of one session ordered by analysis id.
func (r *Registry) List(instanceID string) []*Analysis {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Analysis
	for key, a := range r.analyses {
		if key.InstanceID == instanceID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnalysisID() < out[j].AnalysisID() })
	return out
}

// DropInstance cancels and removes every analysis of a session. Used
// when the session ends.
func (r *Registry) DropInstance(instanceID string) {
	r.mu.Lock()
	var doomed []*Analysis
	for key, a := range r.analyses {
		if key.InstanceID == instanceID {
			doomed = append(doomed, a)
			delete(r.analyses, key)
		}
	}
	r.mu.Unlock()

	for _, a := range doomed {
		a.Cancel()
	}
}

// Len returns the number of live instances across all sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.analyses)
}
