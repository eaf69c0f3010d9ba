// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package modules maintains the registry of installed analysis modules.
//
// A module is a subdirectory of the modules dir carrying a module.yaml
// manifest. The registry mirrors the directory listing; the actual
// package payload (analyses, resources) is opaque here and consumed by
// the computation engine. Install and uninstall only touch the listing;
// copying or removing the package files is the caller's business.
package modules

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

// ManifestName is the per-module manifest file.
const ManifestName = "module.yaml"

// ErrModuleNotFound is returned for lookups and uninstalls of unknown
// modules.
var ErrModuleNotFound = errors.New("module not found")

// Manifest is the yaml shape of module.yaml.
type Manifest struct {
	Name        string   `yaml:"name"`
	Title       string   `yaml:"title"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Authors     []string `yaml:"authors"`
}

// Registry tracks the installed modules of one modules directory.
type Registry struct {
	dir string
	log *slog.Logger

	mu      sync.RWMutex
	modules map[string]coms.ModuleMeta

	watcher *Watcher
}

// NewRegistry scans dir and returns the registry. A missing dir is
// created empty rather than treated as an error; a fresh install has no
// modules yet.
func NewRegistry(dir string, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create modules dir %s: %w", dir, err)
	}

	r := &Registry{
		dir:     dir,
		log:     log,
		modules: make(map[string]coms.ModuleMeta),
	}
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh rescans the modules directory. Subdirectories without a
// manifest are skipped; a malformed manifest is logged and skipped so
// one broken module cannot hide the rest.
func (r *Registry) Refresh() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read modules dir %s: %w", r.dir, err)
	}

	found := make(map[string]coms.ModuleMeta)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		meta, err := readManifest(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.log.Warn("skipping module with bad manifest",
					slog.String("path", path), slog.String("error", err.Error()))
			}
			continue
		}
		found[meta.Name] = meta
	}

	r.mu.Lock()
	r.modules = found
	r.mu.Unlock()

	r.log.Debug("module registry refreshed", slog.Int("modules", len(found)))
	return nil
}

func readManifest(moduleDir string) (coms.ModuleMeta, error) {
	data, err := os.ReadFile(filepath.Join(moduleDir, ManifestName))
	if err != nil {
		return coms.ModuleMeta{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return coms.ModuleMeta{}, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Name == "" {
		return coms.ModuleMeta{}, errors.New("manifest has no name")
	}
	return coms.ModuleMeta{
		Name:        m.Name,
		Title:       m.Title,
		Version:     m.Version,
		Description: m.Description,
		Authors:     m.Authors,
		Path:        moduleDir,
	}, nil
}

// List returns the installed modules ordered by name.
func (r *Registry) List() []coms.ModuleMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]coms.ModuleMeta, 0, len(r.modules))
	for _, meta := range r.modules {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns one module's metadata.
func (r *Registry) Get(name string) (coms.ModuleMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.modules[name]
	return meta, ok
}

// Install registers the module whose package was already placed at
// path. The manifest decides the module's name; installing over an
// existing name replaces its entry (an upgrade).
func (r *Registry) Install(path string) (coms.ModuleMeta, error) {
	meta, err := readManifest(path)
	if err != nil {
		return coms.ModuleMeta{}, fmt.Errorf("install from %s: %w", path, err)
	}

	r.mu.Lock()
	r.modules[meta.Name] = meta
	r.mu.Unlock()

	r.log.Info("module installed",
		slog.String("name", meta.Name), slog.String("version", meta.Version))
	return meta, nil
}

// Uninstall drops the module from the registry.
func (r *Registry) Uninstall(name string) error {
	r.mu.Lock()
	_, ok := r.modules[name]
	delete(r.modules, name)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	r.log.Info("module uninstalled", slog.String("name", name))
	return nil
}

// Watch starts a directory watcher that refreshes the registry when
// manifests change on disk.
func (r *Registry) Watch() error {
	if r.watcher != nil {
		return nil
	}
	w, err := NewWatcher(r.dir, func() {
		if err := r.Refresh(); err != nil {
			r.log.Warn("module refresh failed", slog.String("error", err.Error()))
		}
	}, r.log)
	if err != nil {
		return err
	}
	r.watcher = w
	return nil
}

// Close stops the watcher if one is running.
func (r *Registry) Close() {
	if r.watcher != nil {
		r.watcher.Stop()
		r.watcher = nil
	}
}
