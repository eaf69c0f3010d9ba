// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coms

// InfoRequest asks for the dataset's current shape and schema.
type InfoRequest struct{}

// InfoResponse reports the open project's title, path, edit state, and
// the full dataset schema.
type InfoResponse struct {
	Title       string         `json:"title,omitempty"`
	Path        string         `json:"path,omitempty"`
	Edited      bool           `json:"edited,omitempty"`
	Blank       bool           `json:"blank,omitempty"`
	Schema      *DataSetSchema `json:"schema,omitempty"`
	RowCount    int32          `json:"rowCount"`
	ColumnCount int32          `json:"columnCount"`
}

// OpenRequest opens a saved project from the store.
type OpenRequest struct {
	Path string `json:"path"`
}

// SaveRequest persists the current project to the store.
type SaveRequest struct {
	Path      string `json:"path"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

// OpenProgress and SaveProgress are the payloads of IN_PROGRESS frames
// emitted while a project streams out of or into the store; the
// envelope's progress counters carry the position.
type OpenProgress struct{}

// SaveProgress is the save-side counterpart of OpenProgress; the
// terminal frame carries the stored path and a success flag.
type SaveProgress struct {
	Path    string `json:"path,omitempty"`
	Success bool   `json:"success,omitempty"`
}

// FSEntry is one filesystem browse result.
type FSEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir,omitempty"`
}

// FSRequest lists a directory under the configured data root.
type FSRequest struct {
	Path string `json:"path"`
}

// FSResponse carries the resolved path and its entries.
type FSResponse struct {
	Path     string    `json:"path"`
	Contents []FSEntry `json:"contents,omitempty"`
}

// SettingsRR reads or writes client settings. An empty Settings map
// reads; a populated one writes the given keys and echoes the full set
// back.
type SettingsRR struct {
	Settings map[string]CellValue `json:"settings,omitempty"`
}

// ModuleMeta describes one installed or installable module.
type ModuleMeta struct {
	Name        string   `json:"name"`
	Title       string   `json:"title,omitempty"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Path        string   `json:"path,omitempty"`
}

// StoreRequest lists the module store.
type StoreRequest struct{}

// StoreResponse carries the available modules.
type StoreResponse struct {
	Modules []ModuleMeta `json:"modules,omitempty"`
}

// ModuleCommand selects the module mutation.
type ModuleCommand int32

const (
	ModuleInstall   ModuleCommand = 0
	ModuleUninstall ModuleCommand = 1
)

// ModuleRR installs or uninstalls a module. The actual package I/O is
// delegated; this message only mutates the registry at the boundary.
type ModuleRR struct {
	Command ModuleCommand `json:"command"`
	Name    string        `json:"name,omitempty"`
	Path    string        `json:"path,omitempty"`
}

// LogRR forwards a client-side log line into the server's log stream.
type LogRR struct {
	Level   string `json:"level,omitempty"`
	Content string `json:"content"`
}

// InstanceRequest is the handshake: an empty InstanceId asks for a new
// session, a populated one re-attaches to an existing session.
type InstanceRequest struct {
	InstanceId string `json:"instanceId,omitempty"`
}

// InstanceResponse confirms the session the connection is bound to.
type InstanceResponse struct {
	InstanceId string `json:"instanceId"`
}
