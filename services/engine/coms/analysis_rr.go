// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coms

// AnalysisRequest drives an analysis through its lifecycle.
//
// Perform selects the transition: INIT creates the instance, RUN
// (re)computes it, RENDER re-renders a complete analysis, SAVE persists
// options without a status change, DELETE discards the instance.
//
// Revision is the option revision this request targets; requests older
// than the instance's current revision are rejected as stale. Changed
// lists the option names that differ from the previous revision, as a
// hint for partial recomputation.
type AnalysisRequest struct {
	InstanceId string `json:"instanceId,omitempty"`
	AnalysisId int32  `json:"analysisId"`
	Name       string `json:"name,omitempty"`
	Ns         string `json:"ns,omitempty"`

	Perform  Perform          `json:"perform"`
	Options  *AnalysisOptions `json:"options,omitempty"`
	Changed  []string         `json:"changed,omitempty"`
	Revision int32            `json:"revision,omitempty"`

	// RestartEngines forces the computation processes to be respawned
	// before this request executes. It is a barrier: all outstanding
	// work for the instance is flushed or discarded first.
	RestartEngines bool `json:"restartEngines,omitempty"`

	// ClearState discards the cached opaque state blob, forcing full
	// recomputation instead of incremental resume.
	ClearState bool `json:"clearState,omitempty"`
}

// AnalysisResponse reports the state of an analysis after (or during) a
// perform action. Intermediate responses carry StatusRunning results;
// the terminal response carries COMPLETE or ERROR.
//
// Stacktrace is diagnostic only and never required for correct
// operation.
type AnalysisResponse struct {
	InstanceId string `json:"instanceId,omitempty"`
	AnalysisId int32  `json:"analysisId"`
	Name       string `json:"name,omitempty"`
	Ns         string `json:"ns,omitempty"`

	Status     AnalysisStatus   `json:"status"`
	Error      *Error           `json:"error,omitempty"`
	Stacktrace string           `json:"stacktrace,omitempty"`
	Options    *AnalysisOptions `json:"options,omitempty"`
	Results    *ResultsElement  `json:"results,omitempty"`
	Revision   int32            `json:"revision,omitempty"`
}
