// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine schedules analysis computations over a fixed pool of
// runner slots. The actual statistical computation lives behind the
// Runner interface; this package owns queueing, slot assignment,
// progress ordering, and the restart barrier.
package engine

import (
	"context"

	"github.com/AleutianAI/AleutianStats/services/engine/analysis"
	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

// Update is one computation event. Zero or more progress updates
// precede exactly one terminal update (Complete or Err set).
type Update struct {
	Results       *coms.ResultsElement
	Progress      int32
	ProgressTotal int32

	// Complete marks a terminal success.
	Complete bool
	// Err marks a terminal failure.
	Err *coms.Error
}

// Terminal reports whether the update ends the run.
func (u Update) Terminal() bool {
	return u.Complete || u.Err != nil
}

// Job is one queued computation.
type Job struct {
	// Ctx is the run context from Analysis.BeginRun; it fires when the
	// analysis is deleted or the run superseded.
	Ctx context.Context

	Analysis *analysis.Analysis
	Revision int32

	// Perform is the action behind this job: PerformRun recomputes,
	// PerformRender re-renders. Both land the instance in Complete.
	Perform coms.Perform

	// Changed names the options that differ from the previous revision,
	// a hint for partial recomputation.
	Changed []string

	// Emit receives the updates that the instance accepted, in order,
	// terminal last. Called from the slot goroutine.
	Emit func(Update)
}

// Runner hosts one computation slot. Implementations need not be safe
// for concurrent use; the pool serializes calls per slot.
type Runner interface {
	// Run computes one analysis, reporting progress and the terminal
	// result through emit. Run must respect ctx cancellation promptly.
	// An error return stands in for a terminal failure when the runner
	// did not emit one itself.
	Run(ctx context.Context, job Job, emit func(Update)) error

	// Close releases the slot's resources. Called on restart and
	// shutdown.
	Close() error
}

// RunnerFactory spawns a fresh runner for a slot.
type RunnerFactory func() (Runner, error)
