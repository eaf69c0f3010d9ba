// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analysis tracks analysis instances through their lifecycle:
// creation, runs against option revisions, rendering, and deletion.
//
// An instance's status only ever moves along the defined transitions.
// Everything else is rejected with ErrInvalidTransition so a buggy
// client cannot teleport an analysis from None to Complete.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

var (
	// ErrInvalidTransition is returned for a perform action the current
	// status does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStaleRevision is returned for a RUN or SAVE targeting an
	// option revision older than the instance's current one.
	ErrStaleRevision = errors.New("stale option revision")
)

// Analysis is one analysis instance.
type Analysis struct {
	mu sync.Mutex

	instanceID string
	analysisID int32
	name       string
	ns         string

	status   coms.AnalysisStatus
	revision int32
	options  *coms.AnalysisOptions
	results  *coms.ResultsElement
	lastErr  *coms.Error

	// cancelRun aborts the in-flight computation when the analysis is
	// deleted or superseded.
	cancelRun context.CancelFunc
}

// New creates an instance in status None. It holds no options or
// results until INIT.
func New(instanceID string, analysisID int32, name, ns string) *Analysis {
	return &Analysis{
		instanceID: instanceID,
		analysisID: analysisID,
		name:       name,
		ns:         ns,
		status:     coms.AnalysisNone,
	}
}

// InstanceID returns the owning session's instance id.
func (a *Analysis) InstanceID() string { return a.instanceID }

// AnalysisID returns the analysis id, unique within the session.
func (a *Analysis) AnalysisID() int32 { return a.analysisID }

// Name returns the analysis name within its namespace.
func (a *Analysis) Name() string { return a.name }

// Ns returns the module namespace the analysis belongs to.
func (a *Analysis) Ns() string { return a.ns }

// Status returns the current lifecycle status.
func (a *Analysis) Status() coms.AnalysisStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Revision returns the current option revision.
func (a *Analysis) Revision() int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revision
}

// Options returns the current options tree.
func (a *Analysis) Options() *coms.AnalysisOptions {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.options
}

// Results returns the current results root, nil before the first
// completed run.
func (a *Analysis) Results() *coms.ResultsElement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.results
}

// Init moves a fresh instance from None to Inited with its initial
// options.
func (a *Analysis) Init(options *coms.AnalysisOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != coms.AnalysisNone {
		return fmt.Errorf("%w: INIT from %s", ErrInvalidTransition, a.status)
	}
	a.status = coms.AnalysisInited
	a.options = options
	return nil
}

// BeginRun moves the instance to Running against the given option
// revision. Allowed from every status except None. Revisions older
// than the current one are rejected as stale; a newer revision adopts
// the request's options and supersedes any in-flight run, whose context
// is cancelled and whose late results the instance will refuse.
//
// The returned context is cancelled when the instance is deleted or
// the run superseded; computation must stop when it fires.
func (a *Analysis) BeginRun(parent context.Context, revision int32, options *coms.AnalysisOptions, clearState bool) (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status == coms.AnalysisNone {
		return nil, fmt.Errorf("%w: RUN from %s", ErrInvalidTransition, a.status)
	}
	if revision < a.revision {
		return nil, fmt.Errorf("%w: %d < %d", ErrStaleRevision, revision, a.revision)
	}

	a.revision = revision
	if options != nil {
		a.options = options
	}
	if clearState && a.results != nil {
		clearStateBlobs(a.results)
	}

	ctx, cancel := context.WithCancel(parent)
	if a.cancelRun != nil {
		a.cancelRun()
	}
	a.cancelRun = cancel
	a.status = coms.AnalysisRunning
	a.lastErr = nil
	return ctx, nil
}

// computing reports whether the instance is in a status that accepts
// computation updates. Callers hold the lock.
func (a *Analysis) computing() bool {
	return a.status == coms.AnalysisRunning || a.status == coms.AnalysisRendering
}

// Progress merges an IN_PROGRESS results tree into the instance without
// leaving Running (or Rendering). Stale revisions are dropped silently;
// the scheduler may deliver late frames from a superseded run.
func (a *Analysis) Progress(revision int32, results *coms.ResultsElement) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.computing() || revision != a.revision {
		return false
	}
	a.results = coms.Merge(a.results, results)
	return true
}

// Complete lands a terminal result for the given revision, merging the
// new tree into the previous one. Returns false and changes nothing if
// the revision was superseded while the run was in flight. From
// Rendering this is the return leg of Complete→Rendering→Complete.
func (a *Analysis) Complete(revision int32, results *coms.ResultsElement) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.computing() || revision != a.revision {
		return false
	}
	a.results = coms.Merge(a.results, results)
	a.status = coms.AnalysisComplete
	a.endRun()
	return true
}

// Fail lands a terminal error for the given revision.
func (a *Analysis) Fail(revision int32, message, cause string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.computing() || revision != a.revision {
		return false
	}
	a.status = coms.AnalysisError
	a.lastErr = &coms.Error{Message: message, Cause: cause}
	a.endRun()
	return true
}

// endRun releases the run context. Cancelling after the terminal state
// landed is safe; nothing reads the context past that point. Callers
// hold the lock.
func (a *Analysis) endRun() {
	if a.cancelRun != nil {
		a.cancelRun()
		a.cancelRun = nil
	}
}

// BeginRender moves a Complete instance to Rendering. Like BeginRun it
// returns the context the render must respect.
func (a *Analysis) BeginRender(parent context.Context) (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.status != coms.AnalysisComplete {
		return nil, fmt.Errorf("%w: RENDER from %s", ErrInvalidTransition, a.status)
	}
	ctx, cancel := context.WithCancel(parent)
	a.cancelRun = cancel
	a.status = coms.AnalysisRendering
	return ctx, nil
}

// SaveOptions replaces the options without a status change, per the
// SAVE action. The same revision guard as BeginRun applies: a save
// carrying an older revision must not clobber newer options.
func (a *Analysis) SaveOptions(revision int32, options *coms.AnalysisOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if revision < a.revision {
		return fmt.Errorf("%w: %d < %d", ErrStaleRevision, revision, a.revision)
	}
	a.revision = revision
	a.options = options
	return nil
}

// Cancel aborts any in-flight run. Called on DELETE; the instance is
// dropped from the registry afterwards, and the status reverts to None
// so late results from the aborted run are refused.
func (a *Analysis) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endRun()
	a.status = coms.AnalysisNone
}

// Response snapshots the instance as a wire response.
func (a *Analysis) Response() *coms.AnalysisResponse {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &coms.AnalysisResponse{
		InstanceId: a.instanceID,
		AnalysisId: a.analysisID,
		Name:       a.name,
		Ns:         a.ns,
		Status:     a.status,
		Error:      a.lastErr,
		Options:    a.options,
		Results:    a.results,
		Revision:   a.revision,
	}
}

// clearStateBlobs drops every cached state blob in the tree, forcing
// full recomputation instead of incremental resume.
func clearStateBlobs(e *coms.ResultsElement) {
	e.State = nil
	for _, child := range e.Children() {
		clearStateBlobs(child)
	}
}
