// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session binds one client instance to its dataset, its
// analyses, and the shared computation pool, and dispatches protocol
// envelopes to the right subsystem.
//
// A session outlives any single connection: a client that reconnects
// with its instance id re-attaches to the same state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianStats/services/engine/analysis"
	"github.com/AleutianAI/AleutianStats/services/engine/coms"
	"github.com/AleutianAI/AleutianStats/services/engine/dataset"
	"github.com/AleutianAI/AleutianStats/services/engine/engine"
	"github.com/AleutianAI/AleutianStats/services/engine/modules"
	"github.com/AleutianAI/AleutianStats/services/engine/observability"
)

// Sender delivers one response envelope to the client. Implementations
// must be safe for concurrent use; analysis updates arrive from pool
// workers while the dispatch goroutine may be sending something else.
type Sender func(*coms.ComsMessage)

// Session is the server-side state of one client instance.
type Session struct {
	id      string
	log     *slog.Logger
	metrics *observability.Metrics

	store    *dataset.Store
	registry *analysis.Registry
	pool     *engine.Pool
	modules  *modules.Registry
	dataDir  string

	// baseCtx parents analysis runs so they survive the request that
	// started them but die with the session.
	baseCtx context.Context
	cancel  context.CancelFunc

	// mu serializes open and save against each other and guards the
	// model pointer swap on open. Cell and schema mutations take the
	// model's own lock.
	mu    sync.Mutex
	model *dataset.Model
}

func newSession(parent context.Context, id string, deps Deps) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:       id,
		log:      deps.Log.With("instance", id),
		metrics:  deps.Metrics,
		store:    deps.Store,
		registry: deps.Registry,
		pool:     deps.Pool,
		modules:  deps.Modules,
		dataDir:  deps.DataDir,
		baseCtx:  ctx,
		cancel:   cancel,
		model:    dataset.NewModel(0),
	}
}

// ID returns the instance id.
func (s *Session) ID() string { return s.id }

// Model returns the currently open dataset.
func (s *Session) Model() *dataset.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *Session) close() {
	s.cancel()
	s.registry.DropInstance(s.id)
}

// Handle dispatches one request envelope. Every request produces at
// least one response through send; long operations stream IN_PROGRESS
// frames first.
func (s *Session) Handle(msg *coms.ComsMessage, send Sender) {
	if err := msg.Validate(); err != nil {
		send(msg.ErrorResponse("invalid request", err.Error()))
		s.count(msg.PayloadType, "error")
		return
	}

	var err error
	switch msg.PayloadType {
	case coms.PayloadInfoRequest:
		err = s.handleInfo(msg, send)
	case coms.PayloadDataSetRR:
		err = s.handleDataSet(msg, send)
	case coms.PayloadAnalysisRequest:
		err = s.handleAnalysis(msg, send)
	case coms.PayloadOpenRequest:
		err = s.handleOpen(msg, send)
	case coms.PayloadSaveRequest:
		err = s.handleSave(msg, send)
	case coms.PayloadFSRequest:
		err = s.handleFS(msg, send)
	case coms.PayloadSettingsRR:
		err = s.handleSettings(msg, send)
	case coms.PayloadStoreRequest:
		err = s.handleStore(msg, send)
	case coms.PayloadModuleRR:
		err = s.handleModule(msg, send)
	case coms.PayloadLogRR:
		err = s.handleLog(msg, send)
	default:
		err = fmt.Errorf("unhandled payload type %q", msg.PayloadType)
	}

	if err != nil {
		s.log.Warn("request failed",
			"payloadType", msg.PayloadType, "id", msg.Id, "error", err)
		send(msg.ErrorResponse("request failed", err.Error()))
		s.count(msg.PayloadType, "error")
		return
	}
	s.count(msg.PayloadType, "complete")
}

func (s *Session) count(payloadType, status string) {
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues(payloadType, status).Inc()
	}
}

func (s *Session) respond(msg *coms.ComsMessage, send Sender, payloadType string, v any) error {
	out := msg.Response(coms.StatusComplete)
	if v != nil {
		if err := out.SetPayload(payloadType, v); err != nil {
			return err
		}
	}
	send(out)
	return nil
}

func (s *Session) handleInfo(msg *coms.ComsMessage, send Sender) error {
	m := s.Model()
	info := &coms.InfoResponse{
		Title:       m.Title(),
		Path:        m.Path(),
		Edited:      m.Edited(),
		Blank:       m.Path() == "" && !m.Edited(),
		Schema:      m.Schema(),
		RowCount:    int32(m.RowCount()),
		ColumnCount: int32(m.ColumnCount()),
	}
	return s.respond(msg, send, coms.PayloadInfoResponse, info)
}

func (s *Session) handleDataSet(msg *coms.ComsMessage, send Sender) error {
	var rr coms.DataSetRR
	if err := msg.DecodePayload(coms.PayloadDataSetRR, &rr); err != nil {
		return err
	}
	m := s.Model()

	resp, err := m.Apply(&rr)
	if err != nil {
		s.countOp(rr.Op, "error")
		return err
	}
	s.countOp(rr.Op, "complete")
	return s.respond(msg, send, coms.PayloadDataSetRR, resp)
}

func (s *Session) countOp(op coms.GetSet, status string) {
	if s.metrics != nil {
		s.metrics.DatasetOpsTotal.WithLabelValues(op.String(), status).Inc()
	}
}

func (s *Session) handleAnalysis(msg *coms.ComsMessage, send Sender) error {
	var req coms.AnalysisRequest
	if err := msg.DecodePayload(coms.PayloadAnalysisRequest, &req); err != nil {
		return err
	}
	if !req.Perform.Valid() {
		return fmt.Errorf("unknown perform action %d", req.Perform)
	}

	switch req.Perform {
	case coms.PerformInit:
		a, err := s.registry.Create(s.id, req.AnalysisId, req.Name, req.Ns)
		if err != nil {
			return err
		}
		if err := a.Init(req.Options); err != nil {
			return err
		}
		s.log.Info("analysis created",
			"analysisId", req.AnalysisId, "ns", req.Ns, "name", req.Name)
		return s.respond(msg, send, coms.PayloadAnalysisResponse, a.Response())

	case coms.PerformRun, coms.PerformRender:
		return s.submitAnalysis(msg, &req, send)

	case coms.PerformSave:
		a, ok := s.registry.Get(s.id, req.AnalysisId)
		if !ok {
			return fmt.Errorf("no such analysis: %d", req.AnalysisId)
		}
		if err := a.SaveOptions(req.Revision, req.Options); err != nil {
			return err
		}
		return s.respond(msg, send, coms.PayloadAnalysisResponse, a.Response())

	case coms.PerformDelete:
		if !s.registry.Delete(s.id, req.AnalysisId) {
			return fmt.Errorf("no such analysis: %d", req.AnalysisId)
		}
		s.log.Info("analysis deleted", "analysisId", req.AnalysisId)
		return s.respond(msg, send, coms.PayloadAnalysisResponse, &coms.AnalysisResponse{
			InstanceId: s.id,
			AnalysisId: req.AnalysisId,
			Status:     coms.AnalysisNone,
		})
	}
	return fmt.Errorf("unhandled perform action %v", req.Perform)
}

// submitAnalysis starts a RUN or RENDER on the pool. The request's
// response stream is driven by the pool worker from here on.
func (s *Session) submitAnalysis(msg *coms.ComsMessage, req *coms.AnalysisRequest, send Sender) error {
	a, ok := s.registry.Get(s.id, req.AnalysisId)
	if !ok {
		return fmt.Errorf("no such analysis: %d", req.AnalysisId)
	}

	if req.RestartEngines {
		if err := s.pool.Restart(); err != nil {
			return fmt.Errorf("restart engines: %w", err)
		}
	}

	var (
		runCtx  context.Context
		changed = req.Changed
		err     error
	)
	if req.Perform == coms.PerformRun {
		if len(changed) == 0 {
			changed = coms.Diff(a.Options(), req.Options)
		}
		runCtx, err = a.BeginRun(s.baseCtx, req.Revision, req.Options, req.ClearState)
	} else {
		runCtx, err = a.BeginRender(s.baseCtx)
	}
	if err != nil {
		return err
	}

	if s.metrics != nil {
		// The run context dies exactly once per accepted Begin: on the
		// terminal update, on supersede, on delete, or with the
		// session. That makes it the one reliable place to settle the
		// gauge, including runs whose results are never emitted.
		s.metrics.ActiveAnalyses.Inc()
		go func(done <-chan struct{}) {
			<-done
			s.metrics.ActiveAnalyses.Dec()
		}(runCtx.Done())
	}
	started := time.Now()
	revision := a.Revision()

	job := engine.Job{
		Ctx:      runCtx,
		Analysis: a,
		Revision: revision,
		Changed:  changed,
		Perform:  req.Perform,
		Emit: func(u engine.Update) {
			s.emitAnalysis(msg, a, u, started, send)
		},
	}
	if err := s.pool.Submit(job); err != nil {
		// Land the instance in Error so the client can retry; a stuck
		// Running status would reject the next RUN.
		a.Fail(revision, "analysis could not be scheduled", err.Error())
		return err
	}
	return nil
}

// emitAnalysis turns one pool update into a response envelope. A failed
// analysis is still a COMPLETE exchange at the envelope level; the
// error lives in the payload's status.
func (s *Session) emitAnalysis(msg *coms.ComsMessage, a *analysis.Analysis, u engine.Update, started time.Time, send Sender) {
	var out *coms.ComsMessage
	if u.Terminal() {
		if s.metrics != nil {
			status := "complete"
			if u.Err != nil {
				status = "error"
			}
			s.metrics.AnalysisDurationSeconds.
				WithLabelValues(a.Ns(), status).
				Observe(time.Since(started).Seconds())
		}
		out = msg.Response(coms.StatusComplete)
	} else {
		out = msg.ProgressResponse(u.Progress, u.ProgressTotal)
	}
	if err := out.SetPayload(coms.PayloadAnalysisResponse, a.Response()); err != nil {
		s.log.Error("encode analysis response", "analysisId", a.AnalysisID(), "error", err)
		send(msg.ErrorResponse("encode analysis response", err.Error()))
		return
	}
	send(out)
}

func (s *Session) handleOpen(msg *coms.ComsMessage, send Sender) error {
	var req coms.OpenRequest
	if err := msg.DecodePayload(coms.PayloadOpenRequest, &req); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	model, err := s.store.Open(s.baseCtx, req.Path, func(done, total int) {
		out := msg.ProgressResponse(int32(done), int32(total))
		if perr := out.SetPayload(coms.PayloadOpenProgress, &coms.OpenProgress{}); perr == nil {
			send(out)
		}
	})
	if err != nil {
		if errors.Is(err, dataset.ErrProjectNotFound) {
			return fmt.Errorf("no such project: %s", req.Path)
		}
		return err
	}
	model.BeginEditTracking()

	s.model = model
	s.log.Info("project opened", "path", req.Path, "columns", model.ColumnCount())

	info := &coms.InfoResponse{
		Title:       model.Title(),
		Path:        model.Path(),
		Schema:      model.Schema(),
		RowCount:    int32(model.RowCount()),
		ColumnCount: int32(model.ColumnCount()),
	}
	return s.respond(msg, send, coms.PayloadInfoResponse, info)
}

func (s *Session) handleSave(msg *coms.ComsMessage, send Sender) error {
	var req coms.SaveRequest
	if err := msg.DecodePayload(coms.PayloadSaveRequest, &req); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !req.Overwrite {
		existing, err := s.store.ListProjects(s.baseCtx)
		if err != nil {
			return err
		}
		for _, p := range existing {
			if p == req.Path && p != s.model.Path() {
				return fmt.Errorf("project already exists: %s", req.Path)
			}
		}
	}

	err := s.store.Save(s.baseCtx, req.Path, s.model, func(done, total int) {
		out := msg.ProgressResponse(int32(done), int32(total))
		if perr := out.SetPayload(coms.PayloadSaveProgress, &coms.SaveProgress{Path: req.Path}); perr == nil {
			send(out)
		}
	})
	if err != nil {
		return err
	}
	s.model.MarkSaved(req.Path)
	s.log.Info("project saved", "path", req.Path)

	return s.respond(msg, send, coms.PayloadSaveProgress, &coms.SaveProgress{
		Path:    req.Path,
		Success: true,
	})
}

func (s *Session) handleFS(msg *coms.ComsMessage, send Sender) error {
	var req coms.FSRequest
	if err := msg.DecodePayload(coms.PayloadFSRequest, &req); err != nil {
		return err
	}

	// Browsing is confined to the data root; the leading slash before
	// Clean neutralizes any .. escapes in the request.
	rel := path.Clean("/" + filepath.ToSlash(req.Path))
	dir := filepath.Join(s.dataDir, filepath.FromSlash(rel))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("browse %s: %w", rel, err)
	}

	resp := &coms.FSResponse{Path: rel}
	for _, e := range entries {
		resp.Contents = append(resp.Contents, coms.FSEntry{
			Name:  e.Name(),
			Path:  path.Join(rel, e.Name()),
			IsDir: e.IsDir(),
		})
	}
	return s.respond(msg, send, coms.PayloadFSResponse, resp)
}

func (s *Session) handleSettings(msg *coms.ComsMessage, send Sender) error {
	var rr coms.SettingsRR
	if err := msg.DecodePayload(coms.PayloadSettingsRR, &rr); err != nil {
		return err
	}

	for name, value := range rr.Settings {
		if err := s.store.SaveSetting(s.baseCtx, name, value); err != nil {
			return err
		}
	}

	settings, err := s.store.LoadSettings(s.baseCtx)
	if err != nil {
		return err
	}
	return s.respond(msg, send, coms.PayloadSettingsRR, &coms.SettingsRR{Settings: settings})
}

func (s *Session) handleStore(msg *coms.ComsMessage, send Sender) error {
	var req coms.StoreRequest
	if err := msg.DecodePayload(coms.PayloadStoreRequest, &req); err != nil {
		return err
	}
	return s.respond(msg, send, coms.PayloadStoreResponse, &coms.StoreResponse{
		Modules: s.modules.List(),
	})
}

func (s *Session) handleModule(msg *coms.ComsMessage, send Sender) error {
	var rr coms.ModuleRR
	if err := msg.DecodePayload(coms.PayloadModuleRR, &rr); err != nil {
		return err
	}

	switch rr.Command {
	case coms.ModuleInstall:
		meta, err := s.modules.Install(rr.Path)
		if err != nil {
			return err
		}
		s.log.Info("module installed", "module", meta.Name, "version", meta.Version)
	case coms.ModuleUninstall:
		if err := s.modules.Uninstall(rr.Name); err != nil {
			return err
		}
		s.log.Info("module uninstalled", "module", rr.Name)
	default:
		return fmt.Errorf("unknown module command %d", rr.Command)
	}

	return s.respond(msg, send, coms.PayloadStoreResponse, &coms.StoreResponse{
		Modules: s.modules.List(),
	})
}

func (s *Session) handleLog(msg *coms.ComsMessage, send Sender) error {
	var rr coms.LogRR
	if err := msg.DecodePayload(coms.PayloadLogRR, &rr); err != nil {
		return err
	}

	level := slog.LevelInfo
	switch rr.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	s.log.Log(s.baseCtx, level, rr.Content, "origin", "client")

	return s.respond(msg, send, "", nil)
}
