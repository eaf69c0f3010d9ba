// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianStats/services/engine/analysis"
	"github.com/AleutianAI/AleutianStats/services/engine/coms"
	"github.com/AleutianAI/AleutianStats/services/engine/dataset"
	"github.com/AleutianAI/AleutianStats/services/engine/engine"
	"github.com/AleutianAI/AleutianStats/services/engine/modules"
	"github.com/AleutianAI/AleutianStats/services/engine/observability"
)

// Deps are the server-wide subsystems every session shares. All fields
// except Metrics are required.
type Deps struct {
	Log      *slog.Logger
	Metrics  *observability.Metrics
	Store    *dataset.Store
	Registry *analysis.Registry
	Pool     *engine.Pool
	Modules  *modules.Registry
	DataDir  string
}

// Manager owns the live sessions, keyed by instance id. Sessions are
// created through the InstanceRequest handshake and survive client
// disconnects until ended explicitly or the manager closes.
type Manager struct {
	deps    Deps
	baseCtx context.Context

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a manager whose sessions are parented on ctx.
func NewManager(ctx context.Context, deps Deps) *Manager {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Manager{
		deps:     deps,
		baseCtx:  ctx,
		sessions: make(map[string]*Session),
	}
}

// Handshake resolves an InstanceRequest: an empty id creates a fresh
// session, a populated id re-attaches to the existing one. The returned
// envelope is the InstanceResponse to send back.
func (m *Manager) Handshake(msg *coms.ComsMessage) (*Session, *coms.ComsMessage, error) {
	var req coms.InstanceRequest
	if err := msg.DecodePayload(coms.PayloadInstanceRequest, &req); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := req.InstanceId
	if id == "" {
		id = uuid.NewString()
	}
	sess, ok := m.sessions[id]
	if !ok {
		if req.InstanceId != "" {
			return nil, nil, fmt.Errorf("no such instance: %s", req.InstanceId)
		}
		sess = newSession(m.baseCtx, id, m.deps)
		m.sessions[id] = sess
		m.deps.Log.Info("session created", "instance", id)
	}

	out := msg.Response(coms.StatusComplete)
	out.InstanceId = id
	if err := out.SetPayload(coms.PayloadInstanceResponse, &coms.InstanceResponse{InstanceId: id}); err != nil {
		return nil, nil, err
	}
	return sess, out, nil
}

// Get returns the session for an instance id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// End tears down one session: in-flight analyses are cancelled and the
// instance's analyses dropped from the registry.
func (m *Manager) End(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		sess.close()
		m.deps.Log.Info("session ended", "instance", id)
	}
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close ends every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
