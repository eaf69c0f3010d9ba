// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStats/services/engine/analysis"
	"github.com/AleutianAI/AleutianStats/services/engine/coms"
	"github.com/AleutianAI/AleutianStats/services/engine/dataset"
	"github.com/AleutianAI/AleutianStats/services/engine/engine"
	"github.com/AleutianAI/AleutianStats/services/engine/modules"
	"github.com/AleutianAI/AleutianStats/services/engine/session"
	"github.com/AleutianAI/AleutianStats/services/engine/storage/badger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, job engine.Job, emit func(engine.Update)) error {
	emit(engine.Update{Complete: true})
	return nil
}

func (noopRunner) Close() error { return nil }

func newTestServer(t *testing.T, rc RateConfig) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := dataset.OpenStore(badger.InMemoryConfig(), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pool, err := engine.NewPool(1, func() (engine.Runner, error) { return noopRunner{}, nil }, log)
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { pool.Close() })

	mods, err := modules.NewRegistry(t.TempDir(), log)
	require.NoError(t, err)
	t.Cleanup(mods.Close)

	mgr := session.NewManager(context.Background(), session.Deps{
		Log:      log,
		Store:    store,
		Registry: analysis.NewRegistry(),
		Pool:     pool,
		Modules:  mods,
		DataDir:  t.TempDir(),
	})
	t.Cleanup(mgr.Close)

	router := gin.New()
	SetupRoutes(router, mgr, rc, nil, log)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/coms"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func write(t *testing.T, ws *websocket.Conn, id int32, payloadType string, v any) {
	t.Helper()
	msg := &coms.ComsMessage{Id: id}
	require.NoError(t, msg.SetPayload(payloadType, v))
	require.NoError(t, ws.WriteJSON(msg))
}

func read(t *testing.T, ws *websocket.Conn) *coms.ComsMessage {
	t.Helper()
	var msg coms.ComsMessage
	require.NoError(t, ws.ReadJSON(&msg))
	return &msg
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, RateConfig{PerSecond: 100, Burst: 100})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestComsHandshakeThenInfo(t *testing.T) {
	srv := newTestServer(t, RateConfig{PerSecond: 100, Burst: 100})
	ws := dial(t, srv)

	write(t, ws, 1, coms.PayloadInstanceRequest, &coms.InstanceRequest{})
	resp := read(t, ws)
	require.Equal(t, coms.StatusComplete, resp.Status)
	var inst coms.InstanceResponse
	require.NoError(t, resp.DecodePayload(coms.PayloadInstanceResponse, &inst))
	require.NotEmpty(t, inst.InstanceId)

	write(t, ws, 2, coms.PayloadInfoRequest, &coms.InfoRequest{})
	resp = read(t, ws)
	require.Equal(t, coms.StatusComplete, resp.Status)
	var info coms.InfoResponse
	require.NoError(t, resp.DecodePayload(coms.PayloadInfoResponse, &info))
	assert.True(t, info.Blank)
}

func TestComsRequestBeforeHandshakeRejected(t *testing.T) {
	srv := newTestServer(t, RateConfig{PerSecond: 100, Burst: 100})
	ws := dial(t, srv)

	write(t, ws, 1, coms.PayloadInfoRequest, &coms.InfoRequest{})
	resp := read(t, ws)
	assert.Equal(t, coms.StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "no instance bound")
}

func TestComsReattachKeepsState(t *testing.T) {
	srv := newTestServer(t, RateConfig{PerSecond: 100, Burst: 100})

	ws := dial(t, srv)
	write(t, ws, 1, coms.PayloadInstanceRequest, &coms.InstanceRequest{})
	resp := read(t, ws)
	var inst coms.InstanceResponse
	require.NoError(t, resp.DecodePayload(coms.PayloadInstanceResponse, &inst))

	write(t, ws, 2, coms.PayloadDataSetRR, &coms.DataSetRR{
		Op: coms.OpInsCols, ColumnStart: 0, ColumnEnd: 0,
	})
	resp = read(t, ws)
	require.Equal(t, coms.StatusComplete, resp.Status)
	ws.Close()

	// A second connection re-attaches to the same instance and sees the
	// column created on the first.
	ws2 := dial(t, srv)
	write(t, ws2, 3, coms.PayloadInstanceRequest, &coms.InstanceRequest{InstanceId: inst.InstanceId})
	resp = read(t, ws2)
	require.Equal(t, coms.StatusComplete, resp.Status)

	write(t, ws2, 4, coms.PayloadInfoRequest, &coms.InfoRequest{})
	resp = read(t, ws2)
	var info coms.InfoResponse
	require.NoError(t, resp.DecodePayload(coms.PayloadInfoResponse, &info))
	assert.Equal(t, int32(1), info.ColumnCount)
}

func TestComsRateLimitRejects(t *testing.T) {
	srv := newTestServer(t, RateConfig{PerSecond: 1, Burst: 1})
	ws := dial(t, srv)

	write(t, ws, 1, coms.PayloadInstanceRequest, &coms.InstanceRequest{})
	resp := read(t, ws)
	require.Equal(t, coms.StatusComplete, resp.Status)

	// The bucket is empty now; the next request bounces.
	write(t, ws, 2, coms.PayloadInfoRequest, &coms.InfoRequest{})
	resp = read(t, ws)
	assert.Equal(t, coms.StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "rate limit")
}
