// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the engine over HTTP: the websocket coms
// endpoint plus health and metrics routes.
package handlers

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
	"github.com/AleutianAI/AleutianStats/services/engine/observability"
	"github.com/AleutianAI/AleutianStats/services/engine/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

// RateConfig is the per-connection token bucket.
type RateConfig struct {
	PerSecond float64
	Burst     int
}

// HandleComsWebSocket upgrades GET /coms and pumps envelopes between
// the client and its session. Every text frame is one JSON ComsMessage.
//
// The first request on a fresh connection must be an InstanceRequest;
// afterwards the connection is bound to that session. Analysis updates
// arrive from pool workers, so writes are serialized on a mutex.
func HandleComsWebSocket(mgr *session.Manager, rc RateConfig, metrics *observability.Metrics, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error("websocket upgrade failed", "error", err)
			return
		}
		defer ws.Close()

		if metrics != nil {
			metrics.ActiveConnections.Inc()
			defer metrics.ActiveConnections.Dec()
		}
		log.Info("client connected", "remote", ws.RemoteAddr().String())

		limiter := rate.NewLimiter(rate.Limit(rc.PerSecond), rc.Burst)

		var writeMu sync.Mutex
		send := func(m *coms.ComsMessage) {
			writeMu.Lock()
			defer writeMu.Unlock()
			if werr := ws.WriteJSON(m); werr != nil {
				log.Warn("websocket write failed", "error", werr)
			}
		}

		var sess *session.Session
		for {
			var msg coms.ComsMessage
			if err := ws.ReadJSON(&msg); err != nil {
				log.Info("client disconnected", "error", err.Error())
				return
			}

			if !limiter.Allow() {
				send(msg.ErrorResponse("rate limit exceeded", "slow down and retry"))
				continue
			}

			// The handshake binds (or rebinds) the connection.
			if msg.PayloadType == coms.PayloadInstanceRequest {
				s, resp, herr := mgr.Handshake(&msg)
				if herr != nil {
					send(msg.ErrorResponse("handshake failed", herr.Error()))
					continue
				}
				sess = s
				send(resp)
				continue
			}

			if sess == nil {
				send(msg.ErrorResponse("no instance bound",
					"send an InstanceRequest before other requests"))
				continue
			}
			sess.Handle(&msg, send)
		}
	}
}
