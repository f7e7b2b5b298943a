// Copyright 2026 The Skein Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skeinhq/skein/internal/apperr"
	"github.com/skeinhq/skein/internal/network"
	"github.com/skeinhq/skein/internal/stream"
)

const wsWriteTimeout = 10 * time.Second

// connectedFrame is the bootstrap frame sent immediately after the upgrade,
// before any structured stream events.
type connectedFrame struct {
	Type      string `json:"type"`
	NetworkID string `json:"networkId"`
	AgentID   string `json:"agentId"`
}

// handleStream upgrades the request to a WebSocket and streams one agent's
// events until the client disconnects or the agent's stream ends. The
// network is resumed first if it isn't the current one, so a client can
// attach to any persisted network straight after a process restart.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	networkID := chi.URLParam(r, "networkID")
	agentID := network.AgentID(chi.URLParam(r, "agentID"))

	nw, wasResumed, err := s.cache.Resolve(r.Context(), networkID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if wasResumed {
		s.logger.Info("network resumed for stream", zap.String("networkId", networkID))
	}
	idx := nw.AgentIndex(agentID)
	if idx < 0 {
		s.writeFailure(w, fmt.Errorf("agent %s: %w", agentID, apperr.ErrAgentNotFound))
		return
	}
	adapter, ok := s.manager.Adapter(agentID)
	if !ok {
		s.writeFailure(w, fmt.Errorf("agent %s has no live adapter: %w", agentID, apperr.ErrAgentNotFound))
		return
	}
	agent := nw.Agents[idx]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(connectedFrame{Type: "connected", NetworkID: networkID, AgentID: string(agentID)}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Client-to-server frames are ignored; the read loop exists only to
	// notice the disconnect and tear the subscriptions down.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	meta := stream.Meta{
		AgentID:   string(agent.ID),
		AgentType: string(agent.Type),
		AgentName: agent.Name,
		TaskName:  agent.TaskName,
	}
	for ev := range stream.Subscribe(ctx, meta, adapter) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			s.logger.Debug("websocket write failed, dropping subscriber",
				zap.String("agentId", string(agent.ID)), zap.Error(err))
			return
		}
	}
}
