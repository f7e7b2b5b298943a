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

// Package server is the HTTP/WebSocket frontend over the agent network
// manager: network creation and message sending over REST, plus one
// WebSocket event stream per agent.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/skeinhq/skein/internal/apperr"
	"github.com/skeinhq/skein/internal/log"
	"github.com/skeinhq/skein/internal/network"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Config configures a Server. Manager is required.
type Config struct {
	Manager *network.Manager
	Logger  *zap.Logger
}

// Server serves the REST + WebSocket API for one network manager.
type Server struct {
	manager  *network.Manager
	cache    *networkCache
	logger   *zap.Logger
	upgrader websocket.Upgrader
	router   chi.Router
}

// New builds a Server and its route table.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Logger()
	}
	s := &Server{
		manager: cfg.Manager,
		cache:   newNetworkCache(cfg.Manager),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The listener is loopback-only; browser-origin checks don't
			// apply to local clients.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/networks", s.handleCreateNetwork)
		r.Post("/networks/{networkID}/messages", s.handleSendMessage)
		r.Get("/networks/{networkID}/agents", s.handleListAgents)
		r.Get("/networks/{networkID}/agents/{agentID}/stream", s.handleStream)
	})
	s.router = r
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Stats())
}

type createNetworkRequest struct {
	InitialMessage   string `json:"initialMessage"`
	WorkingDirectory string `json:"workingDirectory"`
}

type createNetworkResponse struct {
	NetworkID   string    `json:"networkId"`
	MainAgentID string    `json:"mainAgentId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (s *Server) handleCreateNetwork(w http.ResponseWriter, r *http.Request) {
	var req createNetworkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.InitialMessage == "" {
		writeError(w, http.StatusBadRequest, "initialMessage is required")
		return
	}
	if req.WorkingDirectory == "" {
		writeError(w, http.StatusBadRequest, "workingDirectory is required")
		return
	}
	dir, err := canonicalizeDir(req.WorkingDirectory)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("workingDirectory does not exist: %s", req.WorkingDirectory))
		return
	}

	nw, err := s.manager.StartNew(r.Context(), req.InitialMessage, dir)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	main := nw.MainAgent()
	s.logger.Info("network created",
		zap.String("networkId", nw.ID),
		zap.String("mainAgentId", string(main.ID)),
		zap.String("workingDirectory", dir))
	writeJSON(w, http.StatusOK, createNetworkResponse{
		NetworkID:   nw.ID,
		MainAgentID: string(main.ID),
		CreatedAt:   nw.CreatedAt,
	})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	networkID := chi.URLParam(r, "networkID")
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	nw, wasResumed, err := s.cache.Resolve(r.Context(), networkID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if wasResumed {
		s.logger.Info("network resumed for message", zap.String("networkId", networkID))
	}

	main := nw.MainAgent()
	s.manager.SendMessage(main.ID, network.Message{Content: req.Content})
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent", "agentId": string(main.ID)})
}

type agentInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	TaskName string `json:"taskName,omitempty"`
	Status   string `json:"status"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	networkID := chi.URLParam(r, "networkID")
	nw, ok := s.manager.Network(networkID)
	if !ok {
		s.writeFailure(w, fmt.Errorf("network %s: %w", networkID, apperr.ErrNetworkNotFound))
		return
	}
	agents := make([]agentInfo, 0, len(nw.Agents))
	for _, a := range nw.Agents {
		agents = append(agents, agentInfo{
			ID: string(a.ID), Name: a.Name, Type: string(a.Type),
			TaskName: a.TaskName, Status: string(a.Status),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// canonicalizeDir resolves path to an absolute, symlink-free directory
// path, failing if it doesn't exist or isn't a directory.
func canonicalizeDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", resolved)
	}
	return resolved, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps an internal error onto the HTTP error taxonomy:
// not-found → 404, invalid → 400, everything else → 500 with a stack
// trace in the log.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case apperr.IsInvalid(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("internal error", zap.Error(err), zap.Stack("stack"))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
