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

package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skeinhq/skein/internal/log"
)

// ToolHandler implements one tool's behavior. params is the tool call's
// JSON-RPC params.arguments object, decoded; the returned value is
// marshaled as the JSON-RPC result.
type ToolHandler func(ctx context.Context, params map[string]any) (any, error)

// rpcRequest is the minimal JSON-RPC 2.0 envelope this server understands:
// just enough of tools/call and tools/list to drive an MCP child process.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any         `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// BaseServer is the shared HTTP/JSON-RPC plumbing every concrete Server
// kind embeds: a single POST endpoint accepting JSON-RPC requests,
// dispatching tools/call to a registered ToolHandler by name, and
// tools/list enumerating the catalog. It has no notion of an
// Mcp-Session-Id — each agent owns a private, single-tenant instance of
// every server kind, so there is nothing to multiplex sessions over.
type BaseServer struct {
	name string

	mu       sync.RWMutex
	handlers map[string]ToolHandler
	port     int
	srv      *http.Server
}

// NewBaseServer constructs the shared plumbing for a server named name.
func NewBaseServer(name string) *BaseServer {
	return &BaseServer{name: name, handlers: map[string]ToolHandler{}}
}

// Register adds a tool handler to the catalog. Call it before Start.
func (b *BaseServer) Register(toolName string, h ToolHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[toolName] = h
}

func (b *BaseServer) Name() string { return b.name }

func (b *BaseServer) ToolNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers))
	for n := range b.handlers {
		names = append(names, n)
	}
	return names
}

func (b *BaseServer) ToolConfig() ToolConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return ToolConfig{Type: "http", URL: fmt.Sprintf("http://localhost:%d/mcp", b.port)}
}

// Start binds an HTTP listener on port and serves JSON-RPC requests at
// /mcp until Stop is called. ctx does not bound the server's lifetime.
func (b *BaseServer) Start(ctx context.Context, port int) error {
	b.mu.Lock()
	b.port = port
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", b.handleRPC)
	b.srv = &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", port), Handler: mux}
	srv := b.srv
	b.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("start mcp server %q: %w", b.name, err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		// Listener is up; hand control back to the caller while it serves
		// in the background goroutine started above.
		go func() {
			if err := <-errCh; err != nil && err != http.ErrServerClosed {
				log.Logger().Error("mcp server exited", zap.String("server", b.name), zap.Error(err))
			}
		}()
		return nil
	}
}

func (b *BaseServer) Stop(ctx context.Context) error {
	b.mu.RLock()
	srv := b.srv
	b.mu.RUnlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (b *BaseServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json-rpc request", http.StatusBadRequest)
		return
	}

	switch req.Method {
	case "tools/list":
		b.writeResult(w, req.ID, map[string]any{"tools": b.toolDescriptors()})
	case "tools/call":
		b.handleCall(r.Context(), w, req)
	default:
		b.writeError(w, req.ID, -32601, "method not found: "+req.Method)
	}
}

func (b *BaseServer) toolDescriptors() []map[string]any {
	names := b.ToolNames()
	out := make([]map[string]any, len(names))
	for i, n := range names {
		out[i] = map[string]any{"name": n}
	}
	return out
}

func (b *BaseServer) handleCall(ctx context.Context, w http.ResponseWriter, req rpcRequest) {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		b.writeError(w, req.ID, -32602, "invalid params")
		return
	}

	b.mu.RLock()
	handler, ok := b.handlers[params.Name]
	b.mu.RUnlock()
	if !ok {
		b.writeError(w, req.ID, -32601, "unknown tool: "+params.Name)
		return
	}

	result, err := handler(ctx, params.Arguments)
	if err != nil {
		b.writeError(w, req.ID, -32000, err.Error())
		return
	}
	b.writeResult(w, req.ID, result)
}

func (b *BaseServer) writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (b *BaseServer) writeError(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}})
}
