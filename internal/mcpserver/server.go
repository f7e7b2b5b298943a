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

// Package mcpserver hosts the per-agent fleet of local MCP tool servers:
// one process-local HTTP endpoint per server kind, each bound to a
// port.Allocator-assigned loopback port, addressed by the llmclient child
// process through a generated {"mcpServers": {...}} config block. The
// internal domain logic of each server kind (git, memory,
// task-management, agent-control, flutter-runtime, ask-user-question)
// lives behind the uniform Server contract, which this package owns
// along with each server's lifecycle and addressing.
package mcpserver

import "context"

// ToolConfig is one entry of the generated {"mcpServers": {...}} block a
// Server contributes once it is listening: { "type": "http", "url":
// "http://localhost:{port}/mcp" }.
type ToolConfig struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Server is the uniform contract every MCP tool server kind implements.
// Concrete kinds (git, memory, task-management, agent-control,
// flutter-runtime, ask-user-question) supply their own tool catalogs and
// handlers behind this contract; this package is only responsible for
// their lifecycle and addressing, not their domain behavior.
type Server interface {
	// Name is the server kind's stable identifier, used as the key in the
	// generated mcpServers config block (e.g. "git", "memory").
	Name() string

	// Start binds the server to port and begins serving. Start must be
	// idempotent-safe to call at most once; calling it twice is a
	// programmer error.
	Start(ctx context.Context, port int) error

	// Stop gracefully shuts the server down, releasing its port.
	Stop(ctx context.Context) error

	// ToolNames lists every tool this server exposes, for the agent's
	// permission surface and for diagnostics.
	ToolNames() []string

	// ToolConfig returns this server's entry for the generated
	// {"mcpServers": {...}} block, valid only after Start succeeds.
	ToolConfig() ToolConfig
}
