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

// Package agentconfig decides, per agent type, which MCP server kinds an
// agent gets and which permission mode its backend runs under. This
// mapping is deliberately kept out of the network manager: the manager
// only needs something that satisfies network.Configurator, and this
// package is one (real, but replaceable) answer to that contract.
package agentconfig

import (
	"github.com/skeinhq/skein/internal/mcpserver"
	"github.com/skeinhq/skein/internal/network"
	"github.com/skeinhq/skein/internal/port"
)

// Default maps agent types to their MCP server kinds and permission mode.
// Every type gets memory, task-management, agent-control and
// ask-user-question. main gets every kind except the flutter runtime;
// planning gets no git server; flutterTester gets git plus the runtime
// server; everything else falls back to the implementation-agent baseline
// (git, no runtime).
type Default struct {
	Allocator *port.Allocator
}

// NewDefault returns a Configurator backed by allocator.
func NewDefault(allocator *port.Allocator) *Default {
	return &Default{Allocator: allocator}
}

// PermissionMode returns "plan" for a planning agent and "acceptEdits" for
// every other type, per the per-agent-type permission mode rule.
func (d *Default) PermissionMode(agentType network.AgentType) string {
	if agentType == network.AgentTypePlanning {
		return "plan"
	}
	return "acceptEdits"
}

// BuildFleet returns an unstarted Fleet populated with the server kinds
// agentType is entitled to. The caller starts it.
func (d *Default) BuildFleet(
	agentType network.AgentType,
	worktree string,
	controller mcpserver.AgentController,
	mem mcpserver.MemoryStore,
	asker mcpserver.QuestionAsker,
) *mcpserver.Fleet {
	fleet := mcpserver.NewFleet(d.Allocator)
	fleet.Add(mcpserver.NewMemoryServer(mem))
	fleet.Add(mcpserver.NewTaskManagementServer())
	fleet.Add(mcpserver.NewAgentControlServer(controller))
	fleet.Add(mcpserver.NewAskUserQuestionServer(asker))

	switch agentType {
	case network.AgentTypePlanning:
		// only the shared kinds above: no git write access, no runtime
		// server.
	case network.AgentTypeFlutterTester:
		fleet.Add(mcpserver.NewGitServer(worktree))
		fleet.Add(mcpserver.NewFlutterRuntimeServer(worktree))
	default:
		// main and implementation/contextCollection agents get git but not
		// the flutter runtime.
		fleet.Add(mcpserver.NewGitServer(worktree))
	}
	return fleet
}
