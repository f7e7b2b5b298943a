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

// Package network owns the set of agent networks and the mapping from each
// agent to its backend adapter: creation, resumption, spawning and
// terminating sub-agents, inter-agent messaging, and the handful of
// persisted metadata mutations a running network needs.
package network

import "time"

// AgentID is an opaque per-agent identifier (a UUID v4 string).
type AgentID string

// AgentType tags what role an agent plays in its network.
type AgentType string

const (
	AgentTypeMain              AgentType = "main"
	AgentTypeImplementation    AgentType = "implementation"
	AgentTypeContextCollection AgentType = "contextCollection"
	AgentTypePlanning          AgentType = "planning"
	AgentTypeFlutterTester     AgentType = "flutterTester"
)

// AgentStatus is an agent's current activity.
type AgentStatus string

const (
	StatusWorking        AgentStatus = "working"
	StatusWaitingAgent   AgentStatus = "waitingForAgent"
	StatusWaitingUser    AgentStatus = "waitingForUser"
	StatusIdle           AgentStatus = "idle"
)

// TokenStats is an agent's cumulative usage, flushed to disk on the next
// significant network write rather than on every token.
type TokenStats struct {
	InputTokens         int     `json:"inputTokens"`
	OutputTokens        int     `json:"outputTokens"`
	CacheReadTokens     int     `json:"cacheReadTokens"`
	CacheCreationTokens int     `json:"cacheCreationTokens"`
	CostUSD             float64 `json:"costUsd"`
}

// Sub returns the element-wise difference s - o, used to turn an
// adapter's cumulative conversation counters into a per-turn delta.
func (s TokenStats) Sub(o TokenStats) TokenStats {
	return TokenStats{
		InputTokens:         s.InputTokens - o.InputTokens,
		OutputTokens:        s.OutputTokens - o.OutputTokens,
		CacheReadTokens:     s.CacheReadTokens - o.CacheReadTokens,
		CacheCreationTokens: s.CacheCreationTokens - o.CacheCreationTokens,
		CostUSD:             s.CostUSD - o.CostUSD,
	}
}

// AgentMetadata is the persisted, manager-owned record for one agent. The
// manager never exposes the backend adapter itself to callers outside this
// package — only this metadata and the operations below.
type AgentMetadata struct {
	ID         AgentID     `json:"id"`
	Name       string      `json:"name"`
	Type       AgentType   `json:"type"`
	TaskName   string      `json:"taskName,omitempty"`
	SpawnedBy  *AgentID    `json:"spawnedBy,omitempty"`
	Status     AgentStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	LastActive time.Time   `json:"lastActiveAt"`
	TokenStats TokenStats  `json:"tokenStats"`
}

// AgentNetwork is one goal-directed collection of agents: a main agent at
// position 0 plus any agents it (transitively) spawned.
type AgentNetwork struct {
	ID           string          `json:"id"`
	Goal         string          `json:"goal"`
	Agents       []AgentMetadata `json:"agents"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastActiveAt time.Time       `json:"lastActiveAt"`
	WorktreePath string          `json:"worktreePath,omitempty"`
}

// MainAgent returns the network's main agent, which invariantly sits at
// position 0.
func (n *AgentNetwork) MainAgent() AgentMetadata {
	return n.Agents[0]
}

// AgentIndex returns the index of id in n.Agents, or -1 if absent.
func (n *AgentNetwork) AgentIndex(id AgentID) int {
	for i, a := range n.Agents {
		if a.ID == id {
			return i
		}
	}
	return -1
}
