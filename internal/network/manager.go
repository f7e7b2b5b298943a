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

package network

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skeinhq/skein/internal/apperr"
	"github.com/skeinhq/skein/internal/llmclient"
	"github.com/skeinhq/skein/internal/log"
	"github.com/skeinhq/skein/internal/mcpserver"
	"github.com/skeinhq/skein/internal/message"
	"github.com/skeinhq/skein/internal/permission"
	"github.com/skeinhq/skein/internal/pubsub"
	"github.com/skeinhq/skein/internal/store"
)

// defaultSpawnLimit caps how many agents a single parent may spawn in one
// network, guarding against a runaway spawn loop exhausting the port range.
const defaultSpawnLimit = 10

// defaultIdleTimeout is how long a spawned (non-main) agent may sit idle
// before the monitor auto-terminates it.
const defaultIdleTimeout = 15 * time.Minute

// idleCheckInterval is how often the monitor re-evaluates spawned agents.
const idleCheckInterval = 5 * time.Second

// Configurator decides, per agent type, which MCP server kinds an agent
// gets and which permission mode it runs under. Kept as an interface so
// this package never has to know about agent-configuration policy.
type Configurator interface {
	PermissionMode(agentType AgentType) string
	BuildFleet(agentType AgentType, worktree string, controller mcpserver.AgentController, mem mcpserver.MemoryStore, asker mcpserver.QuestionAsker) *mcpserver.Fleet
}

// Attachment is a non-text piece of a message, mirroring llmclient.Attachment
// without forcing callers outside this package to import llmclient.
type Attachment struct {
	Kind   string
	Path   string
	Base64 string
	Mime   string
}

// Message is what sendMessage and sendMessageToAgent accept.
type Message struct {
	Content     string
	Attachments []Attachment
}

// Config configures a Manager. Configurator and DataRoot are required;
// the rest have defaults.
type Config struct {
	DataRoot      string
	ProjectPath   string
	Binary        string
	Configurator  Configurator
	Asker         permission.Asker
	QuestionAsker mcpserver.QuestionAsker
	SpawnLimit    int
	IdleTimeout   time.Duration
	Logger        *zap.Logger
}

// agentRuntime is everything the manager keeps about one live (non-persisted)
// agent beyond its AgentMetadata.
type agentRuntime struct {
	adapter    *llmclient.Client
	fleet      *mcpserver.Fleet
	idleCancel context.CancelFunc
	turnCancel context.CancelFunc
}

// Manager owns every AgentNetwork's metadata and the mapping from each
// live agent to its backend adapter and MCP fleet. Network mutations run
// serially under mu; reads take the read lock.
type Manager struct {
	cfg Config

	mu          sync.RWMutex
	networks    map[string]*AgentNetwork
	currentID   string
	runtimes    map[AgentID]*agentRuntime
	gates       map[string]*permission.Gate // keyed by network id
	taskCounter int

	networkStore *store.NetworkStore
	memoryStore  *store.MemoryStore

	logger *zap.Logger
}

// New constructs a Manager and eagerly loads every persisted network's
// metadata (but spawns no adapters — that happens on startNew/resume).
func New(cfg Config) *Manager {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.SpawnLimit == 0 {
		cfg.SpawnLimit = defaultSpawnLimit
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Logger()
	}

	projectDir := store.ProjectDir(cfg.DataRoot, cfg.ProjectPath)
	m := &Manager{
		cfg:          cfg,
		networks:     map[string]*AgentNetwork{},
		runtimes:     map[AgentID]*agentRuntime{},
		gates:        map[string]*permission.Gate{},
		networkStore: store.NewNetworkStore(projectDir),
		memoryStore:  store.NewMemoryStore(projectDir),
		logger:       logger,
	}

	for _, raw := range m.networkStore.Load() {
		var n AgentNetwork
		if err := json.Unmarshal(raw, &n); err != nil {
			m.logger.Warn("skipping corrupt persisted network", zap.Error(err))
			continue
		}
		if len(n.Agents) == 0 {
			continue
		}
		m.networks[n.ID] = &n
	}
	return m
}

// StartNew creates a new AgentNetwork with one main agent, starts that
// agent's adapter, and enqueues initialMessage.
func (m *Manager) StartNew(ctx context.Context, initialMessage string, workingDirectory string) (*AgentNetwork, error) {
	m.mu.Lock()

	m.taskCounter++
	now := time.Now()
	mainID := AgentID(uuid.NewString())
	net := &AgentNetwork{
		ID:   uuid.NewString(),
		Goal: fmt.Sprintf("Task %d", m.taskCounter),
		Agents: []AgentMetadata{{
			ID:         mainID,
			Name:       "Main Agent",
			Type:       AgentTypeMain,
			Status:     StatusWorking,
			CreatedAt:  now,
			LastActive: now,
		}},
		CreatedAt:    now,
		LastActiveAt: now,
		WorktreePath: workingDirectory,
	}
	m.networks[net.ID] = net
	m.currentID = net.ID
	gate := m.gateForLocked(net)
	m.mu.Unlock()

	if err := m.launchAgent(ctx, net, &net.Agents[0], gate); err != nil {
		return nil, err
	}
	if initialMessage != "" {
		m.SendMessage(mainID, Message{Content: initialMessage})
	}
	m.persistAsync()
	return net, nil
}

// Resume marks net active and recreates adapters for every one of its
// agents, restoring each agent's persisted status. It is a no-op for
// agents that already have a live runtime (so calling Resume twice on an
// already-active network doesn't respawn anything).
func (m *Manager) Resume(ctx context.Context, net *AgentNetwork) error {
	m.mu.Lock()
	net.LastActiveAt = time.Now()
	m.networks[net.ID] = net
	m.currentID = net.ID
	gate := m.gateForLocked(net)
	agents := append([]AgentMetadata{}, net.Agents...)
	m.mu.Unlock()

	m.persistAsync()

	var g errgroup.Group
	for i := range agents {
		agent := &agents[i]
		m.mu.RLock()
		_, live := m.runtimes[agent.ID]
		m.mu.RUnlock()
		if live {
			continue
		}
		g.Go(func() error { return m.launchAgent(ctx, net, agent, gate) })
	}
	return g.Wait()
}

// Network looks up a network by id without resuming it.
func (m *Manager) Network(id string) (*AgentNetwork, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.networks[id]
	return n, ok
}

// Current returns the manager's currently focused network, if any.
func (m *Manager) Current() (*AgentNetwork, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.currentID == "" {
		return nil, false
	}
	n, ok := m.networks[m.currentID]
	return n, ok
}

// IsCurrent reports whether networkID is the manager's currently focused
// network, for the cache/router glue's resume-on-miss decision.
func (m *Manager) IsCurrent(networkID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentID == networkID
}

// Adapter returns agentID's live backend adapter, if any. The HTTP/WS
// frontend uses it to subscribe a streaming pipeline to one agent.
func (m *Manager) Adapter(id AgentID) (*llmclient.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.runtimes[id]
	if !ok || rt.adapter == nil {
		return nil, false
	}
	return rt.adapter, true
}

// Stats is a read-only snapshot of the manager's process-wide counters.
type Stats struct {
	Networks   int `json:"networks"`
	LiveAgents int `json:"liveAgents"`
	NextTask   int `json:"nextTask"`
}

// Stats reports how many networks the manager knows, how many agents have
// a live runtime, and the number the next "Task N" goal will get.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Networks:   len(m.networks),
		LiveAgents: len(m.runtimes),
		NextTask:   m.taskCounter + 1,
	}
}

// Shutdown aborts every live agent's adapter and stops its MCP fleet
// concurrently, then writes a final metadata snapshot. The manager is not
// usable afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	rts := make([]*agentRuntime, 0, len(m.runtimes))
	for _, rt := range m.runtimes {
		rts = append(rts, rt)
	}
	m.runtimes = map[AgentID]*agentRuntime{}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, rt := range rts {
		g.Go(func() error {
			if rt.idleCancel != nil {
				rt.idleCancel()
			}
			if rt.turnCancel != nil {
				rt.turnCancel()
			}
			if rt.adapter != nil {
				_ = rt.adapter.Abort()
			}
			if rt.fleet != nil {
				return rt.fleet.Stop(ctx)
			}
			return nil
		})
	}
	err := g.Wait()
	if perr := m.persist(); perr != nil && err == nil {
		err = perr
	}
	return err
}

// SpawnAgent creates a new non-main agent in the current network,
// attributed to that network's main agent and guarded by the per-parent
// spawn limit, and sends it taskName as its initial prompt tagged with the
// main agent's id. It implements mcpserver.AgentController.
func (m *Manager) SpawnAgent(ctx context.Context, agentType, taskName string) (string, error) {
	net, ok := m.Current()
	if !ok {
		return "", apperr.ErrNoActiveNetwork
	}
	// AgentController has no notion of "spawned by whom" beyond the agent
	// making the tool call, which the MCP layer doesn't thread through; the
	// network-internal SpawnAgentAs below takes that explicitly.
	id, err := m.SpawnAgentAs(ctx, net, AgentType(agentType), taskName, taskName, taskName, net.MainAgent().ID)
	return string(id), err
}

// SpawnAgentAs creates agentID, appends its metadata to net, starts its
// adapter, and sends initialPrompt prefixed with a spawned-by marker.
// Spawning a main agent is forbidden.
func (m *Manager) SpawnAgentAs(ctx context.Context, net *AgentNetwork, agentType AgentType, name, taskName, initialPrompt string, spawnedBy AgentID) (AgentID, error) {
	if agentType == AgentTypeMain {
		return "", apperr.ErrSpawnMainForbidden
	}

	m.mu.Lock()
	count := 0
	for _, a := range net.Agents {
		if a.SpawnedBy != nil && *a.SpawnedBy == spawnedBy {
			count++
		}
	}
	if count >= m.cfg.SpawnLimit {
		m.mu.Unlock()
		return "", fmt.Errorf("agent %s: %w", spawnedBy, apperr.ErrSpawnLimitReached)
	}

	now := time.Now()
	id := AgentID(uuid.NewString())
	spawner := spawnedBy
	agent := AgentMetadata{
		ID:         id,
		Name:       name,
		Type:       agentType,
		TaskName:   taskName,
		Status:     StatusWorking,
		SpawnedBy:  &spawner,
		CreatedAt:  now,
		LastActive: now,
	}
	net.Agents = append(net.Agents, agent)
	net.LastActiveAt = now
	gate := m.gateForLocked(net)
	m.mu.Unlock()

	added := &net.Agents[len(net.Agents)-1]
	if err := m.launchAgent(ctx, net, added, gate); err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("[SPAWNED BY AGENT: %s]\n\n%s", spawnedBy, initialPrompt)
	m.SendMessage(id, Message{Content: prompt})
	m.persistAsync()
	return id, nil
}

// TerminateAgent aborts targetId's adapter and removes it from its
// network. Terminating a main agent always fails.
func (m *Manager) TerminateAgent(ctx context.Context, net *AgentNetwork, targetID AgentID, reason string) error {
	m.mu.Lock()
	idx := net.AgentIndex(targetID)
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("agent %s: %w", targetID, apperr.ErrAgentNotFound)
	}
	if net.Agents[idx].Type == AgentTypeMain {
		m.mu.Unlock()
		return apperr.ErrMainAgentImmortal
	}
	rt := m.runtimes[targetID]
	delete(m.runtimes, targetID)
	net.Agents = append(net.Agents[:idx], net.Agents[idx+1:]...)
	net.LastActiveAt = time.Now()
	m.mu.Unlock()

	if rt != nil {
		if rt.idleCancel != nil {
			rt.idleCancel()
		}
		if rt.turnCancel != nil {
			rt.turnCancel()
		}
		if rt.adapter != nil {
			_ = rt.adapter.Abort()
		}
		if rt.fleet != nil {
			_ = rt.fleet.Stop(ctx)
		}
	}
	m.logger.Info("agent terminated", zap.String("agentId", string(targetID)), zap.String("reason", reason))
	m.persistAsync()
	return nil
}

// SendMessage routes a message to agentID's adapter. It warns and returns
// without error if the agent has no live runtime (e.g. it predates a
// process restart and its network hasn't been resumed).
func (m *Manager) SendMessage(agentID AgentID, msg Message) {
	m.mu.RLock()
	rt, ok := m.runtimes[agentID]
	m.mu.RUnlock()
	if !ok || rt.adapter == nil {
		m.logger.Warn("sendMessage: no live agent", zap.String("agentId", string(agentID)))
		return
	}
	rt.adapter.SendMessage(msg.Content, toLLMAttachments(msg.Attachments)...)
	m.touchAgent(agentID)
}

// SendMessageToAgent implements mcpserver.AgentController's inter-agent
// messaging call: fire-and-forget. The MCP call carries no sender, so the
// content is forwarded untagged; SendMessageToAgentAs adds the sender tag.
func (m *Manager) SendMessageToAgent(ctx context.Context, targetID, content string) error {
	id := AgentID(targetID)
	m.mu.RLock()
	_, ok := m.runtimes[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("agent %s: %w", targetID, apperr.ErrAgentNotFound)
	}
	m.SendMessage(id, Message{Content: content})
	return nil
}

// SendMessageToAgentAs is the network-internal equivalent of
// SendMessageToAgent that records which agent sent the message. The
// sender is marked waitingForAgent: inter-agent messaging is
// fire-and-forget, so until something else touches the sender (an
// out-of-band reply, a user message, its next turn completing) it is
// blocked on its peer.
func (m *Manager) SendMessageToAgentAs(ctx context.Context, targetID AgentID, content string, sentBy AgentID) error {
	m.mu.RLock()
	_, ok := m.runtimes[targetID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("agent %s: %w", targetID, apperr.ErrAgentNotFound)
	}
	tagged := fmt.Sprintf("[MESSAGE FROM AGENT: %s]\n\n%s", sentBy, content)
	m.SendMessage(targetID, Message{Content: tagged})
	m.setAgentStatus(sentBy, StatusWaitingAgent)
	return nil
}

// ListAgents implements mcpserver.AgentController for the agent-control
// MCP server's list_agents tool.
func (m *Manager) ListAgents() []map[string]any {
	net, ok := m.Current()
	if !ok {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]map[string]any, 0, len(net.Agents))
	for _, a := range net.Agents {
		out = append(out, map[string]any{
			"id": string(a.ID), "name": a.Name, "type": string(a.Type),
			"status": string(a.Status), "taskName": a.TaskName,
		})
	}
	return out
}

// UpdateGoal sets net.Goal and persists.
func (m *Manager) UpdateGoal(net *AgentNetwork, goal string) {
	m.mu.Lock()
	net.Goal = goal
	net.LastActiveAt = time.Now()
	m.mu.Unlock()
	m.persistAsync()
}

// UpdateAgentName sets the given agent's display name and persists.
func (m *Manager) UpdateAgentName(net *AgentNetwork, id AgentID, name string) error {
	return m.mutateAgent(net, id, func(a *AgentMetadata) { a.Name = name })
}

// UpdateAgentTaskName sets the given agent's task name and persists.
func (m *Manager) UpdateAgentTaskName(net *AgentNetwork, id AgentID, taskName string) error {
	return m.mutateAgent(net, id, func(a *AgentMetadata) { a.TaskName = taskName })
}

// UpdateAgentTokenStats adds delta to the given agent's cumulative token
// stats in memory only; it is not persisted until the next significant
// network write.
func (m *Manager) UpdateAgentTokenStats(net *AgentNetwork, id AgentID, delta TokenStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := net.AgentIndex(id)
	if idx < 0 {
		return fmt.Errorf("agent %s: %w", id, apperr.ErrAgentNotFound)
	}
	a := &net.Agents[idx]
	a.TokenStats.InputTokens += delta.InputTokens
	a.TokenStats.OutputTokens += delta.OutputTokens
	a.TokenStats.CacheReadTokens += delta.CacheReadTokens
	a.TokenStats.CacheCreationTokens += delta.CacheCreationTokens
	a.TokenStats.CostUSD += delta.CostUSD
	return nil
}

// SetWorktreePath sets net.WorktreePath and persists.
func (m *Manager) SetWorktreePath(net *AgentNetwork, path string) {
	m.mu.Lock()
	net.WorktreePath = path
	net.LastActiveAt = time.Now()
	m.mu.Unlock()
	m.persistAsync()
}

func (m *Manager) mutateAgent(net *AgentNetwork, id AgentID, fn func(*AgentMetadata)) error {
	m.mu.Lock()
	idx := net.AgentIndex(id)
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("agent %s: %w", id, apperr.ErrAgentNotFound)
	}
	fn(&net.Agents[idx])
	net.LastActiveAt = time.Now()
	m.mu.Unlock()
	m.persistAsync()
	return nil
}

func (m *Manager) touchAgent(id AgentID) {
	m.setAgentStatus(id, StatusWorking)
}

// setAgentStatus stamps id's status and LastActive across whichever
// network holds it. Status is in-memory state like token stats: it
// reaches disk on the next significant network write.
func (m *Manager) setAgentStatus(id AgentID, status AgentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, net := range m.networks {
		if idx := net.AgentIndex(id); idx >= 0 {
			net.Agents[idx].Status = status
			net.Agents[idx].LastActive = time.Now()
			net.LastActiveAt = net.Agents[idx].LastActive
			return
		}
	}
}

// gateForLocked returns the permission gate for net, creating one on first
// use. Every agent in a network shares one gate, backed by the network's
// worktree settings file (or the manager's project path if the network has
// none): the deny/allow pattern list is a property of the network, not of
// any one agent. Callers must hold m.mu.
func (m *Manager) gateForLocked(net *AgentNetwork) *permission.Gate {
	if g, ok := m.gates[net.ID]; ok {
		return g
	}
	dir := net.WorktreePath
	if dir == "" {
		dir = m.cfg.ProjectPath
	}
	settingsPath := dir + "/.claude/settings.local.json"
	settings, err := permission.LoadSettings(settingsPath)
	if err != nil {
		m.logger.Warn("load permission settings, starting empty", zap.Error(err))
		settings = nil
	}
	gate := permission.NewGate(settings, m.wrapAsker(m.cfg.Asker))
	m.gates[net.ID] = gate
	return gate
}

// wrapAsker marks the requesting agent waitingForUser for as long as a
// permission ask is pending with the human, restoring working once the
// decision lands.
func (m *Manager) wrapAsker(asker permission.Asker) permission.Asker {
	if asker == nil {
		return nil
	}
	return func(req permission.Request) permission.Response {
		if req.AgentID != "" {
			m.setAgentStatus(AgentID(req.AgentID), StatusWaitingUser)
			defer m.setAgentStatus(AgentID(req.AgentID), StatusWorking)
		}
		return asker(req)
	}
}

// launchAgent builds agent's Fleet, starts it, then starts its llmclient
// adapter pointed at the resulting MCP config.
func (m *Manager) launchAgent(ctx context.Context, net *AgentNetwork, agent *AgentMetadata, gate *permission.Gate) error {
	fleet := m.cfg.Configurator.BuildFleet(agent.Type, net.WorktreePath, m, m.memoryStore, m.wrapQuestionAsker(agent.ID, m.cfg.QuestionAsker))
	if err := fleet.Start(ctx); err != nil {
		return fmt.Errorf("start mcp fleet for agent %s: %w", agent.ID, err)
	}

	mcpServers := make(map[string]llmclient.MCPServerConfig, len(fleet.MCPConfig()))
	for name, cfg := range fleet.MCPConfig() {
		mcpServers[name] = llmclient.MCPServerConfig{Type: cfg.Type, URL: cfg.URL}
	}

	adapter := llmclient.CreateNonBlocking(llmclient.Config{
		Binary:         m.cfg.Binary,
		AgentID:        string(agent.ID),
		WorkingDir:     net.WorktreePath,
		PermissionMode: m.cfg.Configurator.PermissionMode(agent.Type),
		Streaming:      true,
		MCPServers:     mcpServers,
		Gate:           gate,
	})

	m.mu.Lock()
	m.runtimes[agent.ID] = &agentRuntime{adapter: adapter, fleet: fleet}
	m.mu.Unlock()

	m.watchAgentTurns(net, agent.ID, adapter)
	if agent.Type != AgentTypeMain {
		m.startIdleMonitor(net, agent.ID)
	}
	return nil
}

// wrapQuestionAsker marks agentID waitingForUser while an
// ask_user_question tool call is blocked on a human answer.
func (m *Manager) wrapQuestionAsker(agentID AgentID, asker mcpserver.QuestionAsker) mcpserver.QuestionAsker {
	if asker == nil {
		return nil
	}
	return func(ctx context.Context, prompt string, options []string) (string, error) {
		m.setAgentStatus(agentID, StatusWaitingUser)
		defer m.setAgentStatus(agentID, StatusWorking)
		return asker(ctx, prompt, options)
	}
}

// turnSource is the slice of llmclient.Client the turn watcher needs,
// kept as an interface so tests can drive it without a child process.
type turnSource interface {
	OnTurnComplete(ctx context.Context) <-chan pubsub.Event[struct{}]
	CurrentConversation() message.Conversation
}

// watchAgentTurns follows agentID's turn-complete signal: each completed
// turn marks the agent idle and folds the turn's token usage into its
// stats, so ListAgents and the persisted metadata track the real
// lifecycle instead of staying "working" forever.
func (m *Manager) watchAgentTurns(net *AgentNetwork, agentID AgentID, src turnSource) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if rt, ok := m.runtimes[agentID]; ok {
		rt.turnCancel = cancel
	} else {
		cancel()
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	turns := src.OnTurnComplete(ctx)
	go func() {
		var seen TokenStats
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-turns:
				if !ok {
					return
				}
				cum := src.CurrentConversation().Cumulative
				total := TokenStats{
					InputTokens:         cum.InputTokens,
					OutputTokens:        cum.OutputTokens,
					CacheReadTokens:     cum.CacheReadTokens,
					CacheCreationTokens: cum.CacheCreationTokens,
					CostUSD:             cum.CostUSD,
				}
				if err := m.UpdateAgentTokenStats(net, agentID, total.Sub(seen)); err != nil {
					return
				}
				seen = total
				m.setAgentStatus(agentID, StatusIdle)
			}
		}
	}()
}

// startIdleMonitor begins a background loop that auto-terminates agentID
// once it has been idle past the configured timeout. It is only started
// for spawned (non-main) agents: the main agent never auto-despawns.
func (m *Manager) startIdleMonitor(net *AgentNetwork, agentID AgentID) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if rt, ok := m.runtimes[agentID]; ok {
		rt.idleCancel = cancel
	} else {
		cancel()
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(idleCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if m.agentPastIdleTimeout(net, agentID) {
					_ = m.TerminateAgent(context.Background(), net, agentID, "idle timeout exceeded")
					return
				}
			}
		}
	}()
}

// agentPastIdleTimeout reports whether agentID has sat idle past the
// configured timeout. Only StatusIdle counts: the watcher in
// watchAgentTurns stamps it on every completed turn, and an agent
// blocked waitingForUser/waitingForAgent is never despawned out from
// under its pending exchange.
func (m *Manager) agentPastIdleTimeout(net *AgentNetwork, agentID AgentID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := net.AgentIndex(agentID)
	if idx < 0 {
		return false
	}
	a := net.Agents[idx]
	return a.Status == StatusIdle && time.Since(a.LastActive) > m.cfg.IdleTimeout
}

// persistAsync saves every known network's metadata to disk off the
// caller's critical path.
func (m *Manager) persistAsync() {
	go func() {
		if err := m.persist(); err != nil {
			m.logger.Warn("persist networks", zap.Error(err))
		}
	}()
}

func (m *Manager) persist() error {
	m.mu.RLock()
	blobs := make([]json.RawMessage, 0, len(m.networks))
	for _, n := range m.networks {
		raw, err := json.Marshal(n)
		if err != nil {
			m.mu.RUnlock()
			return fmt.Errorf("marshal network %s: %w", n.ID, err)
		}
		blobs = append(blobs, raw)
	}
	m.mu.RUnlock()
	return m.networkStore.Save(blobs)
}

func toLLMAttachments(as []Attachment) []llmclient.Attachment {
	out := make([]llmclient.Attachment, len(as))
	for i, a := range as {
		out[i] = llmclient.Attachment{Kind: a.Kind, Path: a.Path, Base64: a.Base64, Mime: a.Mime}
	}
	return out
}
