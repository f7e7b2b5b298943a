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

package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skeinhq/skein/internal/log"
	"github.com/skeinhq/skein/internal/message"
	"github.com/skeinhq/skein/internal/permission"
	"github.com/skeinhq/skein/internal/pubsub"
)

// Attachment is an optional piece of content alongside a text message:
// a file path, a base64-encoded image, or an inline document.
type Attachment struct {
	Kind    string // "file" | "image" | "document"
	Path    string
	Base64  string
	Mime    string
}

// Config configures one Client instance, one per agent.
type Config struct {
	Binary         string // defaults to "claude"
	AgentID        string // used as the backend session id
	WorkingDir     string
	PermissionMode string // "plan" | "acceptEdits"
	Streaming      bool
	MCPServers     map[string]MCPServerConfig
	Gate           *permission.Gate // nil means every tool call is denied
}

// MCPServerConfig mirrors mcpserver.ToolConfig's JSON shape without
// importing that package, keeping llmclient's dependency graph
// one-directional: the network manager populates Config.MCPServers from a
// mcpserver.Fleet.
type MCPServerConfig struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Client is the per-agent LLM backend adapter: it owns one child
// process, assembles its events into a live message.Conversation, and
// exposes a replay-on-subscribe snapshot stream plus an
// exactly-once-per-turn completion signal.
type Client struct {
	cfg Config

	mu        sync.Mutex
	conv      message.Conversation
	proc      *childProcess
	ready     bool
	pending   []queuedMessage
	closed    bool
	nextMsgID int

	snapshots *pubsub.Broker[message.Conversation]
	turns     *pubsub.Broker[struct{}]
}

type queuedMessage struct {
	content     string
	attachments []Attachment
}

// CreateNonBlocking constructs a Client and begins spawning its child
// process in the background; it is usable immediately — sendMessage calls
// made before the process is ready are queued in order.
func CreateNonBlocking(cfg Config) *Client {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	c := &Client{
		cfg:       cfg,
		conv:      message.Conversation{State: message.StateIdle},
		snapshots: pubsub.NewBroker[message.Conversation](),
		turns:     pubsub.NewBroker[struct{}](),
	}
	go c.start()
	return c
}

// Create constructs a Client and blocks until its child process has
// completed the initialize handshake or ctx is cancelled.
func Create(ctx context.Context, cfg Config) (*Client, error) {
	c := CreateNonBlocking(cfg)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.isReady() {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) isReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Client) start() {
	mcpConfigJSON, err := json.Marshal(map[string]any{"mcpServers": c.cfg.MCPServers})
	if err != nil {
		c.fail(fmt.Errorf("marshal mcp config: %w", err))
		return
	}

	proc, err := startChildProcess(processConfig{
		Binary:         c.cfg.Binary,
		MCPConfigJSON:  string(mcpConfigJSON),
		SessionID:      c.cfg.AgentID,
		Dir:            c.cfg.WorkingDir,
		PermissionMode: c.cfg.PermissionMode,
		Streaming:      c.cfg.Streaming,
	})
	if err != nil {
		c.fail(err)
		return
	}

	c.mu.Lock()
	c.proc = proc
	c.mu.Unlock()

	if err := c.performHandshake(); err != nil {
		c.fail(err)
		return
	}

	c.mu.Lock()
	c.ready = true
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, m := range queued {
		c.writeUserMessage(m.content, m.attachments)
	}

	c.readLoop()
}

// performHandshake sends the control-request/response initialize exchange
// a claude-code-style backend expects before any conversation turn,
// grounded on other_examples/streamjson_init.go's Initialize: it awaits a
// `control_request` of subtype "initialize" and answers with a
// `control_response` carrying the permission-mode-derived hook policy.
func (c *Client) performHandshake() error {
	line, err := c.proc.readLine(context.Background())
	if err != nil {
		return fmt.Errorf("read initialize control_request: %w", err)
	}
	var req map[string]any
	if err := json.Unmarshal(line, &req); err != nil {
		return fmt.Errorf("parse initialize control_request: %w", err)
	}
	reqID := stringField(req, "request_id", "requestId")

	resp, err := json.Marshal(map[string]any{
		"type":       "control_response",
		"request_id": reqID,
		"response": map[string]any{
			"subtype": "success",
			"hooks":   c.buildHooks(),
		},
	})
	if err != nil {
		return err
	}
	return c.proc.send(resp)
}

// buildHooks reports no hooks in plan mode's autonomous sibling — every
// tool call instead round-trips through a can_use_tool control_request
// handled in readLoop, so the permission gate is consulted per call rather
// than via a static hook policy baked into the handshake.
func (c *Client) buildHooks() any { return nil }

func (c *Client) fail(err error) {
	log.Logger().Error("llmclient failed to start", zap.Error(err))
	c.mu.Lock()
	c.conv.State = message.StateError
	c.conv.CurrentError = err.Error()
	snapshot := c.conv.Clone()
	c.mu.Unlock()
	c.snapshots.Publish(pubsub.NewUpdatedEvent(snapshot))
}

// SendMessage enqueues a user message. Non-blocking: if the process is
// still starting up, the message is queued and flushed in order once
// ready.
func (c *Client) SendMessage(content string, attachments ...Attachment) {
	c.mu.Lock()
	if !c.ready {
		c.pending = append(c.pending, queuedMessage{content: content, attachments: attachments})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.writeUserMessage(content, attachments)
}

func (c *Client) writeUserMessage(content string, attachments []Attachment) {
	c.mu.Lock()
	c.nextMsgID++
	id := fmt.Sprintf("%s-u%d", c.cfg.AgentID, c.nextMsgID)
	c.conv.Messages = append(c.conv.Messages, message.NewUserMessage(id, content))
	c.conv.State = message.StateSendingMessage
	c.conv.CurrentError = ""
	snapshot := c.conv.Clone()
	proc := c.proc
	c.mu.Unlock()

	c.snapshots.Publish(pubsub.NewCreatedEvent(snapshot))

	payload := map[string]any{
		"type": "user",
		"message": map[string]any{
			"content": buildContentBlocks(content, attachments),
		},
	}
	line, err := json.Marshal(payload)
	if err != nil {
		log.Logger().Error("marshal user message", zap.Error(err))
		return
	}
	if proc == nil {
		return
	}
	if err := proc.send(line); err != nil {
		log.Logger().Error("send user message", zap.Error(err))
	}
}

func buildContentBlocks(content string, attachments []Attachment) []map[string]any {
	blocks := []map[string]any{{"type": "text", "text": content}}
	for _, a := range attachments {
		switch a.Kind {
		case "image":
			blocks = append(blocks, map[string]any{
				"type":   "image",
				"source": map[string]any{"type": "base64", "media_type": a.Mime, "data": a.Base64},
			})
		default:
			blocks = append(blocks, map[string]any{"type": "document", "path": a.Path})
		}
	}
	return blocks
}

// Conversation returns a replay-on-subscribe stream of Conversation
// snapshots.
func (c *Client) Conversation(ctx context.Context) <-chan pubsub.Event[message.Conversation] {
	ch := c.snapshots.Subscribe(ctx)
	go func() {
		c.mu.Lock()
		snapshot := c.conv.Clone()
		c.mu.Unlock()
		c.snapshots.Publish(pubsub.NewUpdatedEvent(snapshot))
	}()
	return ch
}

// OnTurnComplete returns a channel that receives a value exactly once per
// user→assistant→(tools)* cycle, when the backend emits its result event.
func (c *Client) OnTurnComplete(ctx context.Context) <-chan pubsub.Event[struct{}] {
	return c.turns.Subscribe(ctx)
}

// CurrentConversation returns a synchronous snapshot.
func (c *Client) CurrentConversation() message.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Clone()
}

// Abort kills the child process and closes every stream. Idempotent.
func (c *Client) Abort() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	proc := c.proc
	c.mu.Unlock()

	c.snapshots.Shutdown()
	c.turns.Shutdown()
	if proc == nil {
		return nil
	}
	return proc.close()
}

func (c *Client) readLoop() {
	ctx := context.Background()
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		proc := c.proc
		c.mu.Unlock()

		line, err := proc.readLine(ctx)
		if err != nil {
			c.handleReadError(err)
			return
		}
		if len(line) == 0 {
			continue
		}

		var probe map[string]any
		if json.Unmarshal(line, &probe) == nil && stringField(probe, "type") == "control_request" {
			go c.handleControlRequest(probe)
			continue
		}

		c.handleEvent(line)
	}
}

func (c *Client) handleReadError(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conv.State = message.StateError
	c.conv.CurrentError = fmt.Sprintf("backend process ended unexpectedly: %v", err)
	snapshot := c.conv.Clone()
	c.mu.Unlock()

	c.snapshots.Publish(pubsub.NewUpdatedEvent(snapshot))
	// onTurnComplete deliberately does not fire.
}

// handleControlRequest answers a can_use_tool control_request by running
// the permission gate and replying allow/deny over the same
// control_request/control_response framing as the initialize handshake.
func (c *Client) handleControlRequest(req map[string]any) {
	reqID := stringField(req, "request_id", "requestId")
	params, _ := req["params"].(map[string]any)
	toolName := stringField(params, "tool_name", "toolName")
	toolInput, _ := params["input"].(map[string]any)

	var resp permission.Response
	if c.cfg.Gate == nil {
		resp = permission.Deny("no permission gate configured")
	} else {
		resp = c.cfg.Gate.Check(permission.Request{
			ID:         reqID,
			ToolName:   toolName,
			Parameters: toolInput,
			AgentID:    c.cfg.AgentID,
			Cwd:        c.cfg.WorkingDir,
		})
	}

	behavior := "deny"
	reason := resp.Reason
	if resp.Kind == permission.KindAllow {
		behavior = "allow"
	}

	line, err := json.Marshal(map[string]any{
		"type":       "control_response",
		"request_id": reqID,
		"response":   map[string]any{"behavior": behavior, "message": reason},
	})
	if err != nil {
		log.Logger().Error("marshal control_response", zap.Error(err))
		return
	}

	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	if proc == nil {
		return
	}
	if err := proc.send(line); err != nil {
		log.Logger().Error("send control_response", zap.Error(err))
	}
}

// handleEvent parses one event line and appends its fragment to the
// conversation, publishing a new snapshot and, for a result event, firing
// onTurnComplete.
func (c *Client) handleEvent(line []byte) {
	parsed := parseEventLine(line)

	c.mu.Lock()
	c.applyResponse(parsed.response)
	snapshot := c.conv.Clone()
	c.mu.Unlock()

	c.snapshots.Publish(pubsub.NewUpdatedEvent(snapshot))

	if parsed.turnComplete {
		c.turns.Publish(pubsub.NewCreatedEvent(struct{}{}))
	}
}

// applyResponse mutates c.conv under c.mu: it ensures a streaming
// assistant message exists for non-terminal fragments, appends the
// fragment, and on an ErrorResponse / result-triggered CompletionResponse
// updates conversation-level state per the send/receive/tools/idle state machine.
func (c *Client) applyResponse(r message.Response) {
	switch f := r.(type) {
	case message.ErrorResponse:
		c.conv.State = message.StateError
		c.conv.CurrentError = f.Message
		return
	case message.StatusResponse:
		switch f.Status {
		case message.StatusThinking, message.StatusProcessing:
			c.conv.State = message.StateProcessing
		case message.StatusResponding:
			c.conv.State = message.StateReceivingResponse
		}
	}

	// Meta/status/unknown fragments attach to an in-flight assistant
	// message but never open one: a system init or status line arriving
	// between turns would otherwise fabricate an empty message for every
	// subscriber to replay.
	switch r.(type) {
	case message.MetaResponse, message.StatusResponse, message.UnknownResponse:
		n := len(c.conv.Messages)
		if n == 0 || c.conv.Messages[n-1].Role != message.RoleAssistant || !c.conv.Messages[n-1].IsStreaming {
			return
		}
	}

	last := c.currentAssistantMessage()
	last.AppendResponse(r)
	c.conv.Messages[len(c.conv.Messages)-1] = *last

	if comp, ok := r.(message.CompletionResponse); ok {
		c.conv.Cumulative = c.conv.Cumulative.Add(message.TokenUsage{
			InputTokens:         comp.InputTokens,
			OutputTokens:        comp.OutputTokens,
			CacheReadTokens:     comp.CacheReadTokens,
			CacheCreationTokens: comp.CacheCreationTokens,
			CostUSD:             comp.CostUSD,
		})
		c.conv.Messages[len(c.conv.Messages)-1].IsStreaming = false
		c.conv.Messages[len(c.conv.Messages)-1].IsComplete = true
		c.conv.State = message.StateIdle
	} else if c.conv.State == message.StateSendingMessage || c.conv.State == message.StateIdle {
		c.conv.State = message.StateReceivingResponse
	}
}

// currentAssistantMessage returns the last message if it is a streaming
// assistant message, else appends and returns a fresh one.
func (c *Client) currentAssistantMessage() *message.ConversationMessage {
	if n := len(c.conv.Messages); n > 0 {
		last := &c.conv.Messages[n-1]
		if last.Role == message.RoleAssistant && last.IsStreaming {
			return last
		}
	}
	c.nextMsgID++
	id := fmt.Sprintf("%s-a%d", c.cfg.AgentID, c.nextMsgID)
	m := message.NewStreamingAssistantMessage(id)
	c.conv.Messages = append(c.conv.Messages, m)
	return &c.conv.Messages[len(c.conv.Messages)-1]
}
