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

// Package stream converts an agent's raw Conversation snapshots into an
// ordered stream of delta events suitable for a WebSocket client: new
// messages, appended text, tool invocations and their results, errors, and
// a turn-complete signal.
package stream

import (
	"context"
	"time"

	"github.com/skeinhq/skein/internal/message"
	"github.com/skeinhq/skein/internal/pubsub"
)

// Event types emitted outward, matching the WebSocket wire envelope.
const (
	TypeStatus       = "status"
	TypeMessage      = "message"
	TypeMessageDelta = "message_delta"
	TypeToolUse      = "tool_use"
	TypeToolResult   = "tool_result"
	TypeError        = "error"
	TypeDone         = "done"
)

// subscribeDelay is how long the pipeline waits before sending the initial
// status event, so a subscriber that attaches in the same scheduling
// quantum as the first snapshot publish doesn't race it.
const subscribeDelay = 10 * time.Millisecond

// Meta identifies the agent a stream belongs to; it is stamped onto every
// outgoing event.
type Meta struct {
	AgentID   string
	AgentType string
	AgentName string
	TaskName  string
}

// Event is one outward-facing stream event: { type, agentId, agentType,
// agentName?, taskName?, data }.
type Event struct {
	Type      string `json:"type"`
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType"`
	AgentName string `json:"agentName,omitempty"`
	TaskName  string `json:"taskName,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Source is the subset of llmclient.Client a pipeline needs: a
// replay-on-subscribe conversation stream and a turn-complete signal.
type Source interface {
	Conversation(ctx context.Context) <-chan pubsub.Event[message.Conversation]
	OnTurnComplete(ctx context.Context) <-chan pubsub.Event[struct{}]
}

// state is the per-subscriber bookkeeping the delta algorithm needs:
// how many messages have been seen, how much of the last message's content
// has been emitted, which tool_use ids have been announced (and recovered
// by tool_result), and the last error message already emitted.
type state struct {
	lastMessageCount int
	lastContentLen   int
	toolNames        map[string]string
	resultSeen       map[string]bool
	lastError        string
}

func newState() *state {
	return &state{toolNames: map[string]string{}, resultSeen: map[string]bool{}}
}

// Subscribe starts a pipeline for one agent and returns its event channel,
// closed when ctx is cancelled or src's conversation stream ends. Each call
// gets an independent subscriber state and therefore its own catch-up
// replay: a new subscriber always sees every prior message before any
// delta, even if earlier subscribers are mid-stream.
func Subscribe(ctx context.Context, meta Meta, src Source) <-chan Event {
	out := make(chan Event, 64)
	go run(ctx, meta, src, out)
	return out
}

func run(ctx context.Context, meta Meta, src Source, out chan<- Event) {
	defer close(out)

	convCh := src.Conversation(ctx)
	turnCh := src.OnTurnComplete(ctx)

	select {
	case <-time.After(subscribeDelay):
	case <-ctx.Done():
		return
	}
	if !send(ctx, out, statusEvent(meta)) {
		return
	}

	st := newState()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-convCh:
			if !ok {
				return
			}
			if !emitSnapshot(ctx, meta, st, ev.Payload, out) {
				return
			}
		case _, ok := <-turnCh:
			if !ok {
				continue
			}
			if !send(ctx, out, doneEvent(meta)) {
				return
			}
		}
	}
}

// emitSnapshot runs the delta algorithm for one Conversation update,
// emitting every event it implies. It returns false if the subscriber's
// context was cancelled mid-emission.
func emitSnapshot(ctx context.Context, meta Meta, st *state, conv message.Conversation, out chan<- Event) bool {
	messages := conv.Messages

	if len(messages) > st.lastMessageCount {
		for i := st.lastMessageCount; i < len(messages); i++ {
			m := messages[i]
			if !send(ctx, out, messageEvent(meta, m)) {
				return false
			}
			if !emitFragments(ctx, meta, st, m, out) {
				return false
			}
		}
		st.lastMessageCount = len(messages)
		st.lastContentLen = 0
		if len(messages) > 0 {
			st.lastContentLen = len(messages[len(messages)-1].Content)
		}
	} else if len(messages) > 0 {
		last := messages[len(messages)-1]
		if len(last.Content) > st.lastContentLen {
			delta := last.Content[st.lastContentLen:]
			st.lastContentLen = len(last.Content)
			if !send(ctx, out, deltaEvent(meta, delta)) {
				return false
			}
		}
		// A tool call can be appended to the current last message without
		// changing its text content; scan for those regardless of the
		// delta branch above.
		if !emitFragments(ctx, meta, st, last, out) {
			return false
		}
	}

	if conv.CurrentError != "" && conv.CurrentError != st.lastError {
		st.lastError = conv.CurrentError
		if !send(ctx, out, errorEvent(meta, conv.CurrentError)) {
			return false
		}
	}
	return true
}

// emitFragments scans m's response fragments for tool_use/tool_result
// pairs not yet announced to this subscriber, in declaration order.
func emitFragments(ctx context.Context, meta Meta, st *state, m message.ConversationMessage, out chan<- Event) bool {
	for _, r := range m.Responses {
		switch f := r.(type) {
		case message.ToolUseResponse:
			if _, seen := st.toolNames[f.ToolUseID]; seen {
				continue
			}
			st.toolNames[f.ToolUseID] = f.ToolName
			if !send(ctx, out, toolUseEvent(meta, f)) {
				return false
			}
		case message.ToolResultResponse:
			if st.resultSeen[f.ToolUseID] {
				continue
			}
			st.resultSeen[f.ToolUseID] = true
			toolName := st.toolNames[f.ToolUseID]
			if toolName == "" {
				toolName = "unknown"
			}
			if !send(ctx, out, toolResultEvent(meta, toolName, f)) {
				return false
			}
		}
	}
	return true
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func statusEvent(meta Meta) Event {
	return envelope(meta, TypeStatus, map[string]any{"status": "connected"})
}

func doneEvent(meta Meta) Event {
	return envelope(meta, TypeDone, nil)
}

func messageEvent(meta Meta, m message.ConversationMessage) Event {
	return envelope(meta, TypeMessage, map[string]any{
		"id": m.ID, "role": string(m.Role), "content": m.Content,
	})
}

func deltaEvent(meta Meta, delta string) Event {
	return envelope(meta, TypeMessageDelta, map[string]any{"role": "assistant", "delta": delta})
}

func toolUseEvent(meta Meta, f message.ToolUseResponse) Event {
	return envelope(meta, TypeToolUse, map[string]any{
		"toolName": f.ToolName, "toolUseId": f.ToolUseID, "toolInput": f.Parameters,
	})
}

func toolResultEvent(meta Meta, toolName string, f message.ToolResultResponse) Event {
	return envelope(meta, TypeToolResult, map[string]any{
		"toolUseId": f.ToolUseID, "toolName": toolName, "result": f.Content, "isError": f.IsError,
	})
}

func errorEvent(meta Meta, msg string) Event {
	return envelope(meta, TypeError, map[string]any{"message": msg})
}

func envelope(meta Meta, typ string, data any) Event {
	return Event{
		Type: typ, AgentID: meta.AgentID, AgentType: meta.AgentType,
		AgentName: meta.AgentName, TaskName: meta.TaskName, Data: data,
	}
}
