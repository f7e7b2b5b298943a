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

package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/internal/message"
	"github.com/skeinhq/skein/internal/pubsub"
)

// fakeSource mimics llmclient.Client's two streams closely enough to drive
// the pipeline without spawning a real backend process.
type fakeSource struct {
	mu     sync.Mutex
	latest message.Conversation

	conv *pubsub.Broker[message.Conversation]
	turn *pubsub.Broker[struct{}]
}

func newFakeSource() *fakeSource {
	return &fakeSource{conv: pubsub.NewBroker[message.Conversation](), turn: pubsub.NewBroker[struct{}]()}
}

func (f *fakeSource) Conversation(ctx context.Context) <-chan pubsub.Event[message.Conversation] {
	ch := f.conv.Subscribe(ctx)
	go func() {
		f.mu.Lock()
		snap := f.latest
		f.mu.Unlock()
		f.conv.Publish(pubsub.NewUpdatedEvent(snap))
	}()
	return ch
}

func (f *fakeSource) OnTurnComplete(ctx context.Context) <-chan pubsub.Event[struct{}] {
	return f.turn.Subscribe(ctx)
}

func (f *fakeSource) update(c message.Conversation) {
	f.mu.Lock()
	f.latest = c
	f.mu.Unlock()
	f.conv.Publish(pubsub.NewUpdatedEvent(c))
}

func (f *fakeSource) completeTurn() {
	f.turn.Publish(pubsub.NewCreatedEvent(struct{}{}))
}

func collect(t *testing.T, ch <-chan Event, n int, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(got), n)
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events: %+v", len(got), n, got)
		}
	}
	return got
}

func TestSubscribeSendsStatusFirst(t *testing.T) {
	src := newFakeSource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := collect(t, Subscribe(ctx, Meta{AgentID: "a1"}, src), 1, time.Second)
	assert.Equal(t, TypeStatus, events[0].Type)
	assert.Equal(t, "a1", events[0].AgentID)
}

func TestCatchUpReplaysExistingMessages(t *testing.T) {
	src := newFakeSource()
	src.latest = message.Conversation{Messages: []message.ConversationMessage{
		{ID: "u1", Role: message.RoleUser, Content: "hi"},
		{ID: "a1", Role: message.RoleAssistant, Content: "hello there", IsComplete: true},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := collect(t, Subscribe(ctx, Meta{AgentID: "a1"}, src), 3, time.Second)
	require.Equal(t, TypeStatus, events[0].Type)
	require.Equal(t, TypeMessage, events[1].Type)
	require.Equal(t, TypeMessage, events[2].Type)
	assert.Equal(t, "hi", events[1].Data.(map[string]any)["content"])
	assert.Equal(t, "hello there", events[2].Data.(map[string]any)["content"])
}

func TestNoDuplicateContentAcrossStreamingDeltas(t *testing.T) {
	src := newFakeSource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := Subscribe(ctx, Meta{AgentID: "a1"}, src)
	collect(t, out, 1, time.Second) // status

	src.update(message.Conversation{Messages: []message.ConversationMessage{
		{ID: "a1", Role: message.RoleAssistant, Content: "Hel", IsStreaming: true},
	}})
	first := collect(t, out, 1, time.Second)
	require.Equal(t, TypeMessage, first[0].Type)
	assert.Equal(t, "Hel", first[0].Data.(map[string]any)["content"])

	src.update(message.Conversation{Messages: []message.ConversationMessage{
		{ID: "a1", Role: message.RoleAssistant, Content: "Hello, wor", IsStreaming: true},
	}})
	second := collect(t, out, 1, time.Second)
	require.Equal(t, TypeMessageDelta, second[0].Type)
	assert.Equal(t, "lo, wor", second[0].Data.(map[string]any)["delta"])

	src.update(message.Conversation{Messages: []message.ConversationMessage{
		{ID: "a1", Role: message.RoleAssistant, Content: "Hello, world!", IsStreaming: false, IsComplete: true},
	}})
	third := collect(t, out, 1, time.Second)
	require.Equal(t, TypeMessageDelta, third[0].Type)

	reconstructed := first[0].Data.(map[string]any)["content"].(string) +
		second[0].Data.(map[string]any)["delta"].(string) +
		third[0].Data.(map[string]any)["delta"].(string)
	assert.Equal(t, "Hello, world!", reconstructed)
}

func TestToolUseAndResultEmittedExactlyOnce(t *testing.T) {
	src := newFakeSource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := Subscribe(ctx, Meta{AgentID: "a1"}, src)
	collect(t, out, 1, time.Second) // status

	src.update(message.Conversation{Messages: []message.ConversationMessage{{
		ID: "a1", Role: message.RoleAssistant, IsStreaming: true,
		Responses: []message.Response{
			message.ToolUseResponse{ToolName: "Bash", ToolUseID: "t1", Parameters: map[string]any{"command": "ls"}},
		},
	}}})
	evs := collect(t, out, 2, time.Second) // message, tool_use
	require.Equal(t, TypeMessage, evs[0].Type)
	require.Equal(t, TypeToolUse, evs[1].Type)
	assert.Equal(t, "Bash", evs[1].Data.(map[string]any)["toolName"])

	src.update(message.Conversation{Messages: []message.ConversationMessage{{
		ID: "a1", Role: message.RoleAssistant, IsStreaming: true,
		Responses: []message.Response{
			message.ToolUseResponse{ToolName: "Bash", ToolUseID: "t1", Parameters: map[string]any{"command": "ls"}},
			message.ToolResultResponse{ToolUseID: "t1", Content: "file.go"},
		},
	}}})
	result := collect(t, out, 1, time.Second) // tool_result only, no re-emitted tool_use
	require.Equal(t, TypeToolResult, result[0].Type)
	assert.Equal(t, "Bash", result[0].Data.(map[string]any)["toolName"])
	assert.Equal(t, "file.go", result[0].Data.(map[string]any)["result"])
}

func TestToolResultWithoutToolUseFallsBackToUnknown(t *testing.T) {
	src := newFakeSource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := Subscribe(ctx, Meta{AgentID: "a1"}, src)
	collect(t, out, 1, time.Second) // status

	src.update(message.Conversation{Messages: []message.ConversationMessage{{
		ID: "a1", Role: message.RoleAssistant, IsStreaming: true,
		Responses: []message.Response{message.ToolResultResponse{ToolUseID: "orphan", Content: "ok"}},
	}}})
	evs := collect(t, out, 2, time.Second) // message, tool_result
	require.Equal(t, TypeToolResult, evs[1].Type)
	assert.Equal(t, "unknown", evs[1].Data.(map[string]any)["toolName"])
}

func TestDoneEmittedOnTurnComplete(t *testing.T) {
	src := newFakeSource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := Subscribe(ctx, Meta{AgentID: "a1"}, src)
	collect(t, out, 1, time.Second) // status

	src.completeTurn()
	evs := collect(t, out, 1, time.Second)
	assert.Equal(t, TypeDone, evs[0].Type)
}

func TestErrorEmittedOnceUntilItChanges(t *testing.T) {
	src := newFakeSource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := Subscribe(ctx, Meta{AgentID: "a1"}, src)
	collect(t, out, 1, time.Second) // status

	src.update(message.Conversation{CurrentError: "boom"})
	evs := collect(t, out, 1, time.Second)
	assert.Equal(t, TypeError, evs[0].Type)

	// Re-publishing the same error must not re-emit it.
	src.update(message.Conversation{CurrentError: "boom"})
	src.update(message.Conversation{CurrentError: "boom again"})
	evs = collect(t, out, 1, time.Second)
	assert.Equal(t, "boom again", evs[0].Data.(map[string]any)["message"])
}
