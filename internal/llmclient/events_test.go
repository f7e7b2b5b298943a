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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/internal/message"
)

func TestParseTextEvent(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"text","content":"hi &amp; bye"}`))
	text, ok := p.response.(message.TextResponse)
	require.True(t, ok)
	assert.Equal(t, "hi & bye", text.Content)
	assert.False(t, p.turnComplete)
}

func TestParseAssistantTextEventConcatenatesItems(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"assistant","message":{"content":[
		{"type":"text","text":"Hel"},{"type":"text","text":"lo"}]}}`))
	text, ok := p.response.(message.TextResponse)
	require.True(t, ok)
	assert.Equal(t, "Hello", text.Content)
}

func TestParseAssistantToolUseEventTakesPrecedence(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"assistant","message":{"content":[
		{"type":"text","text":"about to run a tool"},
		{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`))
	tu, ok := p.response.(message.ToolUseResponse)
	require.True(t, ok)
	assert.Equal(t, "Bash", tu.ToolName)
	assert.Equal(t, "t1", tu.ToolUseID)
	assert.Equal(t, "ls", tu.Parameters["command"])
}

func TestParseToolUseEvent(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"tool_use","toolName":"Grep","toolUseId":"t2","parameters":{"pattern":"foo"}}`))
	tu, ok := p.response.(message.ToolUseResponse)
	require.True(t, ok)
	assert.Equal(t, "Grep", tu.ToolName)
	assert.Equal(t, "t2", tu.ToolUseID)
}

func TestParseUserToolResultEvent(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"user","message":{"content":[
		{"type":"tool_result","tool_use_id":"t2","content":"ok","is_error":false}]}}`))
	tr, ok := p.response.(message.ToolResultResponse)
	require.True(t, ok)
	assert.Equal(t, "t2", tr.ToolUseID)
	assert.Equal(t, "ok", tr.Content)
	assert.False(t, tr.IsError)
}

func TestParseErrorEvent(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"error","message":"boom"}`))
	e, ok := p.response.(message.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, "boom", e.Message)
}

func TestParseStatusEvent(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"status","status":"thinking"}`))
	s, ok := p.response.(message.StatusResponse)
	require.True(t, ok)
	assert.Equal(t, message.StatusThinking, s.Status)
}

func TestParseStatusEventUnknownValueFallsBack(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"status","status":"bogus"}`))
	s, ok := p.response.(message.StatusResponse)
	require.True(t, ok)
	assert.Equal(t, message.StatusUnknown, s.Status)
}

func TestParseSystemInitEventYieldsMeta(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"system","subtype":"init","sessionId":"s1"}`))
	_, ok := p.response.(message.MetaResponse)
	assert.True(t, ok)
}

func TestParseSystemOtherSubtypeYieldsStatus(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"system","subtype":"processing"}`))
	_, ok := p.response.(message.StatusResponse)
	assert.True(t, ok)
}

func TestParseResultEventTriggersTurnComplete(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"result","stopReason":"end_turn","inputTokens":12,"outputTokens":34}`))
	c, ok := p.response.(message.CompletionResponse)
	require.True(t, ok)
	assert.Equal(t, "end_turn", c.StopReason)
	assert.Equal(t, 12, c.InputTokens)
	assert.Equal(t, 34, c.OutputTokens)
	assert.True(t, p.turnComplete)
}

func TestParseUnknownTypeEventPreservesRaw(t *testing.T) {
	p := parseEventLine([]byte(`{"type":"something_new","foo":"bar"}`))
	u, ok := p.response.(message.UnknownResponse)
	require.True(t, ok)
	assert.Equal(t, "bar", u.Raw["foo"])
}

func TestParseMalformedLineDoesNotPanicAndYieldsUnknown(t *testing.T) {
	p := parseEventLine([]byte(`{not valid json`))
	_, ok := p.response.(message.UnknownResponse)
	assert.True(t, ok)
	assert.False(t, p.turnComplete)
}
