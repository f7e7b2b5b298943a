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

package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendResponseAssemblesContent(t *testing.T) {
	m := NewStreamingAssistantMessage("m1")
	m.AppendResponse(TextResponse{Content: "Hel"})
	m.AppendResponse(TextResponse{Content: "lo"})
	assert.Equal(t, "Hello", m.Content)
}

func TestAppendResponseSetsTokenUsageFromFirstCompletionOnly(t *testing.T) {
	m := NewStreamingAssistantMessage("m1")
	m.AppendResponse(CompletionResponse{InputTokens: 10, OutputTokens: 5})
	m.AppendResponse(CompletionResponse{InputTokens: 999, OutputTokens: 999})

	require := assert.New(t)
	require.NotNil(m.TokenUsage)
	require.Equal(10, m.TokenUsage.InputTokens)
	require.Equal(5, m.TokenUsage.OutputTokens)
}

func TestToolInvocationsPairByID(t *testing.T) {
	m := NewStreamingAssistantMessage("m1")
	m.AppendResponse(ToolUseResponse{ToolName: "read", ToolUseID: "t1", Parameters: map[string]any{"path": "a.go"}})
	m.AppendResponse(TextResponse{Content: "looking..."})
	m.AppendResponse(ToolResultResponse{ToolUseID: "t1", Content: "package main", IsError: false})

	invocations := m.ToolInvocations()
	assert.Len(t, invocations, 1)
	assert.True(t, invocations[0].HasResult)
	assert.Equal(t, "read", invocations[0].ToolName)
	assert.Equal(t, "package main", invocations[0].Result)
}

func TestToolInvocationUnpairedWhileStreaming(t *testing.T) {
	m := NewStreamingAssistantMessage("m1")
	m.AppendResponse(ToolUseResponse{ToolName: "bash", ToolUseID: "t1"})

	invocations := m.ToolInvocations()
	assert.Len(t, invocations, 1)
	assert.False(t, invocations[0].HasResult)
}

func TestCloneDeepCopiesTokenUsage(t *testing.T) {
	c := Conversation{Messages: []ConversationMessage{NewStreamingAssistantMessage("m1")}}
	c.Messages[0].TokenUsage = &TokenUsage{InputTokens: 1}

	clone := c.Clone()
	clone.Messages[0].TokenUsage.InputTokens = 999

	assert.Equal(t, 1, c.Messages[0].TokenUsage.InputTokens)
	assert.Equal(t, 999, clone.Messages[0].TokenUsage.InputTokens)
}
