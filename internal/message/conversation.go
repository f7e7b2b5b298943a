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

import "time"

// Role distinguishes message authorship.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// State tracks where a Conversation sits in the send/receive cycle.
type State string

const (
	StateIdle               State = "idle"
	StateSendingMessage     State = "sendingMessage"
	StateReceivingResponse  State = "receivingResponse"
	StateProcessing         State = "processing"
	StateError              State = "error"
)

// TokenUsage is the per-message token accounting, sourced from the single
// CompletionResponse fragment in a message, if any.
type TokenUsage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	CostUSD             float64
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:         u.InputTokens + o.InputTokens,
		OutputTokens:        u.OutputTokens + o.OutputTokens,
		CacheReadTokens:     u.CacheReadTokens + o.CacheReadTokens,
		CacheCreationTokens: u.CacheCreationTokens + o.CacheCreationTokens,
		CostUSD:             u.CostUSD + o.CostUSD,
	}
}

// ToolInvocation pairs a tool_use fragment with its tool_result, by
// ToolUseID, in declaration order. HasResult is false while the pairing is
// still pending (legal only on a streaming message).
type ToolInvocation struct {
	ToolUseID  string
	ToolName   string
	Parameters map[string]any
	HasResult  bool
	Result     string
	IsError    bool
}

// ConversationMessage is one message in a Conversation: either the user's
// input, or an assistant turn assembled from response fragments.
type ConversationMessage struct {
	ID          string
	Role        Role
	Timestamp   time.Time
	Content     string
	Responses   []Response
	IsStreaming bool
	IsComplete  bool
	TokenUsage  *TokenUsage
}

// NewUserMessage creates a complete, non-streaming user message.
func NewUserMessage(id, content string) ConversationMessage {
	return ConversationMessage{
		ID:         id,
		Role:       RoleUser,
		Timestamp:  time.Now(),
		Content:    content,
		Responses:  []Response{TextResponse{Content: content, Role: string(RoleUser)}},
		IsComplete: true,
	}
}

// NewStreamingAssistantMessage creates an empty, streaming assistant message
// ready to receive fragments via AppendResponse.
func NewStreamingAssistantMessage(id string) ConversationMessage {
	return ConversationMessage{
		ID:          id,
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// AppendResponse appends a fragment and recomputes the derived Content and
// TokenUsage fields. It does not mutate
// m.IsComplete/IsStreaming; callers flip those explicitly on turn boundaries.
func (m *ConversationMessage) AppendResponse(r Response) {
	m.Responses = append(m.Responses, r)
	switch f := r.(type) {
	case TextResponse:
		m.Content += f.Content
	case CompletionResponse:
		if m.TokenUsage == nil {
			m.TokenUsage = &TokenUsage{
				InputTokens:         f.InputTokens,
				OutputTokens:        f.OutputTokens,
				CacheReadTokens:     f.CacheReadTokens,
				CacheCreationTokens: f.CacheCreationTokens,
				CostUSD:             f.CostUSD,
			}
		}
	}
}

// ToolInvocations pairs tool_use and tool_result fragments by ToolUseID, in
// the order the tool_use fragments were declared.
func (m ConversationMessage) ToolInvocations() []ToolInvocation {
	var invocations []ToolInvocation
	index := make(map[string]int)

	for _, r := range m.Responses {
		switch f := r.(type) {
		case ToolUseResponse:
			index[f.ToolUseID] = len(invocations)
			invocations = append(invocations, ToolInvocation{
				ToolUseID:  f.ToolUseID,
				ToolName:   f.ToolName,
				Parameters: f.Parameters,
			})
		case ToolResultResponse:
			if i, ok := index[f.ToolUseID]; ok {
				invocations[i].HasResult = true
				invocations[i].Result = f.Content
				invocations[i].IsError = f.IsError
			}
		}
	}
	return invocations
}

// Conversation is the ordered sequence of messages for one agent, plus
// cumulative state. It is owned exclusively by the llmclient.Client that
// produces it; subscribers only ever see Clone'd snapshots.
type Conversation struct {
	Messages     []ConversationMessage
	State        State
	Cumulative   TokenUsage
	CurrentError string
}

// Clone returns a deep-enough copy for safe hand-off to a subscriber: the
// message slice, its TokenUsage pointers and each message's response
// slice are copied; the fragments inside those slices are shared, not
// copied (fragments are treated as immutable once appended).
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]ConversationMessage, len(c.Messages))
	copy(out.Messages, c.Messages)
	for i, m := range out.Messages {
		if m.TokenUsage != nil {
			usage := *m.TokenUsage
			out.Messages[i].TokenUsage = &usage
		}
		if m.Responses != nil {
			frags := make([]Response, len(m.Responses))
			copy(frags, m.Responses)
			out.Messages[i].Responses = frags
		}
	}
	return out
}

// LastMessage returns the last message and true, or the zero value and
// false if the conversation is empty.
func (c Conversation) LastMessage() (ConversationMessage, bool) {
	if len(c.Messages) == 0 {
		return ConversationMessage{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}
