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

// Package message holds the conversation model: the typed sum of response
// fragments an LLM backend emits, and the ConversationMessage/Conversation
// types assembled from them.
package message

// Response is the marker interface implemented by every fragment type a
// backend event can produce.
type Response interface {
	isResponse()
}

// TextResponse carries assistant (or user) text content.
type TextResponse struct {
	Content   string
	Role      string // optional; "assistant" unless overridden
	IsPartial bool
}

func (TextResponse) isResponse() {}

// ToolUseResponse represents one tool invocation requested by the model.
type ToolUseResponse struct {
	ToolName   string
	ToolUseID  string
	Parameters map[string]any
}

func (ToolUseResponse) isResponse() {}

// ToolResultResponse carries the outcome of a tool invocation, paired with
// its ToolUseResponse by ToolUseID.
type ToolResultResponse struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (ToolResultResponse) isResponse() {}

// StatusKind enumerates the backend's lifecycle status values.
type StatusKind string

const (
	StatusReady      StatusKind = "ready"
	StatusProcessing StatusKind = "processing"
	StatusThinking   StatusKind = "thinking"
	StatusResponding StatusKind = "responding"
	StatusCompleted  StatusKind = "completed"
	StatusError      StatusKind = "error"
	StatusUnknown    StatusKind = "unknown"
)

// StatusResponse carries a backend lifecycle status update.
type StatusResponse struct {
	Status  StatusKind
	Message string
}

func (StatusResponse) isResponse() {}

// MetaResponse carries backend session metadata (e.g. the `system: init` event).
type MetaResponse struct {
	Raw map[string]any
}

func (MetaResponse) isResponse() {}

// CompletionResponse carries the turn's token accounting and stop reason;
// its arrival triggers llmclient's onTurnComplete signal.
type CompletionResponse struct {
	StopReason         string
	InputTokens        int
	OutputTokens       int
	CacheReadTokens    int
	CacheCreationTokens int
	CostUSD            float64
}

func (CompletionResponse) isResponse() {}

// ErrorResponse carries a backend-reported error.
type ErrorResponse struct {
	Message string
}

func (ErrorResponse) isResponse() {}

// UnknownResponse preserves an event this adapter didn't recognize, so a
// parse/shape surprise never has to abort the stream.
type UnknownResponse struct {
	Raw map[string]any
}

func (UnknownResponse) isResponse() {}
