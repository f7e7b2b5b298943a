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
	"encoding/json"

	"github.com/skeinhq/skein/internal/message"
)

// parsedEvent is the outcome of parsing one backend-emitted JSON line: the
// fragment it produced, and whether it should also trigger onTurnComplete
// (true only for a `result` event).
type parsedEvent struct {
	response    message.Response
	turnComplete bool
}

// parseEventLine parses one newline-delimited JSON object into a
// message.Response. A malformed line
// never aborts the stream: it surfaces as an UnknownResponse wrapping the
// raw text rather than aborting.
func parseEventLine(line []byte) parsedEvent {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return parsedEvent{response: message.UnknownResponse{Raw: map[string]any{"_raw": string(line), "_parseError": err.Error()}}}
	}
	return dispatchEvent(raw)
}

func dispatchEvent(raw map[string]any) parsedEvent {
	typ, _ := raw["type"].(string)
	switch typ {
	case "text", "message":
		return parsedEvent{response: message.TextResponse{Content: decodeEntities(stringField(raw, "content", "text"))}}

	case "assistant":
		return parsedEvent{response: parseAssistantEvent(raw)}

	case "tool_use":
		return parsedEvent{response: message.ToolUseResponse{
			ToolName:   stringField(raw, "toolName", "tool_name", "name"),
			ToolUseID:  stringField(raw, "toolUseId", "tool_use_id", "id"),
			Parameters: mapField(raw, "parameters", "input"),
		}}

	case "user":
		if r, ok := parseUserToolResult(raw); ok {
			return parsedEvent{response: r}
		}
		return parsedEvent{response: message.TextResponse{Content: decodeEntities(stringField(raw, "content", "text")), Role: "user"}}

	case "error":
		return parsedEvent{response: message.ErrorResponse{Message: decodeEntities(stringField(raw, "message", "error"))}}

	case "status":
		return parsedEvent{response: message.StatusResponse{
			Status:  statusKindOf(stringField(raw, "status")),
			Message: decodeEntities(stringField(raw, "message")),
		}}

	case "system":
		if stringField(raw, "subtype") == "init" {
			return parsedEvent{response: message.MetaResponse{Raw: raw}}
		}
		return parsedEvent{response: message.StatusResponse{Status: statusKindOf(stringField(raw, "subtype"))}}

	case "result":
		return parsedEvent{
			response:     completionFromRaw(raw),
			turnComplete: true,
		}

	case "meta":
		return parsedEvent{response: message.MetaResponse{Raw: raw}}

	case "completion":
		return parsedEvent{response: completionFromRaw(raw)}

	default:
		return parsedEvent{response: message.UnknownResponse{Raw: raw}}
	}
}

// parseAssistantEvent handles the `assistant` event's nested
// message.content array: a run of { type: "text" } items concatenates
// into one TextResponse; a { type: "tool_use" } item instead yields a
// ToolUseResponse. Only one fragment is produced per
// event, so a tool_use item takes precedence if present.
func parseAssistantEvent(raw map[string]any) message.Response {
	content := nestedContent(raw)
	var text string
	for _, item := range content {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch stringField(m, "type") {
		case "tool_use":
			return message.ToolUseResponse{
				ToolName:   stringField(m, "name", "toolName"),
				ToolUseID:  stringField(m, "id", "toolUseId"),
				Parameters: mapField(m, "input", "parameters"),
			}
		case "text":
			text += stringField(m, "text", "content")
		}
	}
	return message.TextResponse{Content: decodeEntities(text)}
}

// parseUserToolResult handles the `user` event's nested message.content
// array when it carries a tool_result item.
func parseUserToolResult(raw map[string]any) (message.ToolResultResponse, bool) {
	for _, item := range nestedContent(raw) {
		m, ok := item.(map[string]any)
		if !ok || stringField(m, "type") != "tool_result" {
			continue
		}
		isError, _ := m["is_error"].(bool)
		return message.ToolResultResponse{
			ToolUseID: stringField(m, "tool_use_id", "toolUseId"),
			Content:   decodeEntities(stringField(m, "content", "text")),
			IsError:   isError,
		}, true
	}
	return message.ToolResultResponse{}, false
}

func nestedContent(raw map[string]any) []any {
	msg, ok := raw["message"].(map[string]any)
	if !ok {
		return nil
	}
	content, _ := msg["content"].([]any)
	return content
}

func completionFromRaw(raw map[string]any) message.CompletionResponse {
	return message.CompletionResponse{
		StopReason:          stringField(raw, "stopReason", "stop_reason"),
		InputTokens:         intField(raw, "inputTokens", "input_tokens"),
		OutputTokens:        intField(raw, "outputTokens", "output_tokens"),
		CacheReadTokens:      intField(raw, "cacheReadTokens", "cache_read_tokens"),
		CacheCreationTokens: intField(raw, "cacheCreationTokens", "cache_creation_tokens"),
		CostUSD:             floatField(raw, "costUsd", "cost_usd"),
	}
}

func statusKindOf(s string) message.StatusKind {
	switch message.StatusKind(s) {
	case message.StatusReady, message.StatusProcessing, message.StatusThinking,
		message.StatusResponding, message.StatusCompleted, message.StatusError:
		return message.StatusKind(s)
	default:
		return message.StatusUnknown
	}
}

// stringField returns the first of keys present in m as a string, decoding
// nothing itself; callers decode entities on the fields that need it.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func mapField(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if mm, ok := v.(map[string]any); ok {
				return mm
			}
		}
	}
	return nil
}

func intField(m map[string]any, keys ...string) int {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return int(f)
			}
		}
	}
	return 0
}

func floatField(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return 0
}
