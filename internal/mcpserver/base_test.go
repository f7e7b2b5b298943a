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

package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinhq/skein/internal/port"
)

func startTestServer(t *testing.T) (Server, int) {
	t.Helper()
	s := NewBaseServer("echo")
	s.Register("echo", func(_ context.Context, params map[string]any) (any, error) {
		return params, nil
	})

	alloc := port.NewAllocator()
	p, err := alloc.Acquire(0)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background(), p))
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		alloc.Release(p)
	})
	return s, p
}

func call(t *testing.T, port int, method string, params any) map[string]any {
	t.Helper()
	paramsJSON, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  json.RawMessage(paramsJSON),
	})
	require.NoError(t, err)

	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/mcp", port), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestToolsListReturnsRegisteredTools(t *testing.T) {
	_, p := startTestServer(t)
	out := call(t, p, "tools/list", map[string]any{})
	require.Nil(t, out["error"])
	result := out["result"].(map[string]any)
	tools := result["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].(map[string]any)["name"])
}

func TestToolsCallDispatchesToHandler(t *testing.T) {
	_, p := startTestServer(t)
	out := call(t, p, "tools/call", map[string]any{
		"name":      "echo",
		"arguments": map[string]any{"hello": "world"},
	})
	require.Nil(t, out["error"])
	result := out["result"].(map[string]any)
	assert.Equal(t, "world", result["hello"])
}

func TestToolsCallUnknownToolErrors(t *testing.T) {
	_, p := startTestServer(t)
	out := call(t, p, "tools/call", map[string]any{"name": "nope", "arguments": map[string]any{}})
	require.NotNil(t, out["error"])
}

func TestToolConfigReflectsAssignedPort(t *testing.T) {
	s, p := startTestServer(t)
	cfg := s.ToolConfig()
	assert.Equal(t, "http", cfg.Type)
	assert.Equal(t, fmt.Sprintf("http://localhost:%d/mcp", p), cfg.URL)
}

func TestFleetStartAssignsDistinctPortsAndStopReleasesThem(t *testing.T) {
	alloc := port.NewAllocator()
	f := NewFleet(alloc)
	f.Add(NewTaskManagementServer())
	f.Add(NewMemoryServer(newFakeMemoryStore()))

	require.NoError(t, f.Start(context.Background()))
	cfg := f.MCPConfig()
	require.Len(t, cfg, 2)
	assert.NotEqual(t, cfg["task-management"].URL, cfg["memory"].URL)

	require.NoError(t, f.Stop(context.Background()))
	assert.Equal(t, 0, alloc.Reserved())
}

type fakeMemoryStore struct {
	entries map[string]string
}

func newFakeMemoryStore() *fakeMemoryStore { return &fakeMemoryStore{entries: map[string]string{}} }

func (f *fakeMemoryStore) Save(key, value string) error {
	f.entries[key] = value
	return nil
}

func (f *fakeMemoryStore) Get(key string) (string, bool) {
	v, ok := f.entries[key]
	return v, ok
}

func (f *fakeMemoryStore) List() []map[string]any {
	out := make([]map[string]any, 0, len(f.entries))
	for k, v := range f.entries {
		out = append(out, map[string]any{"key": k, "value": v})
	}
	return out
}

func TestAskUserQuestionServerRoundTrips(t *testing.T) {
	srv := NewAskUserQuestionServer(func(_ context.Context, prompt string, options []string) (string, error) {
		assert.Equal(t, "continue?", prompt)
		assert.Equal(t, []string{"yes", "no"}, options)
		return "yes", nil
	})

	alloc := port.NewAllocator()
	p, err := alloc.Acquire(0)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background(), p))
	defer func() {
		_ = srv.Stop(context.Background())
		alloc.Release(p)
	}()

	out := call(t, p, "tools/call", map[string]any{
		"name":      "ask_user_question",
		"arguments": map[string]any{"prompt": "continue?", "options": []any{"yes", "no"}},
	})
	require.Nil(t, out["error"])
	result := out["result"].(map[string]any)
	assert.Equal(t, "yes", result["answer"])
}
