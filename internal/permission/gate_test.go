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

package permission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSettings(t *testing.T) *Settings {
	t.Helper()
	s, err := LoadSettings(filepath.Join(t.TempDir(), ".claude", "settings.local.json"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckAsksWhenNoRuleMatches(t *testing.T) {
	asked := false
	g := NewGate(newTestSettings(t), func(Request) Response {
		asked = true
		return Deny("nope")
	})
	resp := g.Check(Request{ToolName: "Read", Parameters: map[string]any{}})
	assert.True(t, asked)
	assert.Equal(t, KindDeny, resp.Kind)
}

func TestDenyRuleShortCircuitsAsker(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.AddDenyRule("Bash(rm -rf *)"))

	g := NewGate(s, func(Request) Response {
		t.Fatal("asker should not be called when a deny rule matches")
		return Response{}
	})
	resp := g.Check(Request{ToolName: "Bash", Parameters: map[string]any{"command": "rm -rf /tmp/x"}})
	assert.Equal(t, KindDeny, resp.Kind)
}

func TestAllowRuleShortCircuitsAsker(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.AddAllowRule("Glob"))

	g := NewGate(s, func(Request) Response {
		t.Fatal("asker should not be called when an allow rule matches")
		return Response{}
	})
	resp := g.Check(Request{ToolName: "Glob", Parameters: map[string]any{"pattern": "**/*.go"}})
	assert.Equal(t, KindAllow, resp.Kind)
}

func TestShellDecompositionAllowsEachSubCommandIndependently(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.AddAllowRule("Bash(git status)"))
	require.NoError(t, s.AddAllowRule("Bash(ls*)"))

	g := NewGate(s, func(Request) Response {
		t.Fatal("asker should not be called: every sub-command is allowed")
		return Response{}
	})
	resp := g.Check(Request{ToolName: "Bash", Parameters: map[string]any{"command": "git status && ls -la"}})
	assert.Equal(t, KindAllow, resp.Kind)
}

func TestShellDecompositionAsksWhenAnySubCommandUnmatched(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.AddAllowRule("Bash(git status)"))

	asked := false
	g := NewGate(s, func(Request) Response {
		asked = true
		return Allow(ScopeOnce)
	})
	resp := g.Check(Request{ToolName: "Bash", Parameters: map[string]any{"command": "git status && rm -rf /"}})
	assert.True(t, asked)
	assert.Equal(t, KindAllow, resp.Kind)
}

func TestShellDecompositionDeniesWhenAnySubCommandMatchesDeny(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.AddAllowRule("Bash(ls*)"))
	require.NoError(t, s.AddDenyRule("Bash(curl*)"))

	g := NewGate(s, func(Request) Response {
		t.Fatal("asker should not be called: a sub-command is denied")
		return Response{}
	})
	resp := g.Check(Request{ToolName: "Bash", Parameters: map[string]any{"command": "ls -la && curl evil.example"}})
	assert.Equal(t, KindDeny, resp.Kind)
}

func TestSafeCdWithinWorktreeNeedsNoRule(t *testing.T) {
	s := newTestSettings(t)
	require.NoError(t, s.AddAllowRule("Bash(ls*)"))

	g := NewGate(s, func(Request) Response {
		t.Fatal("asker should not be called: cd into a relative subdir is always safe")
		return Response{}
	})
	resp := g.Check(Request{ToolName: "Bash", Parameters: map[string]any{"command": "cd subdir && ls"}})
	assert.Equal(t, KindAllow, resp.Kind)
}

func TestUnsafeCdEscapingWorktreeStillNeedsARule(t *testing.T) {
	s := newTestSettings(t)

	asked := false
	g := NewGate(s, func(Request) Response {
		asked = true
		return Deny("escapes worktree")
	})
	resp := g.Check(Request{ToolName: "Bash", Parameters: map[string]any{"command": "cd ../../etc && ls"}})
	assert.True(t, asked)
	assert.Equal(t, KindDeny, resp.Kind)
}

func TestWriteToolSessionAllowIsNeverPersisted(t *testing.T) {
	s := newTestSettings(t)
	asks := 0
	g := NewGate(s, func(Request) Response {
		asks++
		return Allow(ScopePersistent)
	})
	resp := g.Check(Request{ToolName: "Write", Parameters: map[string]any{"file_path": "main.go"}})
	require.Equal(t, KindAllow, resp.Kind)
	assert.Empty(t, s.AllowRules(), "Write allow must never reach persistent settings")

	// But it is remembered for the rest of this process's session.
	g2Resp := g.Check(Request{ToolName: "Write", Parameters: map[string]any{"file_path": "main.go"}})
	assert.Equal(t, 1, asks)
	assert.Equal(t, KindAllow, g2Resp.Kind)
}

func TestSkipRequestsAutoAllowsEverything(t *testing.T) {
	g := NewGate(newTestSettings(t), func(Request) Response {
		t.Fatal("asker should not be called while SkipRequests is set")
		return Response{}
	})
	g.SetSkipRequests(true)
	resp := g.Check(Request{ToolName: "Bash", Parameters: map[string]any{"command": "rm -rf /"}})
	assert.Equal(t, KindAllow, resp.Kind)
}

func TestPersistentAllowForWebFetchWritesDomainRuleAndStopsAsking(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".claude", "settings.local.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"hooks":{"preToolUse":["lint"]},"permissions":{"allow":[],"deny":[]}}`), 0o600))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	defer s.Close()

	asks := 0
	g := NewGate(s, func(Request) Response {
		asks++
		return Allow(ScopePersistent)
	})

	req := Request{ToolName: "WebFetch", Parameters: map[string]any{"url": "https://api.example.com/v1/things"}}
	require.Equal(t, KindAllow, g.Check(req).Kind)
	require.Equal(t, 1, asks)

	assert.Contains(t, s.AllowRules(), "WebFetch(domain:api.example.com)")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"WebFetch(domain:api.example.com)"`)
	assert.Contains(t, string(data), `"preToolUse"`, "unrelated hooks key must survive the rewrite")

	// Second invocation against the same host resolves from the rule list.
	require.Equal(t, KindAllow, g.Check(req).Kind)
	assert.Equal(t, 1, asks)
}

func TestPersistentAllowSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".claude", "settings.local.json")

	s1, err := LoadSettings(path)
	require.NoError(t, err)
	require.NoError(t, s1.AddAllowRule("Glob"))
	s1.Close()

	s2, err := LoadSettings(path)
	require.NoError(t, err)
	defer s2.Close()
	assert.Contains(t, s2.AllowRules(), "Glob")
}
