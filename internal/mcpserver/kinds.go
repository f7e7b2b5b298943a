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
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// Constructors for the concrete server kinds: git, memory,
// task-management, agent-control, flutter-runtime, ask-user-question.
// Each one registers its tool catalog on a BaseServer; anything stateful
// (memory persistence, agent control, human answers) is delegated to an
// interface the caller supplies.

// NewGitServer returns a server exposing a minimal read-only git tool
// surface. Agent types without git write access simply never get one
// added to their Fleet (a decision made by the agent-configuration layer,
// not this package).
func NewGitServer(worktree string) Server {
	s := NewBaseServer("git")
	s.Register("git_status", func(ctx context.Context, _ map[string]any) (any, error) {
		out, err := exec.CommandContext(ctx, "git", "-C", worktree, "status", "--short").Output()
		if err != nil {
			return nil, fmt.Errorf("git status: %w", err)
		}
		return map[string]any{"output": string(out)}, nil
	})
	s.Register("git_diff", func(ctx context.Context, params map[string]any) (any, error) {
		args := []string{"-C", worktree, "diff"}
		if path, ok := params["path"].(string); ok && path != "" {
			args = append(args, "--", path)
		}
		out, err := exec.CommandContext(ctx, "git", args...).Output()
		if err != nil {
			return nil, fmt.Errorf("git diff: %w", err)
		}
		return map[string]any{"output": string(out)}, nil
	})
	return s
}

// MemoryStore is the persistence surface the memory server delegates
// every call to; a caller backs it with the real store.MemoryStore.
type MemoryStore interface {
	Save(key, value string) error
	Get(key string) (string, bool)
	List() []map[string]any
}

// NewMemoryServer returns a server exposing save/get/list over store.
func NewMemoryServer(store MemoryStore) Server {
	s := NewBaseServer("memory")
	s.Register("memory_save", func(_ context.Context, params map[string]any) (any, error) {
		key, _ := params["key"].(string)
		value, _ := params["value"].(string)
		if key == "" {
			return nil, fmt.Errorf("memory_save: key is required")
		}
		if err := store.Save(key, value); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})
	s.Register("memory_get", func(_ context.Context, params map[string]any) (any, error) {
		key, _ := params["key"].(string)
		value, ok := store.Get(key)
		return map[string]any{"found": ok, "value": value}, nil
	})
	s.Register("memory_list", func(_ context.Context, _ map[string]any) (any, error) {
		return map[string]any{"entries": store.List()}, nil
	})
	return s
}

// NewTaskManagementServer returns a server exposing an in-memory,
// per-agent todo list.
func NewTaskManagementServer() Server {
	s := NewBaseServer("task-management")

	var mu sync.Mutex
	var todos []map[string]any

	s.Register("todo_write", func(_ context.Context, params map[string]any) (any, error) {
		content, _ := params["content"].(string)
		status, _ := params["status"].(string)
		if status == "" {
			status = "pending"
		}
		mu.Lock()
		defer mu.Unlock()
		todos = append(todos, map[string]any{"id": len(todos) + 1, "content": content, "status": status})
		return map[string]any{"id": len(todos)}, nil
	})
	s.Register("todo_list", func(_ context.Context, _ map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		out := make([]map[string]any, len(todos))
		copy(out, todos)
		return map[string]any{"todos": out}, nil
	})
	return s
}

// AgentController is the subset of the agent network manager an
// agent-control server needs to fulfil spawn/message/list calls. It is an
// interface, not a concrete dependency, to keep this package independent
// of internal/network.
type AgentController interface {
	SpawnAgent(ctx context.Context, agentType, taskName string) (string, error)
	SendMessageToAgent(ctx context.Context, agentID, content string) error
	ListAgents() []map[string]any
}

// NewAgentControlServer returns a server letting an agent spawn and
// message other agents in its network via controller.
func NewAgentControlServer(controller AgentController) Server {
	s := NewBaseServer("agent-control")
	s.Register("spawn_agent", func(ctx context.Context, params map[string]any) (any, error) {
		agentType, _ := params["type"].(string)
		taskName, _ := params["taskName"].(string)
		id, err := controller.SpawnAgent(ctx, agentType, taskName)
		if err != nil {
			return nil, err
		}
		return map[string]any{"agentId": id}, nil
	})
	s.Register("message_agent", func(ctx context.Context, params map[string]any) (any, error) {
		agentID, _ := params["agentId"].(string)
		content, _ := params["content"].(string)
		if err := controller.SendMessageToAgent(ctx, agentID, content); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})
	s.Register("list_agents", func(_ context.Context, _ map[string]any) (any, error) {
		return map[string]any{"agents": controller.ListAgents()}, nil
	})
	return s
}

// NewFlutterRuntimeServer returns a server exposing a test-run surface
// for a flutterTester agent, shelling out to the flutter CLI in the
// project directory.
func NewFlutterRuntimeServer(projectDir string) Server {
	s := NewBaseServer("flutter-runtime")
	s.Register("flutter_test", func(ctx context.Context, params map[string]any) (any, error) {
		args := []string{"test"}
		if target, ok := params["target"].(string); ok && target != "" {
			args = append(args, target)
		}
		cmd := exec.CommandContext(ctx, "flutter", args...)
		cmd.Dir = projectDir
		out, err := cmd.CombinedOutput()
		result := map[string]any{"output": string(out)}
		if err != nil {
			result["exitError"] = err.Error()
		}
		return result, nil
	})
	return s
}

// QuestionAsker resolves an ask_user_question call to a human-provided
// answer.
type QuestionAsker func(ctx context.Context, prompt string, options []string) (string, error)

// NewAskUserQuestionServer returns a server exposing a single tool that
// blocks on asker until a human answers, or ctx is cancelled.
func NewAskUserQuestionServer(asker QuestionAsker) Server {
	s := NewBaseServer("ask-user-question")
	s.Register("ask_user_question", func(ctx context.Context, params map[string]any) (any, error) {
		prompt, _ := params["prompt"].(string)
		var options []string
		if raw, ok := params["options"].([]any); ok {
			for _, o := range raw {
				if str, ok := o.(string); ok {
					options = append(options, str)
				}
			}
		}
		answer, err := asker(ctx, prompt, options)
		if err != nil {
			return nil, err
		}
		return map[string]any{"answer": answer}, nil
	})
	return s
}
