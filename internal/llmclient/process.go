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

// Package llmclient is the LLM backend adapter: it owns one child
// process per agent, speaking newline-delimited JSON over stdin and
// stdout, and turns its events into message.Response fragments appended
// to a live message.Conversation.
package llmclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skeinhq/skein/internal/log"
)

// childProcess wraps the spawned backend binary's stdio: an unbounded
// bufio.Reader rather than bufio.Scanner, since a single assistant turn's
// JSON line has no practical size limit; a background stderr drain; and a
// close sequence that asks nicely (close stdin, wait) before killing.
type childProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	reader *bufio.Reader

	mu     sync.Mutex
	closed bool
}

// processConfig is everything needed to spawn the backend binary for one
// agent.
type processConfig struct {
	Binary         string // resolved via PATH if not absolute
	MCPConfigJSON  string // --mcp-config argument
	SessionID      string // AgentId string, opaque to the backend
	Dir             string
	PermissionMode string // "plan" | "acceptEdits"
	Streaming      bool
}

// startChildProcess resolves cfg.Binary on PATH and spawns it with the
// session, permission-mode, and MCP config arguments the backend expects.
func startChildProcess(cfg processConfig) (*childProcess, error) {
	path, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("resolve backend binary %q on PATH: %w", cfg.Binary, err)
	}

	args := []string{
		"--mcp-config", cfg.MCPConfigJSON,
		"--session-id", cfg.SessionID,
		"--permission-mode", cfg.PermissionMode,
	}
	if cfg.Streaming {
		args = append(args, "--stream-json")
	}

	// #nosec G204 -- binary is operator-configured, not request-controlled
	cmd := exec.Command(path, args...)
	if cfg.Dir != "" {
		cmd.Dir = cfg.Dir
	}
	cmd.Env = append(os.Environ(), "DISABLE_AUTOUPDATER=1")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start backend process: %w", err)
	}

	p := &childProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		reader: bufio.NewReader(stdout),
	}
	go p.monitorStderr()

	log.Logger().Info("backend process started",
		zap.String("binary", path), zap.Int("pid", cmd.Process.Pid), zap.String("session", cfg.SessionID))
	return p, nil
}

func (p *childProcess) monitorStderr() {
	reader := bufio.NewReader(p.stderr)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			log.Logger().Debug("backend stderr", zap.ByteString("line", line))
		}
		if err != nil {
			return
		}
	}
}

// send writes one JSON line (without its own trailing newline) to stdin.
func (p *childProcess) send(line []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("child process closed")
	}
	if _, err := p.stdin.Write(line); err != nil {
		return fmt.Errorf("write to backend stdin: %w", err)
	}
	_, err := p.stdin.Write([]byte("\n"))
	return err
}

// readLine reads the next newline-delimited JSON line, context-aware via a
// helper goroutine since bufio.Reader has no cancellable Read.
func (p *childProcess) readLine(ctx context.Context) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := p.reader.ReadBytes('\n')
		if len(data) > 0 && data[len(data)-1] == '\n' {
			data = data[:len(data)-1]
		}
		if len(data) > 0 && data[len(data)-1] == '\r' {
			data = data[:len(data)-1]
		}
		ch <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.data, r.err
	}
}

// close closes stdin to request a graceful exit, waits up to 5s, then
// kills the process if it hasn't exited.
func (p *childProcess) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	_ = p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case err := <-done:
		_ = p.stdout.Close()
		_ = p.stderr.Close()
		return err
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Kill()
		<-done
		_ = p.stdout.Close()
		_ = p.stderr.Close()
		return fmt.Errorf("backend process did not exit cleanly, killed")
	}
}
