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
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/skeinhq/skein/internal/port"
)

// Fleet is the set of MCP servers one agent owns: one instance per server
// kind, each on its own port.Allocator-assigned loopback port. Agents
// never share a Fleet; a sub-agent spawned with its own tool access gets
// its own Fleet from the same process-wide Allocator.
type Fleet struct {
	allocator *port.Allocator

	mu      sync.Mutex
	servers map[string]Server
	ports   map[string]int
}

// NewFleet creates an empty fleet backed by allocator.
func NewFleet(allocator *port.Allocator) *Fleet {
	return &Fleet{allocator: allocator, servers: map[string]Server{}, ports: map[string]int{}}
}

// Add registers srv with the fleet. Call before Start.
func (f *Fleet) Add(srv Server) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[srv.Name()] = srv
}

// Start allocates a port for and starts every registered server. If any
// server fails to start, every server that did start (and every port
// allocated so far) is torn down before returning the error.
func (f *Fleet) Start(ctx context.Context) error {
	f.mu.Lock()
	servers := make([]Server, 0, len(f.servers))
	for _, s := range f.servers {
		servers = append(servers, s)
	}
	f.mu.Unlock()

	started := make([]Server, 0, len(servers))
	for _, s := range servers {
		p, err := f.allocator.Acquire(0)
		if err != nil {
			f.stopStarted(ctx, started)
			return fmt.Errorf("allocate port for mcp server %q: %w", s.Name(), err)
		}
		if err := s.Start(ctx, p); err != nil {
			f.allocator.Release(p)
			f.stopStarted(ctx, started)
			return fmt.Errorf("start mcp server %q: %w", s.Name(), err)
		}

		f.mu.Lock()
		f.ports[s.Name()] = p
		f.mu.Unlock()
		started = append(started, s)
	}
	return nil
}

func (f *Fleet) stopStarted(ctx context.Context, started []Server) {
	var g errgroup.Group
	for _, s := range started {
		s := s
		g.Go(func() error { return s.Stop(ctx) })
	}
	_ = g.Wait()

	f.mu.Lock()
	ports := f.ports
	f.ports = map[string]int{}
	f.mu.Unlock()
	for _, p := range ports {
		f.allocator.Release(p)
	}
}

// Stop shuts down every server in the fleet concurrently and releases
// their ports, regardless of individual failures; the first error (if
// any) is returned.
func (f *Fleet) Stop(ctx context.Context) error {
	f.mu.Lock()
	servers := make([]Server, 0, len(f.servers))
	for _, s := range f.servers {
		servers = append(servers, s)
	}
	ports := f.ports
	f.ports = map[string]int{}
	f.mu.Unlock()

	var g errgroup.Group
	for _, s := range servers {
		s := s
		g.Go(func() error { return s.Stop(ctx) })
	}
	err := g.Wait()

	for _, p := range ports {
		f.allocator.Release(p)
	}
	return err
}

// MCPConfig builds the {"mcpServers": {...}} block the llmclient child
// process expects on its --mcp-config flag.
func (f *Fleet) MCPConfig() map[string]ToolConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := make(map[string]ToolConfig, len(f.servers))
	for name, s := range f.servers {
		cfg[name] = s.ToolConfig()
	}
	return cfg
}

// ToolNames lists every tool exposed across the whole fleet, keyed by
// server name, for the permission gate's pattern surface.
func (f *Fleet) ToolNames() map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]string, len(f.servers))
	for name, s := range f.servers {
		out[name] = s.ToolNames()
	}
	return out
}
