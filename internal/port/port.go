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

// Package port allocates loopback TCP ports for per-agent MCP server
// instances out of a fixed range, guarding against two concurrent spawns
// racing onto the same port before either server has actually bound.
package port

import (
	"fmt"
	"math/rand"
	"net"

	"github.com/skeinhq/skein/internal/apperr"
	"github.com/skeinhq/skein/internal/csync"
)

const (
	// RangeStart is the first port the allocator will consider.
	RangeStart = 8080
	// RangeEnd is one past the last port the allocator will consider.
	RangeEnd = 9100
	// randomProbes is how many random candidates to try before falling back
	// to a sequential scan of the whole range.
	randomProbes = 50
)

// Allocator reserves ports out of [RangeStart, RangeEnd) for the lifetime of
// the process. It is safe for concurrent use; a single Allocator should be
// shared by every MCP fleet in the process (see mcpserver.Fleet).
type Allocator struct {
	reserved *csync.Set[int]
}

// NewAllocator creates a new, empty allocator.
func NewAllocator() *Allocator {
	return &Allocator{reserved: csync.NewSet[int]()}
}

// Acquire reserves a free port. If preferred is non-zero and not already
// reserved and currently bindable, it is returned. Otherwise the allocator
// probes randomProbes random candidates in range, then falls back to a
// sequential scan; it returns apperr.ErrNoFreePort if nothing in the range
// is both unreserved and bindable.
//
// The caller must call Release on the returned port exactly once, whether
// or not the port was actually used, or the reservation leaks for the
// lifetime of the process.
func (a *Allocator) Acquire(preferred int) (int, error) {
	if preferred != 0 && preferred >= RangeStart && preferred < RangeEnd {
		if a.tryReserve(preferred) {
			return preferred, nil
		}
	}

	for i := 0; i < randomProbes; i++ {
		candidate := RangeStart + rand.Intn(RangeEnd-RangeStart)
		if a.tryReserve(candidate) {
			return candidate, nil
		}
	}

	for candidate := RangeStart; candidate < RangeEnd; candidate++ {
		if a.tryReserve(candidate) {
			return candidate, nil
		}
	}

	return 0, fmt.Errorf("acquire port in [%d,%d): %w", RangeStart, RangeEnd, apperr.ErrNoFreePort)
}

// tryReserve reserves candidate in the in-process set and verifies it is
// actually bindable right now. The reservation happens before the bind
// check so two goroutines racing on the same candidate can't both pass the
// listener probe.
func (a *Allocator) tryReserve(candidate int) bool {
	if !a.reserved.Add(candidate) {
		return false
	}
	if !probe(candidate) {
		a.reserved.Remove(candidate)
		return false
	}
	return true
}

// probe reports whether a fresh TCP listener can bind to the port on
// localhost; it closes the listener immediately either way.
func probe(p int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Release returns a port to the pool. Idempotent: releasing a port that
// isn't reserved, or releasing twice, is a no-op.
func (a *Allocator) Release(p int) {
	a.reserved.Remove(p)
}

// Reserved reports how many ports are currently held, for diagnostics.
func (a *Allocator) Reserved() int {
	return a.reserved.Len()
}
