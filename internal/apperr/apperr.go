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

// Package apperr defines the sentinel error taxonomy shared across the
// orchestrator, so HTTP/WS layers can map internal failures to the right
// status code or event without string-matching error messages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks a malformed HTTP/WS request; maps to 400.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound marks a missing network or agent; maps to 404.
	ErrNotFound = errors.New("not found")
	// ErrNetworkNotFound marks a lookup against an unknown network id; wraps ErrNotFound.
	ErrNetworkNotFound = fmt.Errorf("network: %w", ErrNotFound)
	// ErrAgentNotFound marks a lookup against an unknown agent id; wraps ErrNotFound.
	ErrAgentNotFound = fmt.Errorf("agent: %w", ErrNotFound)
	// ErrNoFreePort is returned by the port allocator when the range is exhausted.
	ErrNoFreePort = errors.New("no free port in allocator range")
	// ErrPermissionDenied is returned as a tool result when a rule denies a call.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrMainAgentImmortal is returned when termination targets a main agent.
	ErrMainAgentImmortal = errors.New("cannot terminate the main agent")
	// ErrSpawnMainForbidden is returned when spawning an agent of type main.
	ErrSpawnMainForbidden = errors.New("cannot spawn an agent of type main")
	// ErrNoActiveNetwork is returned when an operation requires an active network.
	ErrNoActiveNetwork = errors.New("no active network")
	// ErrSpawnLimitReached is returned when a parent has reached its spawn quota.
	ErrSpawnLimitReached = errors.New("spawn limit reached for parent agent")
	// ErrChildProcessFailed marks a backend child-process start/lifecycle failure.
	ErrChildProcessFailed = errors.New("child process failed")
	// ErrClosed marks use of an already-closed resource (adapter, server, subscription).
	ErrClosed = errors.New("closed")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalid reports whether err wraps ErrInvalidRequest.
func IsInvalid(err error) bool { return errors.Is(err, ErrInvalidRequest) }
