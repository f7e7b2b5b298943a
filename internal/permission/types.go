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

// Package permission implements the per-tool-call decision gate: deny/allow
// pattern lists evaluated first, then a call to a UI-provided asker
// function, which Gate.Check waits on synchronously.
package permission

// Scope controls how long an allow/deny decision persists.
type Scope string

const (
	ScopeOnce       Scope = "once"
	ScopeSession    Scope = "session"
	ScopePersistent Scope = "persistent"
)

// Request describes one tool invocation awaiting a decision.
type Request struct {
	ID         string
	ToolName   string
	Parameters map[string]any
	AgentID    string
	Cwd        string
}

// Kind is the sum-type tag a Response carries: exactly one of allow, deny,
// or ask, selected by Response.Kind.
type Kind string

const (
	KindAllow Kind = "allow"
	KindDeny  Kind = "deny"
	KindAsk   Kind = "ask"
)

// Response is the gate's decision for a Request.
type Response struct {
	Kind   Kind
	Scope  Scope  // meaningful for KindAllow
	Reason string // meaningful for KindDeny
}

// Allow builds an allow response with the given scope.
func Allow(scope Scope) Response { return Response{Kind: KindAllow, Scope: scope} }

// Deny builds a deny response with a reason.
func Deny(reason string) Response { return Response{Kind: KindDeny, Reason: reason} }

// Asker is the UI-provided function that resolves an Ask decision. It may
// be called concurrently from multiple goroutines; the UI is responsible
// for serializing dialogs if it wants to present them one at a time.
type Asker func(Request) Response

// writeTools are the tools for which a session-scoped allow is cached only
// in memory and never persisted, per the write-tool special case.
var writeTools = map[string]bool{
	"Write":     true,
	"Edit":      true,
	"MultiEdit": true,
}

// IsWriteTool reports whether name is one of the write-tool special cases.
func IsWriteTool(name string) bool { return writeTools[name] }
