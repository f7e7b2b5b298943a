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
	"sync"

	"go.uber.org/zap"

	"github.com/skeinhq/skein/internal/log"
	"github.com/skeinhq/skein/internal/pubsub"
)

// Notification reports the final outcome of a request, for subscribers that
// want to observe decisions (e.g. a UI audit log) without being the asker.
type Notification struct {
	Request  Request
	Response Response
}

// Gate evaluates permission requests against a project's deny/allow rule
// lists, falling back to Asker for anything neither list resolves.
type Gate struct {
	mu sync.RWMutex

	asker Asker

	settings *Settings // persistent allow/deny rules, []string patterns
	// sessionAllow holds this run's session-scoped allow patterns,
	// including every persistent Write/Edit/MultiEdit allow (the
	// write-tool special case: those never reach settings.json). Once-scoped
	// allows are not recorded anywhere.
	sessionAllow []string
	sessionDeny  []string

	skip bool // SetSkipRequests: auto-allow everything, for non-interactive runs

	notifications *pubsub.Broker[Notification]
}

// NewGate constructs a Gate backed by settings and using asker to resolve
// anything the deny/allow lists don't settle. asker may be nil, in which
// case an unresolved request is denied outright.
func NewGate(settings *Settings, asker Asker) *Gate {
	return &Gate{
		asker:         asker,
		settings:      settings,
		notifications: pubsub.NewBroker[Notification](),
	}
}

// SetSkipRequests toggles auto-allow mode, used for autonomous/CI runs that
// never want an interactive prompt.
func (g *Gate) SetSkipRequests(skip bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.skip = skip
}

// SkipRequests reports the current auto-allow mode.
func (g *Gate) SkipRequests() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.skip
}

// Subscribe returns a channel of decision notifications for observers.
func (g *Gate) Subscribe() <-chan pubsub.Event[Notification] {
	return g.notifications.Subscribe()
}

// Check evaluates req and returns the gate's decision, resolving an Ask
// outcome synchronously via the configured Asker. Callers on the
// llmclient's permission-intercept path should call this from a goroutine
// so a slow human response never stalls the event-parsing loop.
func (g *Gate) Check(req Request) Response {
	resp := g.evaluate(req)
	g.notifications.Publish(pubsub.NewCreatedEvent(Notification{Request: req, Response: resp}))
	return resp
}

func (g *Gate) evaluate(req Request) Response {
	g.mu.RLock()
	skip := g.skip
	g.mu.RUnlock()
	if skip {
		return Allow(ScopeOnce)
	}

	if req.ToolName == "Bash" {
		if resp, decided := g.evaluateShell(req); decided {
			return resp
		}
	} else if g.matchesAny(g.denyPatterns(), req.ToolName, primaryArg(req)) {
		return Deny("denied by rule")
	} else if g.matchesAny(g.allowPatterns(), req.ToolName, primaryArg(req)) {
		return Allow(ScopeOnce)
	}

	return g.ask(req)
}

// evaluateShell decomposes a Bash command into sub-commands and requires
// every sub-command to be either a safe within-worktree cd or individually
// allow-matched; any sub-command matching a deny rule denies the whole
// call. decided is false when some sub-command needs an ask.
func (g *Gate) evaluateShell(req Request) (Response, bool) {
	cmd := primaryArg(req)
	subCommands := splitShellCommand(cmd)
	if len(subCommands) == 0 {
		subCommands = []string{cmd}
	}

	allPatterns := g.denyPatterns()
	for _, sub := range subCommands {
		if g.matchesAny(allPatterns, "Bash", sub) {
			return Deny("denied by rule: " + sub), true
		}
	}

	allow := g.allowPatterns()
	for _, sub := range subCommands {
		if isSafeCdWithinWorktree(sub) {
			continue
		}
		if !g.matchesAny(allow, "Bash", sub) {
			return Response{}, false
		}
	}
	return Allow(ScopeOnce), true
}

func (g *Gate) ask(req Request) Response {
	g.mu.RLock()
	asker := g.asker
	g.mu.RUnlock()

	if asker == nil {
		return Deny("no asker configured")
	}
	resp := asker(req)
	if resp.Kind == KindAllow {
		g.remember(req, resp.Scope)
	}
	return resp
}

// remember records an allow decision for future Check calls, per its
// scope: once is never recorded, session lives only in memory for this
// process, persistent is written through to Settings — except for the
// write tools, whose session scope is the loudest it ever gets.
func (g *Gate) remember(req Request, scope Scope) {
	if scope == ScopeOnce {
		return
	}
	pat := req.ToolName
	if arg := primaryArg(req); arg != "" {
		pat = req.ToolName + "(" + arg + ")"
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if scope == ScopePersistent && !IsWriteTool(req.ToolName) {
		if g.settings != nil {
			if err := g.settings.AddAllowRule(pat); err != nil {
				log.Logger().Warn("failed to persist permission rule", zap.Error(err))
			}
		}
		return
	}
	g.sessionAllow = append(g.sessionAllow, pat)
}

func (g *Gate) denyPatterns() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	deny := append([]string{}, g.sessionDeny...)
	if g.settings != nil {
		deny = append(deny, g.settings.DenyRules()...)
	}
	return deny
}

func (g *Gate) allowPatterns() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	allow := append([]string{}, g.sessionAllow...)
	if g.settings != nil {
		allow = append(allow, g.settings.AllowRules()...)
	}
	return allow
}

func (g *Gate) matchesAny(patterns []string, toolName, arg string) bool {
	for _, raw := range patterns {
		if parsePattern(raw).matches(toolName, arg) {
			return true
		}
	}
	return false
}

// DenyPersistent adds a persistent deny rule directly, bypassing Ask —
// used by a UI's "always deny" affordance.
func (g *Gate) DenyPersistent(toolPattern string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.settings == nil {
		g.sessionDeny = append(g.sessionDeny, toolPattern)
		return nil
	}
	return g.settings.AddDenyRule(toolPattern)
}
