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
	"net/url"
	"path"
	"strings"
)

// pattern is a parsed allow/deny rule. A bare pattern like "Bash" matches
// any call of that tool; a pattern with an argument glob like
// "Bash(git diff:*)" restricts the match to calls whose primary parameter
// matches the glob.
type pattern struct {
	toolName string
	argGlob  string // empty means "no argument restriction"
}

// parsePattern parses a rule string of the form "ToolName" or
// "ToolName(argGlob)".
func parsePattern(s string) pattern {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return pattern{toolName: s}
	}
	return pattern{toolName: s[:open], argGlob: s[open+1 : len(s)-1]}
}

// matches reports whether p matches a call of toolName with the given
// primary argument value. An empty argGlob matches unconditionally; a
// non-empty one is matched with shell-style glob semantics (path.Match),
// plus a trailing "*" convention so "git diff:*" matches any string with
// the prefix "git diff:", including strings containing "/", which
// path.Match's "*" does not cross.
func (p pattern) matches(toolName, primaryArg string) bool {
	if p.toolName != toolName {
		return false
	}
	if p.argGlob == "" {
		return true
	}
	if strings.HasSuffix(p.argGlob, "*") {
		prefix := strings.TrimSuffix(p.argGlob, "*")
		if strings.HasPrefix(primaryArg, prefix) {
			return true
		}
	}
	ok, err := path.Match(p.argGlob, primaryArg)
	return err == nil && ok
}

// primaryArgExtractors map a tool name to the Parameters key holding the
// value permission rules glob-match against: Bash matches on its command
// string, file tools on their path.
var primaryArgExtractors = map[string]string{
	"Bash":      "command",
	"Edit":      "file_path",
	"MultiEdit": "file_path",
	"Write":     "file_path",
	"View":      "file_path",
	"Fetch":     "url",
	"WebFetch":  "url",
	"Glob":      "pattern",
	"Grep":      "pattern",
}

// primaryArg extracts the primary argument string for a request, or "" if
// the tool has none or the parameter is missing/non-string. WebFetch rules
// match on the URL's host in "domain:<host>" form, so one allow decision
// covers a whole host rather than a single URL.
func primaryArg(req Request) string {
	key, ok := primaryArgExtractors[req.ToolName]
	if !ok {
		return ""
	}
	v, ok := req.Parameters[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	if req.ToolName == "WebFetch" {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			return "domain:" + u.Host
		}
	}
	return s
}

// shellSplitters are the operators a Bash command line is split on, outside
// quotes, before each sub-command is matched against allow rules
// independently.
var shellSplitters = []string{"&&", "||", ";", "|"}

// splitShellCommand decomposes a shell command line into its sub-commands,
// splitting on &&, ||, ;, and | when they appear outside single or double
// quotes. Each returned sub-command has its surrounding whitespace trimmed.
func splitShellCommand(cmd string) []string {
	var parts []string
	var cur strings.Builder
	var quote byte // 0, '\'', or '"'

	runes := []rune(cmd)
	i := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}

	for i < len(runes) {
		r := runes[i]
		if quote != 0 {
			cur.WriteRune(r)
			if byte(r) == quote {
				quote = 0
			}
			i++
			continue
		}
		if r == '\'' || r == '"' {
			quote = byte(r)
			cur.WriteRune(r)
			i++
			continue
		}
		matched := false
		for _, op := range shellSplitters {
			n := len(op)
			if i+n <= len(runes) && string(runes[i:i+n]) == op {
				flush()
				i += n
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		cur.WriteRune(r)
		i++
	}
	flush()
	return parts
}

// isSafeCdWithinWorktree reports whether sub-command is a bare "cd" into a
// path that stays within worktree — i.e. not absolute, and not containing
// a ".." segment that would escape it. Such a cd is always allowed without
// a matching rule, so a compound command like "cd sub && ls" only needs an
// allow rule for "ls".
func isSafeCdWithinWorktree(subCommand string) bool {
	fields := strings.Fields(subCommand)
	if len(fields) != 2 || fields[0] != "cd" {
		return false
	}
	target := fields[1]
	if path.IsAbs(target) {
		return false
	}
	clean := path.Clean(target)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}
	return true
}
