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
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/skeinhq/skein/internal/log"
)

// permissionsBlock is the "permissions" key of .claude/settings.local.json.
// Every other top-level key (most notably "hooks") is preserved verbatim
// across a read-modify-write cycle so this process never clobbers
// configuration it doesn't understand: a temp-file-plus-rename atomic
// write, the same convention applied here to a JSON settings file.
type permissionsBlock struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
	// Ask is round-tripped verbatim; it is part of the persisted shape
	// but the decision rules never consult it — treated here the same way
	// as the unrelated "hooks" key.
	Ask []string `json:"ask,omitempty"`
}

// Settings loads, watches, and atomically persists a project's
// .claude/settings.local.json permission rules.
type Settings struct {
	path string

	mu    sync.RWMutex
	allow []string
	deny  []string
	ask   []string
	extra map[string]json.RawMessage

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// LoadSettings reads settingsPath if present, or starts empty if it
// doesn't exist yet, and begins watching it for external edits.
func LoadSettings(settingsPath string) (*Settings, error) {
	s := &Settings{path: settingsPath, extra: map[string]json.RawMessage{}}
	if err := s.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Logger().Sugar().Warnf("permission settings watch disabled: %v", err)
		return s, nil
	}
	dir := filepath.Dir(settingsPath)
	if err := os.MkdirAll(dir, 0o755); err == nil {
		_ = watcher.Add(dir)
	}
	s.watcher = watcher
	s.done = make(chan struct{})
	go s.watchLoop()
	return s, nil
}

func (s *Settings) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == filepath.Clean(s.path) {
				if err := s.reload(); err != nil && !os.IsNotExist(err) {
					log.Logger().Sugar().Warnf("reload settings: %v", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Logger().Sugar().Warnf("settings watcher error: %v", err)
		}
	}
}

// Close stops the filesystem watcher.
func (s *Settings) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}

func (s *Settings) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var perms permissionsBlock
	if permsRaw, ok := raw["permissions"]; ok {
		if err := json.Unmarshal(permsRaw, &perms); err != nil {
			return err
		}
	}
	delete(raw, "permissions")

	s.mu.Lock()
	s.allow = perms.Allow
	s.deny = perms.Deny
	s.ask = perms.Ask
	s.extra = raw
	s.mu.Unlock()
	return nil
}

// AllowRules returns a snapshot of the persistent allow patterns.
func (s *Settings) AllowRules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.allow...)
}

// DenyRules returns a snapshot of the persistent deny patterns.
func (s *Settings) DenyRules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.deny...)
}

// AddAllowRule appends pattern to the persistent allow list, deduplicating,
// and writes the file atomically.
func (s *Settings) AddAllowRule(pattern string) error {
	s.mu.Lock()
	for _, p := range s.allow {
		if p == pattern {
			s.mu.Unlock()
			return nil
		}
	}
	s.allow = append(s.allow, pattern)
	s.mu.Unlock()
	return s.persist()
}

// AddDenyRule appends pattern to the persistent deny list.
func (s *Settings) AddDenyRule(pattern string) error {
	s.mu.Lock()
	for _, p := range s.deny {
		if p == pattern {
			s.mu.Unlock()
			return nil
		}
	}
	s.deny = append(s.deny, pattern)
	s.mu.Unlock()
	return s.persist()
}

// persist writes the settings file atomically: marshal to a temp file in
// the same directory, then os.Rename over the target, so a crash mid-write
// never leaves a truncated settings.local.json behind.
func (s *Settings) persist() error {
	s.mu.RLock()
	out := map[string]json.RawMessage{}
	for k, v := range s.extra {
		out[k] = v
	}
	permsJSON, err := json.Marshal(permissionsBlock{Allow: s.allow, Deny: s.deny, Ask: s.ask})
	path := s.path
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	out["permissions"] = permsJSON

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
