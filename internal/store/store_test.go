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

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectDirEncodesSlashesAsDashes(t *testing.T) {
	got := ProjectDir("/data", "/home/user/app")
	assert.Equal(t, filepath.Join("/data", "-home-user-app"), got)
}

func TestNetworkStoreLoadOnMissingFileReturnsEmpty(t *testing.T) {
	s := NewNetworkStore(t.TempDir())
	assert.Empty(t, s.Load())
}

func TestNetworkStoreSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := NewNetworkStore(dir)
	blobs := []json.RawMessage{json.RawMessage(`{"id":"a"}`), json.RawMessage(`{"id":"b"}`)}
	require.NoError(t, s.Save(blobs))

	reloaded := NewNetworkStore(dir)
	got := reloaded.Load()
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"id":"a"}`, string(got[0]))
	assert.JSONEq(t, `{"id":"b"}`, string(got[1]))
}

func TestNetworkStoreLoadOnCorruptFileReturnsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent_networks.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := NewNetworkStore(dir)
	assert.Empty(t, s.Load())
}

func TestMemoryStoreSaveNewEntrySetsCreatedAt(t *testing.T) {
	dir := t.TempDir()
	s := NewMemoryStore(dir)
	s.now = func() string { return "2026-01-01T00:00:00Z" }
	require.NoError(t, s.Save("k", "v1"))

	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	entries := s.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "2026-01-01T00:00:00Z", entries[0]["createdAt"])
}

func TestMemoryStoreSaveExistingEntryPreservesCreatedAt(t *testing.T) {
	dir := t.TempDir()
	s := NewMemoryStore(dir)
	s.now = func() string { return "2026-01-01T00:00:00Z" }
	require.NoError(t, s.Save("k", "v1"))
	s.now = func() string { return "2026-01-02T00:00:00Z" }
	require.NoError(t, s.Save("k", "v2"))

	entries := s.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "2026-01-01T00:00:00Z", entries[0]["createdAt"])
	assert.Equal(t, "2026-01-02T00:00:00Z", entries[0]["updatedAt"])
	assert.Equal(t, "v2", entries[0]["value"])
}

func TestMemoryStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s := NewMemoryStore(dir)
	require.NoError(t, s.Save("k", "v"))

	reloaded := NewMemoryStore(dir)
	v, ok := reloaded.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestMemoryStoreGetMissingKeyReportsNotFound(t *testing.T) {
	s := NewMemoryStore(t.TempDir())
	_, ok := s.Get("missing")
	assert.False(t, ok)
}
