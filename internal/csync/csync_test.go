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

package csync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapSetGetDelete(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	m.Delete("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestSetAddReportsFirstInsertOnly(t *testing.T) {
	s := NewSet[int]()
	assert.True(t, s.Add(7))
	assert.False(t, s.Add(7))
	assert.True(t, s.Contains(7))

	s.Remove(7)
	s.Remove(7)
	assert.False(t, s.Contains(7))
	assert.Equal(t, 0, s.Len())
}

func TestSetConcurrentAddIsExclusive(t *testing.T) {
	s := NewSet[int]()
	const n = 100

	wins := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Add(42) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
