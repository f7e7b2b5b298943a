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

package port

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReturnsBindablePort(t *testing.T) {
	a := NewAllocator()
	p, err := a.Acquire(0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p, RangeStart)
	assert.Less(t, p, RangeEnd)
	a.Release(p)
}

func TestAcquirePreferredHonored(t *testing.T) {
	a := NewAllocator()
	p, err := a.Acquire(8123)
	require.NoError(t, err)
	assert.Equal(t, 8123, p)
	a.Release(p)
}

func TestConcurrentAcquireNeverCollide(t *testing.T) {
	a := NewAllocator()
	const n = 40

	var mu sync.Mutex
	seen := make(map[int]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Acquire(0)
			require.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[p], "port %d allocated twice", p)
			seen[p] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestReleaseIsIdempotent(t *testing.T) {
	a := NewAllocator()
	p, err := a.Acquire(0)
	require.NoError(t, err)
	a.Release(p)
	a.Release(p)
	assert.Equal(t, 0, a.Reserved())
}

func TestAcquireExhaustion(t *testing.T) {
	a := NewAllocator()
	for i := RangeStart; i < RangeEnd; i++ {
		a.reserved.Add(i)
	}
	_, err := a.Acquire(0)
	assert.Error(t, err)
}
