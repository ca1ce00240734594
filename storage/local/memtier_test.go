// Copyright 2026 The cuenv Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package local

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuenv/cuenv"
)

func TestMemoryTier_GetPutRoundTrip(t *testing.T) {
	mt := NewMemoryTier(10, 1<<20, nil)
	entry := cuenv.CacheEntry{ValueBytes: []byte("hello")}
	mt.Put("k1", entry, 5)

	got, ok := mt.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte("hello"), got.ValueBytes)
}

func TestMemoryTier_EnforcesByteBudgetWithoutDoubleCounting(t *testing.T) {
	var evicted []cuenv.CacheKey
	mt := NewMemoryTier(100, 250, func(key cuenv.CacheKey, size int64) {
		evicted = append(evicted, key)
	})

	mt.Put("a", cuenv.CacheEntry{}, 100)
	mt.Put("b", cuenv.CacheEntry{}, 100)
	mt.Put("c", cuenv.CacheEntry{}, 100)

	require.LessOrEqual(t, mt.usedBytes, int64(250))
	require.GreaterOrEqual(t, mt.usedBytes, int64(0), "usedBytes must never go negative")

	// Exactly one of the three 100-byte entries must have been evicted to
	// bring usedBytes back under the 250-byte budget, and the eviction
	// callback must have fired exactly once for it, not twice.
	require.Len(t, evicted, 1)
	require.Equal(t, cuenv.CacheKey("a"), evicted[0])

	_, ok := mt.Get("a")
	require.False(t, ok)
	_, ok = mt.Get("b")
	require.True(t, ok)
	_, ok = mt.Get("c")
	require.True(t, ok)
}

func TestMemoryTier_EnforcesEntryCountBudget(t *testing.T) {
	mt := NewMemoryTier(2, 1<<20, nil)
	mt.Put("a", cuenv.CacheEntry{}, 1)
	mt.Put("b", cuenv.CacheEntry{}, 1)
	mt.Put("c", cuenv.CacheEntry{}, 1)

	require.Equal(t, 2, mt.Len())
	_, ok := mt.Get("a")
	require.False(t, ok, "entry-count bound should have evicted the oldest entry")
}

func TestMemoryTier_RemoveUpdatesUsedBytesOnce(t *testing.T) {
	var evictedCount int
	mt := NewMemoryTier(10, 1<<20, func(cuenv.CacheKey, int64) { evictedCount++ })
	mt.Put("a", cuenv.CacheEntry{}, 50)
	mt.Remove("a")

	require.Equal(t, int64(0), mt.usedBytes)
	require.Equal(t, 1, evictedCount)

	_, ok := mt.Get("a")
	require.False(t, ok)
}

func TestMemoryTier_Clear(t *testing.T) {
	mt := NewMemoryTier(10, 1<<20, nil)
	mt.Put("a", cuenv.CacheEntry{}, 10)
	mt.Put("b", cuenv.CacheEntry{}, 10)

	mt.Clear()
	require.Equal(t, 0, mt.Len())
	require.Equal(t, int64(0), mt.usedBytes)
}

func TestStore_WithMemoryTier_HitsWithoutDiskRead(t *testing.T) {
	onEvict := func(cuenv.CacheKey, int64) {}
	mt := NewMemoryTier(10, 1<<20, onEvict)
	s := newTestStore(t, Options{MemoryTier: mt})
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("hot"), nil))
	require.Equal(t, 1, mt.Len())

	// Remove the on-disk payload so only the memory tier can serve the read.
	dataPath, _ := s.paths("k1")
	require.NoError(t, os.Remove(dataPath))

	entry, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hot"), entry.ValueBytes)
}
