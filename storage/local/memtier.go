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
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuenv/cuenv"
)

// memRecord is the small in-memory copy MemoryTier holds for a hot key
// (spec.md §4.4): payload plus metadata plus its size, so byte-budget
// accounting doesn't need to re-measure anything.
type memRecord struct {
	entry cuenv.CacheEntry
	size  int64
}

// MemoryTier is a bounded LRU hot set in front of Store. It never accepts
// writes directly from a client: Store writes through to it. Memory is
// strictly advisory — Store remains the source of truth.
type MemoryTier struct {
	mu             sync.Mutex
	cache          *lru.Cache[cuenv.CacheKey, memRecord]
	maxMemoryBytes int64
	usedBytes      int64
	onEvict        func(cuenv.CacheKey, int64)
}

// NewMemoryTier returns a MemoryTier bounded by both maxEntries and
// maxMemoryBytes. onEvict, if non-nil, is called for every entry evicted
// either by the entry-count bound or the byte bound.
func NewMemoryTier(maxEntries int, maxMemoryBytes int64, onEvict func(cuenv.CacheKey, int64)) *MemoryTier {
	mt := &MemoryTier{maxMemoryBytes: maxMemoryBytes, onEvict: onEvict}
	c, _ := lru.NewWithEvict[cuenv.CacheKey, memRecord](maxEntries, mt.evicted)
	mt.cache = c
	return mt
}

// evicted is the hashicorp/lru eviction callback; it keeps usedBytes in
// sync and reports to onEvict for every removal from the LRU: the
// entry-count bound, Put's byte-bound RemoveOldest, Remove, and Purge.
func (mt *MemoryTier) evicted(key cuenv.CacheKey, rec memRecord) {
	mt.usedBytes -= rec.size
	if mt.onEvict != nil {
		mt.onEvict(key, rec.size)
	}
}

// Get returns a copy of the cached entry for key, if present.
func (mt *MemoryTier) Get(key cuenv.CacheKey) (cuenv.CacheEntry, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	rec, ok := mt.cache.Get(key)
	if !ok {
		return cuenv.CacheEntry{}, false
	}
	return rec.entry, true
}

// Put admits entry into the hot set, evicting least-recently-used entries
// until both the entry-count and byte-budget bounds hold.
func (mt *MemoryTier) Put(key cuenv.CacheKey, entry cuenv.CacheEntry, size int64) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if old, ok := mt.cache.Peek(key); ok {
		mt.usedBytes -= old.size
	}
	mt.cache.Add(key, memRecord{entry: entry, size: size})
	mt.usedBytes += size

	// RemoveOldest invokes the registered evicted callback itself (via
	// lru's removeElement), which already subtracts the record's size and
	// calls onEvict; don't do either again here.
	for mt.usedBytes > mt.maxMemoryBytes && mt.cache.Len() > 0 {
		if _, _, ok := mt.cache.RemoveOldest(); !ok {
			break
		}
	}
}

// Remove drops key from the hot set, if present. cache.Remove invokes the
// registered evicted callback itself, which already accounts for the
// removed record's size; no separate bookkeeping is needed here.
func (mt *MemoryTier) Remove(key cuenv.CacheKey) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.cache.Remove(key)
}

// Clear empties the hot set.
func (mt *MemoryTier) Clear() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.cache.Purge()
	mt.usedBytes = 0
}

// Len returns the number of entries currently held.
func (mt *MemoryTier) Len() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.cache.Len()
}
