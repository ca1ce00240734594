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
	"sort"
	"time"

	"k8s.io/klog/v2"

	"github.com/cuenv/cuenv"
	"github.com/cuenv/cuenv/stats"
)

// EvictionOptions bounds the budgets Eviction enforces (spec.md §4.6).
type EvictionOptions struct {
	MaxEntries      int
	MaxDiskBytes    int64
	CleanupInterval time.Duration
}

// Eviction enforces the entry-count and disk byte budgets of the Store (the
// MemoryTier enforces its own memory budget), running opportunistically at write time (via Sweep) and
// periodically on a background ticker, matching the teacher's checkpoint-
// publishing ticker pattern in storage/posix/files.go.
type Eviction struct {
	store *Store
	opts  EvictionOptions
}

// NewEviction returns an Eviction bound to store.
func NewEviction(store *Store, opts EvictionOptions) *Eviction {
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = 60 * time.Second
	}
	return &Eviction{store: store, opts: opts}
}

// record is one candidate for eviction gathered during a sweep.
type record struct {
	key          cuenv.CacheKey
	lastAccessed time.Time
	size         int64
	expired      bool
}

// Sweep performs one eviction pass: expiry first, then entry-count and
// disk-byte LRU eviction until both bounds hold.
func (e *Eviction) Sweep(ctx context.Context) error {
	now := e.store.opts.Clock.Now()
	var records []record
	var totalBytes int64

	err := e.store.Walk(func(key cuenv.CacheKey, meta cuenv.CacheMetadata) error {
		expired := meta.ExpiresAt != nil && !meta.ExpiresAt.After(now)
		records = append(records, record{
			key:          key,
			lastAccessed: meta.LastAccessed,
			size:         meta.SizeBytes,
			expired:      expired,
		})
		if !expired {
			totalBytes += meta.SizeBytes
		}
		return nil
	})
	if err != nil {
		return cuenv.ErrIO("walk store for eviction", err)
	}

	for _, r := range records {
		if !r.expired {
			continue
		}
		e.evict(ctx, r.key, r.size, "expired")
	}
	live := make([]record, 0, len(records))
	for _, r := range records {
		if !r.expired {
			live = append(live, r)
		}
	}

	sort.Slice(live, func(i, j int) bool { return live[i].lastAccessed.Before(live[j].lastAccessed) })

	entryCount := len(live)
	i := 0
	for entryCount > e.opts.MaxEntries && i < len(live) {
		if e.evict(ctx, live[i].key, live[i].size, "entry_cap") {
			totalBytes -= live[i].size
			entryCount--
		}
		i++
	}
	for totalBytes > e.opts.MaxDiskBytes && i < len(live) {
		if e.evict(ctx, live[i].key, live[i].size, "disk_cap") {
			totalBytes -= live[i].size
		}
		i++
	}
	return nil
}

// evict holds key's exclusive lock and removes it, reporting whether it
// did; if the lock is contended it skips this victim so the sweep moves on
// to the next one and a later sweep retries it, per spec.md §4.6 ("if
// contended, skip and try next").
func (e *Eviction) evict(ctx context.Context, key cuenv.CacheKey, size int64, reason string) bool {
	unlock, ok, err := e.store.locks.TryExclusive(key)
	if err != nil || !ok {
		klog.V(2).Infof("eviction: skipping contended key %q", key)
		return false
	}
	defer unlock()
	if _, err := e.store.removeLocked(key); err != nil {
		klog.Warningf("eviction: failed to remove %q: %v", key, err)
		return false
	}
	e.store.opts.Bus.Observe(stats.Event{Kind: stats.EventEviction, Bytes: size, Reason: reason})
	return true
}

// Run starts the periodic eviction ticker; it returns once ctx is done.
func (e *Eviction) Run(ctx context.Context) {
	t := time.NewTicker(e.opts.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.Sweep(ctx); err != nil {
				klog.Warningf("eviction: sweep failed: %v", err)
			}
		}
	}
}
