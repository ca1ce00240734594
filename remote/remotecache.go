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

package remote

import (
	"context"
	"time"

	"github.com/cuenv/cuenv"
)

// RemoteCache decorates a local cuenv.Cache with C13 RemoteTier behavior:
// successful local writes are mirrored asynchronously, and a confirmed
// local miss optionally consults the remote tier once before reporting the
// miss to its own caller. Every read/write/lock decision still resolves
// against the local cache; the remote tier never gates them.
type RemoteCache struct {
	inner              cuenv.Cache
	replicator         *Replicator
	hydrationEnabled   bool
}

// NewRemoteCache wraps inner. hydrationEnabled corresponds to the
// remote_hydration_enabled configuration key.
func NewRemoteCache(inner cuenv.Cache, replicator *Replicator, hydrationEnabled bool) *RemoteCache {
	return &RemoteCache{inner: inner, replicator: replicator, hydrationEnabled: hydrationEnabled}
}

func (c *RemoteCache) Get(ctx context.Context, key cuenv.CacheKey) (*cuenv.CacheEntry, bool, error) {
	entry, ok, err := c.inner.Get(ctx, key)
	if err != nil || ok || !c.hydrationEnabled {
		return entry, ok, err
	}

	data, found, dlErr := c.replicator.tier.Download(ctx, string(key))
	if dlErr != nil || !found {
		return nil, false, nil
	}

	if putErr := c.inner.Put(ctx, key, data, nil); putErr != nil {
		return nil, false, nil
	}
	return c.inner.Get(ctx, key)
}

func (c *RemoteCache) Put(ctx context.Context, key cuenv.CacheKey, value []byte, ttl *time.Duration) error {
	if err := c.inner.Put(ctx, key, value, ttl); err != nil {
		return err
	}
	if c.replicator != nil {
		meta, _, err := c.inner.Metadata(ctx, key)
		hash := ""
		if err == nil && meta != nil {
			hash = meta.ContentHash
		}
		c.replicator.Enqueue(string(key), hash, value)
	}
	return nil
}

func (c *RemoteCache) Remove(ctx context.Context, key cuenv.CacheKey) (bool, error) {
	return c.inner.Remove(ctx, key)
}

func (c *RemoteCache) Contains(ctx context.Context, key cuenv.CacheKey) (bool, error) {
	return c.inner.Contains(ctx, key)
}

func (c *RemoteCache) Metadata(ctx context.Context, key cuenv.CacheKey) (*cuenv.CacheMetadata, bool, error) {
	return c.inner.Metadata(ctx, key)
}

func (c *RemoteCache) Clear(ctx context.Context) error {
	return c.inner.Clear(ctx)
}

func (c *RemoteCache) Statistics(ctx context.Context) (cuenv.CacheStatistics, error) {
	return c.inner.Statistics(ctx)
}

func (c *RemoteCache) GetMany(ctx context.Context, keys []cuenv.CacheKey) (map[cuenv.CacheKey]*cuenv.CacheEntry, error) {
	return c.inner.GetMany(ctx, keys)
}

func (c *RemoteCache) PutMany(ctx context.Context, entries map[cuenv.CacheKey][]byte, ttl *time.Duration) error {
	if err := c.inner.PutMany(ctx, entries, ttl); err != nil {
		return err
	}
	if c.replicator != nil {
		for k, v := range entries {
			c.replicator.Enqueue(string(k), "", v)
		}
	}
	return nil
}

var _ cuenv.Cache = (*RemoteCache)(nil)
