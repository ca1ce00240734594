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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEviction_RemovesExpiredEntries(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	ttl := time.Millisecond
	require.NoError(t, s.Put(ctx, "expired", []byte("v"), &ttl))
	require.NoError(t, s.Put(ctx, "fresh", []byte("v"), nil))

	time.Sleep(5 * time.Millisecond)

	e := NewEviction(s, EvictionOptions{MaxEntries: 100, MaxDiskBytes: 1 << 30})
	require.NoError(t, e.Sweep(ctx))

	ok, err := s.Contains(ctx, "expired")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Contains(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEviction_EnforcesMaxEntriesLRU(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", []byte("v"), nil))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Put(ctx, "b", []byte("v"), nil))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Put(ctx, "c", []byte("v"), nil))

	// Touch "a" so its last_accessed is newer than "b"'s.
	_, _, err := s.Get(ctx, "a")
	require.NoError(t, err)

	e := NewEviction(s, EvictionOptions{MaxEntries: 2, MaxDiskBytes: 1 << 30})
	require.NoError(t, e.Sweep(ctx))

	ok, err := s.Contains(ctx, "b")
	require.NoError(t, err)
	require.False(t, ok, "least recently accessed entry should have been evicted")

	ok, err = s.Contains(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Contains(ctx, "c")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEviction_EnforcesMaxDiskBytes(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "a", make([]byte, 100), nil))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Put(ctx, "b", make([]byte, 100), nil))

	e := NewEviction(s, EvictionOptions{MaxEntries: 100, MaxDiskBytes: 150})
	require.NoError(t, e.Sweep(ctx))

	ok, err := s.Contains(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Contains(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEviction_SkipsContendedKey(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	ttl := time.Millisecond
	require.NoError(t, s.Put(ctx, "held", []byte("v"), &ttl))
	time.Sleep(5 * time.Millisecond)

	unlock, err := s.locks.Shared(ctx, "held", time.Second)
	require.NoError(t, err)
	defer unlock()

	e := NewEviction(s, EvictionOptions{MaxEntries: 100, MaxDiskBytes: 1 << 30})
	require.NoError(t, e.Sweep(ctx))

	ok, err := s.Contains(ctx, "held")
	require.NoError(t, err)
	require.True(t, ok, "contended key should survive a sweep")
}

func TestEviction_DefaultsCleanupInterval(t *testing.T) {
	e := NewEviction(&Store{}, EvictionOptions{})
	require.Equal(t, 60*time.Second, e.opts.CleanupInterval)
}

func TestEviction_RunStopsOnContextCancel(t *testing.T) {
	s := newTestStore(t, Options{})
	e := NewEviction(s, EvictionOptions{MaxEntries: 100, MaxDiskBytes: 1 << 30, CleanupInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
