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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocks_SharedAllowsConcurrentReaders(t *testing.T) {
	locks := NewLocks(t.TempDir())
	ctx := context.Background()

	rel1, err := locks.Shared(ctx, "k1", time.Second)
	require.NoError(t, err)
	rel2, err := locks.Shared(ctx, "k1", time.Second)
	require.NoError(t, err)

	require.NoError(t, rel1())
	require.NoError(t, rel2())
}

func TestLocks_ExclusiveBlocksReaders(t *testing.T) {
	locks := NewLocks(t.TempDir())
	ctx := context.Background()

	relEx, err := locks.Exclusive(ctx, "k1", time.Second)
	require.NoError(t, err)

	_, err = locks.Shared(ctx, "k1", 30*time.Millisecond)
	require.Error(t, err)

	require.NoError(t, relEx())

	relShared, err := locks.Shared(ctx, "k1", time.Second)
	require.NoError(t, err)
	require.NoError(t, relShared())
}

func TestLocks_TryExclusiveFailsWhenHeld(t *testing.T) {
	locks := NewLocks(t.TempDir())
	ctx := context.Background()

	rel, err := locks.Shared(ctx, "k1", time.Second)
	require.NoError(t, err)
	defer rel()

	_, ok, err := locks.TryExclusive("k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocks_TryExclusiveSucceedsWhenFree(t *testing.T) {
	locks := NewLocks(t.TempDir())
	rel, ok, err := locks.TryExclusive("k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, rel())
}

func TestLocks_ExclusiveIsMutualExclusive(t *testing.T) {
	locks := NewLocks(t.TempDir())
	ctx := context.Background()

	var active int32
	var maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := locks.Exclusive(ctx, "shared-key", time.Second)
			if err != nil {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&maxActive)
				if n <= old || atomic.CompareAndSwapInt32(&maxActive, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			rel()
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, maxActive)
}

func TestLocks_IndependentKeysDoNotContend(t *testing.T) {
	locks := NewLocks(t.TempDir())
	ctx := context.Background()

	rel1, err := locks.Exclusive(ctx, "k1", time.Second)
	require.NoError(t, err)
	defer rel1()

	rel2, err := locks.Exclusive(ctx, "k2", 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, rel2())
}
