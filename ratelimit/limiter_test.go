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

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuenv/cuenv"
)

func TestLimiter_TryAcquireRespectsSlidingWindow(t *testing.T) {
	l := New(Options{MaxOperations: 2, Window: time.Minute, SlidingWindow: true, BurstSize: 100}, nil)
	require.NoError(t, l.TryAcquire())
	require.NoError(t, l.TryAcquire())
	err := l.TryAcquire()
	require.Error(t, err)
	require.True(t, cuenv.IsKind(err, cuenv.KindRateLimited))
}

func TestLimiter_WindowExpiresEntries(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := New(Options{MaxOperations: 1, Window: time.Second, SlidingWindow: true, BurstSize: 100}, clock)
	require.NoError(t, l.TryAcquire())
	require.Error(t, l.TryAcquire())

	clock.t = clock.t.Add(2 * time.Second)
	require.NoError(t, l.TryAcquire())
}

func TestLimiter_TryAcquireRespectsBucket(t *testing.T) {
	l := New(Options{MaxOperations: 1000, Window: time.Minute, SlidingWindow: false, BurstSize: 1}, nil)
	require.NoError(t, l.TryAcquire())
	require.Error(t, l.TryAcquire())
}

func TestLimiter_AcquireBlocksThenSucceeds(t *testing.T) {
	l := New(Options{MaxOperations: 1000, Window: time.Minute, SlidingWindow: false, BurstSize: 1}, nil)
	require.NoError(t, l.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	// 1000 operations a minute refills the single burst token every 60ms,
	// well inside the 200ms deadline.
	require.NoError(t, l.Acquire(ctx))
}

func TestLimiter_Status(t *testing.T) {
	l := New(Options{MaxOperations: 5, Window: time.Minute, SlidingWindow: true, BurstSize: 10}, nil)
	require.NoError(t, l.TryAcquire())
	st := l.Status()
	require.Equal(t, 1, st.WindowCount)
	require.Equal(t, 4, st.AvailablePermits)
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

var _ cuenv.Clock = &fakeClock{}
