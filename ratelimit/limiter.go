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

// Package ratelimit guards hook and secret-resolver subprocess execution
// with a token-bucket limiter combined with an optional sliding-window cap,
// per spec.md §4.12.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuenv/cuenv"
)

// Options configures a Limiter.
type Options struct {
	MaxOperations int
	Window        time.Duration
	SlidingWindow bool
	BurstSize     int
}

// Status is an introspectable snapshot of a Limiter's current state.
type Status struct {
	AvailablePermits int
	WindowCount      int
	BucketTokens     float64
}

// Limiter combines a token-bucket limiter (golang.org/x/time/rate) with a
// sliding-window ring buffer of operation timestamps. The bucket bounds
// instantaneous burst rate; the window bounds total operations over a
// rolling interval, the same two-tier shape the pack's resilience package
// layers a wait-limit on top of a rate.Limiter.
type Limiter struct {
	bucket *rate.Limiter

	mu     sync.Mutex
	window []time.Time
	opts   Options
	clock  cuenv.Clock
}

// New returns a Limiter configured per opts.
func New(opts Options, clock cuenv.Clock) *Limiter {
	if opts.BurstSize <= 0 {
		opts.BurstSize = opts.MaxOperations
	}
	if clock == nil {
		clock = cuenv.SystemClock{}
	}
	var perSec float64
	if opts.Window > 0 {
		perSec = float64(opts.MaxOperations) / opts.Window.Seconds()
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(perSec), opts.BurstSize),
		opts:   opts,
		clock:  clock,
	}
}

// TryAcquire attempts to acquire one permit without blocking, failing with
// KindRateLimited if none is available.
func (l *Limiter) TryAcquire() error {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.opts.SlidingWindow && !l.windowHasRoomLocked(now) {
		return cuenv.ErrRateLimited("sliding window exhausted")
	}
	if !l.bucket.AllowN(now, 1) {
		return cuenv.ErrRateLimited("token bucket exhausted")
	}
	if l.opts.SlidingWindow {
		l.window = append(l.window, now)
	}
	return nil
}

// Acquire blocks until a permit is available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return cuenv.ErrRateLimited("token bucket wait: " + err.Error())
	}
	if !l.opts.SlidingWindow {
		return nil
	}

	for {
		now := l.clock.Now()
		l.mu.Lock()
		if l.windowHasRoomLocked(now) {
			l.window = append(l.window, now)
			l.mu.Unlock()
			return nil
		}
		wait := l.window[0].Add(l.opts.Window).Sub(now)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return cuenv.ErrRateLimited("sliding window wait: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
}

// windowHasRoomLocked prunes expired entries and reports whether another
// operation fits within MaxOperations over Window. l.mu must be held.
func (l *Limiter) windowHasRoomLocked(now time.Time) bool {
	cutoff := now.Add(-l.opts.Window)
	pruned := l.window[:0]
	for _, t := range l.window {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	l.window = pruned
	return len(l.window) < l.opts.MaxOperations
}

// Status returns the limiter's current introspectable state.
func (l *Limiter) Status() Status {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	windowCount := 0
	if l.opts.SlidingWindow {
		l.windowHasRoomLocked(now)
		windowCount = len(l.window)
	}
	return Status{
		AvailablePermits: l.opts.MaxOperations - windowCount,
		WindowCount:      windowCount,
		BucketTokens:     l.bucket.Tokens(),
	}
}
