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

package cuenv

import (
	"crypto/rand"
	"io"
	"sync"
	"time"
)

// Clock abstracts wall-clock and monotonic time so tests can control both.
// The production implementation is SystemClock; tests substitute a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Randomness abstracts a CSPRNG so nonces and token IDs are mockable in
// tests without weakening production randomness.
type Randomness interface {
	Read(p []byte) (int, error)
}

// SystemRandomness is the production Randomness backed by crypto/rand.
type SystemRandomness struct{}

func (SystemRandomness) Read(p []byte) (int, error) { return io.ReadFull(rand.Reader, p) }

// SystemContext threads the ambient dependencies (clock, randomness, and
// lifetime) through the core instead of relying on process-wide singletons.
// Components that take a SystemContext (the remote-tier Replicator, and the
// audit SQL sink's close in cmd/cuenv-cached) stop when its Done channel
// fires; cmd/cuenv-cached calls Shutdown once its signal context ends.
type SystemContext struct {
	Clock  Clock
	Random Randomness

	once     sync.Once
	shutdown chan struct{}
}

// NewSystemContext returns a SystemContext wired to the real clock and CSPRNG.
func NewSystemContext() *SystemContext {
	return &SystemContext{
		Clock:    SystemClock{},
		Random:   SystemRandomness{},
		shutdown: make(chan struct{}),
	}
}

// Done returns a channel closed once Shutdown has been called.
func (s *SystemContext) Done() <-chan struct{} { return s.shutdown }

// Shutdown signals every component sharing this SystemContext to stop. It is
// idempotent.
func (s *SystemContext) Shutdown() {
	s.once.Do(func() { close(s.shutdown) })
}
