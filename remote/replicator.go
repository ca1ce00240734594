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
	"sync"

	"github.com/avast/retry-go/v4"
	"k8s.io/klog/v2"

	"github.com/cuenv/cuenv"
)

// replicationRequest is one queued upload.
type replicationRequest struct {
	key         string
	contentHash string
	data        []byte
}

// Replicator drains a bounded queue of replication requests in the
// background, uploading each to tier with bounded retries. When the queue
// is full, Enqueue discards the new request: replication is advisory,
// never a correctness dependency, so backpressure here must never
// propagate to the caller of Enqueue.
type Replicator struct {
	tier   Tier
	queue  chan replicationRequest
	clock  cuenv.Clock
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	history []ReplicationRecord
}

// NewReplicator starts a background worker bound to sysctx's lifetime.
// queueDepth bounds how many pending replications can be buffered before
// Enqueue starts silently dropping requests.
func NewReplicator(sysctx *cuenv.SystemContext, tier Tier, queueDepth int) *Replicator {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	r := &Replicator{
		tier:  tier,
		queue: make(chan replicationRequest, queueDepth),
		clock: sysctx.Clock,
		done:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run(sysctx)
	return r
}

// Enqueue schedules key for best-effort replication. It never blocks the
// caller: a full queue drops the request, which is logged at klog V(2)
// and is neither recorded in History nor returned as an error.
func (r *Replicator) Enqueue(key, contentHash string, data []byte) {
	select {
	case r.queue <- replicationRequest{key: key, contentHash: contentHash, data: data}:
	default:
		klog.V(2).Infof("remote: replication queue full, dropping %q", key)
	}
}

func (r *Replicator) run(sysctx *cuenv.SystemContext) {
	defer r.wg.Done()
	for {
		select {
		case <-sysctx.Done():
			close(r.done)
			return
		case req := <-r.queue:
			r.replicate(req)
		}
	}
}

func (r *Replicator) replicate(req replicationRequest) {
	attempts := 0
	err := retry.Do(func() error {
		attempts++
		return r.tier.Upload(context.Background(), req.key, req.data)
	},
		retry.Attempts(5),
		retry.DelayType(retry.BackOffDelay),
	)

	rec := ReplicationRecord{
		Key:         req.key,
		ContentHash: req.contentHash,
		Attempts:    attempts,
	}
	if err != nil {
		klog.Warningf("remote: replication of %q abandoned after %d attempts: %v", req.key, attempts, err)
	} else {
		rec.ReplicatedAt = r.clock.Now().UnixNano()
	}

	r.mu.Lock()
	r.history = append(r.history, rec)
	r.mu.Unlock()
}

// History returns the replication records observed so far, newest last.
// Purely observability; never consulted for correctness.
func (r *Replicator) History() []ReplicationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ReplicationRecord, len(r.history))
	copy(out, r.history)
	return out
}

// Wait blocks until the background worker has drained sysctx's shutdown
// signal, for tests and graceful-exit callers that want to observe
// in-flight work settle within a bound.
func (r *Replicator) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		r.wg.Wait()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
