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

// Package stats tracks cache hit/miss/write/error/eviction counters and
// exposes a point-in-time snapshot (spec.md §4.8). The Store never holds a
// reference back to a particular Stats sink; instead it emits Events to a
// Bus that hands each one synchronously to Stats (or any other subscriber,
// e.g. the metrics package), per the design note in spec.md §9 inverting the Stats<->Store
// cyclic reference into one-way notification.
package stats

import (
	"sync/atomic"

	"github.com/cuenv/cuenv"
)

// EventKind names the cache-level occurrence a Stats subscriber reacts to.
type EventKind int

const (
	EventHit EventKind = iota
	EventMiss
	EventWrite
	EventRemoval
	EventError
	EventEviction
)

// Event is one notification emitted by the Store (or any other Cache
// layer) describing something Stats should count.
type Event struct {
	Kind      EventKind
	Bytes     int64
	Reason    string // eviction reason; ignored for other kinds
	Compressed bool
	RawSize    int64
	StoredSize int64
}

// Stats is a subscriber that accumulates Events into atomic counters and
// serves CacheStatistics snapshots.
type Stats struct {
	hits       atomic.Uint64
	misses     atomic.Uint64
	writes     atomic.Uint64
	removals   atomic.Uint64
	errors     atomic.Uint64
	evictions  atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	entryCount atomic.Int64
	totalBytes atomic.Int64
	maxBytes   atomic.Int64

	rawTotal    atomic.Uint64
	storedTotal atomic.Uint64
}

// New returns an empty Stats sink.
func New() *Stats { return &Stats{} }

// SetMaxBytes records the configured disk budget for reporting purposes.
func (s *Stats) SetMaxBytes(n int64) { s.maxBytes.Store(n) }

// Observe applies one Event to the counters. Safe for concurrent use; each
// counter is updated atomically and independently, so Observe never blocks,
// but the resulting snapshot is not atomic across counters (spec.md §4.8).
func (s *Stats) Observe(ev Event) {
	switch ev.Kind {
	case EventHit:
		s.hits.Add(1)
		s.bytesOut.Add(uint64(ev.Bytes))
	case EventMiss:
		s.misses.Add(1)
	case EventWrite:
		s.writes.Add(1)
		s.bytesIn.Add(uint64(ev.Bytes))
		s.entryCount.Add(1)
		s.totalBytes.Add(ev.Bytes)
		if ev.Compressed && ev.RawSize > 0 {
			s.rawTotal.Add(uint64(ev.RawSize))
			s.storedTotal.Add(uint64(ev.StoredSize))
		}
	case EventRemoval:
		s.removals.Add(1)
		s.entryCount.Add(-1)
		s.totalBytes.Add(-ev.Bytes)
	case EventError:
		s.errors.Add(1)
	case EventEviction:
		s.evictions.Add(1)
		s.entryCount.Add(-1)
		s.totalBytes.Add(-ev.Bytes)
	}
}

// Snapshot returns the current CacheStatistics. Compression ratio is
// best-effort: spec.md §9 notes it is not wired through every code path, so
// it reports 1.0 (no compression observed) until at least one compressed
// write has been recorded.
func (s *Stats) Snapshot() cuenv.CacheStatistics {
	ratio := 1.0
	if raw := s.rawTotal.Load(); raw > 0 {
		ratio = float64(s.storedTotal.Load()) / float64(raw)
	}
	return cuenv.CacheStatistics{
		Hits:             s.hits.Load(),
		Misses:           s.misses.Load(),
		Writes:           s.writes.Load(),
		Removals:         s.removals.Load(),
		Errors:           s.errors.Load(),
		Evictions:        s.evictions.Load(),
		BytesIn:          s.bytesIn.Load(),
		BytesOut:         s.bytesOut.Load(),
		EntryCount:       uint64(max64(s.entryCount.Load(), 0)),
		TotalBytes:       uint64(max64(s.totalBytes.Load(), 0)),
		MaxBytes:         uint64(max64(s.maxBytes.Load(), 0)),
		CompressionRatio: ratio,
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// Sink is satisfied by Stats and by anything else (e.g. metrics.Sink)
// that wants to observe the same event stream.
type Sink interface {
	Observe(Event)
}

// Bus fans one Event out to every subscribed Sink, so a Store only ever
// needs to hold a Bus, never a concrete Stats.
type Bus struct {
	sinks []Sink
}

// NewBus returns a Bus with the given initial subscribers.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

// Subscribe adds sink to the fan-out list.
func (b *Bus) Subscribe(sink Sink) {
	b.sinks = append(b.sinks, sink)
}

// Observe implements Sink, forwarding ev to every subscriber.
func (b *Bus) Observe(ev Event) {
	for _, s := range b.sinks {
		s.Observe(ev)
	}
}
