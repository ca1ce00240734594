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
	"context"
	"regexp"
	"time"
)

// maxKeyLen bounds CacheKey length per the data model invariant in spec.md §3.
const maxKeyLen = 512

var keyDisallowed = regexp.MustCompile(`[\s/\\]`)

// CacheKey is a printable, validated identifier for a stored entry.
type CacheKey string

// Valid reports whether k satisfies the CacheKey invariants: non-empty, no
// path separators, no whitespace, length <= 512.
func (k CacheKey) Valid() bool {
	if len(k) == 0 || len(k) > maxKeyLen {
		return false
	}
	return !keyDisallowed.MatchString(string(k))
}

// Compression names the payload encoding applied to a stored value.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
)

// CacheMetadata is the externally visible projection of a CacheEntry: every
// field except the payload itself.
type CacheMetadata struct {
	ContentHash   string
	SizeBytes     int64
	CreatedAt     time.Time
	LastAccessed  time.Time
	ExpiresAt     *time.Time
	AccessCount   uint64
	CacheVersion  uint16
	Compression   Compression
	Signed        bool
	SignerPublic  []byte
}

// CacheEntry is the full stored object for one key, as described in
// spec.md §3. ValueBytes may be compressed; ContentHash is always the digest
// of the decoded payload.
type CacheEntry struct {
	CacheMetadata
	ValueBytes []byte
	Nonce      [16]byte
	Signature  []byte
}

// CacheStatistics is an atomic-read snapshot of C8's counters.
type CacheStatistics struct {
	Hits              uint64
	Misses            uint64
	Writes            uint64
	Removals          uint64
	Errors            uint64
	Evictions         uint64
	BytesIn           uint64
	BytesOut          uint64
	EntryCount        uint64
	TotalBytes        uint64
	MaxBytes          uint64
	CompressionRatio  float64
}

// Cache is the narrow capability-set exposed by the core, per spec.md §6 and
// the design note in §9 collapsing the broad trait-object surface into one
// small interface that Security and Stats wrap by composition rather than
// inheritance.
type Cache interface {
	Get(ctx context.Context, key CacheKey) (*CacheEntry, bool, error)
	Put(ctx context.Context, key CacheKey, value []byte, ttl *time.Duration) error
	Remove(ctx context.Context, key CacheKey) (bool, error)
	Contains(ctx context.Context, key CacheKey) (bool, error)
	Metadata(ctx context.Context, key CacheKey) (*CacheMetadata, bool, error)
	Clear(ctx context.Context) error
	Statistics(ctx context.Context) (CacheStatistics, error)
	GetMany(ctx context.Context, keys []CacheKey) (map[CacheKey]*CacheEntry, error)
	PutMany(ctx context.Context, entries map[CacheKey][]byte, ttl *time.Duration) error
}
