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

package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/cuenv/cuenv"
)

// SecureCache wraps a cuenv.Cache with capability checking, audit logging,
// and (when tree is non-nil) a Merkle integrity tree, composing all three
// as outer decorators rather than baking them into the storage layer, per
// the design note in spec.md §9: Security stays a wrapper around the
// narrow Cache interface.
//
// The token authorizing each call is read from ctx via TokenFromContext;
// a missing token is always rejected.
type SecureCache struct {
	inner   cuenv.Cache
	checker *CapabilityChecker
	audit   *AuditLog
	tree    *MerkleTree

	treeMu  sync.Mutex
	indexOf map[cuenv.CacheKey]uint64
}

// NewSecureCache returns a Cache that authorizes every call except
// Statistics against checker and records the decision to audit. audit may be nil to disable
// audit logging; tree may be nil to disable the Merkle integrity tree
// (spec.md §4.7).
func NewSecureCache(inner cuenv.Cache, checker *CapabilityChecker, audit *AuditLog, tree *MerkleTree) *SecureCache {
	return &SecureCache{
		inner:   inner,
		checker: checker,
		audit:   audit,
		tree:    tree,
		indexOf: make(map[cuenv.CacheKey]uint64),
	}
}

func (s *SecureCache) authorize(ctx context.Context, op Op, operation string) error {
	token, ok := TokenFromContext(ctx)
	if !ok {
		s.record("", operation, string(op.Key), "no_token")
		return cuenv.ErrNotAuthorized("no capability token present in context")
	}
	decisionKind, reason := s.checker.Check(token, op)
	s.record(token.Principal, operation, string(op.Key), decisionName(decisionKind, reason))
	if decisionKind != Authorized {
		return s.checker.AuthorizeOrError(token, op)
	}
	return nil
}

func decisionName(d Decision, reason TokenInvalidReason) string {
	if d == TokenInvalid {
		return "token_invalid:" + string(reason)
	}
	return string(d)
}

func (s *SecureCache) record(principal, operation, key, decision string) {
	if s.audit == nil {
		return
	}
	// Best-effort: an audit-log write failure must never block the
	// underlying cache operation it is recording.
	_, _ = s.audit.Record(principal, operation, key, decision)
}

func (s *SecureCache) Get(ctx context.Context, key cuenv.CacheKey) (*cuenv.CacheEntry, bool, error) {
	if err := s.authorize(ctx, OpRead(key), "get"); err != nil {
		return nil, false, err
	}
	return s.inner.Get(ctx, key)
}

func (s *SecureCache) Put(ctx context.Context, key cuenv.CacheKey, value []byte, ttl *time.Duration) error {
	if err := s.authorize(ctx, OpWrite(key), "put"); err != nil {
		return err
	}
	if err := s.inner.Put(ctx, key, value, ttl); err != nil {
		return err
	}
	s.appendToTree(key, value)
	return nil
}

func (s *SecureCache) Remove(ctx context.Context, key cuenv.CacheKey) (bool, error) {
	if err := s.authorize(ctx, OpRemove(key), "remove"); err != nil {
		return false, err
	}
	removed, err := s.inner.Remove(ctx, key)
	if removed {
		s.treeMu.Lock()
		delete(s.indexOf, key)
		s.treeMu.Unlock()
	}
	return removed, err
}

// appendToTree records value's content hash as a new Merkle leaf for key.
// A tree append failure is logged and never fails the Put it accompanies:
// the tree is a tamper-detection aid layered on top of the authoritative
// store, not a second copy of it.
func (s *SecureCache) appendToTree(key cuenv.CacheKey, value []byte) {
	if s.tree == nil {
		return
	}
	sum := sha256.Sum256(value)
	idx, _, err := s.tree.Append(key, sum[:])
	if err != nil {
		klog.Warningf("securecache: failed to append merkle leaf for %q: %v", key, err)
		return
	}
	s.treeMu.Lock()
	s.indexOf[key] = idx
	s.treeMu.Unlock()
}

func (s *SecureCache) Contains(ctx context.Context, key cuenv.CacheKey) (bool, error) {
	if err := s.authorize(ctx, OpRead(key), "contains"); err != nil {
		return false, err
	}
	return s.inner.Contains(ctx, key)
}

func (s *SecureCache) Metadata(ctx context.Context, key cuenv.CacheKey) (*cuenv.CacheMetadata, bool, error) {
	if err := s.authorize(ctx, OpRead(key), "metadata"); err != nil {
		return nil, false, err
	}
	return s.inner.Metadata(ctx, key)
}

func (s *SecureCache) Clear(ctx context.Context) error {
	if err := s.authorize(ctx, OpClear(), "clear"); err != nil {
		return err
	}
	return s.inner.Clear(ctx)
}

func (s *SecureCache) Statistics(ctx context.Context) (cuenv.CacheStatistics, error) {
	return s.inner.Statistics(ctx)
}

func (s *SecureCache) GetMany(ctx context.Context, keys []cuenv.CacheKey) (map[cuenv.CacheKey]*cuenv.CacheEntry, error) {
	for _, k := range keys {
		if err := s.authorize(ctx, OpRead(k), "get_many"); err != nil {
			return nil, err
		}
	}
	return s.inner.GetMany(ctx, keys)
}

func (s *SecureCache) PutMany(ctx context.Context, entries map[cuenv.CacheKey][]byte, ttl *time.Duration) error {
	for k := range entries {
		if err := s.authorize(ctx, OpWrite(k), "put_many"); err != nil {
			return err
		}
	}
	if err := s.inner.PutMany(ctx, entries, ttl); err != nil {
		return err
	}
	for k, v := range entries {
		s.appendToTree(k, v)
	}
	return nil
}

// Root returns the current Merkle integrity tree root, or nil if the tree
// is disabled.
func (s *SecureCache) Root() ([]byte, error) {
	if s.tree == nil {
		return nil, nil
	}
	return s.tree.Root()
}

// VerifyIntegrity re-derives the live content hash of every key tracked by
// the Merkle tree and compares it against the leaf recorded at append
// time, returning the keys whose stored content no longer matches what was
// committed (spec.md §4.7's tamper-detection sweep). It returns nil, nil
// if the tree is disabled.
func (s *SecureCache) VerifyIntegrity(ctx context.Context) ([]cuenv.CacheKey, error) {
	if s.tree == nil {
		return nil, nil
	}
	s.treeMu.Lock()
	snapshot := make(map[cuenv.CacheKey]uint64, len(s.indexOf))
	for k, idx := range s.indexOf {
		snapshot[k] = idx
	}
	s.treeMu.Unlock()

	var tampered []cuenv.CacheKey
	for key, idx := range snapshot {
		meta, ok, err := s.inner.Metadata(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		liveHash, err := hex.DecodeString(meta.ContentHash)
		if err != nil {
			return nil, cuenv.ErrSerialization("decode content hash for integrity sweep", err)
		}
		changed, err := s.tree.entryChanged(idx, liveHash)
		if err != nil {
			return nil, err
		}
		if changed {
			tampered = append(tampered, key)
		}
	}
	return tampered, nil
}

var _ cuenv.Cache = (*SecureCache)(nil)
