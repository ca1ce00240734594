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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuenv/cuenv"
)

// fakeCache is a minimal in-memory cuenv.Cache used to exercise SecureCache
// without pulling in the on-disk store.
type fakeCache struct {
	entries map[cuenv.CacheKey]*cuenv.CacheEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[cuenv.CacheKey]*cuenv.CacheEntry)}
}

func (f *fakeCache) Get(_ context.Context, key cuenv.CacheKey) (*cuenv.CacheEntry, bool, error) {
	e, ok := f.entries[key]
	return e, ok, nil
}

func (f *fakeCache) Put(_ context.Context, key cuenv.CacheKey, value []byte, _ *time.Duration) error {
	sum := sha256.Sum256(value)
	f.entries[key] = &cuenv.CacheEntry{
		CacheMetadata: cuenv.CacheMetadata{ContentHash: hex.EncodeToString(sum[:]), SizeBytes: int64(len(value))},
		ValueBytes:    value,
	}
	return nil
}

func (f *fakeCache) Remove(_ context.Context, key cuenv.CacheKey) (bool, error) {
	_, ok := f.entries[key]
	delete(f.entries, key)
	return ok, nil
}

func (f *fakeCache) Contains(_ context.Context, key cuenv.CacheKey) (bool, error) {
	_, ok := f.entries[key]
	return ok, nil
}

func (f *fakeCache) Metadata(_ context.Context, key cuenv.CacheKey) (*cuenv.CacheMetadata, bool, error) {
	e, ok := f.entries[key]
	if !ok {
		return nil, false, nil
	}
	m := e.CacheMetadata
	return &m, true, nil
}

func (f *fakeCache) Clear(_ context.Context) error {
	f.entries = make(map[cuenv.CacheKey]*cuenv.CacheEntry)
	return nil
}

func (f *fakeCache) Statistics(_ context.Context) (cuenv.CacheStatistics, error) {
	return cuenv.CacheStatistics{}, nil
}

func (f *fakeCache) GetMany(ctx context.Context, keys []cuenv.CacheKey) (map[cuenv.CacheKey]*cuenv.CacheEntry, error) {
	out := make(map[cuenv.CacheKey]*cuenv.CacheEntry, len(keys))
	for _, k := range keys {
		if e, ok := f.entries[k]; ok {
			out[k] = e
		}
	}
	return out, nil
}

func (f *fakeCache) PutMany(ctx context.Context, entries map[cuenv.CacheKey][]byte, ttl *time.Duration) error {
	for k, v := range entries {
		if err := f.Put(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

var _ cuenv.Cache = (*fakeCache)(nil)

func authorizedCtx(t *testing.T, authority *CapabilityAuthority) context.Context {
	t.Helper()
	token, err := authority.Issue("t1", "alice",
		[]Permission{PermRead, PermWrite, PermDelete, PermClear},
		[]string{"*"}, time.Hour, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return WithToken(context.Background(), token)
}

func newSecureTestCache(t *testing.T, tree *MerkleTree) (*SecureCache, *fakeCache) {
	t.Helper()
	signer := newTestSigner(t)
	authority := NewCapabilityAuthority(signer)
	checker := NewCapabilityChecker(authority, signer.PublicKey(), fixedClock{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	inner := newFakeCache()
	return NewSecureCache(inner, checker, nil, tree), inner
}

func TestSecureCache_PutRejectsMissingToken(t *testing.T) {
	sc, _ := newSecureTestCache(t, nil)
	err := sc.Put(context.Background(), "k1", []byte("v"), nil)
	require.Error(t, err)
	require.True(t, cuenv.IsKind(err, cuenv.KindNotAuthorized))
}

func TestSecureCache_RootNilWhenTreeDisabled(t *testing.T) {
	sc, _ := newSecureTestCache(t, nil)
	root, err := sc.Root()
	require.NoError(t, err)
	require.Nil(t, root)

	tampered, err := sc.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	require.Nil(t, tampered)
}

func TestSecureCache_PutAppendsMerkleLeafAndChangesRoot(t *testing.T) {
	tree := NewMerkleTree()
	sc, _ := newSecureTestCache(t, tree)
	ctx := authorizedCtx(t, sc.checker.authority)

	root0, err := sc.Root()
	require.NoError(t, err)
	require.Nil(t, root0)

	require.NoError(t, sc.Put(ctx, "k1", []byte("v1"), nil))
	root1, err := sc.Root()
	require.NoError(t, err)
	require.NotNil(t, root1)

	require.NoError(t, sc.Put(ctx, "k2", []byte("v2"), nil))
	root2, err := sc.Root()
	require.NoError(t, err)
	require.NotEqual(t, root1, root2)
}

func TestSecureCache_VerifyIntegrityDetectsTamperedEntry(t *testing.T) {
	tree := NewMerkleTree()
	sc, inner := newSecureTestCache(t, tree)
	ctx := authorizedCtx(t, sc.checker.authority)

	require.NoError(t, sc.Put(ctx, "k1", []byte("original"), nil))

	tampered, err := sc.VerifyIntegrity(ctx)
	require.NoError(t, err)
	require.Empty(t, tampered)

	// Mutate the entry directly in the inner store, bypassing SecureCache,
	// the way on-disk corruption or an out-of-band write would.
	sum := sha256.Sum256([]byte("tampered"))
	inner.entries["k1"] = &cuenv.CacheEntry{
		CacheMetadata: cuenv.CacheMetadata{ContentHash: hex.EncodeToString(sum[:])},
		ValueBytes:    []byte("tampered"),
	}

	tampered, err = sc.VerifyIntegrity(ctx)
	require.NoError(t, err)
	require.Equal(t, []cuenv.CacheKey{"k1"}, tampered)
}

func TestSecureCache_RemoveDropsTreeTracking(t *testing.T) {
	tree := NewMerkleTree()
	sc, _ := newSecureTestCache(t, tree)
	ctx := authorizedCtx(t, sc.checker.authority)

	require.NoError(t, sc.Put(ctx, "k1", []byte("v1"), nil))
	removed, err := sc.Remove(ctx, "k1")
	require.NoError(t, err)
	require.True(t, removed)

	// Once removed, the key is no longer tracked for the integrity sweep,
	// even though its historical leaf remains in the append-only tree.
	tampered, err := sc.VerifyIntegrity(ctx)
	require.NoError(t, err)
	require.Empty(t, tampered)
}
