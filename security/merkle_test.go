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
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuenv/cuenv"
)

func contentHash(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

func TestMerkleTree_RootChangesOnAppend(t *testing.T) {
	tree := NewMerkleTree()
	_, root1, err := tree.Append("k1", contentHash([]byte("v1")))
	require.NoError(t, err)
	_, root2, err := tree.Append("k2", contentHash([]byte("v2")))
	require.NoError(t, err)
	require.NotEqual(t, root1, root2)
}

func TestMerkleTree_InclusionProofVerifies(t *testing.T) {
	tree := NewMerkleTree()
	var idx uint64
	var root []byte
	for i, v := range []string{"v1", "v2", "v3", "v4", "v5"} {
		key := []byte{byte('a' + i)}
		var err error
		idx, root, err = tree.Append(cuenv.CacheKey(cacheKeyOf(key)), contentHash([]byte(v)))
		require.NoError(t, err)
	}
	targetIdx := uint64(2)
	leafHash, _, ok := tree.LeafHash(targetIdx)
	require.True(t, ok)

	proofPath, err := tree.InclusionProof(targetIdx)
	require.NoError(t, err)
	require.NoError(t, VerifyInclusion(targetIdx, tree.Size(), leafHash, proofPath, root))
	_ = idx
}

func TestMerkleTree_DetectsTamperedEntry(t *testing.T) {
	tree := NewMerkleTree()
	idx, _, err := tree.Append("k1", contentHash([]byte("original")))
	require.NoError(t, err)

	changed, err := tree.entryChanged(idx, contentHash([]byte("original")))
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = tree.entryChanged(idx, contentHash([]byte("tampered")))
	require.NoError(t, err)
	require.True(t, changed)
}

func cacheKeyOf(b []byte) string { return string(b) }
