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
	"bytes"
	"sync"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"

	"github.com/cuenv/cuenv"
)

var hasher = rfc6962.DefaultHasher

// MerkleTree is an in-memory append-only Merkle tree over cache entry
// content hashes, used for the tamper-detection sweep of spec.md §4.7's
// fourth bullet. Every append is a leaf over a (key, content_hash) pair,
// and the root digest changes with every append. Removing or mutating an
// entry leaves the tree and its root unchanged; SecureCache.VerifyIntegrity
// finds mutations by comparing live content hashes with recorded leaves.
//
// Built the same way the teacher's log storage builds its tile tree:
// a compact.RangeFactory accumulates the range incrementally, and a
// visitor records every computed internal node so that inclusion proofs
// can be recomputed later without re-reading the whole tree.
type MerkleTree struct {
	mu     sync.Mutex
	rf     *compact.RangeFactory
	rng    *compact.Range
	nodes  map[compact.NodeID][]byte
	leaves [][]byte
	keys   []cuenv.CacheKey
}

// NewMerkleTree returns an empty tree.
func NewMerkleTree() *MerkleTree {
	rf := &compact.RangeFactory{Hash: hasher.HashChildren}
	return &MerkleTree{
		rf:    rf,
		rng:   rf.NewEmptyRange(0),
		nodes: make(map[compact.NodeID][]byte),
	}
}

func (t *MerkleTree) visitor(id compact.NodeID, hash []byte) {
	stored := append([]byte(nil), hash...)
	t.nodes[id] = stored
}

// Append adds a new leaf committing to (key, contentHash) and returns its
// index and the tree's new root.
func (t *MerkleTree) Append(key cuenv.CacheKey, contentHash []byte) (index uint64, root []byte, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	leaf := append([]byte(string(key)+":"), contentHash...)
	lh := hasher.HashLeaf(leaf)
	if err := t.rng.Append(lh, t.visitor); err != nil {
		return 0, nil, cuenv.ErrExternalFailure("append merkle leaf", err)
	}
	idx := uint64(len(t.leaves))
	t.leaves = append(t.leaves, lh)
	t.keys = append(t.keys, key)

	r, err := t.rng.GetRootHash(t.visitor)
	if err != nil {
		return 0, nil, cuenv.ErrExternalFailure("compute merkle root", err)
	}
	return idx, r, nil
}

// Size returns the number of leaves appended.
func (t *MerkleTree) Size() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint64(len(t.leaves))
}

// Root returns the current root digest.
func (t *MerkleTree) Root() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.rng.GetRootHash(t.visitor)
	if err != nil {
		return nil, cuenv.ErrExternalFailure("compute merkle root", err)
	}
	return r, nil
}

// InclusionProof returns the sibling hash path proving that the leaf at
// index is included in a tree of the given size.
func (t *MerkleTree) InclusionProof(index uint64) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := uint64(len(t.leaves))
	nodes, err := proof.Inclusion(index, size)
	if err != nil {
		return nil, cuenv.ErrExternalFailure("compute inclusion proof node list", err)
	}
	hashes := make([][]byte, 0, len(nodes.IDs))
	for _, id := range nodes.IDs {
		h, ok := t.nodes[id]
		if !ok {
			return nil, cuenv.ErrCorruption(cuenv.CorruptionBrokenChain, "missing merkle node for inclusion proof", nil)
		}
		hashes = append(hashes, h)
	}
	rehashed, err := nodes.Rehash(hashes, hasher.HashChildren)
	if err != nil {
		return nil, cuenv.ErrExternalFailure("rehash inclusion proof", err)
	}
	return rehashed, nil
}

// VerifyInclusion checks that leafHash at index, combined with proofPath,
// recomputes root.
func VerifyInclusion(index, size uint64, leafHash []byte, proofPath [][]byte, root []byte) error {
	if err := proof.VerifyInclusion(hasher, index, size, leafHash, proofPath, root); err != nil {
		return cuenv.ErrCorruption(cuenv.CorruptionBrokenChain, "inclusion proof failed verification", err)
	}
	return nil
}

// LeafHash returns the stored leaf hash at index and the key it commits
// to, for driving a tamper-detection sweep.
func (t *MerkleTree) LeafHash(index uint64) ([]byte, cuenv.CacheKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index >= uint64(len(t.leaves)) {
		return nil, "", false
	}
	return t.leaves[index], t.keys[index], true
}

// LeafHashFor computes the leaf hash that Append would have produced for
// (key, contentHash), for re-verifying a live entry against a recorded
// leaf without needing to replay the whole tree.
func LeafHashFor(key cuenv.CacheKey, contentHash []byte) []byte {
	leaf := append([]byte(string(key)+":"), contentHash...)
	return hasher.HashLeaf(leaf)
}

// entryChanged reports whether the live content hash for key no longer
// matches the hash recorded at the time it was appended to the tree.
func (t *MerkleTree) entryChanged(index uint64, liveContentHash []byte) (bool, error) {
	recorded, key, ok := t.LeafHash(index)
	if !ok {
		return false, cuenv.ErrKeyInvalid("merkle leaf index out of range")
	}
	want := LeafHashFor(key, liveContentHash)
	return !bytes.Equal(recorded, want), nil
}
