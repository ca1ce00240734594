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

// Package hasher stream-hashes content, files, and glob sets into a stable
// digest, alongside a manifest of every contribution made to it.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// chunkSize bounds how much of a file is read into memory at once, per
// spec.md §4.1 ("stream-read in <=8 KiB chunks").
const chunkSize = 8 * 1024

// Hasher accumulates contributions under a label and produces one digest
// plus a manifest describing what went into it. It is not safe for
// concurrent use by multiple goroutines; callers needing concurrency should
// use one Hasher per goroutine and combine digests upstream.
type Hasher struct {
	label    string
	h        hashState
	manifest []string
}

// hashState is the subset of hash.Hash that Hasher needs; kept as an
// interface so tests can substitute a recording stub.
type hashState interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
	Reset()
}

// New returns a Hasher labelled with the given string. The label is folded
// into the final digest so that two logically distinct hashers never
// collide even if fed identical content.
func New(label string) *Hasher {
	h := &Hasher{label: label, h: sha256.New()}
	h.h.Write([]byte(label))
	return h
}

// newSubHasher returns a fresh per-file hashState used by HashFile.
func newSubHasher() hashState {
	return sha256.New()
}

// HashContent feeds an already-encoded form of a value into the hasher.
func (h *Hasher) HashContent(encoded []byte) {
	h.h.Write([]byte{0x1f}) // field separator, avoids ambiguity between adjacent contributions
	h.h.Write(encoded)
	h.manifest = append(h.manifest, fmt.Sprintf("content:%d", len(encoded)))
}

// HashContentValue is a convenience wrapper around HashContent for any value
// that can be deterministically JSON-encoded.
func (h *Hasher) HashContentValue(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("hasher: marshal content: %w", err)
	}
	h.HashContent(b)
	return nil
}

// HashFile opens path with symlink-following disabled, streams it in
// chunkSize chunks into both the global hasher and a per-file sub-hasher,
// and records the file's own digest in the manifest.
func (h *Hasher) HashFile(path string) error {
	f, perFile, err := openNoFollow(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	h.h.Write([]byte{0x1f})
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.h.Write(buf[:n])
			perFile.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("hasher: read %s: %w", path, rerr)
		}
	}
	digest := hex.EncodeToString(perFile.Sum(nil))
	h.manifest = append(h.manifest, fmt.Sprintf("file:%s:%s", path, digest))
	return nil
}

// HashGlob expands pattern relative to a canonicalized baseDir (refusing to
// leave it, see SafeGlob), sorts matches lexicographically, and hashes each
// as HashFile would.
func (h *Hasher) HashGlob(pattern, baseDir string) error {
	matches, err := SafeGlob(baseDir, pattern)
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := h.HashFile(m); err != nil {
			return err
		}
	}
	return nil
}

// Finalize consumes the accumulated state and returns the hex digest.
// Resetting is allowed: calling Finalize does not prevent further use.
func (h *Hasher) Finalize() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// Manifest returns every contribution recorded so far, in insertion order.
func (h *Hasher) Manifest() []string {
	out := make([]string, len(h.manifest))
	copy(out, h.manifest)
	return out
}

// Reset clears accumulated state, re-seeding with the original label.
func (h *Hasher) Reset() {
	h.h.Reset()
	h.h.Write([]byte(h.label))
	h.manifest = nil
}

