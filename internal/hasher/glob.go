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

package hasher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/cuenv/cuenv"
)

// SafeGlob expands pattern relative to a canonicalized baseDir, refusing to
// let traversal escape it (spec.md §4.1.1). Expansion uses filepath.Glob,
// which follows symlinked directories; directories are not opened or
// checked one by one along the way. Each match is then Lstat'ed: symlink
// matches and directories are skipped, and the real path of every other
// match is checked to lie within baseDir, so a match reached through a
// symlinked directory that leads outside baseDir fails the whole call with
// an error rather than being skipped.
func SafeGlob(baseDir, pattern string) ([]string, error) {
	canonicalBase, err := filepath.EvalSymlinks(baseDir)
	if err != nil {
		return nil, cuenv.ErrIO(fmt.Sprintf("canonicalize base %q", baseDir), err)
	}

	full := filepath.Join(canonicalBase, pattern)
	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, cuenv.ErrIO(fmt.Sprintf("glob %q", pattern), err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Lstat(m)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, cuenv.ErrIO(fmt.Sprintf("lstat %q", m), err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			klog.V(2).Infof("hasher: skipping symlink %q encountered during glob expansion", m)
			continue
		}
		if info.IsDir() {
			continue
		}
		real, err := realPath(m)
		if err != nil {
			return nil, err
		}
		if !withinBase(canonicalBase, real) {
			return nil, cuenv.ErrKeyInvalid(fmt.Sprintf("glob match %q escapes base directory %q", m, canonicalBase))
		}
		out = append(out, m)
	}
	return out, nil
}

// withinBase reports whether candidate is canonicalBase itself or a
// descendant of it.
func withinBase(canonicalBase, candidate string) bool {
	rel, err := filepath.Rel(canonicalBase, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// realPath resolves path's real on-disk location via the OS, the way the
// per-descriptor procfs symlink does on POSIX; EvalSymlinks gives the same
// answer portably at the cost of a narrow TOCTOU window between the stat
// above and this call, which spec.md §4.1.1 acknowledges as acceptable on
// non-POSIX platforms.
func realPath(path string) (string, error) {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", cuenv.ErrIO(fmt.Sprintf("resolve real path of %q", path), err)
	}
	return real, nil
}

// openNoFollow opens path for reading with symlink-following disabled, and
// returns both the open file and a fresh sub-hasher for HashFile's per-file
// digest.
func openNoFollow(path string) (*os.File, hashState, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, nil, cuenv.ErrIO(fmt.Sprintf("lstat %q", path), err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, nil, cuenv.ErrKeyInvalid(fmt.Sprintf("refusing to follow symlink %q", path))
	}
	f, err := openNoFollowOS(path)
	if err != nil {
		return nil, nil, cuenv.ErrIO(fmt.Sprintf("open %q", path), err)
	}
	return f, newSubHasher(), nil
}
