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

package hooks

import (
	"sort"

	"github.com/cuenv/cuenv"
	"github.com/cuenv/cuenv/internal/hasher"
)

// Hook describes one preload hook declaration, per spec.md §4.9.
type Hook struct {
	Command string
	Args    []string
	Dir     string
	Preload bool
	Source  bool
	Inputs  []string
}

// inputStamp is one (path, mtime) contribution to the supervisor's
// fingerprint H. Unlike C2's Fingerprint, which hashes file content, H
// deliberately uses modification time: the supervisor's job is to decide
// whether to re-run hooks cheaply on every shell prompt, and stat-ing every
// declared input is far cheaper than reading it.
type inputStamp struct {
	Path  string
	Mtime int64
}

// Fingerprint computes H over the filtered hook set, in input order, per
// spec.md §4.9 step 2.
func Fingerprint(hooksList []Hook, baseDir string) (string, error) {
	h := hasher.New("cuenv.hooks.v1")

	for _, hk := range hooksList {
		if !hk.Preload {
			continue
		}
		if err := h.HashContentValue(struct {
			Command string
			Args    []string
			Dir     string
			Source  bool
		}{hk.Command, hk.Args, hk.Dir, hk.Source}); err != nil {
			return "", err
		}

		var stamps []inputStamp
		for _, pattern := range hk.Inputs {
			matches, err := hasher.SafeGlob(baseDir, pattern)
			if err != nil {
				return "", err
			}
			for _, m := range matches {
				mtime, err := statMtime(m)
				if err != nil {
					return "", cuenv.ErrIO("stat hook input "+m, err)
				}
				stamps = append(stamps, inputStamp{Path: m, Mtime: mtime})
			}
		}
		sort.Slice(stamps, func(i, j int) bool { return stamps[i].Path < stamps[j].Path })
		if err := h.HashContentValue(stamps); err != nil {
			return "", err
		}
	}
	return h.Finalize(), nil
}
