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

// Package fingerprint combines a task's definition, declared inputs,
// filtered environment, and working directory into one deterministic cache
// key, per spec.md §4.2.
package fingerprint

import (
	"path/filepath"
	"sort"

	"github.com/cuenv/cuenv"
	"github.com/cuenv/cuenv/internal/hasher"
)

// EnvFilter decides which environment variables influence a task's
// fingerprint.
type EnvFilter struct {
	Include       []string
	Exclude       []string
	SmartDefaults bool
	ToolTag       string
}

// smartDefaults is the static tool-family preset table described in
// spec.md §4.2.1: never heuristic, always a fixed list of name globs.
var smartDefaults = map[string][]string{
	"go": {
		"GOOS", "GOARCH", "GOFLAGS", "GOVERSION", "CGO_ENABLED", "CGO_CFLAGS", "CGO_LDFLAGS",
	},
	"node": {
		"NODE_ENV", "NODE_VERSION", "NPM_CONFIG_*",
	},
	"cue": {
		"CUE_EXPERIMENT", "CUE_REGISTRY",
	},
	"generic": {},
}

// matches reports whether name matches any of the glob patterns.
func matches(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Apply filters env against the include/exclude globs (with smart defaults
// folded into Include first), returning only the keys that survive.
func (f EnvFilter) Apply(env map[string]string) map[string]string {
	include := append([]string(nil), f.Include...)
	if f.SmartDefaults {
		tag := f.ToolTag
		if tag == "" {
			tag = "generic"
		}
		include = append(include, smartDefaults[tag]...)
	}

	out := make(map[string]string)
	for k, v := range env {
		if !matches(k, include) {
			continue
		}
		if matches(k, f.Exclude) {
			continue
		}
		out[k] = v
	}
	return out
}

// Task describes the identity and declared surface of one task run, the
// full set of inputs spec.md §4.2 says must contribute to the fingerprint.
type Task struct {
	Name       string
	Package    string
	Command    string
	ScriptHash string
	InputGlobs []string
	Outputs    []string
	WorkDir    string
	ToolVars   []string
	Filter     EnvFilter
}

// Fingerprint builds the CacheKey for one task run against the process
// environment. baseDir anchors glob expansion (spec.md §4.1.1).
func Fingerprint(task Task, env map[string]string, baseDir string) (cuenv.CacheKey, error) {
	h := hasher.New("cuenv.fingerprint.v1")

	if err := h.HashContentValue(struct {
		Name    string
		Package string
		Command string
		Script  string
	}{task.Name, task.Package, task.Command, task.ScriptHash}); err != nil {
		return "", err
	}

	globs := append([]string(nil), task.InputGlobs...)
	sort.Strings(globs)
	for _, g := range globs {
		if err := h.HashGlob(g, baseDir); err != nil {
			return "", err
		}
	}

	outputs := append([]string(nil), task.Outputs...)
	sort.Strings(outputs)
	if err := h.HashContentValue(outputs); err != nil {
		return "", err
	}

	filtered := task.Filter.Apply(env)
	if err := h.HashContentValue(sortedMap(filtered)); err != nil {
		return "", err
	}

	cwd := normalizeDir(task.WorkDir)
	if err := h.HashContentValue(cwd); err != nil {
		return "", err
	}

	toolVals := make(map[string]string, len(task.ToolVars))
	for _, name := range task.ToolVars {
		toolVals[name] = env[name]
	}
	if err := h.HashContentValue(sortedMap(toolVals)); err != nil {
		return "", err
	}

	return cuenv.CacheKey(h.Finalize()), nil
}

// normalizeDir canonicalizes a working directory path: trailing separators
// and "."/".." segments are removed so that spelling differences never
// change the fingerprint (spec.md §4.2 invariant, testable property 5).
func normalizeDir(dir string) string {
	if dir == "" {
		return dir
	}
	return filepath.Clean(dir)
}

// sortedPair is one entry of a deterministically ordered map serialization.
type sortedPair struct {
	K string
	V string
}

// sortedMap renders m as a slice of key-sorted pairs so that JSON encoding
// (which Go already sorts by key for map[string]string, but we make this
// explicit and stable across types) never depends on map iteration order.
func sortedMap(m map[string]string) []sortedPair {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]sortedPair, 0, len(keys))
	for _, k := range keys {
		out = append(out, sortedPair{K: k, V: m[k]})
	}
	return out
}
