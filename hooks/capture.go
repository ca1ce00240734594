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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuenv/cuenv"
	"github.com/cuenv/cuenv/internal/canonjson"
)

// CapturedEnvironment is the persisted result of running a hook set once,
// per spec.md §3.
type CapturedEnvironment struct {
	EnvVars   map[string]string `json:"env_vars"`
	InputHash string            `json:"input_hash"`
	Timestamp time.Time         `json:"timestamp"`
}

// CaptureStore persists CapturedEnvironment documents keyed by fingerprint
// H, plus a "latest" copy, under a per-user runtime directory, per spec.md
// §6 ("Hook supervisor I/O").
type CaptureStore struct {
	dir string
}

// NewCaptureStore returns a store rooted at dir, creating it if necessary.
func NewCaptureStore(dir string) (*CaptureStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, cuenv.ErrIO(fmt.Sprintf("create preload cache directory %q", dir), err)
	}
	return &CaptureStore{dir: dir}, nil
}

func (s *CaptureStore) pathFor(h string) string {
	return filepath.Join(s.dir, h+".json")
}

func (s *CaptureStore) latestPath() string {
	return filepath.Join(s.dir, "latest_env.json")
}

// Lookup returns the captured environment for fingerprint h, if present.
func (s *CaptureStore) Lookup(h string) (*CapturedEnvironment, bool, error) {
	data, err := os.ReadFile(s.pathFor(h))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, cuenv.ErrIO("read captured environment", err)
	}
	var env CapturedEnvironment
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, cuenv.ErrCorruption(cuenv.CorruptionHashMismatch, "parse captured environment", err)
	}
	return &env, true, nil
}

// Persist atomically writes env under h and refreshes the latest pointer.
func (s *CaptureStore) Persist(h string, env CapturedEnvironment) error {
	data, err := canonjson.Marshal(env)
	if err != nil {
		return cuenv.ErrSerialization("marshal captured environment", err)
	}
	if err := atomicWriteJSON(s.pathFor(h), data); err != nil {
		return err
	}
	return atomicWriteJSON(s.latestPath(), data)
}

// atomicWriteJSON writes data to path via a temp-file-then-rename, the same
// discipline the cache store's write path uses: a partial write is never
// visible at path.
func atomicWriteJSON(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return cuenv.ErrIO(fmt.Sprintf("create temp file in %q", dir), err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return cuenv.ErrIO("write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return cuenv.ErrIO("fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return cuenv.ErrIO("close temp file", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return cuenv.ErrIO("chmod temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return cuenv.ErrIO(fmt.Sprintf("rename into place %q", path), err)
	}
	cleanup = false
	return nil
}
