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
	"sync"
)

// HookState is one state in a hook's lifecycle, per spec.md §3.
type HookState string

const (
	StatePending HookState = "pending"
	StateRunning HookState = "running"
	StateDone    HookState = "done"
	StateFailed  HookState = "failed"
)

// HookStatus is one hook's status within an aggregated StatusDocument.
type HookStatus struct {
	Key     string    `json:"key"`
	State   HookState `json:"state"`
	PID     int       `json:"pid,omitempty"`
	Message string    `json:"message,omitempty"`
}

// StatusDocument is the aggregated status spec.md §6 says is published to
// hooks-status.json, readable concurrently by status-polling clients.
type StatusDocument struct {
	Hooks []HookStatus `json:"hooks"`
}

// statusBoard tracks in-memory hook state and flushes it to disk on every
// transition. Safe for concurrent use by the supervisor's per-hook workers.
type statusBoard struct {
	mu     sync.Mutex
	byKey  map[string]*HookStatus
	order  []string
	path   string
}

func newStatusBoard(path string, keys []string) *statusBoard {
	b := &statusBoard{byKey: make(map[string]*HookStatus), path: path}
	for _, k := range keys {
		b.byKey[k] = &HookStatus{Key: k, State: StatePending}
		b.order = append(b.order, k)
	}
	return b
}

func (b *statusBoard) set(key string, state HookState, pid int, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.byKey[key]
	if !ok {
		st = &HookStatus{Key: key}
		b.byKey[key] = st
		b.order = append(b.order, key)
	}
	st.State = state
	st.PID = pid
	st.Message = message
	_ = b.flushLocked()
}

func (b *statusBoard) flushLocked() error {
	if b.path == "" {
		return nil
	}
	doc := StatusDocument{Hooks: make([]HookStatus, 0, len(b.order))}
	for _, k := range b.order {
		doc.Hooks = append(doc.Hooks, *b.byKey[k])
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return atomicWriteJSON(b.path, data)
}

// clear publishes an empty status document once every hook has terminated,
// per spec.md §4.9 step 6.
func (b *statusBoard) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byKey = make(map[string]*HookStatus)
	b.order = nil
	_ = b.flushLocked()
}

// snapshot returns the current status document, for status-polling clients
// running in the same process (e.g. tests).
func (b *statusBoard) snapshot() StatusDocument {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc := StatusDocument{Hooks: make([]HookStatus, 0, len(b.order))}
	for _, k := range b.order {
		doc.Hooks = append(doc.Hooks, *b.byKey[k])
	}
	return doc
}
