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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"k8s.io/klog/v2"

	"github.com/cuenv/cuenv"
	"github.com/cuenv/cuenv/storage/local"
)

// Mode selects whether Run blocks until every hook terminates.
type Mode int

const (
	// Foreground blocks until every hook has terminated.
	Foreground Mode = iota
	// Background returns as soon as hooks are spawned; the supervisor
	// completes asynchronously.
	Background
)

const (
	defaultHookTimeout = 60 * time.Second
	defaultGracePeriod = 100 * time.Millisecond
)

// Supervisor runs a directory's preload hooks concurrently, caches their
// captured environment keyed by fingerprint, and publishes per-hook status,
// per spec.md §4.9. Concurrency uses golang.org/x/sync/errgroup the way the
// teacher's witness gateway fans out one goroutine per unit of work and
// collects results without letting one failure cancel its peers.
type Supervisor struct {
	captures    *CaptureStore
	locks       *local.Locks
	statusPath  string
	hookTimeout time.Duration
	gracePeriod time.Duration
	clock       cuenv.Clock

	boardMu sync.Mutex
	board   *statusBoard
}

// NewSupervisor returns a Supervisor. captureDir holds captured-environment
// documents; statusPath is the per-user hooks-status.json path; locks
// provides the cross-invocation fairness gate keyed by fingerprint H.
func NewSupervisor(captureDir, statusPath string, locks *local.Locks, clock cuenv.Clock) (*Supervisor, error) {
	store, err := NewCaptureStore(captureDir)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = cuenv.SystemClock{}
	}
	return &Supervisor{
		captures:    store,
		locks:       locks,
		statusPath:  statusPath,
		hookTimeout: defaultHookTimeout,
		gracePeriod: defaultGracePeriod,
		clock:       clock,
	}, nil
}

// SetHookTimeout overrides the per-hook timeout (test and config hook).
func (s *Supervisor) SetHookTimeout(d time.Duration) { s.hookTimeout = d }

// SetGracePeriod overrides the SIGTERM->SIGKILL grace period.
func (s *Supervisor) SetGracePeriod(d time.Duration) { s.gracePeriod = d }

// Run filters hookList to preload hooks, computes their fingerprint, and
// either serves a cached capture or runs them, per spec.md §4.9 steps 1-6.
// In Background mode with no cached capture available, Run spawns the
// hooks and returns (nil, nil) immediately; the caller polls the status
// document for completion.
func (s *Supervisor) Run(ctx context.Context, mode Mode, hookList []Hook, baseDir string) (*CapturedEnvironment, error) {
	filtered := filterPreload(hookList)
	if len(filtered) == 0 {
		return &CapturedEnvironment{EnvVars: map[string]string{}, Timestamp: s.clock.Now()}, nil
	}

	h, err := Fingerprint(filtered, baseDir)
	if err != nil {
		return nil, err
	}

	if env, ok, err := s.captures.Lookup(h); err != nil {
		return nil, err
	} else if ok {
		return env, nil
	}

	key := cuenv.CacheKey(h)
	unlock, acquired, err := s.locks.TryExclusive(key)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return s.waitForPeer(ctx, mode, h, key)
	}

	if mode == Background {
		go func() {
			defer unlock()
			if _, err := s.runHooks(context.Background(), filtered, h); err != nil {
				klog.Warningf("hooks: background run for %q failed: %v", h, err)
			}
		}()
		return nil, nil
	}

	defer unlock()
	return s.runHooks(ctx, filtered, h)
}

// waitForPeer handles the case where another supervisor invocation already
// holds H's exclusive lock: per spec.md §4.9 invariants, a Foreground
// caller waits on the shared lock for H rather than racing the active run;
// a Background caller simply returns, leaving the status document to speak
// for itself.
func (s *Supervisor) waitForPeer(ctx context.Context, mode Mode, h string, key cuenv.CacheKey) (*CapturedEnvironment, error) {
	if mode == Background {
		return nil, nil
	}
	timeout := s.hookTimeout + s.gracePeriod + 5*time.Second
	release, err := s.locks.Shared(ctx, key, timeout)
	if err != nil {
		return nil, err
	}
	defer release()

	env, ok, err := s.captures.Lookup(h)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cuenv.ErrIO(fmt.Sprintf("hook supervisor: no capture for %q after peer completed", h), nil)
	}
	return env, nil
}

func filterPreload(hookList []Hook) []Hook {
	out := make([]Hook, 0, len(hookList))
	for _, h := range hookList {
		if h.Preload {
			out = append(out, h)
		}
	}
	return out
}

func hookKey(h Hook, index int) string {
	return fmt.Sprintf("%d:%s", index, h.Command)
}

// runHooks publishes initial status, runs every hook concurrently, merges
// source hooks' captured stdout, and persists the result under h.
func (s *Supervisor) runHooks(ctx context.Context, hookList []Hook, h string) (*CapturedEnvironment, error) {
	keys := make([]string, len(hookList))
	for i, hk := range hookList {
		keys[i] = hookKey(hk, i)
	}
	board := newStatusBoard(s.statusPath, keys)
	s.boardMu.Lock()
	s.board = board
	s.boardMu.Unlock()
	defer board.clear()

	delta := newEnvDelta()

	var g errgroup.Group
	for i, hk := range hookList {
		i, hk := i, hk
		key := keys[i]
		g.Go(func() error {
			s.runOne(ctx, key, hk, board, delta)
			return nil
		})
	}
	_ = g.Wait()

	env := CapturedEnvironment{
		EnvVars:   delta.snapshot(),
		InputHash: h,
		Timestamp: s.clock.Now(),
	}
	if err := s.captures.Persist(h, env); err != nil {
		return nil, err
	}
	return &env, nil
}

// runOne spawns hk's command, enforcing the per-hook timeout and the
// SIGTERM-then-grace-then-SIGKILL cancellation discipline of spec.md §5.
// A hook's failure is recorded as status, never propagated: partial
// progress from its peers remains valuable.
func (s *Supervisor) runOne(parent context.Context, key string, hk Hook, board *statusBoard, delta *envDelta) {
	ctx, cancel := context.WithTimeout(parent, s.hookTimeout)
	defer cancel()

	cmd := exec.Command(hk.Command, hk.Args...)
	cmd.Dir = hk.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		board.set(key, StateFailed, 0, err.Error())
		return
	}
	board.set(key, StateRunning, cmd.Process.Pid, "")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			board.set(key, StateFailed, cmd.Process.Pid, err.Error())
			return
		}
	case <-ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		grace := time.NewTimer(s.gracePeriod)
		defer grace.Stop()
		select {
		case <-done:
			board.set(key, StateFailed, cmd.Process.Pid, "timed out")
			return
		case <-grace.C:
			_ = cmd.Process.Kill()
			<-done
			board.set(key, StateFailed, cmd.Process.Pid, "timed out, killed after grace period")
			return
		}
	}

	board.set(key, StateDone, cmd.Process.Pid, "")
	if hk.Source {
		delta.merge(ParseEnvOutput(stdout.String()))
	}
}

// Status returns the current in-process status snapshot of the most
// recent runHooks call serviced by board; intended for tests and for a
// status-polling client sharing this process.
func (s *Supervisor) Status() StatusDocument {
	return s.lastBoard().snapshot()
}

func (s *Supervisor) lastBoard() *statusBoard {
	s.boardMu.Lock()
	defer s.boardMu.Unlock()
	if s.board == nil {
		return newStatusBoard("", nil)
	}
	return s.board
}

// envDelta accumulates source hooks' captured variables under a mutex so
// concurrent errgroup workers can merge into it safely.
type envDelta struct {
	mu   sync.Mutex
	vars map[string]string
}

func newEnvDelta() *envDelta { return &envDelta{vars: map[string]string{}} }

func (d *envDelta) merge(vars map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range vars {
		d.vars[k] = v
	}
}

func (d *envDelta) snapshot() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.vars))
	for k, v := range d.vars {
		out[k] = v
	}
	return out
}
