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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuenv/cuenv/storage/local"
)

func newTestSupervisor(t *testing.T) (*Supervisor, string) {
	t.Helper()
	base := t.TempDir()
	captureDir := filepath.Join(base, "preload-cache")
	statusPath := filepath.Join(base, "hooks-status.json")
	locks := local.NewLocks(base)
	sup, err := NewSupervisor(captureDir, statusPath, locks, nil)
	require.NoError(t, err)
	return sup, base
}

func TestSupervisor_RunsSourceHookAndCapturesEnv(t *testing.T) {
	sup, base := newTestSupervisor(t)
	hookList := []Hook{
		{Command: "sh", Args: []string{"-c", "echo FOO=bar"}, Preload: true, Source: true},
	}
	env, err := sup.Run(context.Background(), Foreground, hookList, base)
	require.NoError(t, err)
	require.Equal(t, "bar", env.EnvVars["FOO"])
}

func TestSupervisor_SkipsNonPreloadHooks(t *testing.T) {
	sup, base := newTestSupervisor(t)
	hookList := []Hook{
		{Command: "sh", Args: []string{"-c", "echo FOO=bar"}, Preload: false, Source: true},
	}
	env, err := sup.Run(context.Background(), Foreground, hookList, base)
	require.NoError(t, err)
	require.Empty(t, env.EnvVars)
}

func TestSupervisor_FailedHookDoesNotPoisonOthers(t *testing.T) {
	sup, base := newTestSupervisor(t)
	hookList := []Hook{
		{Command: "sh", Args: []string{"-c", "exit 1"}, Preload: true, Source: false},
		{Command: "sh", Args: []string{"-c", "echo OK=yes"}, Preload: true, Source: true},
	}
	env, err := sup.Run(context.Background(), Foreground, hookList, base)
	require.NoError(t, err)
	require.Equal(t, "yes", env.EnvVars["OK"])
}

func TestSupervisor_CachesCaptureAcrossRuns(t *testing.T) {
	sup, base := newTestSupervisor(t)
	script := filepath.Join(base, "hook.sh")
	marker := filepath.Join(t.TempDir(), "runs.log")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho ran >> "+marker+"\necho RUN=once\n"), 0o755))

	hookList := []Hook{
		{Command: "sh", Args: []string{script}, Preload: true, Source: true},
	}
	env1, err := sup.Run(context.Background(), Foreground, hookList, base)
	require.NoError(t, err)
	require.Equal(t, "once", env1.EnvVars["RUN"])

	env2, err := sup.Run(context.Background(), Foreground, hookList, base)
	require.NoError(t, err)
	require.Equal(t, env1.InputHash, env2.InputHash)

	// The second Run is served from the cached capture: the hook ran once.
	runs, err := os.ReadFile(marker)
	require.NoError(t, err)
	require.Equal(t, "ran\n", string(runs))
}

func TestSupervisor_TimeoutKillsHook(t *testing.T) {
	sup, base := newTestSupervisor(t)
	sup.SetHookTimeout(50 * time.Millisecond)
	sup.SetGracePeriod(10 * time.Millisecond)
	hookList := []Hook{
		{Command: "sh", Args: []string{"-c", "sleep 5"}, Preload: true},
	}
	_, err := sup.Run(context.Background(), Foreground, hookList, base)
	require.NoError(t, err)
}
