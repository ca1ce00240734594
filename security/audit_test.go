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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuditLog_RecordAndVerifyChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log, err := OpenAuditLog(path, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := log.Record("alice", "get", "k1", "authorized")
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())

	count, err := VerifyChain(path)
	require.NoError(t, err)
	require.Equal(t, 5, count)
}

func TestAuditLog_DetectsTruncationTamper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log, err := OpenAuditLog(path, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := log.Record("alice", "put", "k1", "authorized")
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := splitLines(data)
	require.Len(t, lines, 3)
	// Drop the middle line, breaking the hash chain.
	tampered := append(append([]byte{}, lines[0]...), lines[2]...)
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	_, err = VerifyChain(path)
	require.Error(t, err)
}

func TestAuditLog_ReopenResumesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log, err := OpenAuditLog(path, nil)
	require.NoError(t, err)
	_, err = log.Record("alice", "get", "k1", "authorized")
	require.NoError(t, err)
	require.NoError(t, log.Close())

	reopened, err := OpenAuditLog(path, nil)
	require.NoError(t, err)
	rec, err := reopened.Record("bob", "put", "k2", "authorized")
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec.Sequence)
	require.NoError(t, reopened.Close())

	count, err := VerifyChain(path)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i+1])
			start = i + 1
		}
	}
	return lines
}
