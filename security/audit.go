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
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuenv/cuenv"
	"github.com/cuenv/cuenv/internal/canonjson"
)

// AuditRecord is one append-only entry in the audit log, per spec.md §4.7.
// PrevHash chains each record to the one before it so that truncation or
// tampering is detectable by replay.
type AuditRecord struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Principal string    `json:"principal"`
	Operation string    `json:"operation"`
	Key       string    `json:"key,omitempty"`
	Decision  string    `json:"decision"`
	PrevHash  string    `json:"prev_hash"`
}

func (r AuditRecord) hash() (string, error) {
	unhashed := r
	body, err := canonjson.Marshal(unhashed)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%x", sum), nil
}

// AuditLog is an append-only, hash-chained log of authorization decisions,
// persisted as newline-delimited canonical JSON. It plays the same role as
// the teacher's checkpoint log: a sequential, append-only record that can
// be independently replayed and verified.
type AuditLog struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	lastHash string
	seq      uint64
	clock    cuenv.Clock
}

// OpenAuditLog opens (creating if absent) the audit log at path, replaying
// existing records to recover the current chain head and sequence number.
func OpenAuditLog(path string, clock cuenv.Clock) (*AuditLog, error) {
	if clock == nil {
		clock = cuenv.SystemClock{}
	}
	log := &AuditLog{path: path, clock: clock, lastHash: genesisHash}

	if existing, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(existing)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			var rec AuditRecord
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				existing.Close()
				return nil, cuenv.ErrCorruption(cuenv.CorruptionBrokenChain, "parse existing audit record", err)
			}
			if rec.PrevHash != log.lastHash {
				existing.Close()
				return nil, cuenv.ErrCorruption(cuenv.CorruptionBrokenChain, "audit chain discontinuity on replay", nil)
			}
			h, err := rec.hash()
			if err != nil {
				existing.Close()
				return nil, cuenv.ErrSerialization("hash replayed audit record", err)
			}
			log.lastHash = h
			log.seq = rec.Sequence + 1
		}
		existing.Close()
		if err := scanner.Err(); err != nil {
			return nil, cuenv.ErrIO("scan existing audit log", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, cuenv.ErrIO("open audit log", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, cuenv.ErrIO("open audit log for append", err)
	}
	log.file = f
	return log, nil
}

const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisHash returns the sentinel prev_hash value chaining the first
// record in a fresh audit log.
func GenesisHash() string { return genesisHash }

// Record appends a new entry chained to the current head, returning the
// persisted record.
func (l *AuditLog) Record(principal, operation, key, decision string) (AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := AuditRecord{
		Sequence:  l.seq,
		Timestamp: l.clock.Now(),
		Principal: principal,
		Operation: operation,
		Key:       key,
		Decision:  decision,
		PrevHash:  l.lastHash,
	}
	line, err := canonjson.Marshal(rec)
	if err != nil {
		return AuditRecord{}, cuenv.ErrSerialization("marshal audit record", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return AuditRecord{}, cuenv.ErrIO("append audit record", err)
	}
	if err := l.file.Sync(); err != nil {
		return AuditRecord{}, cuenv.ErrIO("fsync audit log", err)
	}
	h, err := rec.hash()
	if err != nil {
		return AuditRecord{}, cuenv.ErrSerialization("hash audit record", err)
	}
	l.lastHash = h
	l.seq++
	return rec, nil
}

// Close closes the underlying file.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// VerifyChain replays path end to end and confirms every record's
// prev_hash matches the hash of its predecessor, returning the number of
// records verified.
func VerifyChain(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, cuenv.ErrIO("open audit log for verification", err)
	}
	defer f.Close()

	prev := genesisHash
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return count, cuenv.ErrCorruption(cuenv.CorruptionBrokenChain, "parse audit record during verification", err)
		}
		if rec.PrevHash != prev {
			return count, cuenv.ErrCorruption(cuenv.CorruptionBrokenChain, fmt.Sprintf("chain break at sequence %d", rec.Sequence), nil)
		}
		h, err := rec.hash()
		if err != nil {
			return count, cuenv.ErrSerialization("hash audit record during verification", err)
		}
		prev = h
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, cuenv.ErrIO("scan audit log during verification", err)
	}
	return count, nil
}
