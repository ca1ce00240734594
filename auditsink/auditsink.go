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

// Package auditsink optionally mirrors the append-only audit log to a
// MySQL table for queryable history. The file-based log remains the
// authority for chain-integrity verification; this is a secondary index
// only, written in batches and best-effort, never on the write path of the
// cache or the audit log itself.
package auditsink

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"k8s.io/klog/v2"

	"github.com/cuenv/cuenv/security"
)

const createTableSQL = "" +
	"CREATE TABLE IF NOT EXISTS `AuditRecord` (" +
	"`sequence` BIGINT UNSIGNED NOT NULL PRIMARY KEY, " +
	"`timestamp` DATETIME(6) NOT NULL, " +
	"`principal` VARCHAR(255) NOT NULL, " +
	"`operation` VARCHAR(64) NOT NULL, " +
	"`cache_key` VARCHAR(512), " +
	"`decision` VARCHAR(64) NOT NULL, " +
	"`prev_hash` CHAR(64) NOT NULL)"

const insertRecordSQL = "" +
	"INSERT IGNORE INTO `AuditRecord` " +
	"(`sequence`, `timestamp`, `principal`, `operation`, `cache_key`, `decision`, `prev_hash`) " +
	"VALUES (?, ?, ?, ?, ?, ?, ?)"

// Sink batches security.AuditRecord writes to a MySQL table, draining an
// in-memory queue on a fixed interval rather than per-record, matching C13's
// never-blocks-the-write discipline. The queue has no size bound: Enqueue
// always appends.
type Sink struct {
	db            *sql.DB
	flushInterval time.Duration

	mu      sync.Mutex
	pending []security.AuditRecord
	done    chan struct{}
	wg      sync.WaitGroup
}

// Open connects to dsn (a standard go-sql-driver/mysql DSN), ensures the
// mirror table exists, and starts the background flush loop.
func Open(ctx context.Context, dsn string, flushInterval time.Duration) (*Sink, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("auditsink: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditsink: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditsink: create table: %w", err)
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	s := &Sink{db: db, flushInterval: flushInterval, done: make(chan struct{})}
	s.wg.Add(1)
	go s.flushLoop()
	return s, nil
}

// Enqueue queues rec for mirroring on the next flush tick. Never blocks
// and never returns an error: a dropped mirror write is not a correctness
// failure, only a gap in the queryable secondary index.
func (s *Sink) Enqueue(rec security.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, rec)
}

func (s *Sink) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			s.flush(context.Background())
			return
		case <-ticker.C:
			s.flush(context.Background())
		}
	}
}

func (s *Sink) flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		klog.Warningf("auditsink: begin tx: %v", err)
		return
	}
	for _, rec := range batch {
		if _, err := tx.ExecContext(ctx, insertRecordSQL,
			rec.Sequence, rec.Timestamp, rec.Principal, rec.Operation, rec.Key, rec.Decision, rec.PrevHash,
		); err != nil {
			klog.Warningf("auditsink: insert record %d: %v", rec.Sequence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		klog.Warningf("auditsink: commit batch of %d: %v", len(batch), err)
	}
}

// Close stops the flush loop, draining any pending batch, and closes the
// underlying connection pool.
func (s *Sink) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}
