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

// Package remote mirrors committed cache entries to object storage and
// opportunistically hydrates cold local misses from it. It never sits on
// the correctness path: replication is async and best-effort, and
// hydration is consulted only after a confirmed local miss.
package remote

import (
	"context"
	"fmt"
)

// Tier uploads and downloads whole entry payloads keyed by cache key. S3
// and GCS implementations both satisfy it; callers never see the SDK
// underneath.
type Tier interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, bool, error)
}

// ReplicationRecord tracks C13's best-effort mirroring state for one key.
// It is never consulted for correctness, only for observability/recovery.
type ReplicationRecord struct {
	Key          string
	ContentHash  string
	RemoteURI    string
	ReplicatedAt int64
	Attempts     int
}

func objectName(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", prefix, key)
}
