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

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

// GCSTier replicates cache entries to a single GCS bucket under prefix.
type GCSTier struct {
	bucket string
	prefix string
	client *gcs.Client
}

// NewGCSTier builds a GCSTier using the ambient Google application-default
// credentials, the same resolution the teacher's GCS backend relies on.
func NewGCSTier(ctx context.Context, bucket, prefix string) (*GCSTier, error) {
	c, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: new gcs client: %w", err)
	}
	return &GCSTier{bucket: bucket, prefix: prefix, client: c}, nil
}

func (t *GCSTier) Upload(ctx context.Context, key string, data []byte) error {
	obj := t.client.Bucket(t.bucket).Object(objectName(t.prefix, key))
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("remote: gcs write %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("remote: gcs close %q: %w", key, err)
	}
	return nil
}

func (t *GCSTier) Download(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := t.client.Bucket(t.bucket).Object(objectName(t.prefix, key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("remote: gcs reader %q: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("remote: gcs read %q: %w", key, err)
	}
	return data, true, nil
}

var _ Tier = (*GCSTier)(nil)
