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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Tier replicates cache entries to a single S3 bucket under prefix.
type S3Tier struct {
	bucket string
	prefix string
	client *s3.Client
}

// NewS3Tier builds an S3Tier from the ambient AWS configuration (env vars,
// shared config/credentials files, or EC2/ECS role), the same resolution
// the teacher's S3 backend relies on.
func NewS3Tier(ctx context.Context, bucket, prefix string) (*S3Tier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: load aws config: %w", err)
	}
	return &S3Tier{
		bucket: bucket,
		prefix: prefix,
		client: s3.NewFromConfig(cfg),
	}, nil
}

func (t *S3Tier) Upload(ctx context.Context, key string, data []byte) error {
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(t.bucket),
		Key:         aws.String(objectName(t.prefix, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("remote: s3 put %q: %w", key, err)
	}
	return nil
}

func (t *S3Tier) Download(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(objectName(t.prefix, key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("remote: s3 get %q: %w", key, err)
	}
	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, false, fmt.Errorf("remote: s3 read %q: %w", key, err)
	}
	return data, true, nil
}

var _ Tier = (*S3Tier)(nil)
