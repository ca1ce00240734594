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

// Package config resolves one effective cache configuration from four
// layers of decreasing-to-increasing precedence: built-in defaults, a JSON
// config file, process environment variables, and command-line flags
// (spec.md §4.11). It is grounded on the flag-with-env-fallback pattern used
// throughout the teacher corpus's cmd/ entrypoints, generalized from a
// single field to a whole struct, and records where each field's value came
// from for diagnostics.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cuenv/cuenv"
)

// Source names the layer a field's effective value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// Config is the resolved, effective cache configuration recognized per
// spec.md §6 and SPEC_FULL.md §6.
type Config struct {
	BaseDir                string
	MaxSizeBytes           int64
	MaxEntries             int
	MaxMemoryBytes         int64
	MaxDiskBytes           int64
	DefaultTTL             time.Duration
	CompressionEnabled     bool
	CompressionLevel       int
	CompressionMinSize     int64
	StreamingThreshold     int64
	CleanupInterval        time.Duration
	EvictionPolicy         string
	RequireSignatures      bool
	EnableAccessControl    bool
	EnableAuditLogging     bool
	EnableMerkleTree       bool
	LockTimeout            time.Duration
	RemoteTier             string
	RemoteBucket           string
	RemotePrefix           string
	RemoteHydrationEnabled bool
	MetricsEnabled         bool
	MetricsPrometheusAddr  string
	AuditSQLDSN            string
	ToolTag                string

	// Sources records, per exported field name, which layer supplied the
	// effective value. Populated only by Resolve.
	Sources map[string]Source
}

// Defaults returns the built-in baseline configuration.
func Defaults() Config {
	return Config{
		BaseDir:            defaultBaseDir(),
		MaxSizeBytes:       1 << 30, // 1 GiB
		MaxEntries:         100_000,
		MaxMemoryBytes:     256 << 20,
		MaxDiskBytes:       10 << 30,
		DefaultTTL:         0,
		CompressionEnabled: true,
		CompressionLevel:   3,
		CompressionMinSize: 4 << 10,
		StreamingThreshold: 1 << 20,
		CleanupInterval:    60 * time.Second,
		EvictionPolicy:     "lru",
		LockTimeout:        30 * time.Second,
		RemoteTier:         "none",
		ToolTag:            "generic",
		Sources:            map[string]Source{},
	}
}

func defaultBaseDir() string {
	if d, err := os.UserCacheDir(); err == nil {
		return d + "/cuenv"
	}
	return os.TempDir() + "/cuenv"
}

// FileLayer is the subset of Config fields a JSON config file may set; a
// pointer field left nil means "not set at this layer". Durations are
// strings parsed with time.ParseDuration (e.g. "30s"), matching the
// convention json config files use throughout spec.md §6.
type FileLayer struct {
	BaseDir                *string `json:"base_dir,omitempty"`
	MaxSizeBytes           *int64  `json:"max_size_bytes,omitempty"`
	MaxEntries             *int    `json:"max_entries,omitempty"`
	MaxMemoryBytes         *int64  `json:"max_memory_bytes,omitempty"`
	MaxDiskBytes           *int64  `json:"max_disk_bytes,omitempty"`
	DefaultTTL             *string `json:"default_ttl,omitempty"`
	CompressionEnabled     *bool   `json:"compression_enabled,omitempty"`
	CompressionLevel       *int    `json:"compression_level,omitempty"`
	CompressionMinSize     *int64  `json:"compression_min_size,omitempty"`
	StreamingThreshold     *int64  `json:"streaming_threshold,omitempty"`
	CleanupInterval        *string `json:"cleanup_interval,omitempty"`
	EvictionPolicy         *string `json:"eviction_policy,omitempty"`
	RequireSignatures      *bool   `json:"require_signatures,omitempty"`
	EnableAccessControl    *bool   `json:"enable_access_control,omitempty"`
	EnableAuditLogging     *bool   `json:"enable_audit_logging,omitempty"`
	EnableMerkleTree       *bool   `json:"enable_merkle_tree,omitempty"`
	LockTimeout            *string `json:"lock_timeout,omitempty"`
	RemoteTier             *string `json:"remote_tier,omitempty"`
	RemoteBucket           *string `json:"remote_bucket,omitempty"`
	RemotePrefix           *string `json:"remote_prefix,omitempty"`
	RemoteHydrationEnabled *bool   `json:"remote_hydration_enabled,omitempty"`
	MetricsEnabled         *bool   `json:"metrics_enabled,omitempty"`
	MetricsPrometheusAddr  *string `json:"metrics_prometheus_addr,omitempty"`
	AuditSQLDSN            *string `json:"audit_sql_dsn,omitempty"`
	ToolTag                *string `json:"tool_tag,omitempty"`
}

// LoadFile parses a JSON config file at path. A missing file is not an
// error: it simply contributes nothing to this layer.
func LoadFile(path string) (*FileLayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileLayer{}, nil
		}
		return nil, cuenv.ErrIO(fmt.Sprintf("read config file %q", path), err)
	}
	var fl FileLayer
	if err := json.Unmarshal(data, &fl); err != nil {
		return nil, cuenv.ErrSerialization(fmt.Sprintf("parse config file %q", path), err)
	}
	return &fl, nil
}

// EnvLayer reads process environment variables under the given prefix
// (e.g. "CUENV_") into the same field set FileLayer exposes.
func EnvLayer(prefix string) FileLayer {
	var fl FileLayer
	str := func(name string) *string {
		if v, ok := os.LookupEnv(prefix + name); ok {
			return &v
		}
		return nil
	}
	boolv := func(name string) *bool {
		if v, ok := os.LookupEnv(prefix + name); ok {
			b := v == "1" || v == "true"
			return &b
		}
		return nil
	}
	intv := func(name string) *int {
		if v, ok := os.LookupEnv(prefix + name); ok {
			if n, err := strconv.Atoi(v); err == nil {
				return &n
			}
		}
		return nil
	}
	int64v := func(name string) *int64 {
		if v, ok := os.LookupEnv(prefix + name); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return &n
			}
		}
		return nil
	}

	fl.BaseDir = str("BASE_DIR")
	fl.MaxSizeBytes = int64v("MAX_SIZE_BYTES")
	fl.MaxEntries = intv("MAX_ENTRIES")
	fl.MaxMemoryBytes = int64v("MAX_MEMORY_BYTES")
	fl.MaxDiskBytes = int64v("MAX_DISK_BYTES")
	fl.DefaultTTL = str("DEFAULT_TTL")
	fl.CompressionEnabled = boolv("COMPRESSION_ENABLED")
	fl.CompressionLevel = intv("COMPRESSION_LEVEL")
	fl.CompressionMinSize = int64v("COMPRESSION_MIN_SIZE")
	fl.StreamingThreshold = int64v("STREAMING_THRESHOLD")
	fl.CleanupInterval = str("CLEANUP_INTERVAL")
	fl.EvictionPolicy = str("EVICTION_POLICY")
	fl.RequireSignatures = boolv("REQUIRE_SIGNATURES")
	fl.EnableAccessControl = boolv("ENABLE_ACCESS_CONTROL")
	fl.EnableAuditLogging = boolv("ENABLE_AUDIT_LOGGING")
	fl.EnableMerkleTree = boolv("ENABLE_MERKLE_TREE")
	fl.LockTimeout = str("LOCK_TIMEOUT")
	fl.RemoteTier = str("REMOTE_TIER")
	fl.RemoteBucket = str("REMOTE_BUCKET")
	fl.RemotePrefix = str("REMOTE_PREFIX")
	fl.RemoteHydrationEnabled = boolv("REMOTE_HYDRATION_ENABLED")
	fl.MetricsEnabled = boolv("METRICS_ENABLED")
	fl.MetricsPrometheusAddr = str("METRICS_PROMETHEUS_ADDR")
	fl.AuditSQLDSN = str("AUDIT_SQL_DSN")
	fl.ToolTag = str("TOOL_TAG")
	return fl
}

// Resolve layers defaults < file < env < flags into one effective Config,
// recording the winning source per field. Each named layer may be nil to
// mean "supplies nothing".
func Resolve(file, env, flags *FileLayer) Config {
	cfg := Defaults()
	apply := func(fl *FileLayer, src Source) {
		if fl == nil {
			return
		}
		if fl.BaseDir != nil {
			cfg.BaseDir = *fl.BaseDir
			cfg.Sources["BaseDir"] = src
		}
		if fl.MaxSizeBytes != nil {
			cfg.MaxSizeBytes = *fl.MaxSizeBytes
			cfg.Sources["MaxSizeBytes"] = src
		}
		if fl.MaxEntries != nil {
			cfg.MaxEntries = *fl.MaxEntries
			cfg.Sources["MaxEntries"] = src
		}
		if fl.MaxMemoryBytes != nil {
			cfg.MaxMemoryBytes = *fl.MaxMemoryBytes
			cfg.Sources["MaxMemoryBytes"] = src
		}
		if fl.MaxDiskBytes != nil {
			cfg.MaxDiskBytes = *fl.MaxDiskBytes
			cfg.Sources["MaxDiskBytes"] = src
		}
		if fl.DefaultTTL != nil {
			if d, err := time.ParseDuration(*fl.DefaultTTL); err == nil {
				cfg.DefaultTTL = d
				cfg.Sources["DefaultTTL"] = src
			}
		}
		if fl.CompressionEnabled != nil {
			cfg.CompressionEnabled = *fl.CompressionEnabled
			cfg.Sources["CompressionEnabled"] = src
		}
		if fl.CompressionLevel != nil {
			cfg.CompressionLevel = *fl.CompressionLevel
			cfg.Sources["CompressionLevel"] = src
		}
		if fl.CompressionMinSize != nil {
			cfg.CompressionMinSize = *fl.CompressionMinSize
			cfg.Sources["CompressionMinSize"] = src
		}
		if fl.StreamingThreshold != nil {
			cfg.StreamingThreshold = *fl.StreamingThreshold
			cfg.Sources["StreamingThreshold"] = src
		}
		if fl.CleanupInterval != nil {
			if d, err := time.ParseDuration(*fl.CleanupInterval); err == nil {
				cfg.CleanupInterval = d
				cfg.Sources["CleanupInterval"] = src
			}
		}
		if fl.EvictionPolicy != nil {
			cfg.EvictionPolicy = *fl.EvictionPolicy
			cfg.Sources["EvictionPolicy"] = src
		}
		if fl.RequireSignatures != nil {
			cfg.RequireSignatures = *fl.RequireSignatures
			cfg.Sources["RequireSignatures"] = src
		}
		if fl.EnableAccessControl != nil {
			cfg.EnableAccessControl = *fl.EnableAccessControl
			cfg.Sources["EnableAccessControl"] = src
		}
		if fl.EnableAuditLogging != nil {
			cfg.EnableAuditLogging = *fl.EnableAuditLogging
			cfg.Sources["EnableAuditLogging"] = src
		}
		if fl.EnableMerkleTree != nil {
			cfg.EnableMerkleTree = *fl.EnableMerkleTree
			cfg.Sources["EnableMerkleTree"] = src
		}
		if fl.LockTimeout != nil {
			if d, err := time.ParseDuration(*fl.LockTimeout); err == nil {
				cfg.LockTimeout = d
				cfg.Sources["LockTimeout"] = src
			}
		}
		if fl.RemoteTier != nil {
			cfg.RemoteTier = *fl.RemoteTier
			cfg.Sources["RemoteTier"] = src
		}
		if fl.RemoteBucket != nil {
			cfg.RemoteBucket = *fl.RemoteBucket
			cfg.Sources["RemoteBucket"] = src
		}
		if fl.RemotePrefix != nil {
			cfg.RemotePrefix = *fl.RemotePrefix
			cfg.Sources["RemotePrefix"] = src
		}
		if fl.RemoteHydrationEnabled != nil {
			cfg.RemoteHydrationEnabled = *fl.RemoteHydrationEnabled
			cfg.Sources["RemoteHydrationEnabled"] = src
		}
		if fl.MetricsEnabled != nil {
			cfg.MetricsEnabled = *fl.MetricsEnabled
			cfg.Sources["MetricsEnabled"] = src
		}
		if fl.MetricsPrometheusAddr != nil {
			cfg.MetricsPrometheusAddr = *fl.MetricsPrometheusAddr
			cfg.Sources["MetricsPrometheusAddr"] = src
		}
		if fl.AuditSQLDSN != nil {
			cfg.AuditSQLDSN = *fl.AuditSQLDSN
			cfg.Sources["AuditSQLDSN"] = src
		}
		if fl.ToolTag != nil {
			cfg.ToolTag = *fl.ToolTag
			cfg.Sources["ToolTag"] = src
		}
	}
	apply(file, SourceFile)
	apply(env, SourceEnv)
	apply(flags, SourceFlag)
	return cfg
}

// Validate rejects configurations that can never function correctly.
func Validate(c Config) error {
	if c.BaseDir == "" {
		return cuenv.ErrConfigInvalid("base_dir must not be empty")
	}
	if c.MaxEntries <= 0 {
		return cuenv.ErrConfigInvalid("max_entries must be positive")
	}
	if c.EvictionPolicy != "lru" {
		return cuenv.ErrConfigInvalid(fmt.Sprintf("unsupported eviction_policy %q", c.EvictionPolicy))
	}
	switch c.RemoteTier {
	case "none", "s3", "gcs":
	default:
		return cuenv.ErrConfigInvalid(fmt.Sprintf("unsupported remote_tier %q", c.RemoteTier))
	}
	return nil
}
