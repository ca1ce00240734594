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

// cuenv-cached wires together the content-addressed cache, the security
// and remote-tier decorators, and the preload hook supervisor into one
// long-running process, the way the teacher's cmd/example-posix wires a
// storage backend from flags and environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/cuenv/cuenv/auditsink"
	"github.com/cuenv/cuenv/hooks"
	"github.com/cuenv/cuenv/internal/config"
	"github.com/cuenv/cuenv/metrics"
	"github.com/cuenv/cuenv/remote"
	"github.com/cuenv/cuenv/security"
	"github.com/cuenv/cuenv/stats"
	"github.com/cuenv/cuenv/storage/local"

	"github.com/cuenv/cuenv"
)

var (
	configFile = flag.String("config_file", "", "Path to a JSON configuration file.")
	baseDir    = flag.String("base_dir", "", "Cache root directory. Overrides config file and CUENV_BASE_DIR.")
	remoteTier = flag.String("remote_tier", "", "Remote replication tier: none, s3, or gcs. Overrides config file and CUENV_REMOTE_TIER.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	fileLayer, err := config.LoadFile(*configFile)
	if err != nil {
		klog.Exitf("Failed to load config file: %v", err)
	}
	envLayer := config.EnvLayer("CUENV_")

	var flagLayer config.FileLayer
	if *baseDir != "" {
		flagLayer.BaseDir = baseDir
	}
	if *remoteTier != "" {
		flagLayer.RemoteTier = remoteTier
	}

	cfg := config.Resolve(fileLayer, &envLayer, &flagLayer)
	if err := config.Validate(cfg); err != nil {
		klog.Exitf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sysctx := cuenv.NewSystemContext()
	go func() {
		<-ctx.Done()
		sysctx.Shutdown()
	}()

	c, err := buildCache(ctx, sysctx, cfg)
	if err != nil {
		klog.Exitf("Failed to build cache: %v", err)
	}

	sup, err := buildSupervisor(cfg)
	if err != nil {
		klog.Exitf("Failed to build hook supervisor: %v", err)
	}

	klog.Infof("cuenv-cached ready: base_dir=%s remote_tier=%s metrics=%v", cfg.BaseDir, cfg.RemoteTier, cfg.MetricsEnabled)
	_ = c
	_ = sup

	<-ctx.Done()
	klog.Info("shutting down")
}

// buildCache assembles the C3 local store, optionally wrapped with the
// security decorator (capability checks + audit log + Merkle tree) and the
// remote-tier decorator, per the layering in SPEC_FULL.md §4.
func buildCache(ctx context.Context, sysctx *cuenv.SystemContext, cfg config.Config) (cuenv.Cache, error) {
	bus := stats.NewBus()

	var sink *metrics.Sink
	if cfg.MetricsEnabled {
		var err error
		sink, err = metrics.New()
		if err != nil {
			return nil, fmt.Errorf("build metrics sink: %w", err)
		}
		bus.Subscribe(sink)
		if cfg.MetricsPrometheusAddr != "" {
			metrics.ServeScrapeEndpoint(ctx, cfg.MetricsPrometheusAddr)
		}
	}

	var signer *security.Signer
	if cfg.RequireSignatures {
		s, err := security.LoadOrGenerateSigner(cfg.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("load signer: %w", err)
		}
		signer = s
	}

	storeOpts := local.Options{
		BaseDir:            cfg.BaseDir,
		CompressionEnabled: cfg.CompressionEnabled,
		CompressionLevel:   cfg.CompressionLevel,
		CompressionMinSize: cfg.CompressionMinSize,
		StreamingThreshold: cfg.StreamingThreshold,
		LockTimeout:        cfg.LockTimeout,
		Bus:                bus,
	}
	if signer != nil {
		storeOpts.Signer = signer
	}
	if cfg.MaxMemoryBytes > 0 {
		storeOpts.MemoryTier = local.NewMemoryTier(cfg.MaxEntries, cfg.MaxMemoryBytes, func(key cuenv.CacheKey, size int64) {
			bus.Observe(stats.Event{Kind: stats.EventEviction, Bytes: size, Reason: "memory_tier_cap"})
		})
	}
	store, err := local.NewStore(storeOpts)
	if err != nil {
		return nil, fmt.Errorf("new store: %w", err)
	}

	eviction := local.NewEviction(store, local.EvictionOptions{
		MaxEntries:      cfg.MaxEntries,
		MaxDiskBytes:    cfg.MaxDiskBytes,
		CleanupInterval: cfg.CleanupInterval,
	})
	store.SetEviction(eviction)
	go eviction.Run(ctx)

	var c cuenv.Cache = store

	if cfg.EnableAuditLogging {
		auditPath := filepath.Join(cfg.BaseDir, "audit.log")
		auditLog, err := security.OpenAuditLog(auditPath, cuenv.SystemClock{})
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		if cfg.AuditSQLDSN != "" {
			sqlSink, err := auditsink.Open(ctx, cfg.AuditSQLDSN, 5*time.Second)
			if err != nil {
				klog.Warningf("audit sql mirror disabled: %v", err)
			} else {
				go func() {
					<-sysctx.Done()
					_ = sqlSink.Close()
				}()
			}
		}

		if cfg.EnableAccessControl && signer != nil {
			authority := security.NewCapabilityAuthority(signer)
			checker := security.NewCapabilityChecker(authority, signer.PublicKey(), cuenv.SystemClock{})

			var tree *security.MerkleTree
			if cfg.EnableMerkleTree {
				tree = security.NewMerkleTree()
			}
			secure := security.NewSecureCache(c, checker, auditLog, tree)
			if tree != nil {
				go runIntegritySweep(ctx, secure, cfg.CleanupInterval)
			}
			c = secure
		}
	}

	if cfg.RemoteTier != "none" {
		tier, err := newRemoteTier(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("build remote tier: %w", err)
		}
		replicator := remote.NewReplicator(sysctx, tier, 256)
		c = remote.NewRemoteCache(c, replicator, cfg.RemoteHydrationEnabled)
	}

	return c, nil
}

// runIntegritySweep periodically re-verifies every key tracked by secure's
// Merkle tree against its live content hash, logging any tampered key
// found, until ctx is done.
func runIntegritySweep(ctx context.Context, secure *security.SecureCache, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tampered, err := secure.VerifyIntegrity(ctx)
			if err != nil {
				klog.Warningf("merkle integrity sweep failed: %v", err)
				continue
			}
			for _, key := range tampered {
				klog.Warningf("merkle integrity sweep: content for %q no longer matches its committed hash", key)
			}
		}
	}
}

func newRemoteTier(ctx context.Context, cfg config.Config) (remote.Tier, error) {
	switch cfg.RemoteTier {
	case "s3":
		return remote.NewS3Tier(ctx, cfg.RemoteBucket, cfg.RemotePrefix)
	case "gcs":
		return remote.NewGCSTier(ctx, cfg.RemoteBucket, cfg.RemotePrefix)
	default:
		return nil, cuenv.ErrConfigInvalid(fmt.Sprintf("unsupported remote_tier %q", cfg.RemoteTier))
	}
}

// buildSupervisor assembles the C9/C10 preload hook supervisor.
func buildSupervisor(cfg config.Config) (*hooks.Supervisor, error) {
	captureDir := filepath.Join(cfg.BaseDir, "preload-cache")
	statusPath := filepath.Join(cfg.BaseDir, "hooks-status.json")
	locks := local.NewLocks(cfg.BaseDir)
	return hooks.NewSupervisor(captureDir, statusPath, locks, cuenv.SystemClock{})
}
