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

// Package metrics projects stats.Event counters onto OpenTelemetry
// instruments, scraped via the Prometheus exporter. It implements
// stats.Sink so it subscribes to the same event stream as stats.Stats
// rather than polling a snapshot, keeping the two from ever diverging.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/cuenv/cuenv/stats"
)

// Sink subscribes to a stats.Bus and mirrors every Event onto otel
// counters. Construct with New and Subscribe it on the same Bus the Store
// publishes to.
type Sink struct {
	provider *sdkmetric.MeterProvider

	hits      metric.Int64Counter
	misses    metric.Int64Counter
	writes    metric.Int64Counter
	removals  metric.Int64Counter
	errors    metric.Int64Counter
	evictions metric.Int64Counter
	bytesIn   metric.Int64Counter
	bytesOut  metric.Int64Counter
}

// New builds a Sink whose Prometheus exporter registers its instruments with
// the default Prometheus registry. It does not listen on any address; the
// scrape endpoint is served separately (server.go).
func New() (*Sink, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("metrics: new prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("cuenv")

	s := &Sink{provider: provider}
	for name, dst := range map[string]*metric.Int64Counter{
		"cuenv_cache_hits_total":      &s.hits,
		"cuenv_cache_misses_total":    &s.misses,
		"cuenv_cache_writes_total":    &s.writes,
		"cuenv_cache_removals_total":  &s.removals,
		"cuenv_cache_errors_total":    &s.errors,
		"cuenv_cache_evictions_total": &s.evictions,
		"cuenv_cache_bytes_in_total":  &s.bytesIn,
		"cuenv_cache_bytes_out_total": &s.bytesOut,
	} {
		c, err := meter.Int64Counter(name)
		if err != nil {
			return nil, fmt.Errorf("metrics: create counter %s: %w", name, err)
		}
		*dst = c
	}
	return s, nil
}

// Observe implements stats.Sink.
func (s *Sink) Observe(ev stats.Event) {
	ctx := context.Background()
	switch ev.Kind {
	case stats.EventHit:
		s.hits.Add(ctx, 1)
		s.bytesOut.Add(ctx, ev.Bytes)
	case stats.EventMiss:
		s.misses.Add(ctx, 1)
	case stats.EventWrite:
		s.writes.Add(ctx, 1)
		s.bytesIn.Add(ctx, ev.Bytes)
	case stats.EventRemoval:
		s.removals.Add(ctx, 1)
	case stats.EventError:
		s.errors.Add(ctx, 1)
	case stats.EventEviction:
		s.evictions.Add(ctx, 1)
	}
}

// Shutdown flushes and releases the underlying MeterProvider.
func (s *Sink) Shutdown(ctx context.Context) error {
	return s.provider.Shutdown(ctx)
}

var _ stats.Sink = (*Sink)(nil)
