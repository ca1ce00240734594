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

package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuenv/cuenv/stats"
)

func TestSink_ObserveDoesNotPanicAcrossEventKinds(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	for _, kind := range []stats.EventKind{
		stats.EventHit, stats.EventMiss, stats.EventWrite,
		stats.EventRemoval, stats.EventError, stats.EventEviction,
	} {
		s.Observe(stats.Event{Kind: kind, Bytes: 10})
	}
}

func TestSink_MirrorsStatsViaSharedBus(t *testing.T) {
	sink, err := New()
	require.NoError(t, err)
	defer sink.Shutdown(context.Background())

	st := stats.New()
	bus := stats.NewBus(st, sink)

	bus.Observe(stats.Event{Kind: stats.EventHit, Bytes: 5})
	bus.Observe(stats.Event{Kind: stats.EventWrite, Bytes: 7})

	snap := st.Snapshot()
	require.Equal(t, uint64(1), snap.Hits)
	require.Equal(t, uint64(1), snap.Writes)
}
