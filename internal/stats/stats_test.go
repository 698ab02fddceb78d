package stats_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netdash/internal/stats"
)

func TestStatsAdd(t *testing.T) {
	t.Parallel()
	s := stats.NewStats()
	s.Add(true, 200, 100, 10*time.Millisecond, "", false)
	s.Add(true, 302, 0, 20*time.Millisecond, "", true)
	s.Add(false, 0, 0, 30*time.Millisecond, "connection refused", false)
	s.Add(false, 0, 0, 40*time.Millisecond, "connection refused", false)

	snap := s.Snapshot()
	require.EqualValues(t, 4, snap.Attempts)
	require.EqualValues(t, 2, snap.OK)
	require.EqualValues(t, 2, snap.Failed)
	require.EqualValues(t, 1, snap.Verdicts)
	require.EqualValues(t, 100, snap.Bytes)
	require.InDelta(t, 50.0, snap.ErrorRate, 0.001)
	require.Equal(t, map[int]int{200: 1, 302: 1}, snap.StatusCounts)
	require.Equal(t, map[string]int{"connection refused": 2}, snap.ErrorCounts)
	require.InDelta(t, 40.0, snap.MaxMs, 0.1)
	require.InDelta(t, 20.0, snap.P50Ms, 0.1)
}

func TestStatsEmpty(t *testing.T) {
	t.Parallel()
	snap := stats.NewStats().Snapshot()
	require.Zero(t, snap.Attempts)
	require.Zero(t, snap.ErrorRate)
	require.Zero(t, snap.P99Ms)
}

func TestStatsConcurrentAdd(t *testing.T) {
	t.Parallel()
	s := stats.NewStats()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(true, 200, 1, time.Millisecond, "", false)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 50, s.Snapshot().Attempts)
	require.EqualValues(t, 50, s.Latency.TotalCount())
}

func TestHistogramClampsOutOfRange(t *testing.T) {
	t.Parallel()
	h := stats.NewSafeHistogram()
	h.Record(0)
	h.Record(time.Hour)
	require.EqualValues(t, 2, h.TotalCount())
	require.LessOrEqual(t, h.MaxMs(), float64((10*time.Minute).Milliseconds())+1)
}
