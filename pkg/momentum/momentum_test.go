package momentum

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/podcharts/internal/store"
	"github.com/elonfeng/podcharts/pkg/ranking"
)

func intp(v int) *int { return &v }

func TestDelta(t *testing.T) {
	ref := NewReference(ranking.NewDay(2025, time.March, 1), map[string]int{"a": 50})

	d := Delta(ref, "a", 10)
	require.NotNil(t, d)
	assert.Equal(t, 40, *d)

	d = Delta(ref, "a", 60)
	require.NotNil(t, d)
	assert.Equal(t, -10, *d)

	assert.Nil(t, Delta(ref, "missing", 1))
	assert.Nil(t, Delta(Reference{}, "a", 1))
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		d7, d30 *int
		want    float64
		wantNil bool
	}{
		{name: "both", d7: intp(40), d30: intp(10), want: 31.0},
		{name: "short only", d7: intp(40), want: 28.0},
		{name: "long only", d30: intp(10), want: 3.0},
		{name: "falling", d7: intp(-2), d30: intp(-10), want: -4.4},
		{name: "zero", d7: intp(0), want: 0},
		{name: "none", wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.d7, tt.d30)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, tt.want, *got, 1e-9)
		})
	}
}

func TestBestRanks(t *testing.T) {
	got := bestRanks([]store.Rank{
		{PodcastID: "a", Rank: 4, Country: "us"},
		{PodcastID: "b", Rank: 5, Country: "us"},
		{PodcastID: "a", Rank: 2, Country: "gb"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].PodcastID)
	assert.Equal(t, 2, got[0].Rank)
	assert.Equal(t, "gb", got[0].Country)
	assert.Equal(t, 5, got[1].Rank)
}

func openStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "momentum.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func snapshot(t *testing.T, s store.Store, day ranking.Day, ids ...string) {
	t.Helper()
	recs := make([]ranking.RankedPodcast, len(ids))
	for i, id := range ids {
		recs[i] = ranking.RankedPodcast{
			PodcastID:  id,
			Title:      "Podcast " + id,
			Category:   "top",
			Country:    "us",
			Rank:       i + 1,
			CapturedOn: day,
			Source:     ranking.SourceListenNotes,
		}
	}
	ctx := context.Background()
	require.NoError(t, s.UpsertPodcasts(ctx, recs))
	require.NoError(t, s.UpsertRanks(ctx, recs))
}

func byID(rows []store.Metrics) map[string]store.Metrics {
	out := make(map[string]store.Metrics, len(rows))
	for _, m := range rows {
		out[m.PodcastID] = m
	}
	return out
}

var day1 = ranking.NewDay(2025, time.March, 1)

func TestComputeColdStart(t *testing.T) {
	s := openStore(t)
	snapshot(t, s, day1, "a", "b", "c")

	res, err := NewEngine("").Compute(context.Background(), s, day1)
	require.NoError(t, err)
	assert.Equal(t, Result{Day: day1, Rows: 3}, res)

	rows, err := s.DayMetrics(context.Background(), day1)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, m := range rows {
		assert.Nil(t, m.Delta7d, m.PodcastID)
		assert.Nil(t, m.Delta30d, m.PodcastID)
		assert.Nil(t, m.MomentumScore, m.PodcastID)
	}
}

func TestComputeNoRanksIsNoOp(t *testing.T) {
	s := openStore(t)

	res, err := NewEngine("").Compute(context.Background(), s, day1)
	require.NoError(t, err)
	assert.Zero(t, res.Rows)

	n, err := s.CountMetrics(context.Background(), day1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestComputeDayOneDayEight(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	e := NewEngine(ranking.SourceListenNotes)
	day8 := day1.AddDays(7)

	snapshot(t, s, day1, "A", "B", "C")
	_, err := e.Compute(ctx, s, day1)
	require.NoError(t, err)

	snapshot(t, s, day8, "B", "A", "X", "Y", "C")
	res, err := e.Compute(ctx, s, day8)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Rows)
	assert.Equal(t, 3, res.WithDelta7d)
	assert.Zero(t, res.WithDelta30d)
	assert.Equal(t, 3, res.WithMomentum)

	rows, err := s.DayMetrics(ctx, day8)
	require.NoError(t, err)
	got := byID(rows)

	for id, want := range map[string]int{"A": -1, "B": 1, "C": -2} {
		m := got[id]
		require.NotNil(t, m.Delta7d, id)
		assert.Equal(t, want, *m.Delta7d, id)
		assert.Nil(t, m.Delta30d, id)
		require.NotNil(t, m.MomentumScore, id)
		assert.InDelta(t, 0.7*float64(want), *m.MomentumScore, 1e-9, id)
	}
	assert.Nil(t, got["X"].Delta7d)
	assert.Nil(t, got["X"].MomentumScore)
}

func TestComputeUsesDerivedMetricsNotRawRanks(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	day8 := day1.AddDays(7)

	// Raw ranks exist for day1 but its metrics were never computed.
	snapshot(t, s, day1, "a", "b")
	snapshot(t, s, day8, "b", "a")

	_, err := NewEngine("").Compute(ctx, s, day8)
	require.NoError(t, err)

	rows, err := s.DayMetrics(ctx, day8)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, m := range rows {
		assert.Nil(t, m.Delta7d, m.PodcastID)
		assert.Nil(t, m.MomentumScore, m.PodcastID)
	}
}

func TestComputeBothHorizons(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	day := day1.AddDays(30)

	require.NoError(t, s.UpsertPodcasts(ctx, []ranking.RankedPodcast{{PodcastID: "p", Title: "P"}}))
	require.NoError(t, s.UpsertMetrics(ctx, []store.Metrics{
		{PodcastID: "p", CapturedOn: day.AddDays(-7), Rank: 50},
		{PodcastID: "p", CapturedOn: day.AddDays(-30), Rank: 20},
	}))
	require.NoError(t, s.UpsertRanks(ctx, []ranking.RankedPodcast{{
		PodcastID: "p", Rank: 10, Country: "us", CapturedOn: day, Source: ranking.SourceListenNotes,
	}}))

	_, err := NewEngine("").Compute(ctx, s, day)
	require.NoError(t, err)

	rows, err := s.DayMetrics(ctx, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 40, *rows[0].Delta7d)
	assert.Equal(t, 10, *rows[0].Delta30d)
	assert.InDelta(t, 31.0, *rows[0].MomentumScore, 1e-9)
}

func TestComputeIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	e := NewEngine("")
	day8 := day1.AddDays(7)

	snapshot(t, s, day1, "a", "b", "c")
	_, err := e.Compute(ctx, s, day1)
	require.NoError(t, err)
	snapshot(t, s, day8, "c", "b", "a")

	first, err := e.Compute(ctx, s, day8)
	require.NoError(t, err)
	before, err := s.DayMetrics(ctx, day8)
	require.NoError(t, err)

	second, err := e.Compute(ctx, s, day8)
	require.NoError(t, err)
	after, err := s.DayMetrics(ctx, day8)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, after)

	n, err := s.CountMetrics(ctx, day1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestComputeOneRowAcrossRegions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	recs := []ranking.RankedPodcast{
		{PodcastID: "a", Title: "A", Country: "us", Rank: 7, CapturedOn: day1, Source: ranking.SourceListenNotes},
		{PodcastID: "a", Title: "A", Country: "gb", Rank: 3, CapturedOn: day1, Source: ranking.SourceListenNotes},
	}
	require.NoError(t, s.UpsertPodcasts(ctx, recs))
	require.NoError(t, s.UpsertRanks(ctx, recs))

	res, err := NewEngine("").Compute(ctx, s, day1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)

	rows, err := s.DayMetrics(ctx, day1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Rank)
}
