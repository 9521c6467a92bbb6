package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/podcharts/pkg/ranking"
)

func TestParseSortKey(t *testing.T) {
	tests := []struct {
		in      string
		want    SortKey
		wantErr bool
	}{
		{"", SortRank, false},
		{"rank", SortRank, false},
		{"MOMENTUM", SortMomentum, false},
		{"delta_7d", SortDelta7d, false},
		{"delta_30d", SortDelta30d, false},
		{"title; DROP TABLE podcasts", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSortKey(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseInterval(t *testing.T) {
	i, err := ParseInterval("")
	require.NoError(t, err)
	assert.Equal(t, IntervalDaily, i)
	assert.Equal(t, 0, i.Days())

	i, err = ParseInterval("weekly")
	require.NoError(t, err)
	assert.Equal(t, 7, i.Days())

	i, err = ParseInterval("monthly")
	require.NoError(t, err)
	assert.Equal(t, 30, i.Days())

	_, err = ParseInterval("hourly")
	assert.Error(t, err)
}

func TestFilterPredicates(t *testing.T) {
	assert.Empty(t, Filter{}.Predicates())

	sql, args, err := Filter{Category: "news", Country: " US ", Search: "Daily"}.Predicates().ToSql()
	require.NoError(t, err)
	assert.Equal(t, "(p.category = ? AND p.country = ? AND (LOWER(p.title) LIKE ? OR LOWER(p.publisher) LIKE ?))", sql)
	assert.Equal(t, []any{"news", "us", "%daily%", "%daily%"}, args)
}

func TestLeaderboardQueryShape(t *testing.T) {
	r := newRepo(nil, DialectPostgres)
	day := ranking.NewDay(2025, 3, 8)

	sql, args, err := r.LeaderboardQuery(LeaderboardOpts{
		Filter: Filter{Category: "news"},
		Sort:   SortMomentum,
		Day:    day,
		Limit:  10,
	}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE m.captured_on = $1 AND (p.category = $2)")
	assert.Contains(t, sql, "ORDER BY m.momentum_score ASC NULLS LAST, p.id LIMIT 10")
	assert.Equal(t, []any{day.String(), "news"}, args)

	sql, _, err = r.LeaderboardQuery(LeaderboardOpts{
		Interval: IntervalWeekly,
		Sort:     SortDelta7d,
		Day:      day,
	}).ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, "GROUP BY p.id, p.title, p.publisher, p.category, p.country")
	assert.Contains(t, sql, "ORDER BY AVG(m.delta_7d) ASC NULLS LAST")
}

func seedLeaderboard(t *testing.T, s *SQLStore) {
	t.Helper()
	ctx := context.Background()

	a := ranked("a", 1, "us", day1)
	a.Title = "Daily News Hour"
	a.Category = "news"
	b := ranked("b", 2, "us", day1)
	b.Publisher = "Comedy Central"
	b.Category = "comedy"
	c := ranked("c", 3, "gb", day1)
	c.Category = "news"
	require.NoError(t, s.UpsertPodcasts(ctx, []ranking.RankedPodcast{a, b, c}))

	require.NoError(t, s.UpsertMetrics(ctx, []Metrics{
		{PodcastID: "a", CapturedOn: day1, Rank: 1, Delta7d: intp(2), MomentumScore: floatp(1.4)},
		{PodcastID: "b", CapturedOn: day1, Rank: 2},
		{PodcastID: "c", CapturedOn: day1, Rank: 3, Delta7d: intp(-4), MomentumScore: floatp(-2.8)},
		{PodcastID: "a", CapturedOn: day1.AddDays(-1), Rank: 5, Delta7d: intp(0), MomentumScore: floatp(0)},
	}))
}

func ids(entries []LeaderboardEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestLeaderboardNullsLastAndFilters(t *testing.T) {
	s := openTestStore(t)
	seedLeaderboard(t, s)
	ctx := context.Background()

	got, err := s.Leaderboard(ctx, LeaderboardOpts{Sort: SortMomentum})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, ids(got))
	assert.Nil(t, got[2].MomentumScore)
	assert.Equal(t, day1, got[0].CapturedOn)

	got, err = s.Leaderboard(ctx, LeaderboardOpts{Sort: SortMomentum, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, ids(got))

	got, err = s.Leaderboard(ctx, LeaderboardOpts{Filter: Filter{Country: "GB"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(got))

	got, err = s.Leaderboard(ctx, LeaderboardOpts{Filter: Filter{Search: "comedy"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(got))

	got, err = s.Leaderboard(ctx, LeaderboardOpts{Filter: Filter{Category: "news", Search: "daily"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestLeaderboardWeeklyAverages(t *testing.T) {
	s := openTestStore(t)
	seedLeaderboard(t, s)

	got, err := s.Leaderboard(context.Background(), LeaderboardOpts{Interval: IntervalWeekly, Day: day1})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID) // avg rank 2
	assert.Equal(t, "a", got[1].ID) // avg rank 3
	require.NotNil(t, got[1].Rank)
	assert.Equal(t, 3, *got[1].Rank)
	require.NotNil(t, got[1].MomentumScore)
	assert.InDelta(t, 0.7, *got[1].MomentumScore, 1e-9)
	assert.Equal(t, day1, got[1].CapturedOn)
}

func TestLeaderboardWeeklyRoundsAverages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPodcasts(ctx, []ranking.RankedPodcast{ranked("a", 2, "us", day1)}))
	require.NoError(t, s.UpsertMetrics(ctx, []Metrics{
		{PodcastID: "a", CapturedOn: day1, Rank: 2, Delta7d: intp(4)},
		{PodcastID: "a", CapturedOn: day1.AddDays(-1), Rank: 3, Delta7d: intp(5)},
	}))

	got, err := s.Leaderboard(ctx, LeaderboardOpts{Interval: IntervalWeekly, Day: day1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Rank)
	assert.Equal(t, 3, *got[0].Rank) // 2.5
	require.NotNil(t, got[0].Delta7d)
	assert.Equal(t, 5, *got[0].Delta7d) // 4.5
}

func TestLeaderboardEmptyStore(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Leaderboard(context.Background(), LeaderboardOpts{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTrendingPositiveMomentumOnly(t *testing.T) {
	s := openTestStore(t)
	seedLeaderboard(t, s)

	got, err := s.Trending(context.Background(), TrendingOpts{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))

	got, err = s.Trending(context.Background(), TrendingOpts{Category: "comedy"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCoverage(t *testing.T) {
	s := openTestStore(t)
	seedLeaderboard(t, s)

	c, err := s.Coverage(context.Background(), day1)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Total)
	assert.Equal(t, 2, c.WithDelta7d)
	assert.Equal(t, 0, c.WithDelta30d)
	assert.Equal(t, 2, c.WithMomentum)
	assert.Equal(t, 1, c.NoDeltas)
	require.NotNil(t, c.MaxMomentum)
	assert.InDelta(t, 1.4, *c.MaxMomentum, 1e-9)
	assert.Equal(t, 0, c.Rows7dAgo)

	empty, err := s.Coverage(context.Background(), day1.AddDays(-100))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Nil(t, empty.AvgMomentum)
}
