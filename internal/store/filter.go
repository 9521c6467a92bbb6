package store

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/elonfeng/podcharts/pkg/ranking"
)

// SortKey is a recognised leaderboard ordering.
type SortKey string

const (
	SortRank     SortKey = "rank"
	SortMomentum SortKey = "momentum"
	SortDelta7d  SortKey = "delta_7d"
	SortDelta30d SortKey = "delta_30d"
)

var sortColumns = map[SortKey]string{
	SortRank:     "m.rank",
	SortMomentum: "m.momentum_score",
	SortDelta7d:  "m.delta_7d",
	SortDelta30d: "m.delta_30d",
}

// ParseSortKey validates a sort key; empty defaults to rank.
func ParseSortKey(s string) (SortKey, error) {
	if s == "" {
		return SortRank, nil
	}
	k := SortKey(strings.ToLower(s))
	if _, ok := sortColumns[k]; !ok {
		return "", fmt.Errorf("unknown sort key %q", s)
	}
	return k, nil
}

func (k SortKey) column(aggregate bool) string {
	col, ok := sortColumns[k]
	if !ok {
		col = sortColumns[SortRank]
	}
	if aggregate {
		return "AVG(" + col + ")"
	}
	return col
}

// Interval selects daily rows or averages over a trailing window.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

// ParseInterval validates an interval; empty defaults to daily.
func ParseInterval(s string) (Interval, error) {
	switch Interval(strings.ToLower(s)) {
	case "", IntervalDaily:
		return IntervalDaily, nil
	case IntervalWeekly:
		return IntervalWeekly, nil
	case IntervalMonthly:
		return IntervalMonthly, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// Days is the trailing window length, 0 for daily.
func (i Interval) Days() int {
	switch i {
	case IntervalWeekly:
		return 7
	case IntervalMonthly:
		return 30
	}
	return 0
}

// Filter holds the optional leaderboard predicates. Set fields are combined
// conjunctively.
type Filter struct {
	Category string
	Country  string
	Search   string
}

// Predicates returns the filter as squirrel conditions over the podcasts
// table aliased p.
func (f Filter) Predicates() sq.And {
	var preds sq.And
	if f.Category != "" {
		preds = append(preds, sq.Eq{"p.category": f.Category})
	}
	if c := strings.ToLower(strings.TrimSpace(f.Country)); c != "" {
		preds = append(preds, sq.Eq{"p.country": c})
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		pattern := "%" + term + "%"
		preds = append(preds, sq.Or{
			sq.Like{"LOWER(p.title)": pattern},
			sq.Like{"LOWER(p.publisher)": pattern},
		})
	}
	return preds
}

func (f Filter) apply(q sq.SelectBuilder) sq.SelectBuilder {
	if preds := f.Predicates(); len(preds) > 0 {
		q = q.Where(preds)
	}
	return q
}

// LeaderboardOpts controls leaderboard listing.
type LeaderboardOpts struct {
	Filter
	Interval   Interval
	Sort       SortKey
	Descending bool
	Day        ranking.Day
	Limit      int
}

// TrendingOpts controls the trending listing.
type TrendingOpts struct {
	Category string
	Day      ranking.Day
	Limit    int
}

// LeaderboardEntry is one podcast row with its metrics, possibly averaged.
type LeaderboardEntry struct {
	ID            string      `db:"id" json:"id"`
	Title         string      `db:"title" json:"title"`
	Publisher     string      `db:"publisher" json:"publisher"`
	Category      string      `db:"category" json:"category"`
	Country       string      `db:"country" json:"country"`
	Rank          *int        `db:"rank" json:"rank"`
	Delta7d       *int        `db:"delta_7d" json:"delta_7d"`
	Delta30d      *int        `db:"delta_30d" json:"delta_30d"`
	MomentumScore *float64    `db:"momentum_score" json:"momentum_score"`
	CapturedOn    ranking.Day `db:"captured_on" json:"captured_on"`
}

// LeaderboardQuery builds the leaderboard statement without running it.
func (r *repo) LeaderboardQuery(opts LeaderboardOpts) sq.SelectBuilder {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	aggregate := opts.Interval.Days() > 0

	var q sq.SelectBuilder
	if aggregate {
		q = r.sb.Select(
			"p.id", "p.title", "p.publisher", "p.category", "p.country",
			"CAST(ROUND(AVG(m.rank)) AS INTEGER) AS rank",
			"CAST(ROUND(AVG(m.delta_7d)) AS INTEGER) AS delta_7d",
			"CAST(ROUND(AVG(m.delta_30d)) AS INTEGER) AS delta_30d",
			"AVG(m.momentum_score) AS momentum_score",
			"MAX(m.captured_on) AS captured_on",
		).
			From("metrics_daily m").
			Join("podcasts p ON p.id = m.podcast_id").
			Where(sq.GtOrEq{"m.captured_on": opts.Day.AddDays(-opts.Interval.Days())}).
			Where(sq.LtOrEq{"m.captured_on": opts.Day})
	} else {
		q = r.sb.Select(
			"p.id", "p.title", "p.publisher", "p.category", "p.country",
			"m.rank", "m.delta_7d", "m.delta_30d", "m.momentum_score", "m.captured_on",
		).
			From("metrics_daily m").
			Join("podcasts p ON p.id = m.podcast_id").
			Where(sq.Eq{"m.captured_on": opts.Day})
	}

	q = opts.Filter.apply(q)
	if aggregate {
		q = q.GroupBy("p.id", "p.title", "p.publisher", "p.category", "p.country")
	}

	dir := "ASC"
	if opts.Descending {
		dir = "DESC"
	}
	return q.OrderBy(opts.Sort.column(aggregate)+" "+dir+" NULLS LAST", "p.id").
		Limit(uint64(limit))
}

// Leaderboard lists podcasts for a day (or a trailing window) with nulls last.
func (r *repo) Leaderboard(ctx context.Context, opts LeaderboardOpts) ([]LeaderboardEntry, error) {
	if opts.Day.IsZero() {
		day, ok, err := r.LatestMetricsDay(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		opts.Day = day
	}

	var entries []LeaderboardEntry
	if err := r.selectInto(ctx, &entries, r.LeaderboardQuery(opts)); err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return entries, nil
}

// Trending lists podcasts with positive momentum, strongest first.
func (r *repo) Trending(ctx context.Context, opts TrendingOpts) ([]LeaderboardEntry, error) {
	if opts.Day.IsZero() {
		day, ok, err := r.LatestMetricsDay(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		opts.Day = day
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	q := r.sb.Select(
		"p.id", "p.title", "p.publisher", "p.category", "p.country",
		"m.rank", "m.delta_7d", "m.delta_30d", "m.momentum_score", "m.captured_on",
	).
		From("metrics_daily m").
		Join("podcasts p ON p.id = m.podcast_id").
		Where(sq.Eq{"m.captured_on": opts.Day}).
		Where(sq.Gt{"m.momentum_score": 0})
	q = Filter{Category: opts.Category}.apply(q)
	q = q.OrderBy("m.momentum_score DESC", "m.delta_7d DESC NULLS LAST", "p.id").
		Limit(uint64(limit))

	var entries []LeaderboardEntry
	if err := r.selectInto(ctx, &entries, q); err != nil {
		return nil, fmt.Errorf("trending: %w", err)
	}
	return entries, nil
}

// Coverage summarises how much derived signal a day carries and whether its
// reference days exist.
type Coverage struct {
	Day          ranking.Day `db:"-" json:"day"`
	Total        int         `db:"total" json:"total"`
	WithDelta7d  int         `db:"with_delta_7d" json:"with_delta_7d"`
	WithDelta30d int         `db:"with_delta_30d" json:"with_delta_30d"`
	WithMomentum int         `db:"with_momentum" json:"with_momentum"`
	NoDeltas     int         `db:"no_deltas" json:"no_deltas"`
	AvgMomentum  *float64    `db:"avg_momentum" json:"avg_momentum"`
	MinMomentum  *float64    `db:"min_momentum" json:"min_momentum"`
	MaxMomentum  *float64    `db:"max_momentum" json:"max_momentum"`
	Rows7dAgo    int         `db:"-" json:"rows_7d_ago"`
	Rows30dAgo   int         `db:"-" json:"rows_30d_ago"`
}

func (r *repo) Coverage(ctx context.Context, day ranking.Day) (*Coverage, error) {
	q := r.sb.Select(
		"COUNT(*) AS total",
		"COUNT(delta_7d) AS with_delta_7d",
		"COUNT(delta_30d) AS with_delta_30d",
		"COUNT(momentum_score) AS with_momentum",
		"COALESCE(SUM(CASE WHEN delta_7d IS NULL AND delta_30d IS NULL THEN 1 ELSE 0 END), 0) AS no_deltas",
		"AVG(momentum_score) AS avg_momentum",
		"MIN(momentum_score) AS min_momentum",
		"MAX(momentum_score) AS max_momentum",
	).
		From("metrics_daily").
		Where(sq.Eq{"captured_on": day})

	var c Coverage
	if err := r.getInto(ctx, &c, q); err != nil {
		return nil, fmt.Errorf("coverage %s: %w", day, err)
	}
	c.Day = day

	var err error
	if c.Rows7dAgo, err = r.CountMetrics(ctx, day.AddDays(-7)); err != nil {
		return nil, err
	}
	if c.Rows30dAgo, err = r.CountMetrics(ctx, day.AddDays(-30)); err != nil {
		return nil, err
	}
	return &c, nil
}
