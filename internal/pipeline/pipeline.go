package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/podcharts/internal/store"
	"github.com/elonfeng/podcharts/internal/telemetry"
	"github.com/elonfeng/podcharts/pkg/feed"
	"github.com/elonfeng/podcharts/pkg/momentum"
	"github.com/elonfeng/podcharts/pkg/ranking"
)

// Options configures which charts are ingested each day.
type Options struct {
	Regions     []string
	Categories  []ranking.Category
	PageSize    int
	Concurrency int
}

// Pipeline sequences fetch, store and metrics for one day at a time.
type Pipeline struct {
	provider ranking.Provider
	store    store.Store
	engine   *momentum.Engine
	feeds    *feed.Reader
	metrics  *telemetry.Metrics
	opts     Options
}

// New creates a pipeline. A nil metrics gets a private registry.
func New(provider ranking.Provider, s store.Store, engine *momentum.Engine, metrics *telemetry.Metrics, opts Options) *Pipeline {
	if len(opts.Regions) == 0 {
		opts.Regions = []string{"us"}
	}
	if len(opts.Categories) == 0 {
		opts.Categories = ranking.DefaultCategories()
	}
	opts.PageSize = ranking.ClampPageSize(opts.PageSize)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if engine == nil {
		engine = momentum.NewEngine(provider.Name())
	}
	if metrics == nil {
		metrics = telemetry.New()
	}
	return &Pipeline{
		provider: provider,
		store:    s,
		engine:   engine,
		feeds:    feed.NewReader(0),
		metrics:  metrics,
		opts:     opts,
	}
}

// DayReport describes one ingested day.
type DayReport struct {
	RunID       string          `json:"run_id"`
	Day         ranking.Day     `json:"day"`
	Pairs       int             `json:"pairs"`
	PairsFailed int             `json:"pairs_failed"`
	PairsEmpty  int             `json:"pairs_empty"`
	Records     int             `json:"records"`
	Metrics     momentum.Result `json:"metrics"`
}

type slot struct {
	region   string
	category ranking.Category
	records  []ranking.RankedPodcast
	err      error
}

// IngestDay fetches every configured chart for day and commits the rankings
// together with the day's metrics in one transaction. A chart that fails or
// comes back empty is skipped.
func (p *Pipeline) IngestDay(ctx context.Context, day ranking.Day) (DayReport, error) {
	report := DayReport{RunID: uuid.NewString(), Day: day}
	logger := log.With().Str("run_id", report.RunID).Stringer("day", day).Logger()

	timer := p.metrics.StartDay("ingest")
	records, err := p.fetchAll(ctx, day, &report, logger)
	if err != nil {
		timer.Stop(err)
		return report, err
	}
	report.Records = len(records)

	err = p.store.InTx(ctx, func(q store.Queries) error {
		if err := q.UpsertPodcasts(ctx, records); err != nil {
			return err
		}
		if err := q.UpsertRanks(ctx, records); err != nil {
			return err
		}
		res, err := p.engine.Compute(ctx, q, day)
		if err != nil {
			return err
		}
		report.Metrics = res
		return nil
	})
	timer.Stop(err)
	if err != nil {
		logger.Error().Err(err).Msg("day rolled back")
		return report, fmt.Errorf("ingest %s: %w", day, err)
	}

	p.metrics.AddRows("ranks_daily", len(records))
	p.metrics.AddRows("metrics_daily", report.Metrics.Rows)
	p.metrics.LastIngestedDay.Set(float64(day.Time().Unix()))

	logger.Info().
		Int("pairs", report.Pairs).
		Int("failed", report.PairsFailed).
		Int("empty", report.PairsEmpty).
		Int("records", report.Records).
		Int("metrics", report.Metrics.Rows).
		Msg("day ingested")
	return report, nil
}

// fetchAll fetches every (region, category) pair concurrently. Each pair owns
// its slot; slots are merged in configured order.
func (p *Pipeline) fetchAll(ctx context.Context, day ranking.Day, report *DayReport, logger zerolog.Logger) ([]ranking.RankedPodcast, error) {
	slots := make([]slot, 0, len(p.opts.Regions)*len(p.opts.Categories))
	for _, region := range p.opts.Regions {
		for _, cat := range p.opts.Categories {
			slots = append(slots, slot{region: ranking.NormalizeRegion(region), category: cat})
		}
	}
	report.Pairs = len(slots)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i := range slots {
		s := &slots[i]
		g.Go(func() error {
			start := time.Now()
			s.records, s.err = p.provider.Fetch(gctx, ranking.Query{
				Category: s.category,
				Region:   s.region,
				PageSize: p.opts.PageSize,
				Day:      day,
			})
			p.metrics.ObserveFetch(s.region, s.category.Slug, outcome(s), time.Since(start))
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingest %s: %w", day, err)
	}

	var records []ranking.RankedPodcast
	for _, s := range slots {
		switch {
		case s.err != nil:
			report.PairsFailed++
			ev := logger.Warn().Err(s.err).Str("region", s.region).Str("category", s.category.Slug)
			var se *ranking.StatusError
			if errors.As(s.err, &se) {
				ev = ev.Int("status", se.StatusCode)
			}
			ev.Msg("fetch failed, skipping chart")
		case len(s.records) == 0:
			report.PairsEmpty++
			logger.Warn().Str("region", s.region).Str("category", s.category.Slug).Msg("empty chart")
		default:
			logger.Debug().Str("region", s.region).Str("category", s.category.Slug).Int("records", len(s.records)).Msg("chart fetched")
			records = append(records, s.records...)
		}
	}
	return records, nil
}

func outcome(s *slot) string {
	switch {
	case s.err != nil:
		return "error"
	case len(s.records) == 0:
		return "empty"
	}
	return "ok"
}

// Backfill ingests the days before today, oldest first, so every day's
// references exist when it is computed. It stops at the first day that fails
// to commit.
func (p *Pipeline) Backfill(ctx context.Context, days int, today ranking.Day) ([]DayReport, error) {
	if days <= 0 {
		return nil, fmt.Errorf("backfill: days must be positive, got %d", days)
	}

	reports := make([]DayReport, 0, days)
	for offset := days; offset >= 1; offset-- {
		day := today.AddDays(-offset)
		report, err := p.IngestDay(ctx, day)
		if err != nil {
			return reports, fmt.Errorf("backfill stopped at %s: %w", day, err)
		}
		reports = append(reports, report)
	}

	log.Info().
		Int("days", days).
		Stringer("from", today.AddDays(-days)).
		Stringer("to", today.AddDays(-1)).
		Msg("backfill complete")
	return reports, nil
}

// Recompute reruns the metrics for day from the ranks already stored.
func (p *Pipeline) Recompute(ctx context.Context, day ranking.Day) (momentum.Result, error) {
	timer := p.metrics.StartDay("recompute")
	var res momentum.Result
	err := p.store.InTx(ctx, func(q store.Queries) error {
		var err error
		res, err = p.engine.Compute(ctx, q, day)
		return err
	})
	timer.Stop(err)
	if err != nil {
		return res, fmt.Errorf("recompute %s: %w", day, err)
	}
	p.metrics.AddRows("metrics_daily", res.Rows)
	return res, nil
}
