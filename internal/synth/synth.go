// Package synth fabricates past metrics so momentum can be shown before real
// history has accumulated.
package synth

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/elonfeng/podcharts/internal/store"
	"github.com/elonfeng/podcharts/pkg/momentum"
	"github.com/elonfeng/podcharts/pkg/ranking"
)

// ErrNoBaseline means there is no day with metrics to perturb.
var ErrNoBaseline = errors.New("no metrics to use as baseline")

// MaxJitter bounds the random rank perturbation in either direction.
const MaxJitter = 5

// Generator writes synthetic metrics for the days before the baseline.
type Generator struct {
	store  store.Store
	engine *momentum.Engine
	rng    *rand.Rand
}

// NewGenerator creates a generator. A nil rng is seeded from the clock.
func NewGenerator(s store.Store, engine *momentum.Engine, rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if engine == nil {
		engine = momentum.NewEngine("")
	}
	return &Generator{store: s, engine: engine, rng: rng}
}

// Report describes one generation run.
type Report struct {
	Baseline    ranking.Day     `json:"baseline"`
	DaysWritten int             `json:"days_written"`
	DaysSkipped int             `json:"days_skipped"`
	Rows        int             `json:"rows"`
	Coverage    *store.Coverage `json:"coverage"`
}

// Generate fills the days baseline-1 .. baseline-days with perturbed copies of
// the baseline ranks. Days that already hold metrics are left alone and
// existing rows are never overwritten. The baseline is then recomputed.
func (g *Generator) Generate(ctx context.Context, days int) (Report, error) {
	var report Report
	if days <= 0 {
		return report, fmt.Errorf("synthesize: days must be positive, got %d", days)
	}

	baseline, ok, err := g.store.LatestMetricsDay(ctx)
	if err != nil {
		return report, fmt.Errorf("synthesize: %w", err)
	}
	if !ok {
		return report, ErrNoBaseline
	}
	report.Baseline = baseline

	base, err := g.store.DayMetrics(ctx, baseline)
	if err != nil {
		return report, fmt.Errorf("synthesize: %w", err)
	}
	if len(base) == 0 {
		return report, ErrNoBaseline
	}

	for offset := 1; offset <= days; offset++ {
		day := baseline.AddDays(-offset)
		n, err := g.store.CountMetrics(ctx, day)
		if err != nil {
			return report, fmt.Errorf("synthesize: %w", err)
		}
		if n > 0 {
			report.DaysSkipped++
			log.Debug().Stringer("day", day).Int("rows", n).Msg("day has metrics, skipping")
			continue
		}

		rows := g.perturb(base, day)
		if err := g.store.InTx(ctx, func(q store.Queries) error {
			return q.InsertMetricsIfAbsent(ctx, rows)
		}); err != nil {
			return report, fmt.Errorf("synthesize %s: %w", day, err)
		}
		report.DaysWritten++
		report.Rows += len(rows)
	}

	if err := g.store.InTx(ctx, func(q store.Queries) error {
		_, err := g.engine.Compute(ctx, q, baseline)
		return err
	}); err != nil {
		return report, fmt.Errorf("synthesize: recompute %s: %w", baseline, err)
	}

	report.Coverage, err = g.store.Coverage(ctx, baseline)
	if err != nil {
		return report, fmt.Errorf("synthesize: %w", err)
	}

	log.Info().
		Stringer("baseline", baseline).
		Int("days_written", report.DaysWritten).
		Int("days_skipped", report.DaysSkipped).
		Int("rows", report.Rows).
		Int("with_momentum", report.Coverage.WithMomentum).
		Msg("synthetic history generated")
	return report, nil
}

func (g *Generator) perturb(base []store.Metrics, day ranking.Day) []store.Metrics {
	rows := make([]store.Metrics, len(base))
	for i, m := range base {
		rank := m.Rank + g.rng.Intn(2*MaxJitter+1) - MaxJitter
		rows[i] = store.Metrics{
			PodcastID:  m.PodcastID,
			CapturedOn: day,
			Rank:       max(1, rank),
		}
	}
	return rows
}
