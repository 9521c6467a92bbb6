package momentum

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/elonfeng/podcharts/internal/store"
	"github.com/elonfeng/podcharts/pkg/ranking"
)

// Engine derives one metrics row per podcast per day from that day's raw
// ranks and the metrics of the reference days.
type Engine struct {
	source string
}

// NewEngine creates an engine reading ranks of the given source. Empty means
// ListenNotes.
func NewEngine(source string) *Engine {
	if source == "" {
		source = ranking.SourceListenNotes
	}
	return &Engine{source: source}
}

// Result summarises one Compute call.
type Result struct {
	Day          ranking.Day `json:"day"`
	Rows         int         `json:"rows"`
	WithDelta7d  int         `json:"with_delta_7d"`
	WithDelta30d int         `json:"with_delta_30d"`
	WithMomentum int         `json:"with_momentum"`
}

// Compute writes metrics for day. The reference days must already carry
// metrics, so days have to be computed oldest first. A day with no ranks is a
// no-op.
func (e *Engine) Compute(ctx context.Context, q store.Queries, day ranking.Day) (Result, error) {
	res := Result{Day: day}

	ranks, err := q.DayRanks(ctx, day, e.source)
	if err != nil {
		return res, fmt.Errorf("compute %s: %w", day, err)
	}
	if len(ranks) == 0 {
		log.Info().Stringer("day", day).Msg("no ranks, skipping metrics")
		return res, nil
	}

	short, err := LoadReference(ctx, q, day.AddDays(-ShortHorizon))
	if err != nil {
		return res, err
	}
	long, err := LoadReference(ctx, q, day.AddDays(-LongHorizon))
	if err != nil {
		return res, err
	}

	best := bestRanks(ranks)
	rows := make([]store.Metrics, 0, len(best))
	for _, r := range best {
		m := store.Metrics{
			PodcastID:  r.PodcastID,
			CapturedOn: day,
			Rank:       r.Rank,
			Delta7d:    Delta(short, r.PodcastID, r.Rank),
			Delta30d:   Delta(long, r.PodcastID, r.Rank),
		}
		m.MomentumScore = Score(m.Delta7d, m.Delta30d)
		res.count(m)
		rows = append(rows, m)
	}

	if err := q.UpsertMetrics(ctx, rows); err != nil {
		return res, fmt.Errorf("compute %s: %w", day, err)
	}

	log.Info().
		Stringer("day", day).
		Int("rows", res.Rows).
		Int("ref_7d", short.Len()).
		Int("ref_30d", long.Len()).
		Int("with_delta_7d", res.WithDelta7d).
		Int("with_delta_30d", res.WithDelta30d).
		Int("with_momentum", res.WithMomentum).
		Msg("metrics computed")
	return res, nil
}

func (r *Result) count(m store.Metrics) {
	r.Rows++
	if m.Delta7d != nil {
		r.WithDelta7d++
	}
	if m.Delta30d != nil {
		r.WithDelta30d++
	}
	if m.MomentumScore != nil {
		r.WithMomentum++
	}
}

// bestRanks keeps the lowest rank of each podcast across regions, in first
// seen order.
func bestRanks(ranks []store.Rank) []store.Rank {
	index := make(map[string]int, len(ranks))
	out := make([]store.Rank, 0, len(ranks))
	for _, r := range ranks {
		if i, ok := index[r.PodcastID]; ok {
			if r.Rank < out[i].Rank {
				out[i] = r
			}
			continue
		}
		index[r.PodcastID] = len(out)
		out = append(out, r)
	}
	return out
}
