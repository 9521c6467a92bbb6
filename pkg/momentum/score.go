package momentum

import (
	"context"
	"fmt"

	"github.com/elonfeng/podcharts/internal/store"
	"github.com/elonfeng/podcharts/pkg/ranking"
)

// Lookback horizons, in days.
const (
	ShortHorizon = 7
	LongHorizon  = 30
)

// Weights of the short and long deltas in the momentum score. A missing delta
// contributes nothing and the remaining weight is not rescaled.
const (
	Weight7d  = 0.7
	Weight30d = 0.3
)

// Reference is the set of ranks recorded in metrics_daily for one past day.
type Reference struct {
	Day   ranking.Day
	ranks map[string]int
}

// NewReference wraps a podcast id to rank map.
func NewReference(day ranking.Day, ranks map[string]int) Reference {
	return Reference{Day: day, ranks: ranks}
}

// LoadReference reads the derived ranks for day. A day with no metrics yields
// an empty reference.
func LoadReference(ctx context.Context, q store.Queries, day ranking.Day) (Reference, error) {
	ranks, err := q.MetricsRanks(ctx, day)
	if err != nil {
		return Reference{}, fmt.Errorf("load reference %s: %w", day, err)
	}
	return NewReference(day, ranks), nil
}

// Lookup returns the podcast's rank on the reference day.
func (r Reference) Lookup(podcastID string) (int, bool) {
	rank, ok := r.ranks[podcastID]
	return rank, ok
}

// Len is the number of podcasts present on the reference day.
func (r Reference) Len() int { return len(r.ranks) }

// Delta is the reference rank minus today's rank, so climbing the chart is
// positive. It is nil when the podcast is absent from the reference.
func Delta(ref Reference, podcastID string, rank int) *int {
	prev, ok := ref.Lookup(podcastID)
	if !ok {
		return nil
	}
	d := prev - rank
	return &d
}

// Score combines the two deltas. Nil when both are nil.
func Score(d7, d30 *int) *float64 {
	if d7 == nil && d30 == nil {
		return nil
	}
	var s float64
	if d7 != nil {
		s += Weight7d * float64(*d7)
	}
	if d30 != nil {
		s += Weight30d * float64(*d30)
	}
	return &s
}
