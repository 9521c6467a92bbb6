package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/elonfeng/podcharts/internal/pipeline"
	"github.com/elonfeng/podcharts/internal/store"
	"github.com/elonfeng/podcharts/internal/telemetry"
	"github.com/elonfeng/podcharts/pkg/alert"
	"github.com/elonfeng/podcharts/pkg/ranking"
)

// Ingester is the part of the pipeline the scheduler drives.
type Ingester interface {
	IngestDay(ctx context.Context, day ranking.Day) (pipeline.DayReport, error)
	RefreshEpisodes(ctx context.Context, day ranking.Day, limit int) (pipeline.EpisodeReport, error)
}

// Options tune the daily loop.
type Options struct {
	Interval     time.Duration
	EpisodeLimit int
	TopMovers    int
	MinMomentum  float64
}

// Scheduler runs the daily ingestion and sends the movers digest.
type Scheduler struct {
	ingester Ingester
	store    store.Store
	alertMgr *alert.Manager
	metrics  *telemetry.Metrics
	opts     Options
	today    func() ranking.Day
}

// New creates a new scheduler.
func New(ing Ingester, s store.Store, alertMgr *alert.Manager, metrics *telemetry.Metrics, opts Options) *Scheduler {
	if opts.Interval == 0 {
		opts.Interval = 24 * time.Hour
	}
	if opts.TopMovers == 0 {
		opts.TopMovers = 10
	}
	if alertMgr == nil {
		alertMgr = alert.NewManager(nil)
	}
	if metrics == nil {
		metrics = telemetry.New()
	}
	return &Scheduler{
		ingester: ing,
		store:    s,
		alertMgr: alertMgr,
		metrics:  metrics,
		opts:     opts,
		today:    ranking.Today,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	log.Info().Msg("scheduler: initial ingestion")
	s.RunOnce(ctx)

	log.Info().Dur("interval", s.opts.Interval).Msg("scheduler: running")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce ingests today, refreshes episodes and alerts on movers. Failures
// are logged; the next tick tries again.
func (s *Scheduler) RunOnce(ctx context.Context) {
	day := s.today()

	report, err := s.ingester.IngestDay(ctx, day)
	if err != nil {
		log.Error().Err(err).Stringer("day", day).Msg("scheduled ingestion failed")
		return
	}

	if s.opts.EpisodeLimit > 0 {
		if _, err := s.ingester.RefreshEpisodes(ctx, day, s.opts.EpisodeLimit); err != nil {
			log.Warn().Err(err).Stringer("day", day).Msg("episode refresh failed")
		}
	}

	if report.Metrics.WithMomentum > 0 {
		s.alertMovers(ctx, day)
	}
}

func (s *Scheduler) alertMovers(ctx context.Context, day ranking.Day) {
	if !s.alertMgr.HasNotifiers() {
		return
	}

	entries, err := s.store.Trending(ctx, store.TrendingOpts{Day: day, Limit: s.opts.TopMovers})
	if err != nil {
		log.Error().Err(err).Msg("load movers")
		return
	}

	digest := &alert.Digest{
		Day:   day,
		Title: fmt.Sprintf("Podcast movers for %s", day),
	}
	for _, e := range entries {
		if e.MomentumScore == nil || *e.MomentumScore < s.opts.MinMomentum {
			continue
		}
		m := alert.Mover{
			PodcastID: e.ID,
			Title:     e.Title,
			Publisher: e.Publisher,
			Category:  e.Category,
			Delta7d:   e.Delta7d,
			Delta30d:  e.Delta30d,
			Momentum:  *e.MomentumScore,
		}
		if e.Rank != nil {
			m.Rank = *e.Rank
		}
		digest.Movers = append(digest.Movers, m)
	}
	if len(digest.Movers) == 0 {
		return
	}

	if err := s.alertMgr.Broadcast(ctx, digest); err != nil {
		s.metrics.Alerts.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("movers digest failed")
		return
	}
	s.metrics.Alerts.WithLabelValues("ok").Inc()
	log.Info().Int("movers", len(digest.Movers)).Stringer("day", day).Msg("movers digest sent")
}
