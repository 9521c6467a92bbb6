package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/podcharts/internal/store"
	"github.com/elonfeng/podcharts/pkg/feed"
	"github.com/elonfeng/podcharts/pkg/ranking"
)

// episodesPerFeed is how many of the newest items are kept per podcast.
const episodesPerFeed = 10

// EpisodeReport describes one episode refresh.
type EpisodeReport struct {
	Day      ranking.Day `json:"day"`
	Feeds    int         `json:"feeds"`
	Failed   int         `json:"failed"`
	Episodes int         `json:"episodes"`
}

// WithFeedReader replaces the feed reader.
func (p *Pipeline) WithFeedReader(r *feed.Reader) *Pipeline {
	p.feeds = r
	return p
}

// RefreshEpisodes pulls the latest episodes of the top limit podcasts of day
// that publish a feed. A zero day means the latest day with metrics. Feeds
// that fail are skipped.
func (p *Pipeline) RefreshEpisodes(ctx context.Context, day ranking.Day, limit int) (EpisodeReport, error) {
	if day.IsZero() {
		latest, ok, err := p.store.LatestMetricsDay(ctx)
		if err != nil {
			return EpisodeReport{}, err
		}
		if !ok {
			return EpisodeReport{}, nil
		}
		day = latest
	}
	report := EpisodeReport{Day: day}

	podcasts, err := p.store.PodcastFeeds(ctx, day, limit)
	if err != nil {
		return report, fmt.Errorf("refresh episodes: %w", err)
	}
	report.Feeds = len(podcasts)

	var (
		mu       sync.Mutex
		episodes []store.Episode
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, pod := range podcasts {
		g.Go(func() error {
			eps, err := p.feeds.Latest(gctx, pod.ID, pod.RSSURL, episodesPerFeed)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				log.Warn().Err(err).Str("podcast_id", pod.ID).Msg("feed skipped")
				return nil
			}
			for _, e := range eps {
				episodes = append(episodes, store.Episode{
					ID:          e.ID,
					PodcastID:   e.PodcastID,
					Title:       e.Title,
					AudioURL:    e.AudioURL,
					PublishedAt: e.PublishedAt,
				})
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("refresh episodes: %w", err)
	}
	if err := p.store.UpsertEpisodes(ctx, episodes); err != nil {
		return report, fmt.Errorf("refresh episodes: %w", err)
	}
	report.Episodes = len(episodes)
	p.metrics.AddRows("episodes", len(episodes))

	log.Info().
		Stringer("day", day).
		Int("feeds", report.Feeds).
		Int("failed", report.Failed).
		Int("episodes", report.Episodes).
		Msg("episodes refreshed")
	return report, nil
}
