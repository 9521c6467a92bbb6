package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/podcharts/internal/pipeline"
	"github.com/elonfeng/podcharts/internal/store"
	"github.com/elonfeng/podcharts/internal/telemetry"
	"github.com/elonfeng/podcharts/pkg/alert"
	"github.com/elonfeng/podcharts/pkg/momentum"
	"github.com/elonfeng/podcharts/pkg/ranking"
)

var today = ranking.NewDay(2025, time.March, 8)

type fakeIngester struct {
	err      error
	report   pipeline.DayReport
	days     []ranking.Day
	episodes int
}

func (f *fakeIngester) IngestDay(ctx context.Context, day ranking.Day) (pipeline.DayReport, error) {
	f.days = append(f.days, day)
	return f.report, f.err
}

func (f *fakeIngester) RefreshEpisodes(ctx context.Context, day ranking.Day, limit int) (pipeline.EpisodeReport, error) {
	f.episodes++
	return pipeline.EpisodeReport{}, nil
}

type captureNotifier struct {
	digests []*alert.Digest
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) Send(_ context.Context, d *alert.Digest) error {
	c.digests = append(c.digests, d)
	return nil
}

func seededStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	d := 6
	up := 4.2
	down := -1.0
	require.NoError(t, s.UpsertPodcasts(ctx, []ranking.RankedPodcast{
		{PodcastID: "up", Title: "Up"}, {PodcastID: "down", Title: "Down"},
	}))
	require.NoError(t, s.UpsertMetrics(ctx, []store.Metrics{
		{PodcastID: "up", CapturedOn: today, Rank: 3, Delta7d: &d, MomentumScore: &up},
		{PodcastID: "down", CapturedOn: today, Rank: 4, MomentumScore: &down},
	}))
	return s
}

func newScheduler(ing Ingester, s store.Store, n alert.Notifier, m *telemetry.Metrics) *Scheduler {
	sch := New(ing, s, alert.NewManager([]alert.Notifier{n}), m, Options{EpisodeLimit: 5})
	sch.today = func() ranking.Day { return today }
	return sch
}

func TestRunOnceSendsMovers(t *testing.T) {
	ing := &fakeIngester{report: pipeline.DayReport{Metrics: momentum.Result{WithMomentum: 2}}}
	n := &captureNotifier{}
	m := telemetry.New()

	newScheduler(ing, seededStore(t), n, m).RunOnce(context.Background())

	assert.Equal(t, []ranking.Day{today}, ing.days)
	assert.Equal(t, 1, ing.episodes)
	require.Len(t, n.digests, 1)
	require.Len(t, n.digests[0].Movers, 1)
	assert.Equal(t, "up", n.digests[0].Movers[0].PodcastID)
	assert.Equal(t, 3, n.digests[0].Movers[0].Rank)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Alerts.WithLabelValues("ok")))
}

func TestRunOnceIngestFailureSkipsAlerts(t *testing.T) {
	ing := &fakeIngester{err: errors.New("provider down")}
	n := &captureNotifier{}

	newScheduler(ing, seededStore(t), n, nil).RunOnce(context.Background())

	assert.Zero(t, ing.episodes)
	assert.Empty(t, n.digests)
}

func TestRunOnceNoMomentumNoDigest(t *testing.T) {
	ing := &fakeIngester{}
	n := &captureNotifier{}

	newScheduler(ing, seededStore(t), n, nil).RunOnce(context.Background())
	assert.Empty(t, n.digests)
}

func TestRunStopsOnCancel(t *testing.T) {
	ing := &fakeIngester{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newScheduler(ing, seededStore(t), &captureNotifier{}, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, ing.days, 1)
}
