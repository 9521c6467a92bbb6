package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/podcharts/internal/store"
	"github.com/elonfeng/podcharts/internal/telemetry"
	"github.com/elonfeng/podcharts/pkg/ranking"
)

var day = ranking.NewDay(2025, time.March, 8)

func intp(v int) *int { return &v }
func floatp(v float64) *float64 { return &v }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.UpsertPodcasts(ctx, []ranking.RankedPodcast{
		{PodcastID: "a", Title: "Alpha Daily", Publisher: "Pub", Category: "news", Country: "us"},
		{PodcastID: "b", Title: "Beta", Publisher: "Other", Category: "comedy", Country: "us"},
	}))
	require.NoError(t, s.UpsertMetrics(ctx, []store.Metrics{
		{PodcastID: "a", CapturedOn: day, Rank: 2, Delta7d: intp(5), MomentumScore: floatp(3.5)},
		{PodcastID: "b", CapturedOn: day, Rank: 1},
		{PodcastID: "a", CapturedOn: day.AddDays(-7), Rank: 7},
	}))

	srv := httptest.NewServer(New(s, telemetry.New(), 0).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, dest any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dest != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

type listResponse struct {
	Data  []store.LeaderboardEntry `json:"data"`
	Count int                      `json:"count"`
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestLeaderboard(t *testing.T) {
	srv := newTestServer(t)

	var list listResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/leaderboard", &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "b", list.Data[0].ID)
	assert.Equal(t, day, list.Data[0].CapturedOn)

	list = listResponse{}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/leaderboard?sort_by=momentum&order=desc", &list))
	assert.Equal(t, "a", list.Data[0].ID)
	assert.Nil(t, list.Data[1].MomentumScore)

	list = listResponse{}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/leaderboard?search=ALPHA&country=US", &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "a", list.Data[0].ID)
}

func TestLeaderboardBadParams(t *testing.T) {
	srv := newTestServer(t)
	for _, q := range []string{"sort_by=title", "interval=hourly", "limit=0", "limit=x", "day=yesterday"} {
		assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/leaderboard?"+q, nil), q)
	}
}

func TestTrending(t *testing.T) {
	srv := newTestServer(t)

	var list listResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/trending", &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "a", list.Data[0].ID)
	assert.InDelta(t, 3.5, *list.Data[0].MomentumScore, 1e-9)
}

func TestPodcast(t *testing.T) {
	srv := newTestServer(t)

	var body struct {
		Podcast store.Podcast   `json:"podcast"`
		History []store.Metrics `json:"history"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/podcast/a", &body))
	assert.Equal(t, "Alpha Daily", body.Podcast.Title)
	require.Len(t, body.History, 2)
	assert.Equal(t, day.AddDays(-7), body.History[0].CapturedOn)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/podcast/zzz", nil))
}

func TestCompare(t *testing.T) {
	srv := newTestServer(t)

	var body struct {
		Podcasts []store.Podcast            `json:"podcasts"`
		Series   map[string][]store.Metrics `json:"series"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/compare?id1=a&id2=b", &body))
	require.Len(t, body.Podcasts, 2)
	assert.Equal(t, "a", body.Podcasts[0].ID)
	assert.Equal(t, "b", body.Podcasts[1].ID)
	assert.Len(t, body.Series["a"], 2)
	assert.Len(t, body.Series["b"], 1)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/compare?id1=a", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/compare?id1=a&id2=zzz", nil))
}

func TestCoverage(t *testing.T) {
	srv := newTestServer(t)

	var cov store.Coverage
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/coverage", &cov))
	assert.Equal(t, day, cov.Day)
	assert.Equal(t, 2, cov.Total)
	assert.Equal(t, 1, cov.WithMomentum)
	assert.Equal(t, 1, cov.Rows7dAgo)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
