package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/elonfeng/podcharts/internal/store"
	"github.com/elonfeng/podcharts/internal/telemetry"
	"github.com/elonfeng/podcharts/pkg/ranking"
)

const (
	maxLimit     = 500
	historyDays  = 30
	compareDays  = 90
	shutdownWait = 10 * time.Second
)

// Server provides the read-only HTTP API.
type Server struct {
	store   store.Store
	metrics *telemetry.Metrics
	port    int
}

// New creates a new HTTP server. metrics may be nil, which disables /metrics.
func New(s store.Store, metrics *telemetry.Metrics, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{store: s, metrics: metrics, port: port}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/leaderboard", s.handleLeaderboard)
	r.Get("/trending", s.handleTrending)
	r.Get("/podcast/{id}", s.handlePodcast)
	r.Get("/compare", s.handleCompare)
	r.Get("/coverage", s.handleCoverage)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sortKey, err := store.ParseSortKey(q.Get("sort_by"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	interval, err := store.ParseInterval(q.Get("interval"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := parseLimit(q.Get("limit"), 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	day, err := parseDay(q.Get("day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := s.store.Leaderboard(r.Context(), store.LeaderboardOpts{
		Filter: store.Filter{
			Category: q.Get("category"),
			Country:  q.Get("country"),
			Search:   q.Get("search"),
		},
		Interval:   interval,
		Sort:       sortKey,
		Descending: q.Get("order") == "desc",
		Day:        day,
		Limit:      limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeList(w, entries)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	day, err := parseDay(q.Get("day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := s.store.Trending(r.Context(), store.TrendingOpts{
		Category: q.Get("category"),
		Day:      day,
		Limit:    limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeList(w, entries)
}

func (s *Server) handlePodcast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	podcast, err := s.store.GetPodcast(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("podcast %s not found", id))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	history, err := s.history(ctx, id, historyDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"podcast": podcast,
		"history": history,
	})
}

// handleCompare returns two podcasts side by side with their recent metrics.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids := []string{r.URL.Query().Get("id1"), r.URL.Query().Get("id2")}
	if ids[0] == "" || ids[1] == "" {
		writeError(w, http.StatusBadRequest, errors.New("id1 and id2 are required"))
		return
	}

	podcasts := make([]*store.Podcast, 0, len(ids))
	series := make(map[string][]store.Metrics, len(ids))
	for _, id := range ids {
		podcast, err := s.store.GetPodcast(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("podcast %s not found", id))
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		history, err := s.history(ctx, id, compareDays)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		podcasts = append(podcasts, podcast)
		series[id] = history
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"podcasts": podcasts,
		"series":   series,
	})
}

// history loads a podcast's metrics for the trailing window ending on the
// latest metrics day.
func (s *Server) history(ctx context.Context, id string, days int) ([]store.Metrics, error) {
	latest, ok, err := s.store.LatestMetricsDay(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		latest = ranking.Today()
	}
	rows, err := s.store.History(ctx, id, latest.AddDays(-days))
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []store.Metrics{}
	}
	return rows, nil
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	day, err := parseDay(r.URL.Query().Get("day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if day.IsZero() {
		latest, ok, err := s.store.LatestMetricsDay(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("no metrics yet"))
			return
		}
		day = latest
	}

	cov, err := s.store.Coverage(ctx, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cov)
}

func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLimit {
		return 0, fmt.Errorf("limit must be an integer in [1, %d]", maxLimit)
	}
	return n, nil
}

func parseDay(raw string) (ranking.Day, error) {
	if raw == "" {
		return ranking.Day{}, nil
	}
	return ranking.ParseDay(raw)
}

func writeList(w http.ResponseWriter, entries []store.LeaderboardEntry) {
	if entries == nil {
		entries = []store.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"count": len(entries),
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
