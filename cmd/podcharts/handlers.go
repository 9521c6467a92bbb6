package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/podcharts/internal/config"
	"github.com/elonfeng/podcharts/internal/pipeline"
	"github.com/elonfeng/podcharts/internal/scheduler"
	"github.com/elonfeng/podcharts/internal/store"
	"github.com/elonfeng/podcharts/internal/synth"
	"github.com/elonfeng/podcharts/internal/telemetry"
	"github.com/elonfeng/podcharts/pkg/alert"
	"github.com/elonfeng/podcharts/pkg/momentum"
	"github.com/elonfeng/podcharts/pkg/ranking"
	"github.com/elonfeng/podcharts/pkg/server"
)

// app bundles what every command needs.
type app struct {
	cfg     *config.Config
	db      *store.SQLStore
	metrics *telemetry.Metrics
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

// openApp loads config, configures logging and opens the store. Commands that
// call the provider pass requireProvider.
func openApp(ctx context.Context, requireProvider bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log)

	if err := cfg.Validate(requireProvider); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Debug().Str("dialect", string(db.Dialect())).Msg("store opened")

	return &app{cfg: cfg, db: db, metrics: telemetry.New()}, nil
}

func (a *app) Close() error { return a.db.Close() }

func (a *app) pipeline() *pipeline.Pipeline {
	provider := ranking.NewListenNotes(ranking.ListenNotesOptions{
		BaseURL:           a.cfg.Provider.BaseURL,
		APIKey:            a.cfg.Provider.APIKey,
		Timeout:           a.cfg.Provider.ParseTimeout(),
		RequestsPerSecond: a.cfg.Provider.RequestsPerSecond,
	})
	return pipeline.New(provider, a.db, momentum.NewEngine(provider.Name()), a.metrics, pipeline.Options{
		Regions:     a.cfg.Ingest.Regions,
		Categories:  a.cfg.Ingest.Categories,
		PageSize:    a.cfg.Ingest.Limit,
		Concurrency: a.cfg.Ingest.Concurrency,
	})
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func parseDayFlag(s string) (ranking.Day, error) {
	if s == "" {
		return ranking.Today(), nil
	}
	return ranking.ParseDay(s)
}

func runIngest(ctx context.Context, dayFlag string) error {
	day, err := parseDayFlag(dayFlag)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.pipeline().IngestDay(ctx, day)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s: %d records from %d charts (%d failed, %d empty), %d metrics rows, %d with momentum\n",
		report.Day, report.Records, report.Pairs, report.PairsFailed, report.PairsEmpty,
		report.Metrics.Rows, report.Metrics.WithMomentum)
	return nil
}

func runBackfill(ctx context.Context, days int) error {
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	reports, err := a.pipeline().Backfill(ctx, days, ranking.Today())
	for _, r := range reports {
		fmt.Fprintf(os.Stderr, "  %s: %d records, %d metrics (%d with 7d, %d with 30d)\n",
			r.Day, r.Records, r.Metrics.Rows, r.Metrics.WithDelta7d, r.Metrics.WithDelta30d)
	}
	return err
}

func runRecompute(ctx context.Context, dayFlag string) error {
	day, err := ranking.ParseDay(dayFlag)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.pipeline().Recompute(ctx, day)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s: %d metrics rows, %d with momentum\n", res.Day, res.Rows, res.WithMomentum)
	return nil
}

func runSynthesize(ctx context.Context, days int, seed int64) error {
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gen := synth.NewGenerator(a.db, momentum.NewEngine(""), rand.New(rand.NewSource(seed)))

	report, err := gen.Generate(ctx, days)
	if errors.Is(err, synth.ErrNoBaseline) {
		return fmt.Errorf("%w: run ingest first", err)
	}
	if err != nil {
		return err
	}
	return printCoverage(report.Coverage, false)
}

func runEpisodes(ctx context.Context, limit int) error {
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if limit <= 0 {
		limit = a.cfg.Schedule.EpisodeLimit
	}
	report, err := a.pipeline().RefreshEpisodes(ctx, ranking.Day{}, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d episodes from %d feeds (%d failed)\n", report.Episodes, report.Feeds, report.Failed)
	return nil
}

func runCoverage(ctx context.Context, dayFlag string, jsonOutput bool) error {
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var day ranking.Day
	if dayFlag != "" {
		if day, err = ranking.ParseDay(dayFlag); err != nil {
			return err
		}
	} else {
		latest, ok, err := a.db.LatestMetricsDay(ctx)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("no metrics yet (try: podcharts ingest)")
			return nil
		}
		day = latest
	}

	cov, err := a.db.Coverage(ctx, day)
	if err != nil {
		return err
	}
	return printCoverage(cov, jsonOutput)
}

func printCoverage(cov *store.Coverage, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cov)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "DAY\t%s\n", cov.Day)
	fmt.Fprintf(w, "ROWS\t%d\n", cov.Total)
	fmt.Fprintf(w, "WITH DELTA 7D\t%d\n", cov.WithDelta7d)
	fmt.Fprintf(w, "WITH DELTA 30D\t%d\n", cov.WithDelta30d)
	fmt.Fprintf(w, "WITH MOMENTUM\t%d\n", cov.WithMomentum)
	fmt.Fprintf(w, "NO DELTAS\t%d\n", cov.NoDeltas)
	fmt.Fprintf(w, "MOMENTUM AVG/MIN/MAX\t%s / %s / %s\n", fmtFloat(cov.AvgMomentum), fmtFloat(cov.MinMomentum), fmtFloat(cov.MaxMomentum))
	fmt.Fprintf(w, "ROWS ON D-7\t%d\n", cov.Rows7dAgo)
	fmt.Fprintf(w, "ROWS ON D-30\t%d\n", cov.Rows30dAgo)
	return w.Flush()
}

func fmtFloat(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *f)
}

func runServe(ctx context.Context, port int) error {
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}
	return server.New(a.db, a.metrics, port).ListenAndServe(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	sched := scheduler.New(a.pipeline(), a.db, buildAlertManager(a.cfg), a.metrics, scheduler.Options{
		Interval:     a.cfg.Schedule.ParseIngestInterval(),
		EpisodeLimit: a.cfg.Schedule.EpisodeLimit,
		TopMovers:    a.cfg.Alerts.TopMovers,
		MinMomentum:  a.cfg.Alerts.MinMomentum,
	})
	srv := server.New(a.db, a.metrics, port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	err = g.Wait()
	log.Info().Msg("shutting down")
	return err
}
