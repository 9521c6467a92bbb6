package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "podcharts",
		Short:         "Track podcast chart ranks and their momentum",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(ingestCmd())
	root.AddCommand(backfillCmd())
	root.AddCommand(recomputeCmd())
	root.AddCommand(synthesizeCmd())
	root.AddCommand(episodesCmd())
	root.AddCommand(coverageCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func ingestCmd() *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch today's charts and compute metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), day)
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "day to ingest as YYYY-MM-DD (default: today, UTC)")
	return cmd
}

func backfillCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Ingest the past N days, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context(), days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "number of past days to ingest")
	return cmd
}

func recomputeCmd() *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute metrics for a day from stored ranks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecompute(cmd.Context(), day)
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "day to recompute as YYYY-MM-DD")
	cmd.MarkFlagRequired("day")
	return cmd
}

func synthesizeCmd() *cobra.Command {
	var (
		days int
		seed int64
	)

	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Fabricate past metrics from the latest day for demos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSynthesize(cmd.Context(), days, seed)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "number of days before the baseline to fill")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (default: time based)")
	return cmd
}

func episodesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "Refresh latest episodes of top podcasts from their feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEpisodes(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "number of top podcasts (default: from config)")
	return cmd
}

func coverageCmd() *cobra.Command {
	var (
		day        string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Show how many metrics rows carry deltas and momentum",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoverage(cmd.Context(), day, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "day to inspect (default: latest)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with daily ingestion and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
