// Command leadgen polls contracting sources, scores opportunities against
// the configured portfolio profile, and writes triage reports.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cleartrend/leadgen/internal/config"
	"github.com/cleartrend/leadgen/internal/db"
	"github.com/cleartrend/leadgen/internal/ingest"
	"github.com/cleartrend/leadgen/internal/pipeline"
	"github.com/cleartrend/leadgen/internal/report"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		verbose bool
	)

	root := &cobra.Command{
		Use:           "leadgen",
		Short:         "Contracting opportunity lead generation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/leadgen.yaml", "config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newIngestFileCmd(&cfgPath),
		newTriageCmd(&cfgPath),
		newRollupCmd(&cfgPath),
		newExportCmd(&cfgPath),
		newStageCmd(&cfgPath),
		newStatsCmd(&cfgPath),
	)
	return root
}

// setup loads config and opens the store; callers must close the returned
// connection.
func setup(cfgPath string) (*config.Config, *sql.DB, *pipeline.Pipeline, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, err
	}
	conn, err := db.Open(cfg.Paths.DB)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, conn, pipeline.New(cfg, db.NewStore(conn)), nil
}

func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch from the contracting API, score, store, and report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, p, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer conn.Close()
			if cfg.Offline {
				return fmt.Errorf("offline mode is enabled; use ingest-file for local data")
			}

			ctx, stop := runContext()
			defer stop()

			now := time.Now()
			adapter := ingest.NewSAMClient(cfg.API.BaseURL, cfg.API.Key, ingest.SAMQuery{
				From:  now.AddDate(0, 0, -cfg.API.WindowDays),
				To:    now,
				Text:  cfg.API.Query,
				Limit: cfg.API.Limit,
			})

			sum, err := p.Ingest(ctx, adapter)
			if err != nil {
				return err
			}
			paths, err := p.WriteReports(ctx, sum)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
}

func newIngestFileCmd(cfgPath *string) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "ingest-file <path>",
		Short: "Ingest a CSV or XLSX export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, p, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := runContext()
			defer stop()

			sum, err := p.Ingest(ctx, ingest.NewFileAdapter(args[0], source))
			if err != nil {
				return err
			}
			paths, err := p.WriteReports(ctx, sum)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "file", "source label for ingested records")
	return cmd
}

func newTriageCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "triage",
		Short: "Print the current triage brief",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, p, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := runContext()
			defer stop()

			triage, err := p.Triage(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.RenderDaily(report.Daily{
				Date:   time.Now(),
				Triage: triage,
			}))
			return nil
		},
	}
}

func newRollupCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rollup",
		Short: "Write the weekly pipeline rollup",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, p, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := runContext()
			defer stop()

			path, err := p.WriteWeekly(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newExportCmd(cfgPath *string) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all stored opportunities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, _, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := runContext()
			defer stop()

			store := db.NewStore(conn)
			all, err := store.List(ctx, db.ListParams{})
			if err != nil {
				return err
			}

			day := time.Now().Format("2006-01-02")
			var path string
			switch format {
			case "csv":
				path = filepath.Join(cfg.Paths.ExportDir, fmt.Sprintf("opportunities-%s.csv", day))
				err = report.WriteCSV(path, all)
			case "ndjson":
				path = filepath.Join(cfg.Paths.ExportDir, fmt.Sprintf("opportunities-%s.ndjson", day))
				err = report.WriteNDJSON(path, all)
			default:
				return fmt.Errorf("unknown format %q (want csv or ndjson)", format)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "export format: csv or ndjson")
	return cmd
}

func newStageCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <source> <opportunity-id> <stage>",
		Short: "Move an opportunity to a pipeline stage",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, conn, _, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := runContext()
			defer stop()

			if err := db.NewStore(conn).UpdateStage(ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s -> %s\n", args[0], args[1], args[2])
			return nil
		},
	}
}

func newStatsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pipeline counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, conn, _, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, stop := runContext()
			defer stop()

			st, err := db.NewStore(conn).Stats(ctx, cfg.Scoring.DueSoonDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total: %d\ndue within %d days: %d\n", st.Total, cfg.Scoring.DueSoonDays, st.DueSoon)
			for stage, n := range st.ByStage {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %d\n", stage, n)
			}
			return nil
		},
	}
}
