package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/directory"
	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/pipeline"
)

var (
	sweepCategory    string
	sweepFormat      string
	sweepOutput      string
	sweepDirectory   string
	sweepConcurrency int
	sweepTimeout     time.Duration
	sweepLimit       int
	sweepForce       bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep <area>",
	Short: "Enrich every open school in a local authority",
	Long: "Reads the school directory, selects open schools in the area and category, and enriches them " +
		"concurrently. Records that fail are reported in the output; the command still exits 0.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if sweepDirectory != "" {
			cfg.Sweep.DirectoryPath = sweepDirectory
		}
		if sweepConcurrency > 0 {
			cfg.Sweep.Concurrency = sweepConcurrency
		}
		cat, err := directory.ParseCategory(sweepCategory)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "sweep")
		if err != nil {
			return err
		}
		defer env.Close()

		area := strings.Join(args, " ")
		records := env.Directory.InArea(area, cat)
		if len(records) == 0 {
			fmt.Fprintf(os.Stderr, "No open %s schools found in %s.\n", cat, area)
			return nil
		}
		if sweepLimit > 0 && len(records) > sweepLimit {
			records = records[:sweepLimit]
		}
		for i := range records {
			records[i].ForceRefresh = sweepForce
		}

		timeout := sweepTimeout
		if timeout == 0 {
			timeout = time.Duration(cfg.Sweep.TimeoutSecs) * time.Second
		}

		zap.L().Info("sweep starting",
			zap.String("area", area),
			zap.String("category", string(cat)),
			zap.Int("schools", len(records)),
			zap.Int("concurrency", cfg.Sweep.Concurrency),
			zap.Float64("budget_remaining_usd", env.Ledger.Remaining()),
		)

		var done atomic.Int32
		started := time.Now()
		results := env.Pipeline.Sweep(ctx, records, pipeline.SweepOptions{
			Concurrency: cfg.Sweep.Concurrency,
			Timeout:     timeout,
			OnResult: func(_ int, res *model.EnrichmentResult) {
				n := done.Add(1)
				zap.L().Info("sweep progress",
					zap.Int32("done", n),
					zap.Int("total", len(records)),
					zap.String("school", res.Record.Name),
					zap.String("status", string(res.Status)),
				)
			},
		})

		sum := pipeline.Summarize(area, results, cfg.Sweep.HighQualityThreshold)
		sum.Duration = time.Since(started)

		recordRun(ctx, env, "sweep", area, started, results)

		if err := writeResults(os.Stdout, sweepOutput, sweepFormat, results); err != nil {
			return err
		}
		formatSweepSummary(os.Stderr, sum)
		return nil
	},
}

// formatSweepSummary prints the sweep totals and per-status counts.
func formatSweepSummary(w io.Writer, s model.SweepSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Area:\t%s\n", s.Area)
	fmt.Fprintf(tw, "Schools:\t%d\n", s.Total)
	fmt.Fprintf(tw, "High quality:\t%d\n", s.HighQuality)
	fmt.Fprintf(tw, "With contacts:\t%d\n", s.WithContacts)
	fmt.Fprintf(tw, "With competitors:\t%d\n", s.WithCompetitors)
	fmt.Fprintf(tw, "From cache:\t%d\n", s.FromCache)
	fmt.Fprintf(tw, "Average confidence:\t%.1f\n", s.AverageConfidence)
	fmt.Fprintf(tw, "Total cost:\t$%.4f\n", s.TotalCostUSD)
	fmt.Fprintf(tw, "Duration:\t%s\n", s.Duration.Round(time.Second))

	statuses := make([]string, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(tw, "  %s:\t%d\n", st, s.ByStatus[model.Status(st)])
	}
	tw.Flush()
}

func init() {
	sweepCmd.Flags().StringVar(&sweepCategory, "category", "all", "school category: primary, secondary or all")
	sweepCmd.Flags().StringVar(&sweepFormat, "format", "", "output format: json, csv or xlsx (default from --output, else json)")
	sweepCmd.Flags().StringVar(&sweepOutput, "output", "", "output file (default stdout)")
	sweepCmd.Flags().StringVar(&sweepDirectory, "directory", "", "school directory CSV or XLSX (default sweep.directory_path)")
	sweepCmd.Flags().IntVar(&sweepConcurrency, "concurrency", 0, "parallel schools (default sweep.concurrency)")
	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 0, "stop starting new schools after this long (default sweep.timeout_secs)")
	sweepCmd.Flags().IntVar(&sweepLimit, "limit", 0, "enrich at most this many schools (0 = all)")
	sweepCmd.Flags().BoolVar(&sweepForce, "force", false, "ignore cached results")
	rootCmd.AddCommand(sweepCmd)
}
