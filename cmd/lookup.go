package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/model"
)

var (
	lookupURL    string
	lookupURN    string
	lookupArea   string
	lookupFormat string
	lookupOutput string
	lookupForce  bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <school name>",
	Short: "Enrich a single school",
	Long: "Looks up one school: serves a cached result when fresh, otherwise fetches its website, " +
		"extracts and verifies contacts, and scores the result.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "lookup")
		if err != nil {
			return err
		}
		defer env.Close()

		rec := resolveRecord(env.Directory, model.TargetRecord{
			Name:           strings.Join(args, " "),
			URL:            lookupURL,
			URN:            lookupURN,
			LocalAuthority: lookupArea,
			ForceRefresh:   lookupForce,
		})

		started := time.Now()
		res := env.Pipeline.Run(ctx, rec)
		results := []*model.EnrichmentResult{res}

		recordRun(ctx, env, "lookup", rec.Name, started, results)

		zap.L().Info("lookup complete",
			zap.String("school", rec.Name),
			zap.String("status", string(res.Status)),
			zap.Int("confidence", res.Confidence),
			zap.Int("contacts", len(res.Contacts)),
			zap.Float64("cost_usd", res.CostUSD),
			zap.Bool("from_cache", res.FromCache),
		)

		return writeResults(os.Stdout, lookupOutput, lookupFormat, results)
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupURL, "source-url", "", "school website (discovered by search when empty)")
	lookupCmd.Flags().StringVar(&lookupURN, "urn", "", "school unique reference number")
	lookupCmd.Flags().StringVar(&lookupArea, "area", "", "local authority, used to disambiguate the name")
	lookupCmd.Flags().StringVar(&lookupFormat, "format", "", "output format: json, csv or xlsx (default from --output, else json)")
	lookupCmd.Flags().StringVar(&lookupOutput, "output", "", "output file (default stdout)")
	lookupCmd.Flags().BoolVar(&lookupForce, "force", false, "ignore any cached result")
	rootCmd.AddCommand(lookupCmd)
}
