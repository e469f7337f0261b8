package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/cache"
)

var cacheExpiredOnly bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entries and hit rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openEnv(ctx, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := env.Cache.Stats(ctx)
		if err != nil {
			return err
		}
		formatCacheStats(os.Stdout, st)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openEnv(ctx, "cache")
		if err != nil {
			return err
		}
		defer env.Close()

		var n int
		if cacheExpiredOnly {
			n, err = env.Cache.Purge(ctx)
		} else {
			n, err = env.Cache.Clear(ctx)
		}
		if err != nil {
			return err
		}
		zap.L().Info("cache cleared", zap.Int("removed", n), zap.Bool("expired_only", cacheExpiredOnly))
		fmt.Printf("Removed %d cache entries.\n", n)
		return nil
	},
}

func formatCacheStats(w io.Writer, st cache.Stats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Entries:\t%d\n", st.Entries)
	fmt.Fprintf(tw, "Hits:\t%d\n", st.Hits)
	fmt.Fprintf(tw, "Misses:\t%d\n", st.Misses)
	fmt.Fprintf(tw, "Hit rate:\t%.1f%%\n", st.HitRate*100)
	tw.Flush()
}

func init() {
	cacheClearCmd.Flags().BoolVar(&cacheExpiredOnly, "expired", false, "only remove entries past their TTL")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
