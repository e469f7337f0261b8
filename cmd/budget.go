package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/model"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show or reset the monthly extraction budget",
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show spend against the monthly ceiling",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openEnv(ctx, "budget")
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Store.ListRuns(ctx, 1000)
		if err != nil {
			return err
		}
		formatBudget(os.Stdout, env.Ledger.Snapshot(), runs)
		return nil
	},
}

var budgetResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero this month's recorded spend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openEnv(ctx, "budget")
		if err != nil {
			return err
		}
		defer env.Close()

		before := env.Ledger.Snapshot()
		env.Ledger.Reset()
		if err := env.Store.SaveBudget(ctx, env.Ledger.Snapshot()); err != nil {
			return err
		}
		zap.L().Info("budget reset", zap.Float64("previous_spent_usd", before.SpentUSD))
		fmt.Printf("Budget reset (was $%.2f spent).\n", before.SpentUSD)
		return nil
	},
}

// formatBudget prints the ledger state. Cost per school is averaged over the
// recent runs started in the current period.
func formatBudget(w io.Writer, st model.BudgetState, runs []model.RunRecord) {
	var schools int
	var spent float64
	for _, r := range runs {
		if r.StartedAt.Before(st.PeriodStart) {
			continue
		}
		schools += r.Records
		spent += r.CostUSD
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Period start:\t%s\n", st.PeriodStart.Format("2006-01-02"))
	fmt.Fprintf(tw, "Ceiling:\t$%.2f\n", st.CeilingUSD)
	fmt.Fprintf(tw, "Spent:\t$%.4f\n", st.SpentUSD)
	fmt.Fprintf(tw, "Reserved:\t$%.4f\n", st.ReservedUSD)
	fmt.Fprintf(tw, "Remaining:\t$%.4f\n", st.RemainingUSD())
	if st.OverrunUSD > 0 {
		fmt.Fprintf(tw, "Overrun:\t$%.4f\n", st.OverrunUSD)
	}
	if schools > 0 {
		fmt.Fprintf(tw, "Cost per school:\t$%.4f (%d schools)\n", spent/float64(schools), schools)
	} else {
		fmt.Fprintf(tw, "Cost per school:\t-\n")
	}
	tw.Flush()
}

func init() {
	budgetCmd.AddCommand(budgetStatusCmd, budgetResetCmd)
	rootCmd.AddCommand(budgetCmd)
}
