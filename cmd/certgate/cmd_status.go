package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-provider quota and failover state",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer application.close()

		snapshot := application.pipeline.ProviderStatus()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tREMAINING\tWINDOW RESET\tERRORS\tCOOLDOWN UNTIL")
		for _, pc := range application.cfg.Providers {
			state := snapshot[pc.Name]
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n",
				pc.Name,
				state.RemainingUnits,
				shortTime(state.WindowResetAt),
				state.ConsecutiveErrors,
				shortTime(state.CooldownUntil))
		}
		return w.Flush()
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent certification runs from the audit store",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer application.close()

		if application.audit == nil {
			return fmt.Errorf("audit store is disabled in config")
		}

		runs, err := application.audit.RecentRuns(historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTATE\tPROVIDER\tAPPROVALS\tCERTIFIED\tELAPSED\tAT")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%v\t%dms\t%s\n",
				r.RunID, r.State, r.Provider,
				r.ApprovalCount, r.QuorumThreshold,
				r.Certified, r.ElapsedMs, shortTime(r.CreatedAt))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs to show")
}
