package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/reconciliation"
)

func newReconcileCmd(c *cli) *cobra.Command {
	var (
		file     string
		source   string
		periodID int64
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile an external trial balance CSV against posted balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.principal()
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			balances, err := reconciliation.ParseTrialBalance(f)
			if err != nil {
				return err
			}
			svc, err := c.ledger(cmd.Context())
			if err != nil {
				return err
			}
			run, err := svc.Reconciliation.Reconcile(cmd.Context(), p, reconciliation.Input{
				PeriodID: periodID,
				Source:   source,
				Balances: balances,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s: %d matched, %d flagged, %d unreconciled, total variance %s\n",
				run.ID, run.Summary.Matched, run.Summary.Flagged, run.Summary.Unreconciled, run.Summary.TotalVariance.StringFixed(2))
			if verbose {
				fmt.Fprintf(out, "%-12s %14s %14s %14s %s\n", "CODE", "EXTERNAL", "INTERNAL", "VARIANCE", "STATUS")
				for _, r := range run.Records {
					fmt.Fprintf(out, "%-12s %14s %14s %14s %s\n",
						r.ExternalCode, r.External.StringFixed(2), r.Internal.StringFixed(2), r.Variance.StringFixed(2), r.Status)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file with code,balance rows")
	cmd.Flags().StringVar(&source, "source", "", "External system name")
	cmd.Flags().Int64Var(&periodID, "period", 0, "Period id")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every record")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}
