package main

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/jobs"
)

// verify runs the integrity check in-process, without the queue.
func newVerifyCmd(c *cli) *cobra.Command {
	var periodID int64
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay posted lines and compare with stored balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.ledger(cmd.Context())
			if err != nil {
				return err
			}
			job := jobs.NewGLIntegrityJob(svc.Store, c.log(), nil)
			report, err := job.Run(cmd.Context(), jobs.IntegrityPayload{PeriodID: periodID})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked %d period(s)\n", len(report.Checked))
			for _, f := range report.Failures {
				fmt.Fprintf(out, "Period %d failed %s: %d mismatching account(s), halted=%t\n", f.PeriodID, f.Check, len(f.Mismatches), f.Halted)
				for _, m := range f.Mismatches {
					fmt.Fprintf(out, "  account %d stored net %s, replayed net %s\n",
						m.AccountID, m.Stored.Net.StringFixed(2), m.Replayed.Net.StringFixed(2))
				}
			}
			if len(report.Failures) > 0 {
				return fmt.Errorf("ledgerctl: %w", accounting.ErrInvariantViolation)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&periodID, "period", 0, "Period id (default: every open and closed period)")
	return cmd
}

func newJobsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Enqueue background jobs on the worker queue",
	}
	var periodID int64
	trigger := &cobra.Command{
		Use:       "trigger <integrity|warmup>",
		Short:     "Enqueue a ledger task",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"integrity", "warmup"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			if err != nil {
				return err
			}
			defer client.Close()
			var info *asynq.TaskInfo
			switch args[0] {
			case "integrity":
				info, err = client.EnqueueIntegrity(cmd.Context(), periodID)
			case "warmup":
				info, err = client.EnqueueWarmup(cmd.Context(), periodID)
			default:
				return errors.New("ledgerctl: unsupported job " + args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().Int64Var(&periodID, "period", 0, "Period id (default: depends on the job)")
	cmd.AddCommand(trigger)
	return cmd
}
