package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/periods"
)

func newPeriodCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "period",
		Short: "Manage accounting periods",
	}
	cmd.AddCommand(newPeriodListCmd(c), newPeriodCreateCmd(c), newPeriodCloseCmd(c))
	return cmd
}

func newPeriodListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.ledger(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.Periods.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-6s %-10s %-10s %-10s %-8s %s\n", "ID", "CODE", "START", "END", "STATUS", "HALTED")
			for _, p := range list {
				fmt.Fprintf(out, "%-6d %-10s %-10s %-10s %-8s %t\n",
					p.ID, p.Code, p.StartDate.Format(time.DateOnly), p.EndDate.Format(time.DateOnly), p.Status, p.Halted)
			}
			return nil
		},
	}
}

func newPeriodCreateCmd(c *cli) *cobra.Command {
	var code, start, end string
	var open bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.principal()
			if err != nil {
				return err
			}
			in := periods.CreateInput{Code: code}
			if in.StartDate, err = time.Parse(time.DateOnly, start); err != nil {
				return fmt.Errorf("ledgerctl: --start: %w", err)
			}
			if in.EndDate, err = time.Parse(time.DateOnly, end); err != nil {
				return fmt.Errorf("ledgerctl: --end: %w", err)
			}
			svc, err := c.ledger(cmd.Context())
			if err != nil {
				return err
			}
			period, err := svc.Periods.Create(cmd.Context(), p, in)
			if err != nil {
				return err
			}
			if open {
				if period, err = svc.Periods.Open(cmd.Context(), p, period.ID); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Period created: %d %s [%s]\n", period.ID, period.Code, period.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "Period code, e.g. 2024-01")
	cmd.Flags().StringVar(&start, "start", "", "First day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "Last day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&open, "open", false, "Open the period after creating it")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newPeriodCloseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "close <period-id>",
		Short: "Close a period and roll balances forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("ledgerctl: invalid period id %q", args[0])
			}
			p, err := c.principal()
			if err != nil {
				return err
			}
			svc, err := c.ledger(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.Periods.Close(cmd.Context(), p, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Period %s closed, surplus %s carried to net assets\n", res.Closed.Code, res.Surplus.StringFixed(2))
			fmt.Fprintf(out, "Next period %s (%d) is %s, %d opening balances written\n", res.Next.Code, res.Next.ID, res.Next.Status, res.Carried)
			return nil
		},
	}
}
