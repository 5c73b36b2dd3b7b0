package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/accounts"
)

func newSeedCmd(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply a chart of accounts seed file",
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
			seed, err := accounts.LoadSeed(f)
			if err != nil {
				return err
			}
			svc, err := c.ledger(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.Accounts.ApplySeed(cmd.Context(), p, seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seed applied: %d groups, %d types, %d accounts, %d mappings\n",
				res.Groups, res.Types, res.Accounts, res.Mappings)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "configs/chart_of_accounts.yaml", "Seed YAML file")
	return cmd
}
