package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ipsas-ledger/internal/app"
	"github.com/odyssey-erp/ipsas-ledger/internal/platform/db"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version|redo|reset]",
		Short:     "Run schema migrations against PG_DSN",
		Args:      cobra.RangeArgs(0, 2),
		ValidArgs: []string{"up", "down", "status", "version", "redo", "reset", "up-to", "down-to"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			if cfg.Store != app.StorePostgres {
				return errors.New("ledgerctl: migrate requires LEDGER_STORE=postgres")
			}
			command, rest := "up", []string(nil)
			if len(args) > 0 {
				command, rest = args[0], args[1:]
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(cmd.Context(), pool, command, rest...)
		},
	}
}
