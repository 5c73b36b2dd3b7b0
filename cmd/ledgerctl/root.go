package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/app"
	"github.com/odyssey-erp/ipsas-ledger/internal/shared"
)

// cli carries state shared by every subcommand. Tests preset store and cfg.
type cli struct {
	cfg      *app.Config
	logger   *slog.Logger
	store    accounting.Store
	services *app.Services
	closers  []func()

	actor        string
	capabilities string
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Administer the IPSAS ledger",
		Long:          "Administrative commands for the IPSAS ledger: schema migrations, chart seeding, period close, reconciliation imports and integrity checks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			c.close()
		},
	}
	root.PersistentFlags().StringVar(&c.actor, "actor", "ledgerctl", "Principal recorded on audit rows")
	root.PersistentFlags().StringVar(&c.capabilities, "capabilities", "admin", "Comma separated capabilities of the actor")

	root.AddCommand(
		newMigrateCmd(c),
		newSeedCmd(c),
		newPeriodCmd(c),
		newReconcileCmd(c),
		newVerifyCmd(c),
		newJobsCmd(c),
	)
	return root
}

func (c *cli) config() (*app.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *cli) log() *slog.Logger {
	if c.logger == nil {
		c.logger = app.NewLogger(c.cfg)
	}
	return c.logger
}

// ledger opens the store on first use and wires the services without a cache.
func (c *cli) ledger(ctx context.Context) (*app.Services, error) {
	if c.services != nil {
		return c.services, nil
	}
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	if c.store == nil {
		store, closeStore, err := app.OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.closers = append(c.closers, closeStore)
	}
	c.services = app.NewServices(cfg, c.store, nil, nil, c.log())
	return c.services, nil
}

func (c *cli) principal() (shared.Principal, error) {
	caps, err := shared.ParseCapabilities(c.capabilities)
	if err != nil {
		return shared.Principal{}, err
	}
	p := shared.NewPrincipal(c.actor, caps...)
	if err := p.Valid(); err != nil {
		return shared.Principal{}, errors.New("ledgerctl: --actor must not be empty")
	}
	return p, nil
}

func (c *cli) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
