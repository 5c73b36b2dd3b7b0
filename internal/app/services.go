package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/memstore"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/reconciliation"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/ipsas-ledger/internal/audit"
	audithttp "github.com/odyssey-erp/ipsas-ledger/internal/audit/http"
	"github.com/odyssey-erp/ipsas-ledger/internal/observability"
	"github.com/odyssey-erp/ipsas-ledger/internal/platform/cache"
	"github.com/odyssey-erp/ipsas-ledger/internal/platform/db"
	"github.com/odyssey-erp/ipsas-ledger/jobs"
)

// OpenStore connects the configured ledger store. The returned close func is never nil.
func OpenStore(ctx context.Context, cfg *Config) (accounting.Store, func(), error) {
	if cfg.Store == StoreMemory {
		return memstore.New(), func() {}, nil
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("app: open postgres: %w", err)
	}
	return accounting.NewRepository(pool), pool.Close, nil
}

// Services is the wired ledger.
type Services struct {
	Store          accounting.Store
	Accounts       *accounts.Service
	Journals       *journals.Service
	Periods        *periods.Service
	Reconciliation *reconciliation.Service
	Reports        *reports.Service
	Audit          *audit.Service
}

// NewServices wires the ledger components over store. A nil redis client
// disables the statement cache; a nil metrics value disables posting metrics.
func NewServices(cfg *Config, store accounting.Store, client *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *Services {
	engine := posting.NewEngine()

	var statementCache reports.Cache
	if client != nil {
		statementCache = cache.NewStatementCache(client, cfg.StatementCacheTTL)
	}
	reportsSvc := reports.NewService(store, statementCache, logger)
	reportsSvc.WithTimeout(cfg.StatementTimeout)

	journalsSvc := journals.NewService(store, engine, logger)
	journalsSvc.WithRetry(cfg.PostRetries, cfg.PostRetryBackoff)
	journalsSvc.WithInvalidator(reportsSvc)
	if metrics != nil {
		journalsSvc.WithObserver(metrics)
	}

	periodsSvc := periods.NewService(store, engine, logger)
	periodsSvc.WithNetAssetsAccount(cfg.NetAssetsAccount)
	periodsSvc.WithInvalidator(reportsSvc)

	return &Services{
		Store:          store,
		Accounts:       accounts.NewService(store, logger),
		Journals:       journalsSvc,
		Periods:        periodsSvc,
		Reconciliation: reconciliation.NewService(store, logger),
		Reports:        reportsSvc,
		Audit:          audit.NewService(store),
	}
}

// Router mounts every ledger handler. jobHandler may be nil.
func (s *Services) Router(cfg *Config, logger *slog.Logger, metrics *observability.Metrics, jobHandler *jobs.Handler) http.Handler {
	return NewRouter(RouterParams{
		Logger:                logger,
		Config:                cfg,
		Metrics:               metrics,
		AccountsHandler:       accounts.NewHandler(logger, s.Accounts),
		PeriodsHandler:        periods.NewHandler(logger, s.Periods),
		JournalsHandler:       journals.NewHandler(logger, s.Journals),
		ReconciliationHandler: reconciliation.NewHandler(logger, s.Reconciliation),
		ReportsHandler:        reports.NewHandler(logger, s.Reports),
		AuditHandler:          audithttp.NewHandler(logger, s.Audit),
		JobHandler:            jobHandler,
	})
}
