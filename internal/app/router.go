package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/reconciliation"
	"github.com/odyssey-erp/ipsas-ledger/internal/accounting/reports"
	audithttp "github.com/odyssey-erp/ipsas-ledger/internal/audit/http"
	"github.com/odyssey-erp/ipsas-ledger/internal/observability"
	"github.com/odyssey-erp/ipsas-ledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	AccountsHandler       *accounts.Handler
	PeriodsHandler        *periods.Handler
	JournalsHandler       *journals.Handler
	ReconciliationHandler *reconciliation.Handler
	ReportsHandler        *reports.Handler
	AuditHandler          *audithttp.Handler
	JobHandler            *jobs.Handler
}

// NewRouter constructs the chi.Router with ledger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AccountsHandler != nil {
		r.Route("/accounts", params.AccountsHandler.MountRoutes)
	}
	if params.PeriodsHandler != nil {
		r.Route("/periods", params.PeriodsHandler.MountRoutes)
	}
	if params.JournalsHandler != nil {
		r.Route("/journals", params.JournalsHandler.MountRoutes)
	}
	if params.ReconciliationHandler != nil {
		r.Route("/reconciliations", params.ReconciliationHandler.MountRoutes)
	}
	if params.ReportsHandler != nil {
		r.Route("/statements", params.ReportsHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
