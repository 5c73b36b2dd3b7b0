package reports

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{period}", func(r chi.Router) {
		r.Get("/", h.Statements)
		r.Get("/trial-balance", h.TrialBalance)
		r.Get("/financial-position", h.FinancialPosition)
		r.Get("/performance", h.Performance)
		r.Get("/cash-flows", h.CashFlows)
		r.Get("/net-assets", h.NetAssets)
		r.Get("/segment", h.Segment)
		r.Get("/consolidated", h.Consolidated)
	})
}
