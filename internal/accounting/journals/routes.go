package journals

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/lines", h.Amend)
	r.Post("/{id}/submit", h.Transition(ActionSubmit))
	r.Post("/{id}/approve", h.Transition(ActionApprove))
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/post", h.Transition(ActionPost))
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/reverse", h.Reverse)
}
