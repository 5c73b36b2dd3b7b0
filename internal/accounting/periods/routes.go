package periods

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/current", h.Current)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/open", h.Open)
	r.Post("/{id}/close", h.Close)
	r.Post("/{id}/clear-halt", h.ClearHalt)
}
