package accounts

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/chart", h.Chart)
	r.Post("/groups", h.CreateGroup)
	r.Post("/types", h.CreateType)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/activate", h.SetActive(true))
	r.Post("/{id}/deactivate", h.SetActive(false))
	r.Post("/{id}/mappings", h.Map)
}
