package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/reminders", h.ListReminders)
	r.Post("/reminders", h.CreateReminder)
	r.Get("/reminders/{id}", h.GetReminder)
	r.Post("/reminders/{id}/reactivate", h.ReactivateReminder)
	r.Delete("/reminders/{id}", h.DeleteReminder)

	// Onboarding flag.
	r.Get("/launch", h.GetLaunch)
	r.Post("/launch", h.CompleteLaunch)

	r.Post("/reset", h.Reset)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
