// Package httptransport is the thin HTTP layer over the compliance review
// surface. Handlers delegate to the query service; transport concerns stay
// out of the audit engine.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whatnewads/safeshift-sub018/internal/platform/middleware"
)

// NewRouter wires the review API and the clinical patient API. Audit routes
// require a compliance reviewer, patient routes a clinician; metrics and
// health are open to the platform.
func NewRouter(h *Handler, ph *PatientHandler, validator middleware.TokenValidator, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireReviewer(validator, logger))
		r.Get("/audit/records", h.handleSearch)
		r.Get("/audit/records/{id}", h.handleGet)
		r.Get("/audit/summary", h.handleSummary)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireClinician(validator, logger))
		r.Post("/patients", ph.handleCreate)
		r.Get("/patients/{id}", ph.handleGet)
		r.Put("/patients/{id}", ph.handleUpdate)
		r.Delete("/patients/{id}", ph.handleDelete)
	})

	return r
}
