package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docuflux/courier-api/internal/api"
	apiMiddleware "github.com/docuflux/courier-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
// It accepts the application dependencies to create handlers and register routes.
// Returns the configured router.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	// Create API handlers using the application's services
	deliveryHandler := api.NewDeliveryHandler(
		app.deliveryStore,
		app.auditLog,
		app.pump,
		app.config.Pump.MaxAttempts,
		app.config.Pump.RequestedLimit,
		app.logger,
	)
	insightsHandler := api.NewInsightsHandler(app.deliveryStore, app.logger)
	policyHandler := api.NewPolicyHandler(
		app.lifecycle,
		app.advisor,
		app.deliveryStore,
		app.policyStore,
		app.logger,
	)
	auditHandler := api.NewAuditHandler(app.auditLog, app.logger)

	// Register routes
	r.Route("/api/projects/{projectID}", func(r chi.Router) {
		// Delivery endpoints
		r.Post("/deliveries", deliveryHandler.EnqueueDelivery)
		r.Get("/deliveries/{deliveryID}", deliveryHandler.GetDelivery)
		r.Post("/pump/drain", deliveryHandler.TriggerDrain)

		// Analytics endpoints
		r.Get("/connectors/insights", insightsHandler.GetInsights)
		r.Get("/connectors/outcomes", insightsHandler.GetOutcomes)
		r.Get("/connectors/ranking", insightsHandler.GetRanking)

		// Backpressure policy endpoints
		r.Get("/backpressure/policy", policyHandler.GetPolicy)
		r.Post("/backpressure/simulate", policyHandler.Simulate)
		r.Get("/backpressure/suggest", policyHandler.Suggest)
		r.Put("/backpressure/draft", policyHandler.UpsertDraft)
		r.Post("/backpressure/draft/approve", policyHandler.ApproveDraft)
		r.Post("/backpressure/draft/apply", policyHandler.ApplyDraft)
		r.Get("/backpressure/draft/activation", policyHandler.GetDraftActivation)

		// Guardian policy endpoint
		r.Put("/guardian/policy", policyHandler.UpsertGuardianPolicy)

		// Audit trail endpoint
		r.Get("/audit/events", auditHandler.ListEvents)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("OK"))
		if err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r
}
