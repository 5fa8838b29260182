package main

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/docuflux/courier-api/internal/backpressure"
	"github.com/docuflux/courier-api/internal/config"
	"github.com/docuflux/courier-api/internal/domain"
	"github.com/docuflux/courier-api/internal/guardian"
	"github.com/docuflux/courier-api/internal/platform/postgres"
	"github.com/docuflux/courier-api/internal/pump"
	"github.com/docuflux/courier-api/internal/store"
)

// application holds the wired dependencies of the running server.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	deliveryStore store.DeliveryStore
	policyStore   store.PolicyStore
	auditLog      store.AuditLog

	lifecycle *backpressure.Lifecycle
	advisor   *backpressure.Advisor
	pump      *pump.Pump
	guardian  *guardian.Controller
}

// newApplication wires stores, services, and the two control loops.
// The loops are constructed but not started; main starts and stops them.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) *application {
	deliveryStore := postgres.NewPostgresDeliveryStore(db, logger)
	policyStore := postgres.NewPostgresPolicyStore(db, logger)
	auditLog := postgres.NewPostgresAuditLog(db, logger)

	defaults := domain.PolicyDefaults{
		IsEnabled:   cfg.Policy.Enabled,
		MaxRetrying: cfg.Policy.MaxRetrying,
		MaxDueNow:   cfg.Policy.MaxDueNow,
		MinLimit:    cfg.Policy.MinLimit,
	}

	lifecycle := backpressure.NewLifecycle(policyStore, auditLog, defaults, logger)
	advisor := backpressure.NewAdvisor(defaults)

	sender := pump.NewWebhookSender(
		cfg.Pump.ConnectorEndpoints,
		time.Duration(cfg.Pump.AttemptTimeoutSeconds)*time.Second,
	)

	deliveryPump := pump.New(
		deliveryStore,
		policyStore,
		auditLog,
		sender,
		defaults,
		pump.Config{
			TickInterval:   time.Duration(cfg.Pump.TickIntervalSeconds) * time.Second,
			AttemptTimeout: time.Duration(cfg.Pump.AttemptTimeoutSeconds) * time.Second,
			RequestedLimit: cfg.Pump.RequestedLimit,
			BackoffBase:    time.Duration(cfg.Pump.BackoffBaseSeconds) * time.Second,
			BackoffMax:     time.Duration(cfg.Pump.BackoffMaxSeconds) * time.Second,
		},
		logger,
	)

	guardianController := guardian.NewController(
		deliveryStore,
		policyStore,
		auditLog,
		deliveryPump,
		defaults,
		guardian.Config{
			TickInterval:  time.Duration(cfg.Guardian.TickIntervalSeconds) * time.Second,
			SnapshotLimit: cfg.Guardian.SnapshotLimit,
		},
		logger,
	)

	return &application{
		config:        cfg,
		logger:        logger,
		db:            db,
		deliveryStore: deliveryStore,
		policyStore:   policyStore,
		auditLog:      auditLog,
		lifecycle:     lifecycle,
		advisor:       advisor,
		pump:          deliveryPump,
		guardian:      guardianController,
	}
}
