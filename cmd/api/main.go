package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/pillowpotion/backend/internal/admin"
	"github.com/pillowpotion/backend/internal/audit"
	"github.com/pillowpotion/backend/internal/auth"
	"github.com/pillowpotion/backend/internal/billing"
	"github.com/pillowpotion/backend/internal/config"
	"github.com/pillowpotion/backend/internal/dashboard"
	"github.com/pillowpotion/backend/internal/generation"
	"github.com/pillowpotion/backend/internal/ledger"
	"github.com/pillowpotion/backend/internal/router"
	"github.com/pillowpotion/backend/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Ledger: the single write path for account balances.
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, ledgerRepo)

	// Generations
	genRepo := generation.NewRepository(pool)
	genSvc := generation.NewService(genRepo, ledgerSvc, genRepo)
	genHandler := generation.NewHandler(genSvc, genRepo, ledgerRepo, logger)

	// Webhooks: insert func is set after River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn webhook.InsertProcessEventTxFunc
	insertProcessEvent := func(ctx context.Context, tx pgx.Tx, args webhook.ProcessEventArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	webhookRepo := webhook.NewRepository(pool)
	webhookHandler := webhook.NewHandler(webhookRepo, insertProcessEvent, cfg.WebhookSecret, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, webhook.NewProcessEventWorker(webhookRepo, genSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args webhook.ProcessEventArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// Auth
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, ledgerSvc, authRepo, cfg.JWTSecret, cfg.SignupBonusCredits)
	authHandler := auth.NewHandler(authSvc, logger)

	// Billing & admin review
	billingRepo := billing.NewRepository(pool)
	billingSvc := billing.NewService(billingRepo, ledgerSvc, billingRepo)
	billingHandler := billing.NewHandler(billingSvc, billingRepo, logger)

	auditRepo := audit.NewRepository(pool)
	auditSvc := audit.NewService(auditRepo, logger)

	dashHandler := dashboard.NewHandler(ledgerRepo, logger)
	adminHandler := admin.NewHandler(billingSvc, billingRepo, ledgerSvc, ledgerRepo, auditSvc, logger)

	apiRouter := router.New(authSvc, authHandler, genHandler, billingHandler, dashHandler, adminHandler, webhookHandler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Secret"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	// Start River client (processes webhook events)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr, "env", cfg.Environment)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
