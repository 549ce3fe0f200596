package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/snapquant/services/shared/billing"
	"github.com/snapquant/services/shared/logging"
	"github.com/snapquant/services/shared/metrics"
	sharedserver "github.com/snapquant/services/shared/server"
	"github.com/snapquant/services/shared/tier"
	"github.com/snapquant/services/webhook-service/internal/config"
	"github.com/snapquant/services/webhook-service/internal/httpapi"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config error: %w", err))
	}

	logger := logging.NewLogger("webhook-service")

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	repo, cleanup, err := newRepository(ctx, cfg, logger)
	if err != nil {
		panic(fmt.Errorf("repository init error: %w", err))
	}
	defer cleanup()

	reconciler, err := billing.NewReconciler(repo, tier.NewSystemClock(), logger)
	if err != nil {
		panic(fmt.Errorf("reconciler init error: %w", err))
	}

	deps := httpapi.Dependencies{Reconciler: reconciler, Recorder: collector}
	if cfg.PolarWebhookSecret != "" {
		deps.Polar, err = billing.NewStandardWebhookVerifier(cfg.PolarWebhookSecret)
		if err != nil {
			panic(fmt.Errorf("polar verifier error: %w", err))
		}
	} else {
		logger.Warn("POLAR_WEBHOOK_SECRET not set; accepting unsigned events")
	}
	if cfg.StripeEnabled() {
		deps.Stripe, err = billing.NewStripeAdapter(cfg.StripeWebhookSecret, cfg.StripeSecretKey)
		if err != nil {
			panic(fmt.Errorf("stripe adapter error: %w", err))
		}
	}

	router := sharedserver.NewRouter("webhook-service", func(r chi.Router) {
		r.Handle("/metrics", metrics.Handler(registry))
		httpapi.RegisterRoutes(r, deps, logger)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if err := sharedserver.Run(ctx, srv, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}

func newRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (tier.Repository, func(), error) {
	switch cfg.Datastore {
	case config.DatastoreFirestore:
		if cfg.Firestore.EmulatorHost != "" {
			if err := os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.Firestore.EmulatorHost); err != nil {
				return nil, nil, fmt.Errorf("set FIRESTORE_EMULATOR_HOST: %w", err)
			}
		}

		client, err := firestore.NewClientWithDatabase(ctx, cfg.GCPProjectID, cfg.Firestore.DatabaseID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		return tier.NewFirestoreRepository(client, logger), func() { _ = client.Close() }, nil
	default:
		return tier.NewMemoryRepository(), func() {}, nil
	}
}
