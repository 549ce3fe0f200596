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

	"github.com/snapquant/services/console-service/internal/account"
	"github.com/snapquant/services/console-service/internal/checkout"
	"github.com/snapquant/services/console-service/internal/config"
	"github.com/snapquant/services/console-service/internal/generation"
	"github.com/snapquant/services/console-service/internal/httpapi"
	"github.com/snapquant/services/console-service/internal/identity"
	"github.com/snapquant/services/console-service/internal/scripts"
	"github.com/snapquant/services/console-service/internal/session"
	sharedauth "github.com/snapquant/services/shared/auth"
	"github.com/snapquant/services/shared/logging"
	"github.com/snapquant/services/shared/metrics"
	"github.com/snapquant/services/shared/retry"
	sharedserver "github.com/snapquant/services/shared/server"
	"github.com/snapquant/services/shared/tier"
)

const proxyTimeout = 40 * time.Second

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config error: %w", err))
	}

	logger := logging.NewLogger("console-service")
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	repo, cleanup, err := newRepository(ctx, cfg, logger)
	if err != nil {
		panic(fmt.Errorf("repository init error: %w", err))
	}
	defer cleanup()

	tiers, err := tier.NewService(repo, tier.NewSystemClock(), collector, logger)
	if err != nil {
		panic(fmt.Errorf("tier service init error: %w", err))
	}

	verifier, err := sharedauth.NewVerifier(sharedauth.Config{
		Mode:      cfg.Auth.Mode,
		ProjectID: cfg.Auth.ProjectID,
		ClientID:  cfg.Auth.ClientID,
		JWKSURL:   cfg.Auth.JWKSURL,
	})
	if err != nil {
		panic(fmt.Errorf("auth verifier error: %w", err))
	}

	var flow *identity.Flow
	if cfg.OIDC.Enabled() {
		flow, err = identity.NewFlow(ctx, identity.Config{
			Issuer:         cfg.OIDC.Issuer,
			ClientID:       cfg.OIDC.ClientID,
			ClientSecret:   cfg.OIDC.ClientSecret,
			RedirectURL:    cfg.OIDC.RedirectURL,
			AllowedDomains: cfg.OIDC.AllowedDomains,
			CookieSecure:   cfg.CookieSecure,
		})
		if err != nil {
			panic(fmt.Errorf("oidc init error: %w", err))
		}
	}

	generator, err := newGenerator(ctx, cfg)
	if err != nil {
		// Generation failures surface to users as the error sentinel; the rest of the console still works.
		logger.Warn("generation backend unavailable", slog.String("backend", cfg.Generation.Backend), slog.Any("error", err))
		generator = nil
	}
	policy := retry.Default()
	policy.MaxAttempts = cfg.Generation.MaxAttempts

	limiter := generation.NewLimiter(generation.LimiterConfig{StarterPerWeek: cfg.Generation.StarterPerWeek})

	var archive scripts.Archive
	var purger account.ScriptPurger = noopPurger{}
	if cfg.ScriptsBucket != "" {
		gcs, err := scripts.NewGCSArchive(ctx, cfg.ScriptsBucket)
		if err != nil {
			panic(fmt.Errorf("script archive init error: %w", err))
		}
		defer gcs.Close()
		archive = gcs
		purger = gcs
	}

	sessions := session.NewRegistry(tiers, logger, cfg.SessionTTL)

	deps := httpapi.Dependencies{
		Sessions:       sessions,
		Themes:         tiers,
		Verifier:       verifier,
		OIDC:           flow,
		AllowedDomains: cfg.OIDC.AllowedDomains,
		Checkout:       checkout.NewCompleter(tiers, cfg.CheckoutRedirectDelay, logger),
		Generator:      generation.NewClient(generator, policy, collector, logger),
		Limiter:        limiter,
		Scripts:        archive,
		Deleter:        account.NewDeleter(tiers, purger, cfg.RecentLoginWindow, retry.Default(), logger),
		Recorder:       collector,
		CookieSecure:   cfg.CookieSecure,
	}

	router := sharedserver.NewRouter("console-service", func(r chi.Router) {
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

	if err := sharedserver.Run(ctx, srv, logger, sessions.Stop, limiter.Stop); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

		repo := tier.NewFirestoreRepository(client, logger)
		cleanup := func() {
			_ = client.Close()
		}
		return repo, cleanup, nil
	default:
		return tier.NewMemoryRepository(), func() {}, nil
	}
}

func newGenerator(ctx context.Context, cfg config.Config) (generation.Generator, error) {
	switch cfg.Generation.Backend {
	case config.BackendGemini:
		return generation.NewGeminiGenerator(ctx, generation.GeminiConfig{
			APIKey:          cfg.Generation.APIKey,
			Model:           cfg.Generation.Model,
			MaxOutputTokens: cfg.Generation.MaxOutputTokens,
			UseVertex:       cfg.Generation.UseVertex,
			Project:         cfg.GCPProjectID,
			Location:        cfg.Generation.Location,
		})
	case config.BackendProxy:
		proxyCfg := generation.ProxyConfig{URL: cfg.Generation.ProxyURL, Model: cfg.Generation.ProxyModel}
		if cfg.Generation.ProxyAllowPrivate {
			proxyCfg.HTTPClient = &http.Client{Timeout: proxyTimeout}
		}
		return generation.NewProxyGenerator(proxyCfg)
	default:
		return nil, errors.New("generation disabled")
	}
}

type noopPurger struct{}

func (noopPurger) Purge(context.Context, string) error { return nil }
