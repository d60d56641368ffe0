package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/keyward/internal/auth"
	"github.com/BradenHooton/keyward/internal/background"
	"github.com/BradenHooton/keyward/internal/config"
	"github.com/BradenHooton/keyward/internal/handlers"
	middlewareCustom "github.com/BradenHooton/keyward/internal/middleware"
	"github.com/BradenHooton/keyward/internal/repositories"
	"github.com/BradenHooton/keyward/internal/routes"
	"github.com/BradenHooton/keyward/internal/services"
	pkghttp "github.com/BradenHooton/keyward/pkg/http"
	pkglogger "github.com/BradenHooton/keyward/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := pkglogger.New(cfg.Server.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("storage_backend", cfg.Storage.Backend),
	)

	// Open storage
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	repo, err := repositories.Open(openCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	defer repo.Close()

	// Initialize services
	auditLogger := pkglogger.NewAuditLogger(logger)
	keyManager := auth.NewAPIKeyManager(cfg.Keys.Prefix)
	apiKeyService := services.NewAPIKeyService(repo, keyManager, auditLogger, logger)
	apiKeyService.SetLastUsedTimeout(cfg.Keys.LastUsedTimeout)
	defer apiKeyService.Wait()

	// Bootstrap first admin key if configured
	if err := ensureAdminKey(ctx, apiKeyService, cfg, logger); err != nil {
		return err
	}

	// Initialize handlers
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	apiKeyHandler := handlers.NewAPIKeyHandler(apiKeyService, logger)
	healthHandler := handlers.NewHealthHandler(apiKeyService, cfg.Storage.Backend, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.CORSConfig{
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		HeaderName:     cfg.Keys.HeaderName,
	}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, apiKeyHandler, healthHandler, apiKeyService, apiKeyService, routes.Options{
		HeaderName:         cfg.Keys.HeaderName,
		IPConfig:           ipConfig,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		FailureDelay:       auth.NewFailureDelay(cfg.Keys.FailureDelay, cfg.Keys.FailureJitter),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	cleanupManager := background.NewCleanupManager(apiKeyService, logger, cfg.Keys.CleanupInterval, cfg.Keys.ExpiredRetention)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cleanupManager.Start(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		cleanupManager.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped gracefully")
	return nil
}

// ensureAdminKey stores BOOTSTRAP_ADMIN_KEY as a management key when it is
// set and not stored yet
func ensureAdminKey(ctx context.Context, svc *services.APIKeyService, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Keys.BootstrapAdminKey == "" {
		logger.Info("no BOOTSTRAP_ADMIN_KEY set, skipping admin key creation")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := svc.EnsureBootstrapKey(ctx, cfg.Keys.BootstrapAdminKey, cfg.Keys.BootstrapAdminName); err != nil {
		return fmt.Errorf("ensure bootstrap admin key: %w", err)
	}
	return nil
}
