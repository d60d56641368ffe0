package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/BradenHooton/keyward/internal/auth"
	"github.com/BradenHooton/keyward/internal/config"
	"github.com/BradenHooton/keyward/internal/repositories"
	"github.com/BradenHooton/keyward/internal/services"
	pkglogger "github.com/BradenHooton/keyward/pkg/logger"
)

var (
	logLevel       string
	backendFlag    string
	commandTimeout time.Duration
)

// Execute creates the root command tree and runs it.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyctl",
		Short: "Manage keyward API keys from the command line",
		Long: `keyctl issues, inspects, revokes and deletes API keys directly against the
configured storage backend. It reads the same environment (and .env file) as
the API server.

The generate, hash and verify commands work offline and never touch storage.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for diagnostics written to stderr")
	cmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "storage backend override (memory, postgres, sqlite, redis)")
	cmd.PersistentFlags().DurationVar(&commandTimeout, "timeout", 30*time.Second, "timeout for storage operations")

	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newHashCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

// session bundles what the storage-backed commands need
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	repo    repositories.APIKeyRepository
	service *services.APIKeyService
}

func (s *session) Close() {
	s.service.Wait()
	if err := s.repo.Close(); err != nil {
		s.logger.Warn("failed to close storage", slog.Any("error", err))
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	if backendFlag != "" {
		cfg.Storage.Backend = backendFlag
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return cfg, pkglogger.New(logLevel, os.Stderr), nil
}

func openSession(ctx context.Context) (*session, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	repo, err := repositories.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}

	svc := services.NewAPIKeyService(repo, auth.NewAPIKeyManager(cfg.Keys.Prefix), pkglogger.NewAuditLogger(logger), logger)
	svc.SetLastUsedTimeout(cfg.Keys.LastUsedTimeout)

	return &session{cfg: cfg, logger: logger, repo: repo, service: svc}, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, commandTimeout)
}
