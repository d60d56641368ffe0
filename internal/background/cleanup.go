package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiredKeySweeper deletes keys that expired before now minus retention
type ExpiredKeySweeper interface {
	SweepExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupManager periodically removes long-expired API keys
type CleanupManager struct {
	sweeper   ExpiredKeySweeper
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	timeout   time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	sweeper ExpiredKeySweeper,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
) *CleanupManager {
	return &CleanupManager{
		sweeper:   sweeper,
		logger:    logger,
		interval:  interval,
		retention: retention,
		timeout:   30 * time.Second,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup task. It blocks until Stop is called or
// ctx is cancelled.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep and returns the number of keys removed
func (cm *CleanupManager) RunOnce(ctx context.Context) int64 {
	cm.logger.Debug("starting expired api key cleanup", slog.Duration("retention", cm.retention))

	cleanupCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	deleted, err := cm.sweeper.SweepExpired(cleanupCtx, cm.retention)
	if err != nil {
		cm.logger.Error("failed to cleanup expired api keys", slog.Any("error", err))
		return deleted
	}

	if deleted > 0 {
		cm.logger.Info("expired api key cleanup completed", slog.Int64("keys_deleted", deleted))
	}
	return deleted
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
