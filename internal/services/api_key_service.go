package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/keyward/internal/auth"
	"github.com/BradenHooton/keyward/internal/models"
	"github.com/BradenHooton/keyward/internal/repositories"
	"github.com/BradenHooton/keyward/pkg/logger"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	// attempts at generating a fresh key when a create collides
	maxCreateAttempts = 3
)

// CreateAPIKeyParams describes a key to issue
type CreateAPIKeyParams struct {
	Name       string
	Scopes     []string
	ExpiresAt  *time.Time
	Metadata   map[string]string
	ActorKeyID string
}

// APIKeyService composes the key codec, the verifier, the state rules and
// the scope authorizer over a storage backend
type APIKeyService struct {
	repo            repositories.APIKeyRepository
	keyManager      *auth.APIKeyManager
	audit           *logger.AuditLogger
	logger          *slog.Logger
	now             func() time.Time
	lastUsedTimeout time.Duration
	pending         sync.WaitGroup
}

// NewAPIKeyService creates a new APIKeyService
func NewAPIKeyService(repo repositories.APIKeyRepository, keyManager *auth.APIKeyManager, audit *logger.AuditLogger, logger *slog.Logger) *APIKeyService {
	return &APIKeyService{
		repo:            repo,
		keyManager:      keyManager,
		audit:           audit,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
		lastUsedTimeout: 5 * time.Second,
	}
}

// SetClock replaces the time source. Used by tests.
func (s *APIKeyService) SetClock(now func() time.Time) {
	s.now = now
}

// SetLastUsedTimeout bounds each background last_used_at write
func (s *APIKeyService) SetLastUsedTimeout(d time.Duration) {
	if d > 0 {
		s.lastUsedTimeout = d
	}
}

// Wait blocks until background last_used_at writes have finished
func (s *APIKeyService) Wait() {
	s.pending.Wait()
}

// CreateAPIKey issues a new key. The raw key is only ever returned here.
func (s *APIKeyService) CreateAPIKey(ctx context.Context, params CreateAPIKeyParams) (*models.GeneratedAPIKey, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrBadRequest)
	}
	if err := models.ValidateScopes(params.Scopes); err != nil {
		return nil, err
	}
	now := s.now()
	if params.ExpiresAt != nil && !params.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", models.ErrBadRequest)
	}

	scopes := params.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	for attempt := 1; ; attempt++ {
		rawKey, keyHash, err := s.keyManager.GenerateAPIKey()
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to generate api key", slog.Any("error", err))
			return nil, err
		}

		info := &models.APIKeyInfo{
			KeyID:     uuid.New().String(),
			Name:      name,
			Scopes:    scopes,
			IsActive:  true,
			CreatedAt: now,
			ExpiresAt: params.ExpiresAt,
			Metadata:  params.Metadata,
		}

		created, err := s.repo.Create(ctx, keyHash, info)
		if errors.Is(err, models.ErrDuplicateKey) && attempt < maxCreateAttempts {
			s.logger.WarnContext(ctx, "api key collision, regenerating", slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to create api key", slog.Any("error", err))
			return nil, fmt.Errorf("create api key: %w", err)
		}

		s.audit.LogKeyEvent(ctx, logger.EventKeyCreated, created.KeyID, params.ActorKeyID, created.Scopes)

		return &models.GeneratedAPIKey{
			RawKey:    rawKey,
			DisplayID: auth.DisplayID(rawKey),
			APIKey:    created,
		}, nil
	}
}

// Authenticate resolves a raw key to its record. The returned error names the
// precise reason (ErrKeyNotFound, ErrKeyRevoked, ErrKeyExpired,
// ErrInvalidAPIKey, ErrInvalidKeyFormat) for auditing; HTTP callers must not
// reveal it. Storage failures are returned as-is.
func (s *APIKeyService) Authenticate(ctx context.Context, rawKey, clientIP string) (*models.APIKeyInfo, error) {
	if rawKey == "" {
		return nil, &models.InvalidKeyFormatError{Reason: "empty key"}
	}

	displayID, _, err := auth.ExtractKeyID(rawKey)
	if err != nil {
		s.audit.LogAuthFailure(ctx, "", clientIP, err.Error())
		return nil, err
	}

	keyHash := auth.HashAPIKey(rawKey)
	info, err := s.repo.Get(ctx, keyHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to look up api key", slog.Any("error", err))
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	fail := func(reason error) (*models.APIKeyInfo, error) {
		s.audit.LogAuthFailure(ctx, displayID, clientIP, reason.Error())
		return nil, reason
	}

	if info == nil {
		return fail(models.ErrKeyNotFound)
	}
	if !auth.VerifyAPIKey(rawKey, info.KeyHash) {
		return fail(models.ErrInvalidAPIKey)
	}

	switch info.StateAt(s.now()) {
	case models.KeyStateRevoked:
		return fail(models.ErrKeyRevoked)
	case models.KeyStateExpired:
		return fail(models.ErrKeyExpired)
	}

	s.touchLastUsed(keyHash, info.KeyID)

	return info, nil
}

// touchLastUsed records usage without blocking the request
func (s *APIKeyService) touchLastUsed(keyHash, keyID string) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		bgCtx, cancel := context.WithTimeout(context.Background(), s.lastUsedTimeout)
		defer cancel()

		if err := s.repo.UpdateLastUsed(bgCtx, keyHash); err != nil {
			s.logger.Warn("failed to update api key last_used_at", slog.String("key_id", keyID), slog.Any("error", err))
		}
	}()
}

// Authorize checks required scopes against the key's scopes. A denial is
// audited with both scope lists.
func (s *APIKeyService) Authorize(ctx context.Context, info *models.APIKeyInfo, required []string, requirement models.ScopeRequirement) error {
	if info == nil {
		return models.ErrKeyNotFound
	}
	if info.HasScopes(required, requirement) {
		return nil
	}

	s.audit.LogScopeDenied(ctx, info.KeyID, required, info.Scopes, requirement.String())
	return &models.InsufficientScopesError{
		Required:    required,
		Provided:    info.Scopes,
		Requirement: requirement,
	}
}

// GetAPIKey retrieves a key by key_id
func (s *APIKeyService) GetAPIKey(ctx context.Context, keyID string) (*models.APIKeyInfo, error) {
	if keyID == "" {
		return nil, models.ErrBadRequest
	}

	info, err := s.repo.GetByID(ctx, keyID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to get api key", slog.Any("error", err))
		return nil, fmt.Errorf("get api key: %w", err)
	}
	if info == nil {
		return nil, models.ErrKeyNotFound
	}
	return info, nil
}

// ListAPIKeys returns a page of keys, newest first
func (s *APIKeyService) ListAPIKeys(ctx context.Context, limit, offset int) ([]*models.APIKeyInfo, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	keys, err := s.repo.List(ctx, repositories.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list api keys", slog.Any("error", err))
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// UpdateAPIKey changes name, scopes, expiry or metadata. Activation is not
// updatable here; use RevokeAPIKey.
func (s *APIKeyService) UpdateAPIKey(ctx context.Context, keyID string, update models.APIKeyUpdate, actorKeyID string) (*models.APIKeyInfo, error) {
	if update.IsActive.Set || update.LastUsedAt.Set {
		return nil, fmt.Errorf("%w: is_active and last_used_at cannot be updated", models.ErrBadRequest)
	}
	if update.Name.Set {
		update.Name.Value = strings.TrimSpace(update.Name.Value)
		if update.Name.Value == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", models.ErrBadRequest)
		}
	}
	if update.Scopes.Set {
		if err := models.ValidateScopes(update.Scopes.Value); err != nil {
			return nil, err
		}
	}

	current, err := s.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, current.KeyHash, update)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to update api key", slog.Any("error", err))
		return nil, fmt.Errorf("update api key: %w", err)
	}
	if updated == nil {
		return nil, models.ErrKeyNotFound
	}

	s.audit.LogKeyEvent(ctx, logger.EventKeyUpdated, keyID, actorKeyID, updated.Scopes)
	return updated, nil
}

// RevokeAPIKey deactivates a key. Revoking a revoked key succeeds.
func (s *APIKeyService) RevokeAPIKey(ctx context.Context, keyID, actorKeyID string) error {
	current, err := s.GetAPIKey(ctx, keyID)
	if err != nil {
		return err
	}

	ok, err := s.repo.Revoke(ctx, current.KeyHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke api key", slog.Any("error", err))
		return fmt.Errorf("revoke api key: %w", err)
	}
	if !ok {
		return models.ErrKeyNotFound
	}

	s.audit.LogKeyEvent(ctx, logger.EventKeyRevoked, keyID, actorKeyID, nil)
	return nil
}

// DeleteAPIKey permanently removes a key
func (s *APIKeyService) DeleteAPIKey(ctx context.Context, keyID, actorKeyID string) error {
	current, err := s.GetAPIKey(ctx, keyID)
	if err != nil {
		return err
	}

	ok, err := s.repo.Delete(ctx, current.KeyHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to delete api key", slog.Any("error", err))
		return fmt.Errorf("delete api key: %w", err)
	}
	if !ok {
		return models.ErrKeyNotFound
	}

	s.audit.LogKeyEvent(ctx, logger.EventKeyDeleted, keyID, actorKeyID, nil)
	return nil
}

// SweepExpired deletes keys whose expiry is older than retention
func (s *APIKeyService) SweepExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)

	if purger, ok := s.repo.(repositories.ExpiredPurger); ok {
		n, err := purger.PurgeExpired(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("purge expired api keys: %w", err)
		}
		if n > 0 {
			s.audit.Log(ctx, logger.AuditEvent{
				EventType: logger.EventKeyPurged,
				Success:   true,
				Metadata:  map[string]string{"count": strconv.FormatInt(n, 10)},
			})
		}
		return n, nil
	}

	keys, err := s.repo.List(ctx, repositories.ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("list api keys for sweep: %w", err)
	}

	var n int64
	for _, k := range keys {
		if k.ExpiresAt == nil || !k.ExpiresAt.Before(cutoff) {
			continue
		}
		ok, err := s.repo.Delete(ctx, k.KeyHash)
		if err != nil {
			return n, fmt.Errorf("delete expired api key: %w", err)
		}
		if ok {
			n++
			s.audit.LogKeyEvent(ctx, logger.EventKeyPurged, k.KeyID, "", nil)
		}
	}
	return n, nil
}

// EnsureBootstrapKey stores rawKey as an admin key if it is not stored yet.
// It returns true when a key was created.
func (s *APIKeyService) EnsureBootstrapKey(ctx context.Context, rawKey, name string) (bool, error) {
	if rawKey == "" {
		return false, nil
	}
	if !strings.HasPrefix(rawKey, s.keyManager.Prefix()) {
		return false, &models.InvalidKeyFormatError{Reason: "bootstrap key must start with prefix " + s.keyManager.Prefix()}
	}
	if _, _, err := auth.ExtractKeyID(rawKey); err != nil {
		return false, err
	}

	keyHash := auth.HashAPIKey(rawKey)
	existing, err := s.repo.Get(ctx, keyHash)
	if err != nil {
		return false, fmt.Errorf("look up bootstrap key: %w", err)
	}
	if existing != nil {
		s.logger.InfoContext(ctx, "bootstrap api key already present", slog.String("key_id", existing.KeyID))
		return false, nil
	}

	info := &models.APIKeyInfo{
		KeyID:     uuid.New().String(),
		Name:      name,
		Scopes:    []string{models.ScopeAPIKeysRead, models.ScopeAPIKeysWrite},
		IsActive:  true,
		CreatedAt: s.now(),
		Metadata:  map[string]string{"source": "bootstrap"},
	}

	created, err := s.repo.Create(ctx, keyHash, info)
	if errors.Is(err, models.ErrDuplicateKey) {
		// another instance won the race
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create bootstrap key: %w", err)
	}

	s.audit.LogKeyEvent(ctx, logger.EventKeyBootstrap, created.KeyID, "", created.Scopes)
	s.logger.InfoContext(ctx, "bootstrap api key created",
		slog.String("key_id", created.KeyID),
		slog.String("key", logger.MaskKey(rawKey)),
	)
	return true, nil
}

// Ping checks the storage backend when it supports health checks
func (s *APIKeyService) Ping(ctx context.Context) error {
	if hc, ok := s.repo.(repositories.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}
