package logger

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// API key audit event types
const (
	EventKeyCreated   = "api_key_created"
	EventKeyUpdated   = "api_key_updated"
	EventKeyRevoked   = "api_key_revoked"
	EventKeyDeleted   = "api_key_deleted"
	EventKeyPurged    = "api_key_purged"
	EventAuthFailure  = "api_key_auth_failure"
	EventAuthzFailure = "api_key_scope_denied"
	EventKeyBootstrap = "api_key_bootstrapped"
)

// AuditEvent represents a security audit event for an API key
type AuditEvent struct {
	EventType     string
	KeyID         string
	DisplayID     string
	ActorKeyID    string
	IPAddress     string
	Success       bool
	FailureReason string
	Scopes        []string
	Metadata      map[string]string
}

// AuditLogger writes audit records through the application logger
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// Log emits one audit record. Failures are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	if al == nil || al.logger == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "api_key"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	if event.KeyID != "" {
		attrs = append(attrs, slog.String("key_id", event.KeyID))
	}
	if event.DisplayID != "" {
		attrs = append(attrs, slog.String("display_id", event.DisplayID))
	}
	if event.ActorKeyID != "" {
		attrs = append(attrs, slog.String("actor_key_id", event.ActorKeyID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	if len(event.Scopes) > 0 {
		attrs = append(attrs, slog.String("scopes", strings.Join(event.Scopes, ",")))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogKeyEvent logs a successful lifecycle change
func (al *AuditLogger) LogKeyEvent(ctx context.Context, eventType, keyID, actorKeyID string, scopes []string) {
	al.Log(ctx, AuditEvent{
		EventType:  eventType,
		KeyID:      keyID,
		ActorKeyID: actorKeyID,
		Success:    true,
		Scopes:     scopes,
	})
}

// LogScopeDenied records an authenticated key that lacked the scopes a
// request needed
func (al *AuditLogger) LogScopeDenied(ctx context.Context, keyID string, required, provided []string, requirement string) {
	al.Log(ctx, AuditEvent{
		EventType:     EventAuthzFailure,
		KeyID:         keyID,
		Success:       false,
		FailureReason: "insufficient scopes",
		Metadata: map[string]string{
			"required_scopes": strings.Join(required, ","),
			"provided_scopes": strings.Join(provided, ","),
			"requirement":     requirement,
		},
	})
}

// LogAuthFailure records the precise reason an authentication attempt failed.
// Callers only see a generic rejection.
func (al *AuditLogger) LogAuthFailure(ctx context.Context, displayID, ipAddress, reason string) {
	al.Log(ctx, AuditEvent{
		EventType:     EventAuthFailure,
		DisplayID:     displayID,
		IPAddress:     ipAddress,
		Success:       false,
		FailureReason: reason,
	})
}
