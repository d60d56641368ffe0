package models

import (
	"maps"
	"slices"
	"time"
)

// KeyState is the lifecycle state derived from IsActive, ExpiresAt and the
// current time. It is never stored.
type KeyState string

const (
	KeyStateActive  KeyState = "active"
	KeyStateExpired KeyState = "expired"
	KeyStateRevoked KeyState = "revoked"
)

// APIKeyInfo is the persisted API key record. The raw key is never part of it.
type APIKeyInfo struct {
	KeyID      string            `json:"key_id"`
	KeyHash    string            `json:"-"` // Never exposed
	Name       string            `json:"name"`
	Scopes     []string          `json:"scopes"`
	IsActive   bool              `json:"is_active"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	LastUsedAt *time.Time        `json:"last_used_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// GeneratedAPIKey is returned when a key is created. RawKey is shown once.
type GeneratedAPIKey struct {
	RawKey    string      `json:"key"`
	DisplayID string      `json:"display_id,omitempty"`
	APIKey    *APIKeyInfo `json:"api_key"`
}

// StateAt derives the key state at now. Revocation takes precedence over
// expiry.
func (k *APIKeyInfo) StateAt(now time.Time) KeyState {
	if !k.IsActive {
		return KeyStateRevoked
	}
	if k.IsExpiredAt(now) {
		return KeyStateExpired
	}
	return KeyStateActive
}

// State derives the key state at the current UTC time.
func (k *APIKeyInfo) State() KeyState {
	return k.StateAt(time.Now().UTC())
}

// IsExpiredAt reports whether the expiry has passed at now, regardless of
// IsActive. A revoked key past its expiry is expired but in state revoked.
func (k *APIKeyInfo) IsExpiredAt(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.UTC().After(now.UTC())
}

// IsExpired reports whether the key has expired at the current time.
func (k *APIKeyInfo) IsExpired() bool {
	return k.IsExpiredAt(time.Now().UTC())
}

// IsValidAt is true iff the state at now is active.
func (k *APIKeyInfo) IsValidAt(now time.Time) bool {
	return k.StateAt(now) == KeyStateActive
}

// IsValid is true iff the key is currently active.
func (k *APIKeyInfo) IsValid() bool {
	return k.State() == KeyStateActive
}

// HasScope returns true if the API key has the specified scope
func (k *APIKeyInfo) HasScope(scope string) bool {
	return HasScope(k.Scopes, scope)
}

// HasScopes checks required scopes against the key's scopes
func (k *APIKeyInfo) HasScopes(required []string, requirement ScopeRequirement) bool {
	return HasScopes(k.Scopes, required, requirement)
}

// Clone returns a deep copy so callers can never mutate stored state.
func (k *APIKeyInfo) Clone() *APIKeyInfo {
	if k == nil {
		return nil
	}
	c := *k
	c.Scopes = slices.Clone(k.Scopes)
	if c.Scopes == nil {
		c.Scopes = []string{}
	}
	c.Metadata = maps.Clone(k.Metadata)
	c.ExpiresAt = cloneTime(k.ExpiresAt)
	c.LastUsedAt = cloneTime(k.LastUsedAt)
	return &c
}

// NormalizeUTC converts every timestamp on the record to UTC in place.
func (k *APIKeyInfo) NormalizeUTC() {
	k.CreatedAt = k.CreatedAt.UTC()
	if k.ExpiresAt != nil {
		t := k.ExpiresAt.UTC()
		k.ExpiresAt = &t
	}
	if k.LastUsedAt != nil {
		t := k.LastUsedAt.UTC()
		k.LastUsedAt = &t
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Optional marks a partial update field as present or absent.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// APIKeyUpdate is a partial update. Absent fields are left untouched; a
// present ExpiresAt holding nil clears the expiry.
type APIKeyUpdate struct {
	Name       Optional[string]
	Scopes     Optional[[]string]
	IsActive   Optional[bool]
	ExpiresAt  Optional[*time.Time]
	LastUsedAt Optional[*time.Time]
	Metadata   Optional[map[string]string]
}

// IsEmpty reports whether no field is present.
func (u APIKeyUpdate) IsEmpty() bool {
	return !u.Name.Set && !u.Scopes.Set && !u.IsActive.Set &&
		!u.ExpiresAt.Set && !u.LastUsedAt.Set && !u.Metadata.Set
}

// Apply merges the present fields into a copy of k and returns it.
func (u APIKeyUpdate) Apply(k *APIKeyInfo) *APIKeyInfo {
	out := k.Clone()
	if u.Name.Set {
		out.Name = u.Name.Value
	}
	if u.Scopes.Set {
		out.Scopes = slices.Clone(u.Scopes.Value)
		if out.Scopes == nil {
			out.Scopes = []string{}
		}
	}
	if u.IsActive.Set {
		out.IsActive = u.IsActive.Value
	}
	if u.ExpiresAt.Set {
		out.ExpiresAt = cloneTime(u.ExpiresAt.Value)
	}
	if u.LastUsedAt.Set {
		out.LastUsedAt = cloneTime(u.LastUsedAt.Value)
	}
	if u.Metadata.Set {
		out.Metadata = maps.Clone(u.Metadata.Value)
		if len(out.Metadata) == 0 {
			out.Metadata = nil
		}
	}
	out.NormalizeUTC()
	return out
}
