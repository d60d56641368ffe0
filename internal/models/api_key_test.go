package models

import (
	"errors"
	"testing"
	"time"
)

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestAPIKeyInfo_StateAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name        string
		key         APIKeyInfo
		wantState   KeyState
		wantExpired bool
		wantValid   bool
	}{
		{
			name:      "active without expiry",
			key:       APIKeyInfo{IsActive: true},
			wantState: KeyStateActive,
			wantValid: true,
		},
		{
			name:      "active with future expiry",
			key:       APIKeyInfo{IsActive: true, ExpiresAt: timePtr(future)},
			wantState: KeyStateActive,
			wantValid: true,
		},
		{
			name:        "expired",
			key:         APIKeyInfo{IsActive: true, ExpiresAt: timePtr(past)},
			wantState:   KeyStateExpired,
			wantExpired: true,
		},
		{
			name:        "expiry equal to now is expired",
			key:         APIKeyInfo{IsActive: true, ExpiresAt: timePtr(now)},
			wantState:   KeyStateExpired,
			wantExpired: true,
		},
		{
			name:      "revoked",
			key:       APIKeyInfo{IsActive: false},
			wantState: KeyStateRevoked,
		},
		{
			name:        "revoked and expired reports revoked",
			key:         APIKeyInfo{IsActive: false, ExpiresAt: timePtr(past)},
			wantState:   KeyStateRevoked,
			wantExpired: true,
		},
		{
			name:        "non-UTC expiry compared by instant",
			key:         APIKeyInfo{IsActive: true, ExpiresAt: timePtr(past.In(time.FixedZone("UTC+5", 5*3600)))},
			wantState:   KeyStateExpired,
			wantExpired: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.StateAt(now); got != tt.wantState {
				t.Errorf("StateAt() = %s, want %s", got, tt.wantState)
			}
			if got := tt.key.IsExpiredAt(now); got != tt.wantExpired {
				t.Errorf("IsExpiredAt() = %v, want %v", got, tt.wantExpired)
			}
			if got := tt.key.IsValidAt(now); got != tt.wantValid {
				t.Errorf("IsValidAt() = %v, want %v", got, tt.wantValid)
			}
		})
	}
}

func TestAPIKeyInfo_StateUsesCurrentTime(t *testing.T) {
	key := APIKeyInfo{IsActive: true, ExpiresAt: timePtr(time.Now().Add(-time.Second))}
	if key.State() != KeyStateExpired || !key.IsExpired() || key.IsValid() {
		t.Errorf("expected key with past expiry to be expired, got %s", key.State())
	}

	key.ExpiresAt = timePtr(time.Now().Add(time.Hour))
	if key.State() != KeyStateActive || key.IsExpired() || !key.IsValid() {
		t.Errorf("expected key with future expiry to be active, got %s", key.State())
	}
}

func TestAPIKeyInfo_HasScopes(t *testing.T) {
	key := &APIKeyInfo{Scopes: []string{"read", "write"}}

	if !key.HasScope("read") {
		t.Error("expected read scope")
	}
	if key.HasScope("admin") {
		t.Error("unexpected admin scope")
	}
	if !key.HasScopes([]string{"read", "write"}, ScopeAll) {
		t.Error("expected ALL read,write to pass")
	}
	if key.HasScopes([]string{"read", "delete"}, ScopeAll) {
		t.Error("expected ALL read,delete to fail")
	}
	if !key.HasScopes([]string{"read", "delete"}, ScopeAny) {
		t.Error("expected ANY read,delete to pass")
	}
	if !key.HasScopes(nil, ScopeAll) {
		t.Error("expected ALL with no requirements to pass")
	}
	if key.HasScopes(nil, ScopeAny) {
		t.Error("expected ANY with no requirements to fail")
	}
}

func TestAPIKeyInfo_Clone(t *testing.T) {
	exp := time.Now().Add(time.Hour).UTC()
	original := &APIKeyInfo{
		KeyID:     "id-1",
		KeyHash:   "hash",
		Name:      "svc",
		Scopes:    []string{"read"},
		IsActive:  true,
		ExpiresAt: &exp,
		Metadata:  map[string]string{"env": "prod"},
	}

	c := original.Clone()
	c.Scopes[0] = "write"
	c.Metadata["env"] = "dev"
	*c.ExpiresAt = exp.Add(time.Hour)

	if original.Scopes[0] != "read" {
		t.Errorf("clone shares scopes slice")
	}
	if original.Metadata["env"] != "prod" {
		t.Errorf("clone shares metadata map")
	}
	if !original.ExpiresAt.Equal(exp) {
		t.Errorf("clone shares expiry pointer")
	}

	var nilKey *APIKeyInfo
	if nilKey.Clone() != nil {
		t.Error("clone of nil should be nil")
	}

	if got := (&APIKeyInfo{}).Clone().Scopes; got == nil || len(got) != 0 {
		t.Errorf("clone should normalize nil scopes to empty, got %#v", got)
	}
}

func TestAPIKeyUpdate_Apply(t *testing.T) {
	exp := time.Now().Add(time.Hour).UTC()
	base := &APIKeyInfo{
		KeyID:     "id-1",
		Name:      "old",
		Scopes:    []string{"read"},
		IsActive:  true,
		ExpiresAt: &exp,
		Metadata:  map[string]string{"a": "1"},
	}

	t.Run("absent fields untouched", func(t *testing.T) {
		out := APIKeyUpdate{Name: Some("new")}.Apply(base)
		if out.Name != "new" {
			t.Errorf("Name = %q, want new", out.Name)
		}
		if out.ExpiresAt == nil || !out.ExpiresAt.Equal(exp) {
			t.Errorf("ExpiresAt changed unexpectedly")
		}
		if len(out.Scopes) != 1 || out.Scopes[0] != "read" {
			t.Errorf("Scopes changed unexpectedly: %v", out.Scopes)
		}
		if base.Name != "old" {
			t.Errorf("Apply mutated its input")
		}
	})

	t.Run("present nil expiry clears", func(t *testing.T) {
		out := APIKeyUpdate{ExpiresAt: Some[*time.Time](nil)}.Apply(base)
		if out.ExpiresAt != nil {
			t.Errorf("ExpiresAt = %v, want nil", out.ExpiresAt)
		}
	})

	t.Run("revoke and rescope", func(t *testing.T) {
		out := APIKeyUpdate{IsActive: Some(false), Scopes: Some([]string{"write", "admin"})}.Apply(base)
		if out.IsActive {
			t.Errorf("IsActive = true, want false")
		}
		if out.StateAt(time.Now()) != KeyStateRevoked {
			t.Errorf("state = %s, want revoked", out.StateAt(time.Now()))
		}
		if len(out.Scopes) != 2 || out.Scopes[0] != "write" {
			t.Errorf("Scopes = %v", out.Scopes)
		}
	})

	t.Run("timestamps normalized to UTC", func(t *testing.T) {
		local := time.Date(2030, 1, 1, 10, 0, 0, 0, time.FixedZone("EST", -5*3600))
		out := APIKeyUpdate{LastUsedAt: Some(&local)}.Apply(base)
		if out.LastUsedAt.Location() != time.UTC {
			t.Errorf("LastUsedAt location = %v, want UTC", out.LastUsedAt.Location())
		}
		if !out.LastUsedAt.Equal(local) {
			t.Errorf("LastUsedAt instant changed")
		}
	})
}

func TestAPIKeyUpdate_IsEmpty(t *testing.T) {
	if !(APIKeyUpdate{}).IsEmpty() {
		t.Error("zero update should be empty")
	}
	if (APIKeyUpdate{Metadata: Some[map[string]string](nil)}).IsEmpty() {
		t.Error("update with present metadata should not be empty")
	}
}

func TestDuplicateKeyError(t *testing.T) {
	err := error(&DuplicateKeyError{Field: FieldKeyID, Value: "abc"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Error("expected DuplicateKeyError to wrap ErrDuplicateKey")
	}
	if err.Error() != "api key with key_id abc already exists" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestInvalidKeyFormatError(t *testing.T) {
	err := error(&InvalidKeyFormatError{Reason: "key too short"})
	if !errors.Is(err, ErrInvalidKeyFormat) {
		t.Error("expected InvalidKeyFormatError to wrap ErrInvalidKeyFormat")
	}
}
