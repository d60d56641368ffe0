package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure conditions
var (
	ErrInvalidKeyFormat   = errors.New("invalid api key format")
	ErrDuplicateKey       = errors.New("api key already exists")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	ErrEntropyUnavailable = errors.New("secure random source unavailable")

	// Authentication outcomes. These are internal reasons only: the HTTP
	// layer collapses all of them into a single unauthorized response.
	ErrKeyNotFound   = errors.New("api key not found")
	ErrKeyRevoked    = errors.New("api key has been revoked")
	ErrKeyExpired    = errors.New("api key has expired")
	ErrInvalidAPIKey = errors.New("api key does not match stored hash")

	ErrInsufficientScopes = errors.New("insufficient scopes")
	ErrBadRequest         = errors.New("bad request")
)

// InvalidKeyFormatError reports a structurally malformed raw key.
type InvalidKeyFormatError struct {
	Reason string
}

func (e *InvalidKeyFormatError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidKeyFormat, e.Reason)
}

func (e *InvalidKeyFormatError) Unwrap() error {
	return ErrInvalidKeyFormat
}

// DuplicateKeyError reports a create collision. Field is "key_hash" or "key_id".
type DuplicateKeyError struct {
	Field string
	Value string
}

// Duplicate key fields
const (
	FieldKeyHash = "key_hash"
	FieldKeyID   = "key_id"
)

func (e *DuplicateKeyError) Error() string {
	if e.Field == "" {
		return ErrDuplicateKey.Error()
	}
	if e.Value == "" {
		return fmt.Sprintf("api key with the same %s already exists", e.Field)
	}
	return fmt.Sprintf("api key with %s %s already exists", e.Field, e.Value)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// InsufficientScopesError carries the scopes that were required and granted
// when an authorization check fails.
type InsufficientScopesError struct {
	Required    []string
	Provided    []string
	Requirement ScopeRequirement
}

func (e *InsufficientScopesError) Error() string {
	return fmt.Sprintf("%s: required %s of [%s], provided [%s]",
		ErrInsufficientScopes,
		e.Requirement,
		strings.Join(e.Required, ", "),
		strings.Join(e.Provided, ", "),
	)
}

func (e *InsufficientScopesError) Unwrap() error {
	return ErrInsufficientScopes
}
