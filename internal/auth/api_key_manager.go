package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/BradenHooton/keyward/internal/models"
)

const (
	// DefaultPrefix is used when no prefix is configured
	DefaultPrefix = "kw_"

	// KeyDelimiter separates the prefix from the random part of a key
	KeyDelimiter = "_"

	// KeyIDLength is the length of the display identifier
	KeyIDLength = 8

	randomBytes = 32 // 256 bits of entropy, 43 base64url chars
)

// APIKeyManager handles API key generation, hashing, and validation
type APIKeyManager struct {
	prefix string
}

// NewAPIKeyManager creates a new APIKeyManager. An empty prefix falls back to
// DefaultPrefix.
func NewAPIKeyManager(prefix string) *APIKeyManager {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &APIKeyManager{prefix: prefix}
}

// Prefix returns the configured key prefix
func (m *APIKeyManager) Prefix() string {
	return m.prefix
}

// GenerateAPIKey generates a key with the manager's prefix
func (m *APIKeyManager) GenerateAPIKey() (rawKey, keyHash string, err error) {
	return GenerateAPIKey(m.prefix)
}

// GenerateAPIKey generates a new key in the format <prefix><43 base64url chars>.
// Returns the raw key (shown once) and its SHA-256 hash (stored).
// A failing entropy source is returned as ErrEntropyUnavailable and should be
// treated as fatal by the caller.
func GenerateAPIKey(prefix string) (rawKey, keyHash string, err error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("%w: %v", models.ErrEntropyUnavailable, err)
	}

	rawKey = prefix + base64.RawURLEncoding.EncodeToString(buf)
	return rawKey, HashAPIKey(rawKey), nil
}

// HashAPIKey returns the lowercase hex SHA-256 digest of the raw key
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey hashes rawKey and compares it to storedHash in constant time.
// Empty or malformed input simply yields false.
func VerifyAPIKey(rawKey, storedHash string) bool {
	if rawKey == "" || storedHash == "" {
		return false
	}
	return ConstantTimeHashCompare(HashAPIKey(rawKey), storedHash)
}

// ConstantTimeHashCompare compares two hashes with constant-time comparison.
// Inputs of different length never match.
func ConstantTimeHashCompare(hash1, hash2 string) bool {
	return subtle.ConstantTimeCompare([]byte(hash1), []byte(hash2)) == 1
}

// ExtractKeyID returns the 8 characters following the first delimiter.
//
// ok is false when the key has no delimiter at all. A delimiter followed by
// fewer than 8 characters is an InvalidKeyFormatError. Splitting always
// happens at the first delimiter, so "my_app_v2_ABC12345" yields "app_v2_A".
func ExtractKeyID(rawKey string) (keyID string, ok bool, err error) {
	_, rest, found := strings.Cut(rawKey, KeyDelimiter)
	if !found {
		return "", false, nil
	}

	runes := []rune(rest)
	if len(runes) < KeyIDLength {
		return "", false, &models.InvalidKeyFormatError{
			Reason: fmt.Sprintf("key too short: need at least %d characters after prefix, got %d", KeyIDLength, len(runes)),
		}
	}
	return string(runes[:KeyIDLength]), true, nil
}

// DisplayID returns ExtractKeyID's result or an empty string when the key
// carries no usable identifier. For logs and responses only.
func DisplayID(rawKey string) string {
	id, ok, err := ExtractKeyID(rawKey)
	if err != nil || !ok {
		return ""
	}
	return id
}
