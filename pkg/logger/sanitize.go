package logger

import (
	"strings"
)

// MaskKey renders a raw key as its prefix and display id followed by a mask,
// e.g. "kw_AbCd1234…". Keys without a usable id are fully masked.
func MaskKey(rawKey string) string {
	prefix, rest, found := strings.Cut(rawKey, "_")
	if !found || len(rest) < 8 {
		return "[REDACTED]"
	}
	return prefix + "_" + rest[:8] + "…"
}

// SanitizeQueryString reports whether a query string carries a sensitive
// parameter and must be redacted in request logs
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"api_key",
		"apikey",
		"x-api-key",
		"key",
		"token",
		"secret",
		"password",
		"auth",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
