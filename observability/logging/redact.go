package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var sensitiveFragments = []string{
	"private_key",
	"privkey",
	"secret",
	"passphrase",
	"password",
	"api_key",
	"apikey",
	"api_token",
	"auth_token",
	"access_token",
	"refresh_token",
	"bearer",
}

// IsSensitive reports whether a log key names secret material. Keys are matched
// case-insensitively on known fragments, so "signer_private_key" and "APIKey"
// both qualify. A bare "token" key is a contract address and stays visible.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if normalized == "" {
		return false
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty
// values are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr that redacts value when key is sensitive.
func MaskField(key, value string) slog.Attr {
	if !IsSensitive(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}
