package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// OpenAI, OpenRouter ("sk-or-v1-...") and Anthropic ("sk-ant-...") key shapes.
	secretKeyRe = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{8,}`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|x-api-key|key)\b\s*[:=]\s*[^\s"'&]+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = secretKeyRe.ReplaceAllString(out, "<redacted_key>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}
