package logging

import (
	"regexp"
	"strings"
)

var (
	// Generic API keys
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret|api[_-]?token|access[_-]?token|consumer[_-]?secret)[[:space:]]*[:=][[:space:]]*['"` + "`" + `]?([a-zA-Z0-9_\-]{16,})`)

	// Bearer tokens
	bearerTokenPattern = regexp.MustCompile(`(?i)bearer[[:space:]]+([a-zA-Z0-9_\-\.~+/=]+)`)

	// Private keys
	privateKeyPattern = regexp.MustCompile(`(?s)-----BEGIN[[:space:]]+(?:RSA[[:space:]]+)?PRIVATE[[:space:]]+KEY-----.*?-----END[[:space:]]+(?:RSA[[:space:]]+)?PRIVATE[[:space:]]+KEY-----`)

	// Passwords in URLs
	urlPasswordPattern = regexp.MustCompile(`(?i)(https?|ftp)://[^:/\s]+:([^@\s]+)@`)

	// JSON Web Tokens
	jwtPattern = regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`)

	// GCP service account material
	gcpServiceAccountPattern = regexp.MustCompile(`"private_key":\s*"[^"]+"|"client_email":\s*"[^"]+@[^"]+\.iam\.gserviceaccount\.com"`)
)

// Sanitizer masks credentials in log messages.
type Sanitizer struct {
	customPatterns []*regexp.Regexp
}

// NewSanitizer creates a sanitizer with the default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// AddCustomPattern adds a pattern whose matches are replaced with [REDACTED].
func (s *Sanitizer) AddCustomPattern(pattern *regexp.Regexp) {
	s.customPatterns = append(s.customPatterns, pattern)
}

// AddSecret redacts a literal value, e.g. a token fetched at startup.
func (s *Sanitizer) AddSecret(secret string) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 8 {
		return
	}
	s.AddCustomPattern(regexp.MustCompile(regexp.QuoteMeta(secret)))
}

// Sanitize removes or masks sensitive information from a message.
func (s *Sanitizer) Sanitize(message string) string {
	if s == nil {
		return message
	}
	// Custom literals first so a known token is never partially matched below.
	for _, pattern := range s.customPatterns {
		message = pattern.ReplaceAllString(message, "[REDACTED]")
	}

	message = privateKeyPattern.ReplaceAllString(message, "[REDACTED-PRIVATE-KEY]")
	message = jwtPattern.ReplaceAllString(message, "[REDACTED-JWT]")
	message = bearerTokenPattern.ReplaceAllString(message, "Bearer [REDACTED]")
	message = apiKeyPattern.ReplaceAllString(message, "${1}=[REDACTED]")
	message = urlPasswordPattern.ReplaceAllString(message, "${1}://[REDACTED]@")
	message = gcpServiceAccountPattern.ReplaceAllString(message, "[REDACTED-GCP-CREDENTIALS]")
	return message
}

// SanitizeMap sanitizes label values and blanks values under sensitive keys.
func (s *Sanitizer) SanitizeMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return m
	}
	sanitized := make(map[string]string, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = s.Sanitize(v)
	}
	return sanitized
}

func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, keyword := range []string{"password", "passwd", "secret", "token", "credential", "private", "bearer"} {
		if strings.Contains(lowerKey, keyword) {
			return true
		}
	}
	return false
}
