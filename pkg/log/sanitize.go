package log

import (
	"net/url"
	"strings"
)

// SanitizeField checks if the key contains sensitive keywords and sanitizes
// the value. Proxy endpoints are handled separately so that credentials
// embedded in the URL userinfo never reach the logs.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)

	// Proxy endpoints may carry user:password@host userinfo
	if strings.Contains(lowerKey, "proxy") || strings.Contains(lowerKey, "endpoint") {
		return sanitizeEndpoint(value)
	}

	sensitiveKeywords := []string{
		"password", "passwd", "pwd",
		"api_key", "apikey", "api-key",
		"token", "secret",
		"auth", "authorization",
		"credential",
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return sanitizeToken(value)
		}
	}

	return value
}

// sanitizeToken masks secret values showing only the first and last 4 characters.
func sanitizeToken(value string) string {
	if len(value) <= 8 {
		if len(value) <= 2 {
			return strings.Repeat("*", len(value))
		}
		return string(value[0]) + strings.Repeat("*", len(value)-2) + string(value[len(value)-1])
	}

	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// sanitizeEndpoint strips the password from URL userinfo, leaving the rest
// of the endpoint intact.
func sanitizeEndpoint(value string) string {
	parsed, err := url.Parse(value)
	if err != nil || parsed.User == nil {
		return value
	}
	if _, has := parsed.User.Password(); has {
		parsed.User = url.UserPassword(parsed.User.Username(), "****")
		return parsed.String()
	}
	return value
}
