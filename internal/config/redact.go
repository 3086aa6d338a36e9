package config

import "regexp"

// sensitivePattern finds one kind of credential in a log line. The first
// submatch, when present, is kept so the reader still sees which value was
// hidden.
type sensitivePattern struct {
	Name    string
	Pattern *regexp.Regexp
}

var sensitivePatterns = []sensitivePattern{
	{
		Name:    "GitHub token",
		Pattern: regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{22,})`),
	},
	{
		Name:    "Authorization header",
		Pattern: regexp.MustCompile(`(?i)((?:bearer|token)\s+)[A-Za-z0-9._~+/=-]{8,}`),
	},
	{
		Name:    "Token assignment",
		Pattern: regexp.MustCompile(`(?i)((?:access_token|token|password|secret)=)[^\s&]+`),
	},
}

// Redacted replaces every credential Redact finds.
const Redacted = "[REDACTED]"

// Redact hides access tokens and similar credentials in s.
func Redact(s string) string {
	for _, p := range sensitivePatterns {
		s = p.Pattern.ReplaceAllString(s, "${1}"+Redacted)
	}
	return s
}
