package logging

import (
	"regexp"
	"sync"
)

// Sanitizer redacts sensitive information from log messages.
type Sanitizer struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// GitHub PAT, OAuth, App tokens
		`gh[pous]_[A-Za-z0-9]{36}`,
		// GitHub fine-grained PAT
		`github_pat_[A-Za-z0-9_]{22,}`,
		// Credentials embedded in redis:// and rediss:// URLs
		`rediss?://[^:@/\s]*:[^@/\s]+@`,
		// Generic Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Generic API keys
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Generic secrets, including SWEEP_LOCK_SECRET=...
		`(?i)secret["'\s:=]+[^\s"']{8,}`,
		// Generic passwords
		`(?i)password["'\s:=]+[^\s"']{8,}`,
		// Generic tokens
		`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// SanitizeMap redacts values in a map.
func (s *Sanitizer) SanitizeMap(m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for k, v := range m {
		switch val := v.(type) {
		case string:
			result[k] = s.Sanitize(val)
		case map[string]interface{}:
			result[k] = s.SanitizeMap(val)
		default:
			result[k] = v
		}
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.patterns = append(s.patterns, re)
	s.mu.Unlock()
	return nil
}

// AddSecret redacts every literal occurrence of secret. Values shorter than
// four characters are ignored.
func (s *Sanitizer) AddSecret(secret string) {
	if len(secret) < 4 {
		return
	}
	re := regexp.MustCompile(regexp.QuoteMeta(secret))
	s.mu.Lock()
	s.patterns = append(s.patterns, re)
	s.mu.Unlock()
}

// SetRedactedPlaceholder sets the placeholder text for redacted content.
func (s *Sanitizer) SetRedactedPlaceholder(placeholder string) {
	s.mu.Lock()
	s.redacted = placeholder
	s.mu.Unlock()
}
