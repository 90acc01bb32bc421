// Package redact strips secrets (platform access tokens, LLM and embedding API
// keys) from strings before they reach a log line or a chat message.
//
// Provider SDK errors occasionally echo request headers or URLs, so every
// error that crosses the process boundary is passed through here.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// minSecretLen is the shortest value that is ever redacted. Shorter values
// would cause spurious replacements of common substrings.
const minSecretLen = 4

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].
//
//	safe := redact.String(logLine, apiKey, matrixToken)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Set is a fixed collection of secrets registered once at startup.
// The zero value redacts nothing. A Set is safe for concurrent reads.
type Set struct {
	values []string
}

// NewSet returns a Set holding every value that is long enough to redact.
func NewSet(values ...string) *Set {
	s := &Set{}
	for _, v := range values {
		if len(v) >= minSecretLen {
			s.values = append(s.values, v)
		}
	}
	return s
}

// String redacts every registered secret from in.
func (s *Set) String(in string) string {
	if s == nil {
		return in
	}
	return String(in, s.values...)
}

// Error returns err's message with every registered secret removed.
// A nil error yields "".
func (s *Set) Error(err error) string {
	if err == nil {
		return ""
	}
	return s.String(err.Error())
}

// Len reports how many secrets are registered.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}
