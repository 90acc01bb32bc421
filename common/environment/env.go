// Package environment provides helpers for loading secrets and overrides from
// environment variables.
//
// Required variables return an error wrapping ErrNotSet rather than calling
// os.Exit, keeping process termination out of library code.
package environment

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotSet is wrapped by every error reporting a missing variable.
var ErrNotSet = errors.New("environment variable not set")

// StringOr returns the value of the named environment variable, or defaultValue
// if the variable is unset or empty. Surrounding whitespace is trimmed.
func StringOr(name, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the value of the named environment variable or an error
// if it is unset or empty.
func RequiredString(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("%w: %q", ErrNotSet, name)
	}
	return v, nil
}

// FirstOf returns the value of the first non-empty variable among names.
// The boolean is false when none of them is set.
func FirstOf(names ...string) (string, bool) {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, true
		}
	}
	return "", false
}

// RequiredFirstOf is FirstOf for secrets that have legacy aliases. The error
// names every alias that was consulted.
func RequiredFirstOf(names ...string) (string, error) {
	if v, ok := FirstOf(names...); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: one of %s", ErrNotSet, strings.Join(names, ", "))
}
