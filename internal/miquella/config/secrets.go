package config

import (
	"errors"
	"fmt"

	"github.com/TymurD/miquella/common/environment"
)

// Environment variable names.
const (
	EnvConfigPath        = "MIQUELLA_CONFIG"
	EnvMatrixHomeserver  = "MATRIX_HOMESERVER"
	EnvMatrixUserID      = "MATRIX_USER_ID"
	EnvMatrixAccessToken = "MATRIX_ACCESS_TOKEN"
	EnvLLMAPIKey         = "LLM_API_KEY"
	EnvLLMAPIKeyLegacy   = "OPENROUTER_KEY"
	EnvEmbeddingAPIKey   = "EMBEDDING_API_KEY"
)

// DefaultPath is used when neither --config nor MIQUELLA_CONFIG is given.
const DefaultPath = "miquella.yaml"

// Secrets are the credentials read from the environment.
type Secrets struct {
	MatrixHomeserver  string
	MatrixUserID      string
	MatrixAccessToken string
	LLMAPIKey         string
	EmbeddingAPIKey   string
}

// SecretNeeds says which credentials the selected components require.
type SecretNeeds struct {
	Matrix    bool
	LLM       bool
	Embedding bool
}

// Values lists every non-empty secret, for log redaction.
func (s Secrets) Values() []string {
	var out []string
	for _, v := range []string{s.MatrixAccessToken, s.LLMAPIKey, s.EmbeddingAPIKey} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadSecrets reads credentials from the environment. Every missing required
// variable is reported in one error wrapping ErrMissing.
func LoadSecrets(needs SecretNeeds) (Secrets, error) {
	var (
		s    Secrets
		errs []error
		err  error
	)

	if needs.Matrix {
		if s.MatrixHomeserver, err = environment.RequiredString(EnvMatrixHomeserver); err != nil {
			errs = append(errs, err)
		}
		if s.MatrixUserID, err = environment.RequiredString(EnvMatrixUserID); err != nil {
			errs = append(errs, err)
		}
		if s.MatrixAccessToken, err = environment.RequiredString(EnvMatrixAccessToken); err != nil {
			errs = append(errs, err)
		}
	}

	if needs.LLM {
		if s.LLMAPIKey, err = environment.RequiredFirstOf(EnvLLMAPIKey, EnvLLMAPIKeyLegacy); err != nil {
			errs = append(errs, err)
		}
	}

	// The embedding endpoint falls back to the completion key, which is
	// what an OpenRouter-style gateway serving both expects.
	if needs.Embedding {
		if v, ok := environment.FirstOf(EnvEmbeddingAPIKey, EnvLLMAPIKey, EnvLLMAPIKeyLegacy); ok {
			s.EmbeddingAPIKey = v
		} else {
			errs = append(errs, fmt.Errorf("%w: one of %s, %s", environment.ErrNotSet, EnvEmbeddingAPIKey, EnvLLMAPIKey))
		}
	}

	if len(errs) > 0 {
		return Secrets{}, fmt.Errorf("%w: %w", ErrMissing, errors.Join(errs...))
	}
	return s, nil
}

// ResolvePath picks the config file path: flag value, then MIQUELLA_CONFIG,
// then DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	return environment.StringOr(EnvConfigPath, DefaultPath)
}
