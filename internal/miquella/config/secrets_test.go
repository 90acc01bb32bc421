package config_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TymurD/miquella/common/environment"
	"github.com/TymurD/miquella/internal/miquella/config"
)

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvMatrixHomeserver, config.EnvMatrixUserID, config.EnvMatrixAccessToken,
		config.EnvLLMAPIKey, config.EnvLLMAPIKeyLegacy, config.EnvEmbeddingAPIKey,
	} {
		t.Setenv(k, "")
	}
}

func TestLoadSecrets_AllMissing(t *testing.T) {
	clearSecretEnv(t)

	_, err := config.LoadSecrets(config.SecretNeeds{Matrix: true, LLM: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrMissing))
	assert.True(t, errors.Is(err, environment.ErrNotSet))
	for _, name := range []string{"MATRIX_HOMESERVER", "MATRIX_USER_ID", "MATRIX_ACCESS_TOKEN", "LLM_API_KEY", "OPENROUTER_KEY"} {
		assert.True(t, strings.Contains(err.Error(), name), "error should name %s: %v", name, err)
	}
}

func TestLoadSecrets_LegacyAliasAndEmbeddingFallback(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv(config.EnvLLMAPIKeyLegacy, "sk-or-legacy")

	s, err := config.LoadSecrets(config.SecretNeeds{LLM: true, Embedding: true})
	require.NoError(t, err)
	assert.Equal(t, "sk-or-legacy", s.LLMAPIKey)
	assert.Equal(t, "sk-or-legacy", s.EmbeddingAPIKey)
	assert.Equal(t, []string{"sk-or-legacy", "sk-or-legacy"}, s.Values())
}

func TestLoadSecrets_NothingNeeded(t *testing.T) {
	clearSecretEnv(t)
	s, err := config.LoadSecrets(config.SecretNeeds{})
	require.NoError(t, err)
	assert.Empty(t, s.Values())
}

func TestResolvePath(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "")
	assert.Equal(t, config.DefaultPath, config.ResolvePath(""))

	t.Setenv(config.EnvConfigPath, "/etc/miquella.yaml")
	assert.Equal(t, "/etc/miquella.yaml", config.ResolvePath(""))
	assert.Equal(t, "local.yaml", config.ResolvePath("local.yaml"))
}
