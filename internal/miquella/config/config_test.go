package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TymurD/miquella/internal/miquella/config"
)

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)

	def := config.Default()
	assert.Equal(t, def, *cfg)
	assert.Equal(t, 51, cfg.Chat.HistoryLimit)
	assert.Equal(t, 9, cfg.Chat.InactivityThreshold)
	assert.Equal(t, 1.2, cfg.Model.Temperature)
	assert.Equal(t, "Error occured", cfg.Chat.Fallback)
	assert.Contains(t, cfg.Chat.TriggerWords, "miquella")
	assert.Equal(t, 1, cfg.Memory.WriteAttempts, "upserts are not retried unless asked")
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := config.Parse([]byte(`
model:
  provider: anthropic
  name: claude-sonnet
  temperature: 0.7
chat:
  activation: probabilistic
  random_chance: 4
  trigger_words: [bot]
  channels: ["!general:example.org", "!dev-*:example.org"]
memory:
  record_policy: activated
  per_channel: true
  write_attempts: 3
`))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "claude-sonnet", cfg.Model.Name)
	assert.Equal(t, 0.7, cfg.Model.Temperature)
	assert.Equal(t, config.ActivationProbabilistic, cfg.Chat.Activation)
	assert.Equal(t, 4, cfg.Chat.RandomChance)
	assert.Equal(t, []string{"bot"}, cfg.Chat.TriggerWords)
	assert.Len(t, cfg.Chat.Channels, 2)
	assert.Equal(t, config.RecordActivated, cfg.Memory.RecordPolicy)
	assert.True(t, cfg.Memory.PerChannel)
	assert.Equal(t, 3, cfg.Memory.WriteAttempts)

	// Untouched sections keep their defaults.
	assert.Equal(t, 51, cfg.Chat.HistoryLimit)
	assert.Equal(t, "messages", cfg.Database.Collection)
}

func TestParse_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown section":   "telemetry: {}\n",
		"unknown key":       "chat:\n  treshold: 3\n",
		"bad enum":          "chat:\n  activation: sometimes\n",
		"wrong type":        "chat:\n  history_limit: lots\n",
		"out of range":      "model:\n  temperature: 3.5\n",
		"negative k":        "memory:\n  k: -1\n",
		"bad record policy": "memory:\n  record_policy: some\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_CrossFieldRules(t *testing.T) {
	_, err := config.Parse([]byte("chat:\n  inactivity_threshold: 0\n"))
	assert.Error(t, err)

	// Zero threshold is fine when the counter is not used.
	_, err = config.Parse([]byte("chat:\n  activation: probabilistic\n  inactivity_threshold: 0\n"))
	assert.NoError(t, err)

	_, err = config.Parse([]byte("embedding:\n  provider: openai\n  model: \"\"\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrMissing), "got %v", err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miquella.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: /var/lib/miquella/bot.db\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/miquella/bot.db", cfg.Database.Path)
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "..", "miquella.example.yaml"))
	require.NoError(t, err)

	def := config.Default()
	assert.Equal(t, def.Model, cfg.Model)
	assert.Equal(t, def.Chat.TriggerWords, cfg.Chat.TriggerWords)
	assert.Equal(t, def.Chat.InactivityThreshold, cfg.Chat.InactivityThreshold)
	assert.Equal(t, def.Memory, cfg.Memory)
	assert.Equal(t, def.Prompts.DefaultInstruction, cfg.Prompts.DefaultInstruction)
	assert.Equal(t, "none", cfg.Embedding.Provider)
	assert.Empty(t, cfg.HTTP.Addr)
}
