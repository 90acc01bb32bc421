// Package config loads the miquella YAML configuration file, validates it
// against an embedded JSON schema and reads secrets from the environment.
//
// Non-secret settings live in the file; credentials never do. The file is
// also the default durable home of the persona (see PersonaFile).
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrMissing is wrapped by every startup error caused by absent required
// configuration: the config file itself or a required secret.
var ErrMissing = errors.New("required configuration missing")

// Activation modes.
const (
	ActivationDeterministic = "deterministic"
	ActivationProbabilistic = "probabilistic"
)

// Placeholder modes.
const (
	PlaceholderReplace = "replace"
	PlaceholderEdit    = "edit"
)

// Memory record policies.
const (
	RecordAll       = "all"
	RecordActivated = "activated"
)

// File is the decoded configuration file.
type File struct {
	Model     ModelConfig     `yaml:"model"`
	Chat      ChatConfig      `yaml:"chat"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Database  DatabaseConfig  `yaml:"database"`
	Memory    MemoryConfig    `yaml:"memory"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
}

// ModelConfig selects the completion provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ChatConfig controls activation and message handling.
type ChatConfig struct {
	HistoryLimit        int      `yaml:"history_limit"`
	InactivityThreshold int      `yaml:"inactivity_threshold"`
	TriggerWords        []string `yaml:"trigger_words"`
	Activation          string   `yaml:"activation"`
	RandomChance        int      `yaml:"random_chance"`
	Placeholder         string   `yaml:"placeholder"`
	Fallback            string   `yaml:"fallback"`
	PlaceholderMode     string   `yaml:"placeholder_mode"`
	Channels            []string `yaml:"channels"`
	SingleFlight        bool     `yaml:"single_flight"`
	AutoJoin            bool     `yaml:"auto_join"`
	CommandPrefix       string   `yaml:"command_prefix"`
	Admins              []string `yaml:"admins"`
}

// PromptsConfig holds the two halves of the system prompt.
type PromptsConfig struct {
	DefaultInstruction string `yaml:"default_instruction"`
	PersonaInstruction string `yaml:"persona_instruction"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

// MemoryConfig controls long-term memory.
type MemoryConfig struct {
	K            int    `yaml:"k"`
	RecordPolicy string `yaml:"record_policy"`
	PerChannel   bool   `yaml:"per_channel"`
	Persona      string `yaml:"persona"`
	Workers      int    `yaml:"workers"`
	QueueSize    int    `yaml:"queue_size"`
	CacheSize    int    `yaml:"cache_size"`

	// WriteAttempts is how many times a background upsert is tried when the
	// embedding provider fails. The default of 1 never retries.
	WriteAttempts int `yaml:"write_attempts"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// HTTPConfig enables the health server. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for every key the file omits.
func Default() File {
	return File{
		Model: ModelConfig{
			Provider:    "openai",
			Name:        "mistralai/mistral-nemo:free",
			BaseURL:     "https://openrouter.ai/api/v1",
			Temperature: 1.2,
		},
		Chat: ChatConfig{
			HistoryLimit:        51,
			InactivityThreshold: 9,
			TriggerWords:        []string{"мікелла", "miquella", "микелла"},
			Activation:          ActivationDeterministic,
			RandomChance:        10,
			Placeholder:         "...",
			Fallback:            "Error occured",
			PlaceholderMode:     PlaceholderReplace,
			CommandPrefix:       "/",
			AutoJoin:            true,
		},
		Prompts: PromptsConfig{
			DefaultInstruction: defaultInstruction,
			PersonaInstruction: defaultPersona,
		},
		Database: DatabaseConfig{
			Path:       "miquella.db",
			Collection: "messages",
		},
		Memory: MemoryConfig{
			K:            5,
			RecordPolicy: RecordAll,
			Persona:      "file",
			Workers:      2,
			QueueSize:    256,
			CacheSize:    512,

			WriteAttempts: 1,
		},
		Embedding: EmbeddingConfig{
			Provider: "none",
			Model:    "text-embedding-3-small",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

const defaultInstruction = "Be direct: Omit introductory and concluding remarks. " +
	"No commentary: Do not add explanatory sentences or conversational filler. " +
	"Follow all instructions: Adhere strictly to all instructions in the prompt. "

const defaultPersona = "You are Miquella, an affectionate member of a group chat. " +
	"You will be given multiple recent messages from a group ordered from oldest to newest " +
	"and you have to, according to your role, contribute to the conversation. " +
	"Prioritise newer messages over the older messages. " +
	"The newest message should be the one you focus on. "

// Load reads, validates and decodes the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: config file %s", ErrMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it over Default().
func Parse(data []byte) (*File, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// check covers the cross-field rules the schema cannot express.
func (f *File) check() error {
	if f.Chat.Activation == ActivationDeterministic && f.Chat.InactivityThreshold < 1 {
		return fmt.Errorf("chat.inactivity_threshold must be at least 1 in deterministic mode")
	}
	if f.Embedding.Provider != "none" && f.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required for provider %q", f.Embedding.Provider)
	}
	return nil
}
