package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TymurD/miquella/internal/miquella/activation"
	"github.com/TymurD/miquella/internal/miquella/config"
	"github.com/TymurD/miquella/internal/miquella/llm"
	"github.com/TymurD/miquella/internal/miquella/memory"
	"github.com/TymurD/miquella/internal/miquella/persona"
	"github.com/TymurD/miquella/internal/miquella/store"
)

// Platform names accepted by Options.Platform.
const (
	PlatformMatrix  = "matrix"
	PlatformConsole = "console"
)

// writeTimeout bounds one background memory upsert.
const writeTimeout = 30 * time.Second

// Needs reports which secrets the given platform and config require.
func Needs(cfg *config.File, platform string, withLLM bool) config.SecretNeeds {
	return config.SecretNeeds{
		Matrix:    platform == PlatformMatrix,
		LLM:       withLLM,
		Embedding: cfg.Embedding.Provider != "none",
	}
}

// OpenPersona builds the persona store over the configured port.
func OpenPersona(ctx context.Context, cfg *config.File, path string, st *store.Store, logger *slog.Logger) (*persona.Store, error) {
	var port persona.Port
	switch cfg.Memory.Persona {
	case "sqlite":
		port = config.NewPersonaKV(config.NewKV(st), persona.Config{
			DefaultInstruction: cfg.Prompts.DefaultInstruction,
			PersonaInstruction: cfg.Prompts.PersonaInstruction,
		})
	default:
		port = config.NewPersonaFile(path)
	}
	return persona.New(ctx, port, logger)
}

// NewEmbedder returns the configured embedder wrapped in a query cache, or
// the noop embedder when embeddings are disabled.
func NewEmbedder(ctx context.Context, cfg *config.File, secrets config.Secrets) (memory.Embedder, error) {
	var base memory.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		base = memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{
			APIKey:  secrets.EmbeddingAPIKey,
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
		})
	case "genai":
		e, err := memory.NewGenAIEmbedder(ctx, memory.GenAIEmbedderConfig{
			APIKey:  secrets.EmbeddingAPIKey,
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
		})
		if err != nil {
			return nil, err
		}
		base = e
	case "none", "":
		return memory.NoopEmbedder{}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	return memory.NewCachedEmbedder(base, cfg.Memory.CacheSize)
}

// NewIndex opens the memory collection named in the config.
func NewIndex(ctx context.Context, cfg *config.File, secrets config.Secrets, st *store.Store, logger *slog.Logger) (*memory.Index, error) {
	emb, err := NewEmbedder(ctx, cfg, secrets)
	if err != nil {
		return nil, err
	}
	return memory.NewIndex(st.DB(), cfg.Database.Collection, emb, logger), nil
}

// NewGate builds the activation gate for the configured mode.
func NewGate(cfg *config.File) activation.Gate {
	if cfg.Chat.Activation == config.ActivationProbabilistic {
		return activation.NewProbabilistic(cfg.Chat.TriggerWords, cfg.Chat.RandomChance, nil)
	}
	return activation.NewDeterministic(cfg.Chat.TriggerWords, cfg.Chat.InactivityThreshold, nil)
}

// NewProvider builds the completion provider.
func NewProvider(cfg *config.File, secrets config.Secrets) (llm.Provider, error) {
	return llm.New(llm.Config{
		Provider: cfg.Model.Provider,
		APIKey:   secrets.LLMAPIKey,
		BaseURL:  cfg.Model.BaseURL,
	})
}
