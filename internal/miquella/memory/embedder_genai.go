package memory

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const defaultGenAIEmbeddingModel = "gemini-embedding-001"

// GenAIEmbedderConfig configures the Gemini embeddings API.
type GenAIEmbedderConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API host, mainly for tests and proxies.
	BaseURL string
}

// GenAIEmbedder embeds through google.golang.org/genai.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// NewGenAIEmbedder builds the client. No request is made until Embed.
func NewGenAIEmbedder(ctx context.Context, cfg GenAIEmbedderConfig) (*GenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedder genai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGenAIEmbeddingModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("embedder genai: create client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: cfg.Model}, nil
}

func (e *GenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("embedder genai: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder genai: got %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

var _ Embedder = (*GenAIEmbedder)(nil)
