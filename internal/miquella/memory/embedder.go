package memory

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedder turns texts into vectors, one per input, in order.
//
// An embedder that cannot produce vectors at all (NoopEmbedder) returns nil
// with no error; the index treats that as "semantic search disabled".
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NoopEmbedder disables semantic search.
type NoopEmbedder struct{}

func (NoopEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

var _ Embedder = NoopEmbedder{}

// CachedEmbedder memoises vectors by exact text. Repeated queries (a chatty
// channel re-asking the same thing, or a reply embedded right after the
// query that produced it) skip the provider round trip.
type CachedEmbedder struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps next with an LRU of size entries.
func NewCachedEmbedder(next Embedder, size int) (*CachedEmbedder, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: c}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if vecs == nil {
		return nil, nil
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missing))
	}
	for j, v := range vecs {
		out[slots[j]] = v
		if len(v) > 0 {
			c.cache.Add(missing[j], v)
		}
	}
	return out, nil
}

// Len reports how many vectors are cached.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

var _ Embedder = (*CachedEmbedder)(nil)
