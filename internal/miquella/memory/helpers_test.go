package memory_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/TymurD/miquella/internal/miquella/store"
)

// vocab maps words to vector dimensions so similarity is predictable.
var vocab = []string{"cat", "dog", "pizza", "rain", "music"}

// wordEmbedder counts vocabulary words. Texts with no known word map to a
// constant vector so every text has a non-zero embedding.
type wordEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(vocab)+1)
		v[len(vocab)] = 0.01
		lower := strings.ToLower(t)
		for d, w := range vocab {
			v[d] = float32(strings.Count(lower, w))
		}
		out[i] = v
	}
	return out, nil
}

func (e *wordEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

var errProviderDown = errors.New("provider down")

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.MemoryPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
