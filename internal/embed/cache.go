package embed

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// VectorStore persists vectors by content key.
type VectorStore interface {
	LoadEmbeddings(ctx context.Context, keys []string) (map[string][]float32, error)
	SaveEmbeddings(ctx context.Context, vecs map[string][]float32) error
}

// Cached memoizes an Embedder in memory and, when a store is given, across
// processes. Store failures are logged and bypassed.
type Cached struct {
	next  Embedder
	store VectorStore
	model string

	mu  sync.Mutex
	mem map[string][]float32
}

// NewCached wraps next. model must identify the backend model, since vectors
// of different models are not comparable. store may be nil.
func NewCached(next Embedder, store VectorStore, model string) *Cached {
	return &Cached{next: next, store: store, model: model, mem: make(map[string][]float32)}
}

// Key returns the cache key of text under model.
func Key(model, text string) string {
	sum := blake2b.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = Key(c.model, t)
	}

	found := make(map[string][]float32, len(texts))
	var misses []string
	c.mu.Lock()
	for _, k := range keys {
		if v, ok := c.mem[k]; ok {
			found[k] = v
		} else if _, dup := found[k]; !dup {
			misses = append(misses, k)
			found[k] = nil
		}
	}
	c.mu.Unlock()

	if len(misses) > 0 && c.store != nil {
		stored, err := c.store.LoadEmbeddings(ctx, misses)
		if err != nil {
			slog.Warn("embedding cache lookup failed", "error", err)
		}
		for k, v := range stored {
			found[k] = v
		}
	}

	// Embed each missing distinct text once.
	var todo []string
	var todoKeys []string
	for i, k := range keys {
		if found[k] != nil {
			continue
		}
		found[k] = []float32{}
		todo = append(todo, texts[i])
		todoKeys = append(todoKeys, k)
	}
	if len(todo) > 0 {
		vecs, err := c.next.Embed(ctx, todo)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(todo) {
			return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(todo))
		}
		fresh := make(map[string][]float32, len(vecs))
		for i, v := range vecs {
			found[todoKeys[i]] = v
			fresh[todoKeys[i]] = v
		}
		if c.store != nil {
			if err := c.store.SaveEmbeddings(ctx, fresh); err != nil {
				slog.Warn("embedding cache write failed", "error", err)
			}
		}
	}

	out := make([][]float32, len(texts))
	c.mu.Lock()
	for i, k := range keys {
		out[i] = found[k]
		c.mem[k] = found[k]
	}
	c.mu.Unlock()
	return out, nil
}
