package embed

import (
	"context"
	"sync"
)

// Lazy defers constructing an expensive Embedder until first use. The
// constructor runs at most once successfully; a failed or cancelled
// construction leaves Lazy uninitialized so the next caller retries.
type Lazy struct {
	init func(ctx context.Context) (Embedder, error)

	mu sync.Mutex
	e  Embedder
}

// NewLazy returns an Embedder built by init on first use.
func NewLazy(init func(ctx context.Context) (Embedder, error)) *Lazy {
	return &Lazy{init: init}
}

func (l *Lazy) get(ctx context.Context) (Embedder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.e != nil {
		return l.e, nil
	}
	e, err := l.init(ctx)
	if err != nil {
		return nil, err
	}
	l.e = e
	return e, nil
}

func (l *Lazy) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, texts)
}
