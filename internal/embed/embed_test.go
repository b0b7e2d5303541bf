package embed

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashing(t *testing.T) {
	ctx := context.Background()
	h := NewHashing(0)

	vecs, err := h.Embed(ctx, []string{
		"Photosynthesis converts light to chemical energy.",
		"Plants convert light into chemical energy.",
		"Gravity pulls objects down.",
		"",
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 4 || len(vecs[0]) != DefaultHashingDim {
		t.Fatalf("got %d vectors of dim %d", len(vecs), len(vecs[0]))
	}

	related := Cosine(vecs[0], vecs[1])
	unrelated := Cosine(vecs[0], vecs[2])
	if related <= unrelated {
		t.Errorf("related similarity %.3f should exceed unrelated %.3f", related, unrelated)
	}
	if Cosine(vecs[3], vecs[0]) != 0 {
		t.Error("empty text should have zero similarity")
	}

	again, _ := h.Embed(ctx, []string{"Photosynthesis converts light to chemical energy."})
	if Cosine(again[0], vecs[0]) < 0.999999 {
		t.Error("hashing embedder is not deterministic")
	}
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	texts []string
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.texts = append(c.texts, texts...)
	if c.err != nil {
		return nil, c.err
	}
	return NewHashing(8).Embed(ctx, texts)
}

type memStore struct {
	vecs  map[string][]float32
	saves int
}

func (m *memStore) LoadEmbeddings(_ context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for _, k := range keys {
		if v, ok := m.vecs[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memStore) SaveEmbeddings(_ context.Context, vecs map[string][]float32) error {
	m.saves++
	for k, v := range vecs {
		m.vecs[k] = v
	}
	return nil
}

func TestCachedDeduplicatesAndPersists(t *testing.T) {
	ctx := context.Background()
	next := &countingEmbedder{}
	store := &memStore{vecs: make(map[string][]float32)}
	c := NewCached(next, store, "m1")

	vecs, err := c.Embed(ctx, []string{"a b", "c d", "a b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 || !slices.Equal(vecs[0], vecs[2]) {
		t.Fatalf("duplicate texts should share a vector: %v", vecs)
	}
	if len(next.texts) != 2 {
		t.Errorf("backend embedded %d texts, want 2", len(next.texts))
	}
	if len(store.vecs) != 2 {
		t.Errorf("store holds %d vectors, want 2", len(store.vecs))
	}

	// Served from memory.
	if _, err := c.Embed(ctx, []string{"c d"}); err != nil {
		t.Fatal(err)
	}
	if next.calls != 1 {
		t.Errorf("backend called %d times, want 1", next.calls)
	}

	// A fresh decorator over the same store reuses persisted vectors.
	next2 := &countingEmbedder{}
	if _, err := NewCached(next2, store, "m1").Embed(ctx, []string{"a b"}); err != nil {
		t.Fatal(err)
	}
	if next2.calls != 0 {
		t.Errorf("persisted vector not reused, backend called %d times", next2.calls)
	}

	// A different model never sees another model's vectors.
	next3 := &countingEmbedder{}
	if _, err := NewCached(next3, store, "m2").Embed(ctx, []string{"a b"}); err != nil {
		t.Fatal(err)
	}
	if next3.calls != 1 {
		t.Errorf("model m2 should miss the m1 cache, backend called %d times", next3.calls)
	}
}

func TestCachedPropagatesErrors(t *testing.T) {
	want := errors.New("backend down")
	c := NewCached(&countingEmbedder{err: want}, nil, "m")
	if _, err := c.Embed(context.Background(), []string{"x"}); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestLazyInitializesOnce(t *testing.T) {
	var mu sync.Mutex
	inits := 0
	l := NewLazy(func(context.Context) (Embedder, error) {
		mu.Lock()
		defer mu.Unlock()
		inits++
		return NewHashing(8), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Embed(context.Background(), []string{"x"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if inits != 1 {
		t.Errorf("initialized %d times, want 1", inits)
	}
}

func TestLazyRetriesAfterFailure(t *testing.T) {
	fail := true
	l := NewLazy(func(context.Context) (Embedder, error) {
		if fail {
			return nil, errors.New("model not ready")
		}
		return NewHashing(8), nil
	})

	if _, err := l.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected init error")
	}
	fail = false
	if _, err := l.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}
