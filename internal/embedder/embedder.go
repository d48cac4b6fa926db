package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/docpack-mcp/pkg/types"
)

// Embedder is the consumed embedding capability. The engine cares only
// about this surface; model choice, quantization, and hardware live behind
// it. Initialize must be called once before Embed/EmbedBatch and repeated
// calls are safe no-ops.
type Embedder interface {
	// Dimensions returns the fixed length of every produced vector.
	Dimensions() int

	// Model returns the model identifier recorded in library metadata.
	Model() string

	// Initialize prepares the capability (loads or warms the model).
	Initialize(ctx context.Context) error

	// Embed produces one fixed-length vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch produces one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dispose releases resources. The embedder is unusable afterwards.
	Dispose() error
}

// ComputeHash returns the cache key for a text.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Cached decorates an Embedder with an in-memory LRU cache keyed by content
// hash. Safe for concurrent use.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// DefaultCacheSize bounds the embedding cache.
const DefaultCacheSize = 10000

// NewCached wraps inner with an LRU cache of at most size entries.
func NewCached(inner Embedder, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		// Only reachable with a non-positive size, which we just fixed.
		panic(fmt.Sprintf("embedder cache: %v", err))
	}
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }
func (c *Cached) Model() string   { return c.inner.Model() }

func (c *Cached) Initialize(ctx context.Context) error { return c.inner.Initialize(ctx) }

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := ComputeHash(text)
	if v, ok := c.cache.Get(hash); ok {
		return cloneVector(v), nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(hash, cloneVector(v))
	return v, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	// Embed only the misses, preserving input order.
	var missTexts []string
	var missIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get(ComputeHash(t)); ok {
			out[i] = cloneVector(v)
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", types.ErrEmbedder, len(vectors), len(missTexts))
	}
	for j, v := range vectors {
		out[missIdx[j]] = v
		c.cache.Add(ComputeHash(missTexts[j]), cloneVector(v))
	}
	return out, nil
}

func (c *Cached) Dispose() error {
	c.cache.Purge()
	return c.inner.Dispose()
}

// Len returns the current cache population, for stats.
func (c *Cached) Len() int { return c.cache.Len() }

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
