package embeddings

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheSize is the number of text → vector entries retained.
const defaultCacheSize = 512

// CachedProvider wraps a provider with an LRU cache keyed by input text.
// Repeated query embeddings (the common case in interactive search) skip the
// provider entirely.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedProvider wraps the provider with the default cache size.
func NewCachedProvider(inner Provider) *CachedProvider {
	cache, _ := lru.New[string, []float32](defaultCacheSize)
	return &CachedProvider{inner: inner, cache: cache}
}

// EmbedText returns the cached vector when present, otherwise delegates.
// Only successful, non-nil results are cached.
func (p *CachedProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := p.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := p.inner.EmbedText(ctx, text)
	if err != nil || vec == nil {
		return vec, err
	}
	p.cache.Add(text, vec)
	return vec, nil
}

// Dimension delegates to the wrapped provider.
func (p *CachedProvider) Dimension() int { return p.inner.Dimension() }

// ProviderID delegates to the wrapped provider.
func (p *CachedProvider) ProviderID() string { return p.inner.ProviderID() }
