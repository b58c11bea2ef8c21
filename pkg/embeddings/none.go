package embeddings

import "context"

// NoneProvider never produces embeddings. Pure lexical mode: semantic
// scores stay null and edges come from tag overlap alone.
type NoneProvider struct{}

// NewNoneProvider creates the none provider.
func NewNoneProvider() *NoneProvider {
	return &NoneProvider{}
}

// EmbedText always reports "no embedding".
func (p *NoneProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

// Dimension is zero: there is no vector space.
func (p *NoneProvider) Dimension() int { return 0 }

// ProviderID returns the variant identifier.
func (p *NoneProvider) ProviderID() string { return ProviderNone }
