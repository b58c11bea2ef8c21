// Package embeddings provides the pluggable embedding providers used to
// compute node and query vectors.
package embeddings

import "context"

// Provider variant identifiers.
const (
	ProviderLocal   = "local"
	ProviderHostedA = "hosted-A"
	ProviderHostedB = "hosted-B"
	ProviderMock    = "mock"
	ProviderNone    = "none"
)

// Fixed dimensions per variant.
const (
	DimensionLocal   = 384
	DimensionHostedA = 1536
	DimensionHostedB = 4096
	DimensionMock    = DimensionLocal
)

// Provider is the abstraction over embedding backends. Non-nil vectors are
// L2-normalized to magnitude 1 ± 1e-6, except that the mock provider
// returns the all-zero vector for blank input.
type Provider interface {
	// EmbedText computes the vector for one text. A nil vector with a nil
	// error means the provider produces no embeddings (the "none" variant).
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the provider's fixed vector length (0 for "none").
	Dimension() int

	// ProviderID returns the variant identifier.
	ProviderID() string
}
