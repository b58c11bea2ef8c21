package embeddings

import (
	"context"
	"fmt"
	"sync"
)

// Service is the process-wide embedding abstraction handed to the engine.
// Provider failures are downgraded: the caller receives a nil vector and a
// recorded warning, never an error, so capture survives provider outages.
type Service struct {
	provider Provider

	mu       sync.Mutex
	warnings []string
}

// maxRecordedWarnings bounds the warning buffer.
const maxRecordedWarnings = 100

// NewService wraps a provider.
func NewService(provider Provider) *Service {
	return &Service{provider: provider}
}

// Select builds the provider named by id. API keys are only consulted for
// hosted variants; localURL and localModel only for the local variant.
func Select(id, localURL, localModel, hostedAKey, hostedBKey string) (Provider, error) {
	switch id {
	case ProviderLocal, "":
		return NewLocalProvider(localURL, localModel), nil
	case ProviderHostedA:
		if hostedAKey == "" {
			return nil, fmt.Errorf("hosted-A provider requires an API key")
		}
		return NewHostedAProvider(hostedAKey), nil
	case ProviderHostedB:
		if hostedBKey == "" {
			return nil, fmt.Errorf("hosted-B provider requires an API key")
		}
		return NewHostedBProvider(hostedBKey), nil
	case ProviderMock:
		return NewMockProvider(), nil
	case ProviderNone:
		return NewNoneProvider(), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", id)
	}
}

// EmbedText computes a vector for the text. Returns nil when the provider
// fails (recording a warning) or produces nothing (no warning).
func (s *Service) EmbedText(ctx context.Context, text string) []float32 {
	vec, err := s.provider.EmbedText(ctx, text)
	if err != nil {
		s.recordWarning(fmt.Sprintf("embedding failed: %v", err))
		return nil
	}
	return vec
}

// EmbedNode computes the node vector over title and body joined by a
// newline.
func (s *Service) EmbedNode(ctx context.Context, title, body string) []float32 {
	return s.EmbedText(ctx, title+"\n"+body)
}

// Dimension returns the active provider's vector length.
func (s *Service) Dimension() int { return s.provider.Dimension() }

// ProviderID returns the active provider's variant identifier.
func (s *Service) ProviderID() string { return s.provider.ProviderID() }

func (s *Service) recordWarning(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.warnings) >= maxRecordedWarnings {
		s.warnings = s.warnings[1:]
	}
	s.warnings = append(s.warnings, msg)
}

// Warnings drains and returns the recorded provider warnings.
func (s *Service) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.warnings
	s.warnings = nil
	return out
}
