package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultHostedBURL   = "https://api.voyageai.com/v1/embeddings"
	defaultHostedBModel = "voyage-3-large"
)

// HostedBProvider calls hosted embedding service B over HTTP with an API
// key. Shares the hosted retry policy.
type HostedBProvider struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client

	retry retryConfig
}

// NewHostedBProvider creates the hosted-B provider.
func NewHostedBProvider(apiKey string) *HostedBProvider {
	return &HostedBProvider{
		APIKey:  apiKey,
		Model:   defaultHostedBModel,
		BaseURL: defaultHostedBURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: defaultRetryConfig(),
	}
}

type hostedBRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type hostedBResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedText generates an embedding for a single text.
func (p *HostedBProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32

	err := withRetry(ctx, p.retry, func() error {
		vec, err := p.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		embedding = vec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return L2Normalize(embedding), nil
}

func (p *HostedBProvider) embedOnce(ctx context.Context, text string) ([]float32, error) {
	bodyBytes, err := json.Marshal(hostedBRequest{Input: []string{text}, Model: p.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.BaseURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.APIKey))

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, retryable(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		apiErr := fmt.Errorf("hosted-B returned %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 {
			return nil, retryable(apiErr)
		}
		return nil, apiErr
	}

	var apiResp hostedBResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	embedding := apiResp.Data[0].Embedding
	if len(embedding) != DimensionHostedB {
		return nil, fmt.Errorf("hosted-B embedding has dimension %d, want %d", len(embedding), DimensionHostedB)
	}
	return embedding, nil
}

// Dimension returns hosted service B's vector length.
func (p *HostedBProvider) Dimension() int { return DimensionHostedB }

// ProviderID returns the variant identifier.
func (p *HostedBProvider) ProviderID() string { return ProviderHostedB }
