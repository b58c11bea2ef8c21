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
	defaultHostedAURL   = "https://api.openai.com/v1/embeddings"
	defaultHostedAModel = "text-embedding-3-small"
)

// HostedAProvider calls hosted embedding service A over HTTP with an API
// key. 5xx and network failures are retried up to three attempts with
// exponential backoff.
type HostedAProvider struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client

	retry retryConfig
}

// NewHostedAProvider creates the hosted-A provider.
func NewHostedAProvider(apiKey string) *HostedAProvider {
	return &HostedAProvider{
		APIKey:  apiKey,
		Model:   defaultHostedAModel,
		BaseURL: defaultHostedAURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: defaultRetryConfig(),
	}
}

type hostedARequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type hostedAResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *hostedAError `json:"error,omitempty"`
}

type hostedAError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// EmbedText generates an embedding for a single text.
func (p *HostedAProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
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

func (p *HostedAProvider) embedOnce(ctx context.Context, text string) ([]float32, error) {
	bodyBytes, err := json.Marshal(hostedARequest{Input: []string{text}, Model: p.Model})
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

	bodyBytes, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryable(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("API error (%d): %s", resp.StatusCode, string(bodyBytes))
		var apiResp hostedAResponse
		if jsonErr := json.Unmarshal(bodyBytes, &apiResp); jsonErr == nil && apiResp.Error != nil {
			apiErr = fmt.Errorf("API error (%d): %s", resp.StatusCode, apiResp.Error.Message)
		}
		if resp.StatusCode >= 500 {
			return nil, retryable(apiErr)
		}
		return nil, apiErr
	}

	var apiResp hostedAResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	embedding := apiResp.Data[0].Embedding
	if len(embedding) != DimensionHostedA {
		return nil, fmt.Errorf("hosted-A embedding has dimension %d, want %d", len(embedding), DimensionHostedA)
	}
	return embedding, nil
}

// Dimension returns hosted service A's vector length.
func (p *HostedAProvider) Dimension() int { return DimensionHostedA }

// ProviderID returns the variant identifier.
func (p *HostedAProvider) ProviderID() string { return ProviderHostedA }
