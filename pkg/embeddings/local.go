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

// DefaultLocalURL is the local embedding server endpoint.
const DefaultLocalURL = "http://localhost:11434"

// defaultLocalModel is the local embedding model name.
const defaultLocalModel = "all-minilm"

// LocalProvider runs embeddings against a local model server. The default
// offline provider; output is L2-normalized.
type LocalProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewLocalProvider creates the local provider. Empty arguments select the
// defaults.
func NewLocalProvider(baseURL, model string) *LocalProvider {
	if baseURL == "" {
		baseURL = DefaultLocalURL
	}
	if model == "" {
		model = defaultLocalModel
	}
	return &LocalProvider{
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type localEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// EmbedText generates an embedding for a single text.
func (p *LocalProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	reqBody := localEmbedRequest{
		Model:  p.model,
		Prompt: text,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("local embedding server returned %d: %s", resp.StatusCode, string(body))
	}

	var result localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embedding) != DimensionLocal {
		return nil, fmt.Errorf("local embedding has dimension %d, want %d", len(result.Embedding), DimensionLocal)
	}

	embedding := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		embedding[i] = float32(v)
	}
	return L2Normalize(embedding), nil
}

// Dimension returns the local model's vector length.
func (p *LocalProvider) Dimension() int { return DimensionLocal }

// ProviderID returns the variant identifier.
func (p *LocalProvider) ProviderID() string { return ProviderLocal }
