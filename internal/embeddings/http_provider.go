package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/etlplatform/internal/interfaces"
)

// HTTPProvider calls an external embedding API over a simple JSON
// request/response contract: POST {endpoint} {"input": [...]}  ->
// {"embeddings": [[...], ...]}. This matches the Embedding Provider
// Contract's wire shape rather than any one vendor's API, so
// swapping backends only means pointing Endpoint at a compatible service.
type HTTPProvider struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	dimension int
	logger    arbor.ILogger
}

func NewHTTPProvider(client *http.Client, endpoint, apiKey string, dimension int, logger arbor.ILogger) *HTTPProvider {
	return &HTTPProvider{client: client, endpoint: endpoint, apiKey: apiKey, dimension: dimension, logger: logger}
}

var _ interfaces.EmbeddingProvider = (*HTTPProvider)(nil)

func (p *HTTPProvider) Dimension() int {
	return p.dimension
}

func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type embedRequest struct {
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *HTTPProvider) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed request returned status %d", resp.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed response returned %d vectors for %d inputs", len(parsed.Embeddings), len(texts))
	}
	return parsed.Embeddings, nil
}
