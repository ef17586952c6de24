package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultEmbeddingsBaseURL = "https://api.openai.com/v1"
	embeddingsTimeout        = 60 * time.Second

	// Provider caps for a single embeddings request. Both apply at once:
	// a sub-batch closes when either would be exceeded.
	maxBatchItems  = 2048
	maxBatchTokens = 100000
)

// EmbeddingClient converts text to vectors via the OpenAI embeddings API,
// transparently splitting oversized inputs into multiple requests.
type EmbeddingClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewEmbeddingClient creates an EmbeddingClient for the given model.
func NewEmbeddingClient(apiKey, model string) *EmbeddingClient {
	return &EmbeddingClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultEmbeddingsBaseURL,
		httpClient: &http.Client{
			Timeout: embeddingsTimeout,
		},
	}
}

// NewEmbeddingClientWithBaseURL creates a client pointing at a custom base URL
// (for testing).
func NewEmbeddingClientWithBaseURL(apiKey, model, baseURL string) *EmbeddingClient {
	c := NewEmbeddingClient(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// estimateTokens approximates the token count of a text as chars/4.
func estimateTokens(text string) int {
	return len(text) / 4
}

// splitBatches greedily packs texts into sub-batches honoring both per-request
// caps. Input order is never changed; each sub-batch is a contiguous run.
func splitBatches(texts []string) [][]string {
	var batches [][]string
	var current []string
	currentTokens := 0

	for _, text := range texts {
		tokens := estimateTokens(text)
		if len(current) > 0 && (len(current) >= maxBatchItems || currentTokens+tokens > maxBatchTokens) {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, text)
		currentTokens += tokens
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// embeddingsRequest is the JSON body for POST /embeddings.
type embeddingsRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

// embeddingsResponse is the JSON returned by POST /embeddings.
type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateEmbeddings returns one vector per input text, in input order.
// Inputs are split into sub-requests under the provider's item and token
// caps; any sub-request failure aborts the whole call with no partial
// results. Results are reassembled by the provider-reported index so batch
// boundaries never affect output order.
func (c *EmbeddingClient) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if c.apiKey == "" {
		return nil, ErrMissingCredential
	}
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	offset := 0

	for _, batch := range splitBatches(texts) {
		vectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		for i, vec := range vectors {
			results[offset+i] = vec
		}
		offset += len(batch)
	}

	return results, nil
}

// GenerateEmbedding returns the vector for a single text.
func (c *EmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || vectors[0] == nil {
		return nil, &ProviderError{Message: "no embedding returned"}
	}
	return vectors[0], nil
}

// embedBatch sends one embeddings request and returns its vectors ordered by
// the index field from the response.
func (c *EmbeddingClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{
		Model:          c.model,
		Input:          texts,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling embeddings request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	var result embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK || len(result.Data) == 0 {
		msg := "unknown error"
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, &ProviderError{Status: resp.StatusCode, Message: msg}
	}

	if len(result.Data) != len(texts) {
		return nil, &ProviderError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("got %d embeddings for %d inputs", len(result.Data), len(texts)),
		}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &ProviderError{Status: resp.StatusCode, Message: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		vectors[d.Index] = d.Embedding
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, &ProviderError{Status: resp.StatusCode, Message: fmt.Sprintf("missing embedding for input %d", i)}
		}
	}

	return vectors, nil
}
