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

// Provider identifies which chat completion backend serves a model.
type Provider int

const (
	ProviderOpenAI Provider = iota
	ProviderMistral
)

func (p Provider) String() string {
	switch p {
	case ProviderMistral:
		return "mistral"
	default:
		return "openai"
	}
}

// ResolveProvider maps a configured model identifier to its provider.
// Resolution happens once at client construction, never per request.
func ResolveProvider(model string) Provider {
	if strings.HasPrefix(model, "mistral-") {
		return ProviderMistral
	}
	return ProviderOpenAI
}

const (
	openAIChatBaseURL  = "https://api.openai.com/v1"
	mistralChatBaseURL = "https://api.mistral.ai/v1"
	chatTimeout        = 60 * time.Second

	defaultTemperature = 0.3
	defaultMaxTokens   = 2000
)

// Message is a chat message in the OpenAI wire format, which Mistral also
// speaks.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient generates text from system+user messages via an OpenAI-compatible
// chat completions API.
type ChatClient struct {
	provider   Provider
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewChatClient creates a ChatClient for the given model. The provider is
// resolved from the model identifier; openAIKey and mistralKey are the
// credentials for the respective providers and only the resolved one is kept.
func NewChatClient(model, openAIKey, mistralKey string) *ChatClient {
	provider := ResolveProvider(model)

	apiKey := openAIKey
	baseURL := openAIChatBaseURL
	if provider == ProviderMistral {
		apiKey = mistralKey
		baseURL = mistralChatBaseURL
	}

	return &ChatClient{
		provider: provider,
		apiKey:   apiKey,
		model:    model,
		baseURL:  baseURL,
		httpClient: &http.Client{
			Timeout: chatTimeout,
		},
	}
}

// NewChatClientWithBaseURL creates a client pointing at a custom base URL
// (for testing).
func NewChatClientWithBaseURL(model, apiKey, baseURL string) *ChatClient {
	c := NewChatClient(model, apiKey, apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Provider reports which backend this client was constructed for.
func (c *ChatClient) Provider() Provider {
	return c.provider
}

// Model reports the configured model identifier.
func (c *ChatClient) Model() string {
	return c.model
}

// chatCompletionsRequest is the JSON body for POST /chat/completions.
type chatCompletionsRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

// chatCompletionsResponse is the JSON returned by POST /chat/completions.
type chatCompletionsResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends a system prompt and user prompt to the chat model and
// returns the assistant's response text.
func (c *ChatClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingCredential
	}

	body, err := json.Marshal(chatCompletionsRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	var result chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &ProviderError{Status: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK || len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		msg := "unknown error"
		if result.Error != nil {
			msg = result.Error.Message
		}
		return "", &ProviderError{Status: resp.StatusCode, Message: msg}
	}

	return result.Choices[0].Message.Content, nil
}
