// Package openaicompat implements the providers.Backend contract for vendors
// exposing an OpenAI-compatible chat completions endpoint (Kimi/Moonshot and
// Groq). One adapter type serves both; only the endpoint and identity differ.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opsdeskhq/opsdesk/services/providers"
)

const (
	kimiBaseURL = "https://api.moonshot.ai/v1"
	groqBaseURL = "https://api.groq.com/openai/v1"
)

// Adapter performs chat completions against an OpenAI-compatible endpoint.
type Adapter struct {
	id         providers.ID
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Option configures optional Adapter behavior.
type Option func(*Adapter)

// WithBaseURL overrides the vendor endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(a *Adapter) { a.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// New creates an adapter for the given provider. Supported ids are
// providers.Kimi and providers.Groq; other ids get a zero-endpoint adapter
// that fails on first use.
func New(id providers.ID, cfg providers.BackendConfig, opts ...Option) *Adapter {
	a := &Adapter{
		id:         id,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	switch id {
	case providers.Kimi:
		a.baseURL = kimiBaseURL
	case providers.Groq:
		a.baseURL = groqBaseURL
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewKimiBuilder returns a registry builder for the Kimi provider.
func NewKimiBuilder(opts ...Option) providers.Builder {
	return func(cfg providers.BackendConfig) providers.Backend {
		return New(providers.Kimi, cfg, opts...)
	}
}

// NewGroqBuilder returns a registry builder for the Groq provider.
func NewGroqBuilder(opts ...Option) providers.Builder {
	return func(cfg providers.BackendConfig) providers.Backend {
		return New(providers.Groq, cfg, opts...)
	}
}

func (a *Adapter) Name() providers.ID   { return a.id }
func (a *Adapter) Configured() bool     { return a.apiKey != "" }
func (a *Adapter) DefaultModel() string { return a.model }

// wire types for the OpenAI-compatible completions endpoint

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat performs exactly one completion call. Non-2xx responses fail with the
// status code and raw body text embedded so the classifier upstream can
// pattern-match on them.
func (a *Adapter) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResult, error) {
	if !a.Configured() {
		return nil, providers.NewNotConfiguredError(a.id)
	}

	model := req.Model
	if model == "" {
		model = a.model
	}

	msgs := make([]wireMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		// These endpoints take the system instruction as a leading message.
		msgs = append(msgs, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(wireRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      false,
	})
	if err != nil {
		return nil, &providers.ProviderError{
			Provider: a.id,
			Message:  "failed to marshal request",
			Cause:    err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &providers.ProviderError{
			Provider: a.id,
			Message:  "failed to create request",
			Cause:    err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &providers.ProviderError{
			Provider: a.id,
			Message:  err.Error(),
			Cause:    err,
		}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &providers.ProviderError{
			Provider:   a.id,
			StatusCode: httpResp.StatusCode,
			Message:    "failed to read response",
			Cause:      err,
		}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &providers.ProviderError{
			Provider:   a.id,
			StatusCode: httpResp.StatusCode,
			Message:    fmt.Sprintf("%s API error: %d - %s", a.id.Display(), httpResp.StatusCode, string(respBody)),
		}
	}

	var parsed wireResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &providers.ProviderError{
			Provider:   a.id,
			StatusCode: httpResp.StatusCode,
			Message:    "failed to unmarshal response",
			Cause:      err,
		}
	}
	if len(parsed.Choices) == 0 {
		return nil, &providers.ProviderError{
			Provider:   a.id,
			StatusCode: httpResp.StatusCode,
			Message:    "empty response from provider",
		}
	}

	respModel := parsed.Model
	if respModel == "" {
		respModel = model
	}
	return &providers.ChatResult{
		Text:     parsed.Choices[0].Message.Content,
		Provider: a.id,
		Model:    respModel,
		Usage: &providers.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}
