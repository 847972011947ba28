// Package gemini implements the providers.Backend contract on top of the
// Google Gen AI SDK.
package gemini

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/genai"

	"github.com/opsdeskhq/opsdesk/services/providers"
)

// Adapter performs chat completions against the Gemini API. The underlying
// client is created lazily because the SDK constructor takes a context.
type Adapter struct {
	apiKey       string
	defaultModel string

	once      sync.Once
	client    *genai.Client
	clientErr error
}

// New creates a Gemini adapter from the resolved backend config.
func New(cfg providers.BackendConfig) *Adapter {
	return &Adapter{
		apiKey:       cfg.APIKey,
		defaultModel: cfg.Model,
	}
}

// NewBuilder returns a registry builder for the Gemini provider.
func NewBuilder() providers.Builder {
	return func(cfg providers.BackendConfig) providers.Backend {
		return New(cfg)
	}
}

func (a *Adapter) Name() providers.ID   { return providers.Gemini }
func (a *Adapter) Configured() bool     { return a.apiKey != "" }
func (a *Adapter) DefaultModel() string { return a.defaultModel }

func (a *Adapter) getClient(ctx context.Context) (*genai.Client, error) {
	a.once.Do(func() {
		a.client, a.clientErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  a.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return a.client, a.clientErr
}

// Chat sends the conversation to the generateContent API. Assistant turns map
// to the "model" role; the system instruction travels in the request config.
func (a *Adapter) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResult, error) {
	if !a.Configured() {
		return nil, providers.NewNotConfiguredError(providers.Gemini)
	}

	client, err := a.getClient(ctx)
	if err != nil {
		return nil, &providers.ProviderError{
			Provider: providers.Gemini,
			Message:  "failed to create client: " + err.Error(),
			Cause:    err,
		}
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, genai.NewContentFromText(m.Content, roleFor(m.Role)))
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, wrapError(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, &providers.ProviderError{
			Provider: providers.Gemini,
			Message:  "empty response from provider",
		}
	}

	result := &providers.ChatResult{
		Text:     text,
		Provider: providers.Gemini,
		Model:    model,
	}
	if resp.UsageMetadata != nil {
		result.Usage = &providers.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return result, nil
}

// roleFor maps the uniform message role to the Gemini role vocabulary,
// where assistant turns are "model".
func roleFor(role string) genai.Role {
	if role == "assistant" {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func wrapError(err error) error {
	provErr := &providers.ProviderError{
		Provider: providers.Gemini,
		Message:  err.Error(),
		Cause:    err,
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		provErr.StatusCode = apiErr.Code
		provErr.Code = apiErr.Status
	}
	return provErr
}
