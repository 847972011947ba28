// Package openai implements the providers.Backend contract on top of the
// official OpenAI SDK.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/opsdeskhq/opsdesk/services/providers"
)

// Adapter performs chat completions against the OpenAI API.
type Adapter struct {
	client       openai.Client
	apiKey       string
	defaultModel string
}

// New creates an OpenAI adapter from the resolved backend config.
func New(cfg providers.BackendConfig, opts ...option.RequestOption) *Adapter {
	clientOpts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	return &Adapter{
		client:       openai.NewClient(clientOpts...),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.Model,
	}
}

// NewBuilder returns a registry builder for the OpenAI provider.
func NewBuilder(opts ...option.RequestOption) providers.Builder {
	return func(cfg providers.BackendConfig) providers.Backend {
		return New(cfg, opts...)
	}
}

func (a *Adapter) Name() providers.ID   { return providers.OpenAI }
func (a *Adapter) Configured() bool     { return a.apiKey != "" }
func (a *Adapter) DefaultModel() string { return a.defaultModel }

// Chat sends the conversation to the chat completions API. The system
// instruction, when present, is prepended as a system message.
func (a *Adapter) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResult, error) {
	if !a.Configured() {
		return nil, providers.NewNotConfiguredError(providers.OpenAI)
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &providers.ProviderError{
			Provider: providers.OpenAI,
			Message:  "empty response from provider",
		}
	}

	return &providers.ChatResult{
		Text:     resp.Choices[0].Message.Content,
		Provider: providers.OpenAI,
		Model:    resp.Model,
		Usage: &providers.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func wrapError(err error) error {
	provErr := &providers.ProviderError{
		Provider: providers.OpenAI,
		Message:  err.Error(),
		Cause:    err,
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		provErr.StatusCode = apiErr.StatusCode
	}
	return provErr
}
