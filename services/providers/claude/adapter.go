// Package claude implements the providers.Backend contract on top of the
// official Anthropic SDK.
package claude

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/opsdeskhq/opsdesk/services/providers"
)

// Adapter performs chat completions against the Anthropic Messages API.
type Adapter struct {
	client       anthropic.Client
	apiKey       string
	defaultModel string
}

// New creates a Claude adapter from the resolved backend config.
func New(cfg providers.BackendConfig, opts ...option.RequestOption) *Adapter {
	clientOpts := append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	return &Adapter{
		client:       anthropic.NewClient(clientOpts...),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.Model,
	}
}

// NewBuilder returns a registry builder for the Claude provider.
func NewBuilder(opts ...option.RequestOption) providers.Builder {
	return func(cfg providers.BackendConfig) providers.Backend {
		return New(cfg, opts...)
	}
}

func (a *Adapter) Name() providers.ID   { return providers.Claude }
func (a *Adapter) Configured() bool     { return a.apiKey != "" }
func (a *Adapter) DefaultModel() string { return a.defaultModel }

// Chat sends the conversation to the Messages API and flattens the text
// blocks of the reply into a single string.
func (a *Adapter) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResult, error) {
	if !a.Configured() {
		return nil, providers.NewNotConfiguredError(providers.Claude)
	}

	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		// The Messages API rejects temperatures above 1.0.
		temp := *req.Temperature
		if temp > 1.0 {
			temp = 1.0
		}
		params.Temperature = anthropic.Float(temp)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}

	var text string
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += b.Text
		}
	}

	return &providers.ChatResult{
		Text:     text,
		Provider: providers.Claude,
		Model:    string(resp.Model),
		Usage: &providers.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// wrapError lifts SDK errors into ProviderError, preserving the HTTP status
// when the SDK exposes one.
func wrapError(err error) error {
	provErr := &providers.ProviderError{
		Provider: providers.Claude,
		Message:  err.Error(),
		Cause:    err,
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		provErr.StatusCode = apiErr.StatusCode
	}
	return provErr
}
