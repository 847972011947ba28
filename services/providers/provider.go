// Package providers defines the uniform chat contract shared by all LLM
// backends, the per-provider adapter interface, and the registry that
// resolves credentials and constructs adapters.
package providers

import (
	"context"
	"errors"
	"fmt"
)

// ID identifies one of the supported LLM backends.
type ID string

// Supported provider identifiers.
const (
	Claude ID = "claude"
	OpenAI ID = "openai"
	Gemini ID = "gemini"
	Kimi   ID = "kimi"
	Groq   ID = "groq"
)

var all = []ID{Claude, OpenAI, Gemini, Kimi, Groq}

// All returns every supported provider. Callers get a copy and may reorder
// or truncate it freely.
func All() []ID {
	out := make([]ID, len(all))
	copy(out, all)
	return out
}

// Valid reports whether id names a supported provider.
func (id ID) Valid() bool {
	switch id {
	case Claude, OpenAI, Gemini, Kimi, Groq:
		return true
	}
	return false
}

// Display returns the human-readable provider name used in error messages.
func (id ID) Display() string {
	switch id {
	case Claude:
		return "Claude"
	case OpenAI:
		return "OpenAI"
	case Gemini:
		return "Gemini"
	case Kimi:
		return "Kimi"
	case Groq:
		return "Groq"
	}
	return string(id)
}

// Message is a single turn in a conversation.
type Message struct {
	// Role is "user" or "assistant".
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the uniform input every adapter accepts. The orchestrator
// fills in model, max tokens and temperature before the adapter sees it.
// Temperature is a pointer so an explicit 0 (deterministic sampling) is
// distinguishable from "not set, use the vendor default".
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }

// Usage tracks token consumption for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult is the normalized output of a single adapter call.
type ChatResult struct {
	Text     string `json:"text"`
	Provider ID     `json:"provider"`
	Model    string `json:"model"`
	Usage    *Usage `json:"usage,omitempty"`
}

// Backend is the capability each vendor adapter implements.
// Adapters perform exactly one completion call per Chat invocation and
// surface raw vendor failures unmodified; classification happens one
// layer up, in the orchestrator.
type Backend interface {
	// Chat sends one completion request and returns the normalized result.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Configured reports whether a usable credential is held.
	Configured() bool

	// DefaultModel returns the model used when a request does not name one.
	DefaultModel() string

	// Name returns the provider identifier.
	Name() ID
}

// ErrNotConfigured marks the fail-fast error adapters return when invoked
// without a credential. It is distinguishable from runtime API failures.
var ErrNotConfigured = errors.New("provider not configured")

// ErrUnknownProvider is returned for identifiers outside the supported set.
var ErrUnknownProvider = errors.New("unknown provider")

// ProviderError carries whatever structured information a vendor SDK or raw
// HTTP call exposed about a failure. StatusCode and Code are zero/empty when
// the vendor gave us nothing structured; the classifier then falls back to
// matching on Message.
type ProviderError struct {
	Provider   ID
	StatusCode int
	Code       string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap implements error unwrapping.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewNotConfiguredError builds the fail-fast error for an adapter that was
// invoked without a credential.
func NewNotConfiguredError(id ID) *ProviderError {
	return &ProviderError{
		Provider: id,
		Code:     "not_initialized",
		Message:  fmt.Sprintf("%s API key not configured", id.Display()),
		Cause:    ErrNotConfigured,
	}
}
