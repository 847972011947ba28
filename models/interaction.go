package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InteractionType categorizes what kind of exchange was logged
type InteractionType string

const (
	InteractionTypeChat     InteractionType = "chat"
	InteractionTypeFallback InteractionType = "fallback"
	InteractionTypeError    InteractionType = "error"
)

// Interaction represents one logged AI exchange, successful or not
type Interaction struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	AgentID      string          `json:"agent_id" db:"agent_id"`
	Type         InteractionType `json:"type" db:"type"`
	Provider     string          `json:"provider" db:"provider"`
	Model        string          `json:"model" db:"model"`
	Input        string          `json:"input" db:"input"`
	Output       string          `json:"output" db:"output"`
	Context      json.RawMessage `json:"context,omitempty" db:"context"` // JSONB for flexible metadata
	Success      bool            `json:"success" db:"success"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	FallbackFrom *string         `json:"fallback_from,omitempty" db:"fallback_from"`
	TokensUsed   *int            `json:"tokens_used,omitempty" db:"tokens_used"`
	LatencyMs    *int            `json:"latency_ms,omitempty" db:"latency_ms"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Interaction model
func (Interaction) TableName() string {
	return "interactions"
}

// NewInteraction creates a new Interaction instance
func NewInteraction(agentID string, kind InteractionType) *Interaction {
	return &Interaction{
		ID:        uuid.New(),
		AgentID:   agentID,
		Type:      kind,
		CreatedAt: time.Now(),
	}
}

// WithExchange sets the provider, model, and message payloads
func (i *Interaction) WithExchange(provider, model, input, output string) *Interaction {
	i.Provider = provider
	i.Model = model
	i.Input = input
	i.Output = output
	return i
}

// WithContext sets the context metadata
func (i *Interaction) WithContext(ctx interface{}) *Interaction {
	if data, err := json.Marshal(ctx); err == nil {
		i.Context = data
	}
	return i
}

// WithResult sets the success flag and optional error message
func (i *Interaction) WithResult(success bool, errorMessage string) *Interaction {
	i.Success = success
	if errorMessage != "" {
		i.ErrorMessage = &errorMessage
	}
	return i
}

// WithFallback records which provider the exchange fell back from
func (i *Interaction) WithFallback(from string) *Interaction {
	i.FallbackFrom = &from
	return i
}

// WithMetrics sets token and latency metrics
func (i *Interaction) WithMetrics(tokensUsed, latencyMs int) *Interaction {
	i.TokensUsed = &tokensUsed
	i.LatencyMs = &latencyMs
	return i
}
