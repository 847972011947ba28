package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/middleware"
	"github.com/opsdeskhq/opsdesk/services/orchestrator"
	"github.com/opsdeskhq/opsdesk/services/providers"
	"github.com/opsdeskhq/opsdesk/utils"
)

// ChatRequest is the request body for POST /v1/chat
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	System      string        `json:"system,omitempty"`
	Provider    string        `json:"provider,omitempty"` // Optional: override current selection
	Model       string        `json:"model,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Temperature *float64      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ChatMessage represents a single chat message
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// ChatResponse is the response body for POST /v1/chat
type ChatResponse struct {
	Text         string           `json:"text"`
	Provider     string           `json:"provider"`
	Model        string           `json:"model"`
	Usage        *providers.Usage `json:"usage,omitempty"`
	FallbackFrom string           `json:"fallback_from,omitempty"`
}

// ChatService defines the orchestrator surface the handler depends on
type ChatService interface {
	Chat(ctx context.Context, req *orchestrator.ChatRequest) (*orchestrator.ChatResult, error)
}

// ChatHandler handles chat HTTP requests
type ChatHandler struct {
	service ChatService
	logger  *zap.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(service ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger,
	}
}

// HandleChat handles POST /v1/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var chatReq ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&chatReq); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	serviceReq := &orchestrator.ChatRequest{
		Messages: toProviderMessages(chatReq.Messages),
		System:   chatReq.System,
		Provider: providers.ID(chatReq.Provider),
		Model:    chatReq.Model,
		AgentID:  middleware.GetAgentIDFromContext(ctx),
	}
	if serviceReq.AgentID == "" {
		serviceReq.AgentID = requestID
	}
	if chatReq.MaxTokens != nil {
		serviceReq.MaxTokens = *chatReq.MaxTokens
	}
	// Passed through as a pointer so an explicit temperature of 0 survives
	// the boundary.
	serviceReq.Temperature = chatReq.Temperature

	result, err := h.service.Chat(ctx, serviceReq)
	if err != nil {
		h.logger.Warn("chat request failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("chat request served",
		zap.String("request_id", requestID),
		zap.String("provider", string(result.Provider)),
		zap.String("model", result.Model),
		zap.String("fallback_from", string(result.FallbackFrom)))

	response := ChatResponse{
		Text:         result.Text,
		Provider:     string(result.Provider),
		Model:        result.Model,
		Usage:        result.Usage,
		FallbackFrom: string(result.FallbackFrom),
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

func toProviderMessages(in []ChatMessage) []providers.Message {
	out := make([]providers.Message, len(in))
	for i, m := range in {
		out[i] = providers.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
