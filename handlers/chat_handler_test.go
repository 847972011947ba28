package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/middleware"
	"github.com/opsdeskhq/opsdesk/services"
	"github.com/opsdeskhq/opsdesk/services/orchestrator"
	"github.com/opsdeskhq/opsdesk/services/providers"
	"github.com/opsdeskhq/opsdesk/utils"
)

// MockChatService is a mock implementation of ChatService
type MockChatService struct {
	mock.Mock
}

func (m *MockChatService) Chat(ctx context.Context, req *orchestrator.ChatRequest) (*orchestrator.ChatResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.ChatResult), args.Error(1)
}

func postChat(t *testing.T, handler *ChatHandler, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	handler.HandleChat(w, req)
	return w
}

func TestHandleChat(t *testing.T) {
	logger := zap.NewNop()

	t.Run("successful chat", func(t *testing.T) {
		mockService := new(MockChatService)
		handler := NewChatHandler(mockService, logger)

		mockResult := &orchestrator.ChatResult{
			Text:     "The export queue is stuck, restart the worker.",
			Provider: providers.Gemini,
			Model:    "gemini-2.0-flash",
			Usage:    &providers.Usage{PromptTokens: 12, CompletionTokens: 20, TotalTokens: 32},
		}

		mockService.On("Chat", mock.Anything, mock.MatchedBy(func(req *orchestrator.ChatRequest) bool {
			return len(req.Messages) == 1 && req.Messages[0].Content == "Why is the export stuck?"
		})).Return(mockResult, nil)

		w := postChat(t, handler, ChatRequest{
			Messages: []ChatMessage{{Role: "user", Content: "Why is the export stuck?"}},
		})

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		err := json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)

		data := response["data"].(map[string]interface{})
		assert.Equal(t, "The export queue is stuck, restart the worker.", data["text"])
		assert.Equal(t, "gemini", data["provider"])
		assert.Equal(t, "gemini-2.0-flash", data["model"])
		assert.NotContains(t, data, "fallback_from")

		usage := data["usage"].(map[string]interface{})
		assert.Equal(t, float64(32), usage["total_tokens"])

		mockService.AssertExpectations(t)
	})

	t.Run("fallback provider surfaced in response", func(t *testing.T) {
		mockService := new(MockChatService)
		handler := NewChatHandler(mockService, logger)

		mockService.On("Chat", mock.Anything, mock.Anything).Return(&orchestrator.ChatResult{
			Text:         "answer",
			Provider:     providers.Groq,
			Model:        "llama-3.3-70b-versatile",
			FallbackFrom: providers.Claude,
		}, nil)

		w := postChat(t, handler, ChatRequest{
			Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		})

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "groq", data["provider"])
		assert.Equal(t, "claude", data["fallback_from"])
	})

	t.Run("invalid request body", func(t *testing.T) {
		mockService := new(MockChatService)
		handler := NewChatHandler(mockService, logger)

		w := postChat(t, handler, "{not json")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockService.AssertNotCalled(t, "Chat")
	})

	t.Run("missing messages fails validation", func(t *testing.T) {
		mockService := new(MockChatService)
		handler := NewChatHandler(mockService, logger)

		w := postChat(t, handler, ChatRequest{})

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "bad_request", response.Error)
		assert.Contains(t, response.Details, "Messages")
		mockService.AssertNotCalled(t, "Chat")
	})

	t.Run("system role rejected", func(t *testing.T) {
		mockService := new(MockChatService)
		handler := NewChatHandler(mockService, logger)

		w := postChat(t, handler, ChatRequest{
			Messages: []ChatMessage{{Role: "system", Content: "be terse"}},
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockService.AssertNotCalled(t, "Chat")
	})

	t.Run("explicit zero temperature reaches the service", func(t *testing.T) {
		mockService := new(MockChatService)
		handler := NewChatHandler(mockService, logger)

		mockService.On("Chat", mock.Anything, mock.MatchedBy(func(req *orchestrator.ChatRequest) bool {
			return req.Temperature != nil && *req.Temperature == 0
		})).Return(&orchestrator.ChatResult{Text: "ok", Provider: providers.Gemini}, nil)

		temp := 0.0
		w := postChat(t, handler, ChatRequest{
			Messages:    []ChatMessage{{Role: "user", Content: "hi"}},
			Temperature: &temp,
		})

		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("temperature above one rejected", func(t *testing.T) {
		mockService := new(MockChatService)
		handler := NewChatHandler(mockService, logger)

		temp := 1.5
		w := postChat(t, handler, ChatRequest{
			Messages:    []ChatMessage{{Role: "user", Content: "hi"}},
			Temperature: &temp,
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockService.AssertNotCalled(t, "Chat")
	})

	t.Run("external error maps to 502", func(t *testing.T) {
		mockService := new(MockChatService)
		handler := NewChatHandler(mockService, logger)

		mockService.On("Chat", mock.Anything, mock.Anything).Return(nil,
			services.NewDomainError(services.ErrorTypeExternal,
				"Claude rejected the credentials: update the API key in settings (2 fallback providers also failed)", nil))

		w := postChat(t, handler, ChatRequest{
			Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		})

		assert.Equal(t, http.StatusBadGateway, w.Code)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Contains(t, response.Message, "2 fallback providers also failed")
	})

	t.Run("unavailable error maps to 503", func(t *testing.T) {
		mockService := new(MockChatService)
		handler := NewChatHandler(mockService, logger)

		mockService.On("Chat", mock.Anything, mock.Anything).Return(nil,
			services.NewDomainError(services.ErrorTypeUnavailable,
				"Claude is not configured: add an API key in settings", nil))

		w := postChat(t, handler, ChatRequest{
			Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		})

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("agent ID from context reaches the service", func(t *testing.T) {
		mockService := new(MockChatService)
		handler := NewChatHandler(mockService, logger)

		mockService.On("Chat", mock.Anything, mock.MatchedBy(func(req *orchestrator.ChatRequest) bool {
			return req.AgentID == "dashboard-7"
		})).Return(&orchestrator.ChatResult{Text: "ok", Provider: providers.Gemini}, nil)

		body, _ := json.Marshal(ChatRequest{
			Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		})
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
		req = req.WithContext(middleware.WithAgentID(req.Context(), "dashboard-7"))

		w := httptest.NewRecorder()
		handler.HandleChat(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockService.AssertExpectations(t)
	})
}
