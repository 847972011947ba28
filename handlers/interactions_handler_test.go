package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/middleware"
	"github.com/opsdeskhq/opsdesk/models"
	"github.com/opsdeskhq/opsdesk/services"
)

// stubHistory is a minimal InteractionHistory for handler tests
type stubHistory struct {
	items      []*models.Interaction
	total      int
	byID       map[uuid.UUID]*models.Interaction
	historyErr error

	gotAgentID string
	gotLimit   int
	gotOffset  int
}

func (s *stubHistory) History(_ context.Context, agentID string, limit, offset int) ([]*models.Interaction, int, error) {
	s.gotAgentID = agentID
	s.gotLimit = limit
	s.gotOffset = offset
	if s.historyErr != nil {
		return nil, 0, s.historyErr
	}
	return s.items, s.total, nil
}

func (s *stubHistory) Get(_ context.Context, id uuid.UUID) (*models.Interaction, error) {
	if i, ok := s.byID[id]; ok {
		return i, nil
	}
	return nil, services.ErrInteractionNotFound
}

func newInteractionGetRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/interactions/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestHandleInteractionsList(t *testing.T) {
	t.Run("lists agent history", func(t *testing.T) {
		entry := models.NewInteraction("agent-7", models.InteractionTypeChat).
			WithExchange("groq", "llama-3.3-70b-versatile", "hello", "hi")
		service := &stubHistory{items: []*models.Interaction{entry}, total: 12}
		handler := NewInteractionsHandler(service, zap.NewNop())

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/interactions?agent_id=agent-7&limit=5&offset=10", nil)
		handler.HandleList(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "agent-7", service.gotAgentID)
		assert.Equal(t, 5, service.gotLimit)
		assert.Equal(t, 10, service.gotOffset)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		data := response["data"].(map[string]interface{})
		assert.Equal(t, float64(12), data["total"])
		assert.Len(t, data["interactions"], 1)
	})

	t.Run("agent id falls back to header context", func(t *testing.T) {
		service := &stubHistory{}
		handler := NewInteractionsHandler(service, zap.NewNop())

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/interactions", nil)
		req = req.WithContext(middleware.WithAgentID(req.Context(), "dashboard-3"))
		handler.HandleList(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "dashboard-3", service.gotAgentID)
		assert.Equal(t, defaultHistoryLimit, service.gotLimit)
	})

	t.Run("missing agent id is rejected", func(t *testing.T) {
		handler := NewInteractionsHandler(&stubHistory{}, zap.NewNop())

		w := httptest.NewRecorder()
		handler.HandleList(w, httptest.NewRequest(http.MethodGet, "/v1/interactions", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("limit out of range is rejected", func(t *testing.T) {
		handler := NewInteractionsHandler(&stubHistory{}, zap.NewNop())

		w := httptest.NewRecorder()
		handler.HandleList(w, httptest.NewRequest(http.MethodGet, "/v1/interactions?agent_id=a&limit=500", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("negative offset is rejected", func(t *testing.T) {
		handler := NewInteractionsHandler(&stubHistory{}, zap.NewNop())

		w := httptest.NewRecorder()
		handler.HandleList(w, httptest.NewRequest(http.MethodGet, "/v1/interactions?agent_id=a&offset=-1", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("service failure maps to 500", func(t *testing.T) {
		service := &stubHistory{historyErr: services.WrapInternal("db down", nil)}
		handler := NewInteractionsHandler(service, zap.NewNop())

		w := httptest.NewRecorder()
		handler.HandleList(w, httptest.NewRequest(http.MethodGet, "/v1/interactions?agent_id=a", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandleInteractionsGet(t *testing.T) {
	stored := models.NewInteraction("agent-7", models.InteractionTypeFallback).
		WithExchange("gemini", "gemini-2.0-flash", "in", "out").
		WithFallback("openai")
	service := &stubHistory{byID: map[uuid.UUID]*models.Interaction{stored.ID: stored}}
	handler := NewInteractionsHandler(service, zap.NewNop())

	t.Run("returns the interaction", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.HandleGet(w, newInteractionGetRequest(stored.ID.String()))

		assert.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		data := response["data"].(map[string]interface{})
		assert.Equal(t, stored.ID.String(), data["id"])
		assert.Equal(t, "openai", data["fallback_from"])
	})

	t.Run("unknown id maps to 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.HandleGet(w, newInteractionGetRequest(uuid.NewString()))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.HandleGet(w, newInteractionGetRequest("not-a-uuid"))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
