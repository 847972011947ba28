package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/middleware"
	"github.com/opsdeskhq/opsdesk/models"
	"github.com/opsdeskhq/opsdesk/utils"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// InteractionHistory is the interactions service surface the handler depends on
type InteractionHistory interface {
	History(ctx context.Context, agentID string, limit, offset int) ([]*models.Interaction, int, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Interaction, error)
}

// InteractionsResponse is the response body for GET /v1/interactions
type InteractionsResponse struct {
	Interactions []*models.Interaction `json:"interactions"`
	Total        int                   `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// InteractionsHandler serves the logged-exchange history
type InteractionsHandler struct {
	service InteractionHistory
	logger  *zap.Logger
}

// NewInteractionsHandler creates a new InteractionsHandler
func NewInteractionsHandler(service InteractionHistory, logger *zap.Logger) *InteractionsHandler {
	return &InteractionsHandler{
		service: service,
		logger:  logger,
	}
}

// HandleList handles GET /v1/interactions?agent_id=&limit=&offset=
// The agent_id query parameter falls back to the X-Agent-ID header.
func (h *InteractionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = middleware.GetAgentIDFromContext(r.Context())
	}
	if agentID == "" {
		_ = utils.WriteBadRequest(w, "agent_id is required", nil)
		return
	}

	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil || limit <= 0 || limit > maxHistoryLimit {
		_ = utils.WriteBadRequest(w, "limit must be between 1 and 100", nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		_ = utils.WriteBadRequest(w, "offset must be zero or greater", nil)
		return
	}

	interactions, total, err := h.service.History(r.Context(), agentID, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if interactions == nil {
		interactions = []*models.Interaction{}
	}

	response := InteractionsResponse{
		Interactions: interactions,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}
	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write interactions response", zap.Error(err))
	}
}

// HandleGet handles GET /v1/interactions/{id}
func (h *InteractionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		_ = utils.WriteBadRequest(w, "invalid interaction id",
			map[string]interface{}{"id": raw})
		return
	}

	interaction, err := h.service.Get(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, interaction); err != nil {
		h.logger.Error("failed to write interaction response", zap.Error(err))
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
