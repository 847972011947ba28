package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/services"
	"github.com/opsdeskhq/opsdesk/services/providers"
	"github.com/opsdeskhq/opsdesk/utils"
)

// ProviderDirectory is the registry surface the handler depends on
type ProviderDirectory interface {
	Available(id providers.ID) bool
	DefaultModelFor(id providers.ID) string
	ModelsFor(id providers.ID) []string
	SetCredential(ctx context.Context, id providers.ID, secret string) error
}

// ProviderSelection is the orchestrator surface for switching selections
type ProviderSelection interface {
	CurrentProvider() providers.ID
	CurrentModel() string
	SwitchProvider(ctx context.Context, id providers.ID) error
	SwitchModel(ctx context.Context, model string) error
}

// ProviderInfo describes one provider in the listing response
type ProviderInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Available    bool     `json:"available"`
	Current      bool     `json:"current"`
	DefaultModel string   `json:"default_model"`
	Models       []string `json:"models"`
}

// ProvidersResponse is the response body for GET /v1/providers
type ProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
	Provider  string         `json:"provider"` // current selection
	Model     string         `json:"model"`
}

// SwitchProviderRequest is the request body for POST /v1/providers/switch
type SwitchProviderRequest struct {
	Provider string `json:"provider" validate:"required"`
}

// SwitchModelRequest is the request body for POST /v1/providers/model
type SwitchModelRequest struct {
	Model string `json:"model" validate:"required"`
}

// CredentialRequest is the request body for PUT /v1/providers/{provider}/credential
type CredentialRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

// ProvidersHandler handles provider management HTTP requests
type ProvidersHandler struct {
	registry  ProviderDirectory
	selection ProviderSelection
	logger    *zap.Logger
}

// NewProvidersHandler creates a new ProvidersHandler
func NewProvidersHandler(registry ProviderDirectory, selection ProviderSelection, logger *zap.Logger) *ProvidersHandler {
	return &ProvidersHandler{
		registry:  registry,
		selection: selection,
		logger:    logger,
	}
}

// HandleList handles GET /v1/providers
func (h *ProvidersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	current := h.selection.CurrentProvider()

	infos := make([]ProviderInfo, 0, len(providers.All()))
	for _, id := range providers.All() {
		infos = append(infos, ProviderInfo{
			ID:           string(id),
			Name:         id.Display(),
			Available:    h.registry.Available(id),
			Current:      id == current,
			DefaultModel: h.registry.DefaultModelFor(id),
			Models:       h.registry.ModelsFor(id),
		})
	}

	response := ProvidersResponse{
		Providers: infos,
		Provider:  string(current),
		Model:     h.selection.CurrentModel(),
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write providers response", zap.Error(err))
	}
}

// HandleSwitch handles POST /v1/providers/switch
func (h *ProvidersHandler) HandleSwitch(w http.ResponseWriter, r *http.Request) {
	var req SwitchProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.selection.SwitchProvider(r.Context(), providers.ID(req.Provider)); err != nil {
		// An unconfigured target is a conflict with the current credential
		// state, not a server fault.
		if services.IsUnavailableError(err) {
			_ = utils.WriteConflict(w, err.Error(), services.GetErrorDetails(err))
			return
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	response := ProvidersResponse{
		Provider: string(h.selection.CurrentProvider()),
		Model:    h.selection.CurrentModel(),
	}
	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write switch response", zap.Error(err))
	}
}

// HandleSwitchModel handles POST /v1/providers/model
func (h *ProvidersHandler) HandleSwitchModel(w http.ResponseWriter, r *http.Request) {
	var req SwitchModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.selection.SwitchModel(r.Context(), req.Model); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	response := ProvidersResponse{
		Provider: string(h.selection.CurrentProvider()),
		Model:    h.selection.CurrentModel(),
	}
	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write switch model response", zap.Error(err))
	}
}

// HandleSetCredential handles PUT /v1/providers/{provider}/credential
func (h *ProvidersHandler) HandleSetCredential(w http.ResponseWriter, r *http.Request) {
	id := providers.ID(chi.URLParam(r, "provider"))
	if !id.Valid() {
		_ = utils.WriteBadRequest(w, "invalid provider specified",
			map[string]interface{}{"provider": string(id)})
		return
	}

	var req CredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.registry.SetCredential(r.Context(), id, req.APIKey); err != nil {
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeValidation, err.Error(), err), h.logger)
		return
	}

	h.logger.Info("provider credential updated", zap.String("provider", string(id)))
	utils.WriteNoContent(w)
}
