// Package orchestrator is the single entry point for AI chat. It resolves
// the target provider, invokes its backend, and applies the retry-then-
// fallback protocol when the attempt fails.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/services"
	"github.com/opsdeskhq/opsdesk/services/providers"
)

const (
	settingKeyProvider = "chat.provider"
	settingKeyModel    = "chat.model"

	defaultMaxTokens   = 1024
	defaultTemperature = 0.7
)

// defaultProvider is used when nothing was persisted and no override is given
const defaultProvider = providers.Gemini

// ProviderSource is the slice of the registry the orchestrator depends on
type ProviderSource interface {
	Backend(id providers.ID) providers.Backend
	Available(id providers.ID) bool
	DefaultModelFor(id providers.ID) string
	ModelsFor(id providers.ID) []string
}

// InteractionRecorder receives fire-and-forget logs of every attempt.
// Errors from the recorder never affect the chat outcome.
type InteractionRecorder interface {
	RecordChat(agentID, provider, model, input, output string, tokensUsed, latencyMs int) error
	RecordFallback(agentID, provider, model, fallbackFrom, input, output string, tokensUsed, latencyMs int) error
	RecordError(agentID, provider, model, input, errorMessage string) error
}

// Config holds the tunable knobs of the retry/fallback protocol
type Config struct {
	RetryBackoff   time.Duration // wait before the single rate-limit retry
	AttemptTimeout time.Duration // per-attempt deadline
	MaxFallbacks   int           // cap on fallback attempts, 0 = no cap
}

// DefaultConfig returns the default protocol configuration
func DefaultConfig() Config {
	return Config{
		RetryBackoff:   2 * time.Second,
		AttemptTimeout: 60 * time.Second,
		MaxFallbacks:   0,
	}
}

// ChatRequest is the uniform chat input
type ChatRequest struct {
	Messages  []providers.Message
	System    string
	Provider  providers.ID // optional, defaults to the current selection
	Model     string       // optional, defaults to the provider's default
	MaxTokens int
	// Temperature is optional; nil means the 0.7 default. An explicit 0
	// requests deterministic sampling and is passed through unchanged.
	Temperature *float64
	AgentID     string // correlation id for interaction logging
}

// ChatResult is the uniform chat output
type ChatResult struct {
	Text         string
	Provider     providers.ID
	Model        string
	Usage        *providers.Usage
	FallbackFrom providers.ID // set when a fallback provider served the request
}

// Service implements the retry-then-fallback chat protocol. One instance
// holds its own current provider/model selection; there is no process-global
// state, so tests and multi-tenant setups can run several instances.
type Service struct {
	registry ProviderSource
	settings providers.SettingsStore
	recorder InteractionRecorder
	logger   *zap.Logger
	cfg      Config

	mu       sync.RWMutex
	provider providers.ID
	model    string
}

// NewService creates an orchestrator with the compile-time default selection.
// Call LoadSelection to restore a persisted selection.
func NewService(registry ProviderSource, settings providers.SettingsStore, recorder InteractionRecorder, logger *zap.Logger, cfg Config) *Service {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig().AttemptTimeout
	}

	return &Service{
		registry: registry,
		settings: settings,
		recorder: recorder,
		logger:   logger,
		cfg:      cfg,
		provider: defaultProvider,
		model:    registry.DefaultModelFor(defaultProvider),
	}
}

// LoadSelection restores the current provider/model from the settings store.
// When the persisted provider is unusable it falls back to the cheapest
// configured one and best-effort persists the correction.
func (s *Service) LoadSelection(ctx context.Context) {
	selected := providers.ID(s.settings.Get(ctx, settingKeyProvider, string(defaultProvider)))

	if !selected.Valid() || !s.registry.Available(selected) {
		if cheapest, ok := CostEffectiveProvider(s.registry); ok && cheapest != selected {
			s.logger.Info("persisted provider unusable, switching to cheapest available",
				zap.String("persisted", string(selected)),
				zap.String("selected", string(cheapest)))
			selected = cheapest
			if err := s.settings.Set(ctx, settingKeyProvider, string(selected)); err != nil {
				s.logger.Warn("failed to persist provider selection", zap.Error(err))
			}
		}
	}

	model := s.settings.Get(ctx, settingKeyModel, s.registry.DefaultModelFor(selected))

	s.mu.Lock()
	s.provider = selected
	s.model = model
	s.mu.Unlock()

	s.logger.Info("chat selection loaded",
		zap.String("provider", string(selected)),
		zap.String("model", model))
}

// CurrentProvider returns the active provider selection
func (s *Service) CurrentProvider() providers.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// CurrentModel returns the active model selection
func (s *Service) CurrentModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// SwitchProvider changes the current provider. The target must be configured;
// the model selection resets to the target's default. The new selection is
// best-effort persisted.
func (s *Service) SwitchProvider(ctx context.Context, id providers.ID) error {
	if !id.Valid() {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid provider specified", nil).
			WithDetail("provider", string(id))
	}
	if !s.registry.Available(id) {
		return services.NewDomainError(services.ErrorTypeUnavailable,
			fmt.Sprintf("%s is not configured: add an API key in settings", id.Display()), nil).
			WithDetail("provider", string(id))
	}

	model := s.registry.DefaultModelFor(id)

	s.mu.Lock()
	s.provider = id
	s.model = model
	s.mu.Unlock()

	if err := s.settings.Set(ctx, settingKeyProvider, string(id)); err != nil {
		s.logger.Warn("failed to persist provider selection", zap.Error(err))
	}
	if err := s.settings.Set(ctx, settingKeyModel, model); err != nil {
		s.logger.Warn("failed to persist model selection", zap.Error(err))
	}

	s.logger.Info("switched chat provider",
		zap.String("provider", string(id)),
		zap.String("model", model))
	return nil
}

// SwitchModel changes the current model within the current provider
func (s *Service) SwitchModel(ctx context.Context, model string) error {
	if model == "" {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid model specified", nil)
	}

	current := s.CurrentProvider()
	if known := s.registry.ModelsFor(current); len(known) > 0 && !contains(known, model) {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid model specified", nil).
			WithDetail("provider", string(current)).
			WithDetail("model", model)
	}

	s.mu.Lock()
	s.model = model
	s.mu.Unlock()

	if err := s.settings.Set(ctx, settingKeyModel, model); err != nil {
		s.logger.Warn("failed to persist model selection", zap.Error(err))
	}

	s.logger.Info("switched chat model", zap.String("model", model))
	return nil
}

// Chat runs one uniform chat request through the retry-then-fallback
// protocol:
//
//  1. Try the requested (or current) provider once.
//  2. On a rate-limit failure, wait the backoff and retry the same provider
//     exactly once.
//  3. If the primary still fails and the failure is retryable or an auth
//     problem (including an unconfigured provider), try each fallback
//     candidate in cost order, each with its own default model.
//  4. The first success wins; exhaustion raises a single aggregated failure.
func (s *Service) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if len(req.Messages) == 0 {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "messages cannot be empty", nil)
	}
	if req.Provider != "" && !req.Provider.Valid() {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid provider specified", nil).
			WithDetail("provider", string(req.Provider))
	}

	primary := req.Provider
	if primary == "" {
		primary = s.CurrentProvider()
	}

	model := req.Model
	if model == "" {
		if primary == s.CurrentProvider() {
			model = s.CurrentModel()
		} else {
			model = s.registry.DefaultModelFor(primary)
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	backendReq := &providers.ChatRequest{
		Messages:    req.Messages,
		System:      req.System,
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	input := lastContent(req.Messages)

	start := time.Now()
	result, err := s.attempt(ctx, primary, backendReq)
	if err == nil {
		s.recordSuccess(req.AgentID, result, "", input, start)
		return s.toResult(result, ""), nil
	}

	cls := Classify(primary, err)
	s.logger.Warn("primary provider attempt failed",
		zap.String("provider", string(primary)),
		zap.String("kind", string(cls.Kind)),
		zap.Bool("retryable", cls.Retryable),
		zap.Error(err))

	if cls.Kind == KindRateLimit {
		if err := s.sleep(ctx, s.cfg.RetryBackoff); err != nil {
			return nil, err
		}
		result, err = s.attempt(ctx, primary, backendReq)
		if err == nil {
			s.recordSuccess(req.AgentID, result, "", input, start)
			return s.toResult(result, ""), nil
		}
		cls = Classify(primary, err)
		s.logger.Warn("rate-limit retry failed",
			zap.String("provider", string(primary)),
			zap.String("kind", string(cls.Kind)),
			zap.Error(err))
	}

	s.recordFailure(req.AgentID, primary, model, input, err)

	// Auth failures are not retryable against the same provider, but they
	// still qualify for fallback: another configured backend may serve the
	// request while the operator fixes the credential.
	if !cls.Retryable && cls.Kind != KindAuth {
		return nil, services.NewDomainError(services.ErrorTypeExternal, cls.Message, err)
	}

	candidates := FallbackCandidates(primary, s.registry)
	if s.cfg.MaxFallbacks > 0 && len(candidates) > s.cfg.MaxFallbacks {
		candidates = candidates[:s.cfg.MaxFallbacks]
	}

	failed := 0
	for _, candidate := range candidates {
		// Models are not interchangeable across vendors, so each candidate
		// runs with its own default model.
		fallbackReq := *backendReq
		fallbackReq.Model = s.registry.DefaultModelFor(candidate)

		fbStart := time.Now()
		result, ferr := s.attempt(ctx, candidate, &fallbackReq)
		if ferr == nil {
			s.logger.Info("fallback provider succeeded",
				zap.String("provider", string(candidate)),
				zap.String("fallback_from", string(primary)))
			s.recordSuccess(req.AgentID, result, primary, input, fbStart)
			return s.toResult(result, primary), nil
		}

		fcls := Classify(candidate, ferr)
		s.logger.Warn("fallback provider attempt failed",
			zap.String("provider", string(candidate)),
			zap.String("kind", string(fcls.Kind)),
			zap.Error(ferr))
		s.recordFailure(req.AgentID, candidate, fallbackReq.Model, input, ferr)
		failed++
	}

	message := cls.Message
	if failed > 0 {
		message = fmt.Sprintf("%s (%d fallback providers also failed)", cls.Message, failed)
	}
	errType := services.ErrorTypeExternal
	if cls.Kind == KindAuth && failed == 0 {
		errType = services.ErrorTypeUnavailable
	}
	return nil, services.NewDomainError(errType, message, err).
		WithDetail("provider", string(primary)).
		WithDetail("fallbacks_failed", failed)
}

// attempt performs exactly one backend call with the per-attempt deadline
func (s *Service) attempt(ctx context.Context, id providers.ID, req *providers.ChatRequest) (*providers.ChatResult, error) {
	backend := s.registry.Backend(id)
	if backend == nil {
		return nil, providers.NewNotConfiguredError(id)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	return backend.Chat(ctx, req)
}

// sleep waits for the backoff duration or until the context is done
func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) toResult(r *providers.ChatResult, fallbackFrom providers.ID) *ChatResult {
	return &ChatResult{
		Text:         r.Text,
		Provider:     r.Provider,
		Model:        r.Model,
		Usage:        r.Usage,
		FallbackFrom: fallbackFrom,
	}
}

func (s *Service) recordSuccess(agentID string, r *providers.ChatResult, fallbackFrom providers.ID, input string, start time.Time) {
	if s.recorder == nil {
		return
	}

	tokens := 0
	if r.Usage != nil {
		tokens = r.Usage.TotalTokens
	}
	latency := int(time.Since(start).Milliseconds())

	var err error
	if fallbackFrom != "" {
		err = s.recorder.RecordFallback(agentID, string(r.Provider), r.Model, string(fallbackFrom), input, r.Text, tokens, latency)
	} else {
		err = s.recorder.RecordChat(agentID, string(r.Provider), r.Model, input, r.Text, tokens, latency)
	}
	if err != nil {
		s.logger.Debug("interaction logging failed", zap.Error(err))
	}
}

func (s *Service) recordFailure(agentID string, id providers.ID, model, input string, cause error) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordError(agentID, string(id), model, input, cause.Error()); err != nil {
		s.logger.Debug("interaction logging failed", zap.Error(err))
	}
}

func lastContent(msgs []providers.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
