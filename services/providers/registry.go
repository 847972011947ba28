package providers

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
)

// SettingsStore is the narrow persistence interface the registry depends on.
// Implementations must tolerate an unavailable backing store: Get returns the
// default and Set is best-effort.
type SettingsStore interface {
	Get(ctx context.Context, key, def string) string
	Set(ctx context.Context, key, value string) error
}

// BackendConfig is what a builder needs to construct an adapter.
type BackendConfig struct {
	APIKey string
	Model  string
}

// Builder constructs a vendor adapter from resolved configuration.
// Concrete builders live in the adapter packages and are wired in at
// application startup; tests inject fakes.
type Builder func(cfg BackendConfig) Backend

// providerMeta holds the static per-provider configuration surface.
type providerMeta struct {
	credEnv      string
	modelEnv     string
	defaultModel string
	models       []string
}

var metadata = map[ID]providerMeta{
	Claude: {
		credEnv:      "ANTHROPIC_API_KEY",
		modelEnv:     "CLAUDE_MODEL",
		defaultModel: "claude-sonnet-4-20250514",
		models:       []string{"claude-sonnet-4-20250514", "claude-3-5-haiku-20241022", "claude-opus-4-20250514"},
	},
	OpenAI: {
		credEnv:      "OPENAI_API_KEY",
		modelEnv:     "OPENAI_MODEL",
		defaultModel: "gpt-4o-mini",
		models:       []string{"gpt-4o-mini", "gpt-4o", "gpt-4-turbo"},
	},
	Gemini: {
		credEnv:      "GEMINI_API_KEY",
		modelEnv:     "GEMINI_MODEL",
		defaultModel: "gemini-2.0-flash",
		models:       []string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"},
	},
	Kimi: {
		credEnv:      "MOONSHOT_API_KEY",
		modelEnv:     "KIMI_MODEL",
		defaultModel: "moonshot-v1-8k",
		models:       []string{"moonshot-v1-8k", "moonshot-v1-32k", "moonshot-v1-128k"},
	},
	Groq: {
		credEnv:      "GROQ_API_KEY",
		modelEnv:     "GROQ_MODEL",
		defaultModel: "llama-3.3-70b-versatile",
		models:       []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant", "mixtral-8x7b-32768"},
	},
}

// CredentialKey returns the settings-store key holding a provider's secret.
func CredentialKey(id ID) string {
	return "providers." + string(id) + ".api_key"
}

// Registry resolves which providers are usable and holds their adapters.
// Reads vastly outnumber writes; writes happen only on operator-initiated
// reconfiguration.
type Registry struct {
	settings SettingsStore
	builders map[ID]Builder
	logger   *zap.Logger

	mu       sync.RWMutex
	backends map[ID]Backend
	models   map[ID]string // default model resolved at configure time
}

// NewRegistry creates an empty registry. Call Configure before use.
func NewRegistry(settings SettingsStore, builders map[ID]Builder, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		settings: settings,
		builders: builders,
		logger:   logger,
		backends: make(map[ID]Backend),
		models:   make(map[ID]string),
	}
}

// Configure resolves, per provider, the credential from explicit override,
// then persisted setting, then environment variable, and constructs adapters
// for every provider with a credential. Providers without one are simply
// unavailable; that is not an error.
func (r *Registry) Configure(ctx context.Context, overrides map[ID]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, meta := range metadata {
		model := os.Getenv(meta.modelEnv)
		if model == "" {
			model = meta.defaultModel
		}
		r.models[id] = model

		cred := overrides[id]
		if cred == "" {
			cred = r.settings.Get(ctx, CredentialKey(id), "")
		}
		if cred == "" {
			cred = os.Getenv(meta.credEnv)
		}
		if cred == "" {
			delete(r.backends, id)
			continue
		}

		builder, ok := r.builders[id]
		if !ok {
			r.logger.Warn("no builder registered for provider", zap.String("provider", string(id)))
			continue
		}
		r.backends[id] = builder(BackendConfig{APIKey: cred, Model: model})
		r.logger.Info("provider configured",
			zap.String("provider", string(id)),
			zap.String("default_model", model))
	}
}

// SetCredential rebuilds the provider's adapter with the new secret, makes it
// available immediately, and best-effort persists the secret.
func (r *Registry) SetCredential(ctx context.Context, id ID, secret string) error {
	if !id.Valid() {
		return ErrUnknownProvider
	}

	r.mu.Lock()
	builder, ok := r.builders[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownProvider
	}
	model := r.models[id]
	if model == "" {
		model = metadata[id].defaultModel
		r.models[id] = model
	}
	r.backends[id] = builder(BackendConfig{APIKey: secret, Model: model})
	r.mu.Unlock()

	if err := r.settings.Set(ctx, CredentialKey(id), secret); err != nil {
		// Persistence is best-effort; the new credential is already live.
		r.logger.Warn("failed to persist credential",
			zap.String("provider", string(id)),
			zap.Error(err))
	}
	return nil
}

// Available reports whether a usable adapter is currently held for id.
func (r *Registry) Available(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return ok && b.Configured()
}

// Backend returns the adapter for id, or nil when the provider is not
// configured.
func (r *Registry) Backend(id ID) Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[id]
}

// DefaultModelFor returns the resolved default model for id. The value is
// stable within a process lifetime unless Configure is called again.
func (r *Registry) DefaultModelFor(id ID) string {
	r.mu.RLock()
	if m, ok := r.models[id]; ok && m != "" {
		r.mu.RUnlock()
		return m
	}
	r.mu.RUnlock()
	return metadata[id].defaultModel
}

// ModelsFor returns the selectable model identifiers for id.
func (r *Registry) ModelsFor(id ID) []string {
	meta, ok := metadata[id]
	if !ok {
		return nil
	}
	out := make([]string, len(meta.models))
	copy(out, meta.models)
	return out
}
