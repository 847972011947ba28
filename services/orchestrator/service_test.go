package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/services"
	"github.com/opsdeskhq/opsdesk/services/providers"
)

// stubBackend returns scripted outcomes in order, then repeats the last one
type stubBackend struct {
	id      providers.ID
	model   string
	results []stubResult
	mu      sync.Mutex
	calls   int
	callAt  []time.Time
	lastReq *providers.ChatRequest
}

type stubResult struct {
	text string
	err  error
}

func (b *stubBackend) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.calls
	if idx >= len(b.results) {
		idx = len(b.results) - 1
	}
	b.calls++
	b.callAt = append(b.callAt, time.Now())
	b.lastReq = req

	r := b.results[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &providers.ChatResult{
		Text:     r.text,
		Provider: b.id,
		Model:    req.Model,
		Usage:    &providers.Usage{PromptTokens: 5, CompletionTokens: 5, TotalTokens: 10},
	}, nil
}

func (b *stubBackend) Configured() bool     { return true }
func (b *stubBackend) DefaultModel() string { return b.model }
func (b *stubBackend) Name() providers.ID   { return b.id }

func (b *stubBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// stubRegistry implements ProviderSource over a fixed backend map
type stubRegistry struct {
	backends map[providers.ID]*stubBackend
}

func (r *stubRegistry) Backend(id providers.ID) providers.Backend {
	b, ok := r.backends[id]
	if !ok {
		return nil
	}
	return b
}

func (r *stubRegistry) Available(id providers.ID) bool {
	_, ok := r.backends[id]
	return ok
}

func (r *stubRegistry) DefaultModelFor(id providers.ID) string {
	if b, ok := r.backends[id]; ok {
		return b.model
	}
	return ""
}

func (r *stubRegistry) ModelsFor(id providers.ID) []string {
	if b, ok := r.backends[id]; ok {
		return []string{b.model}
	}
	return nil
}

// memorySettings is an in-memory providers.SettingsStore
type memorySettings struct {
	mu    sync.Mutex
	store map[string]string
}

func newMemorySettings() *memorySettings {
	return &memorySettings{store: make(map[string]string)}
}

func (m *memorySettings) Get(ctx context.Context, key, def string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.store[key]; ok {
		return v
	}
	return def
}

func (m *memorySettings) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = value
	return nil
}

func newTestService(reg *stubRegistry, cfg Config) *Service {
	return NewService(reg, newMemorySettings(), nil, zap.NewNop(), cfg)
}

func fastConfig() Config {
	return Config{
		RetryBackoff:   20 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func TestChat_TemperaturePassthrough(t *testing.T) {
	t.Run("explicit zero survives", func(t *testing.T) {
		gemini := &stubBackend{id: providers.Gemini, model: "gemini-2.0-flash", results: []stubResult{{text: "ok"}}}
		reg := &stubRegistry{backends: map[providers.ID]*stubBackend{providers.Gemini: gemini}}
		svc := newTestService(reg, fastConfig())

		_, err := svc.Chat(context.Background(), &ChatRequest{
			Messages:    []providers.Message{{Role: "user", Content: "hi"}},
			Temperature: providers.Float(0),
		})
		require.NoError(t, err)

		require.NotNil(t, gemini.lastReq.Temperature)
		assert.Equal(t, 0.0, *gemini.lastReq.Temperature)
	})

	t.Run("unset falls back to default", func(t *testing.T) {
		gemini := &stubBackend{id: providers.Gemini, model: "gemini-2.0-flash", results: []stubResult{{text: "ok"}}}
		reg := &stubRegistry{backends: map[providers.ID]*stubBackend{providers.Gemini: gemini}}
		svc := newTestService(reg, fastConfig())

		_, err := svc.Chat(context.Background(), &ChatRequest{
			Messages: []providers.Message{{Role: "user", Content: "hi"}},
		})
		require.NoError(t, err)

		require.NotNil(t, gemini.lastReq.Temperature)
		assert.Equal(t, defaultTemperature, *gemini.lastReq.Temperature)
	})
}

func TestChat_PrimarySucceeds(t *testing.T) {
	gemini := &stubBackend{id: providers.Gemini, model: "gemini-2.0-flash", results: []stubResult{{text: "hello there"}}}
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{providers.Gemini: gemini}}
	svc := newTestService(reg, fastConfig())

	result, err := svc.Chat(context.Background(), &ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello there", result.Text)
	assert.Equal(t, providers.Gemini, result.Provider)
	assert.Empty(t, result.FallbackFrom)
	assert.Equal(t, 1, gemini.callCount())
}

func TestChat_EmptyMessages(t *testing.T) {
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{}}
	svc := newTestService(reg, fastConfig())

	_, err := svc.Chat(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}

func TestChat_InvalidProvider(t *testing.T) {
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{}}
	svc := newTestService(reg, fastConfig())

	_, err := svc.Chat(context.Background(), &ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
		Provider: "grok",
	})
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}

func TestChat_RateLimitRetrySucceeds(t *testing.T) {
	rateLimited := &providers.ProviderError{
		Provider:   providers.Gemini,
		StatusCode: 429,
		Message:    "Gemini API error: 429 - Too Many Requests",
	}
	gemini := &stubBackend{
		id:    providers.Gemini,
		model: "gemini-2.0-flash",
		results: []stubResult{
			{err: rateLimited},
			{text: "second try"},
		},
	}
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{providers.Gemini: gemini}}

	cfg := fastConfig()
	cfg.RetryBackoff = 50 * time.Millisecond
	svc := newTestService(reg, cfg)

	result, err := svc.Chat(context.Background(), &ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "second try", result.Text)
	assert.Equal(t, providers.Gemini, result.Provider)
	assert.Empty(t, result.FallbackFrom)

	// Exactly two calls to the primary, separated by the backoff
	require.Equal(t, 2, gemini.callCount())
	delay := gemini.callAt[1].Sub(gemini.callAt[0])
	assert.GreaterOrEqual(t, delay, 50*time.Millisecond)
}

func TestChat_FallbackAfterServerError(t *testing.T) {
	serverErr := &providers.ProviderError{
		Provider:   providers.Claude,
		StatusCode: 503,
		Message:    "Claude API error: 503 - overloaded",
	}
	claude := &stubBackend{id: providers.Claude, model: "claude-sonnet-4-20250514", results: []stubResult{{err: serverErr}}}
	groq := &stubBackend{id: providers.Groq, model: "llama-3.3-70b-versatile", results: []stubResult{{text: "from groq"}}}
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{
		providers.Claude: claude,
		providers.Groq:   groq,
	}}
	svc := newTestService(reg, fastConfig())

	result, err := svc.Chat(context.Background(), &ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
		Provider: providers.Claude,
	})

	require.NoError(t, err)
	assert.Equal(t, "from groq", result.Text)
	assert.Equal(t, providers.Groq, result.Provider)
	assert.Equal(t, providers.Claude, result.FallbackFrom)

	// Fallback runs with the candidate's own default model
	assert.Equal(t, "llama-3.3-70b-versatile", result.Model)
	assert.Equal(t, 1, claude.callCount())
	assert.Equal(t, 1, groq.callCount())
}

func TestChat_UnconfiguredProviderFallsBack(t *testing.T) {
	// openai has no credential at all; groq and gemini are configured
	groq := &stubBackend{id: providers.Groq, model: "llama-3.3-70b-versatile", results: []stubResult{{text: "from groq"}}}
	gemini := &stubBackend{id: providers.Gemini, model: "gemini-2.0-flash", results: []stubResult{{text: "from gemini"}}}
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{
		providers.Groq:   groq,
		providers.Gemini: gemini,
	}}
	svc := newTestService(reg, fastConfig())

	result, err := svc.Chat(context.Background(), &ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
		Provider: providers.OpenAI,
	})

	require.NoError(t, err)
	assert.Equal(t, providers.Groq, result.Provider)
	assert.Equal(t, providers.OpenAI, result.FallbackFrom)

	// groq is first in cost order, so gemini was never needed
	assert.Equal(t, 1, groq.callCount())
	assert.Equal(t, 0, gemini.callCount())
}

func TestChat_FallbackOrderSkipsFailing(t *testing.T) {
	boom := &providers.ProviderError{Provider: providers.Groq, StatusCode: 500, Message: "Groq API error: 500 - boom"}
	claude := &stubBackend{id: providers.Claude, model: "claude-sonnet-4-20250514", results: []stubResult{{err: &providers.ProviderError{Provider: providers.Claude, StatusCode: 500, Message: "Claude API error: 500 - down"}}}}
	groq := &stubBackend{id: providers.Groq, model: "llama-3.3-70b-versatile", results: []stubResult{{err: boom}}}
	gemini := &stubBackend{id: providers.Gemini, model: "gemini-2.0-flash", results: []stubResult{{text: "from gemini"}}}
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{
		providers.Claude: claude,
		providers.Groq:   groq,
		providers.Gemini: gemini,
	}}
	svc := newTestService(reg, fastConfig())

	result, err := svc.Chat(context.Background(), &ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
		Provider: providers.Claude,
	})

	require.NoError(t, err)
	assert.Equal(t, providers.Gemini, result.Provider)
	assert.Equal(t, providers.Claude, result.FallbackFrom)
	assert.Equal(t, 1, groq.callCount())
}

func TestChat_Exhaustion(t *testing.T) {
	fail := func(id providers.ID) *stubBackend {
		return &stubBackend{
			id:    id,
			model: "m-" + string(id),
			results: []stubResult{{err: &providers.ProviderError{
				Provider:   id,
				StatusCode: 503,
				Message:    string(id) + " API error: 503 - overloaded",
			}}},
		}
	}
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{
		providers.Claude: fail(providers.Claude),
		providers.OpenAI: fail(providers.OpenAI),
		providers.Groq:   fail(providers.Groq),
	}}
	svc := newTestService(reg, fastConfig())

	_, err := svc.Chat(context.Background(), &ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
		Provider: providers.Claude,
	})

	require.Error(t, err)
	assert.True(t, services.IsExternalError(err))

	// Primary message plus the count of failed fallbacks (everyone else)
	assert.Contains(t, err.Error(), "Claude")
	assert.Contains(t, err.Error(), "2 fallback providers also failed")
}

func TestChat_MaxFallbacksCap(t *testing.T) {
	fail := func(id providers.ID) *stubBackend {
		return &stubBackend{
			id:    id,
			model: "m-" + string(id),
			results: []stubResult{{err: &providers.ProviderError{
				Provider:   id,
				StatusCode: 500,
				Message:    string(id) + " API error: 500 - down",
			}}},
		}
	}
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{
		providers.Claude: fail(providers.Claude),
		providers.OpenAI: fail(providers.OpenAI),
		providers.Gemini: fail(providers.Gemini),
		providers.Groq:   fail(providers.Groq),
	}}

	cfg := fastConfig()
	cfg.MaxFallbacks = 1
	svc := newTestService(reg, cfg)

	_, err := svc.Chat(context.Background(), &ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
		Provider: providers.Claude,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 fallback providers also failed")

	// groq is first in cost order; the rest were never tried
	assert.Equal(t, 1, reg.backends[providers.Groq].callCount())
	assert.Equal(t, 0, reg.backends[providers.Gemini].callCount())
	assert.Equal(t, 0, reg.backends[providers.OpenAI].callCount())
}

func TestChat_AuthNoFallbacksAvailable(t *testing.T) {
	// Only the failing provider is configured and the key is bad
	authErr := &providers.ProviderError{Provider: providers.Claude, StatusCode: 401, Message: "invalid x-api-key"}
	claude := &stubBackend{id: providers.Claude, model: "claude-sonnet-4-20250514", results: []stubResult{{err: authErr}}}
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{providers.Claude: claude}}
	svc := newTestService(reg, fastConfig())

	_, err := svc.Chat(context.Background(), &ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
		Provider: providers.Claude,
	})

	require.Error(t, err)
	assert.True(t, services.IsUnavailableError(err))
	assert.Contains(t, err.Error(), "settings")
	assert.Equal(t, 1, claude.callCount())
}

func TestSwitchProvider(t *testing.T) {
	groq := &stubBackend{id: providers.Groq, model: "llama-3.3-70b-versatile", results: []stubResult{{text: "ok"}}}
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{providers.Groq: groq}}

	settings := newMemorySettings()
	svc := NewService(reg, settings, nil, zap.NewNop(), fastConfig())

	t.Run("switch to configured provider", func(t *testing.T) {
		err := svc.SwitchProvider(context.Background(), providers.Groq)
		require.NoError(t, err)
		assert.Equal(t, providers.Groq, svc.CurrentProvider())
		assert.Equal(t, "llama-3.3-70b-versatile", svc.CurrentModel())

		// Selection was persisted
		assert.Equal(t, "groq", settings.Get(context.Background(), settingKeyProvider, ""))
	})

	t.Run("unconfigured provider rejected", func(t *testing.T) {
		err := svc.SwitchProvider(context.Background(), providers.Claude)
		require.Error(t, err)
		assert.True(t, services.IsUnavailableError(err))
		assert.Equal(t, providers.Groq, svc.CurrentProvider())
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		err := svc.SwitchProvider(context.Background(), "grok")
		require.Error(t, err)
		assert.True(t, services.IsValidationError(err))
	})
}

func TestSwitchModel(t *testing.T) {
	groq := &stubBackend{id: providers.Groq, model: "llama-3.3-70b-versatile", results: []stubResult{{text: "ok"}}}
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{providers.Groq: groq}}
	svc := newTestService(reg, fastConfig())
	require.NoError(t, svc.SwitchProvider(context.Background(), providers.Groq))

	t.Run("known model accepted", func(t *testing.T) {
		err := svc.SwitchModel(context.Background(), "llama-3.3-70b-versatile")
		require.NoError(t, err)
		assert.Equal(t, "llama-3.3-70b-versatile", svc.CurrentModel())
	})

	t.Run("unknown model rejected", func(t *testing.T) {
		err := svc.SwitchModel(context.Background(), "gpt-4o")
		require.Error(t, err)
		assert.True(t, services.IsValidationError(err))
	})

	t.Run("empty model rejected", func(t *testing.T) {
		err := svc.SwitchModel(context.Background(), "")
		require.Error(t, err)
	})
}

func TestLoadSelection(t *testing.T) {
	groq := &stubBackend{id: providers.Groq, model: "llama-3.3-70b-versatile", results: []stubResult{{text: "ok"}}}
	gemini := &stubBackend{id: providers.Gemini, model: "gemini-2.0-flash", results: []stubResult{{text: "ok"}}}

	t.Run("persisted selection restored", func(t *testing.T) {
		reg := &stubRegistry{backends: map[providers.ID]*stubBackend{providers.Groq: groq, providers.Gemini: gemini}}
		settings := newMemorySettings()
		require.NoError(t, settings.Set(context.Background(), settingKeyProvider, "groq"))
		require.NoError(t, settings.Set(context.Background(), settingKeyModel, "llama-3.3-70b-versatile"))

		svc := NewService(reg, settings, nil, zap.NewNop(), fastConfig())
		svc.LoadSelection(context.Background())

		assert.Equal(t, providers.Groq, svc.CurrentProvider())
		assert.Equal(t, "llama-3.3-70b-versatile", svc.CurrentModel())
	})

	t.Run("unusable persisted provider falls back to cheapest", func(t *testing.T) {
		reg := &stubRegistry{backends: map[providers.ID]*stubBackend{providers.Gemini: gemini}}
		settings := newMemorySettings()
		require.NoError(t, settings.Set(context.Background(), settingKeyProvider, "claude"))

		svc := NewService(reg, settings, nil, zap.NewNop(), fastConfig())
		svc.LoadSelection(context.Background())

		assert.Equal(t, providers.Gemini, svc.CurrentProvider())
		// Correction was persisted
		assert.Equal(t, "gemini", settings.Get(context.Background(), settingKeyProvider, ""))
	})
}

func TestChat_DefaultsApplied(t *testing.T) {
	gemini := &stubBackend{id: providers.Gemini, model: "gemini-2.0-flash", results: []stubResult{{text: "ok"}}}
	reg := &stubRegistry{backends: map[providers.ID]*stubBackend{providers.Gemini: gemini}}
	svc := newTestService(reg, fastConfig())

	_, err := svc.Chat(context.Background(), &ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)

	// Default selection is gemini with its default model
	assert.Equal(t, providers.Gemini, svc.CurrentProvider())
	assert.Equal(t, "gemini-2.0-flash", svc.CurrentModel())
}
