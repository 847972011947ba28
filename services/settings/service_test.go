package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/models"
)

type fakeSettingRepo struct {
	store   map[string]string
	failSet bool
}

func newFakeSettingRepo() *fakeSettingRepo {
	return &fakeSettingRepo{store: make(map[string]string)}
}

func (f *fakeSettingRepo) Get(ctx context.Context, key string) (*models.Setting, error) {
	value, ok := f.store[key]
	if !ok {
		return nil, errors.New("setting not found: " + key)
	}
	return &models.Setting{Key: key, Value: value}, nil
}

func (f *fakeSettingRepo) Upsert(ctx context.Context, setting *models.Setting) error {
	if f.failSet {
		return errors.New("database error")
	}
	f.store[setting.Key] = setting.Value
	return nil
}

func (f *fakeSettingRepo) Delete(ctx context.Context, key string) error {
	delete(f.store, key)
	return nil
}

func (f *fakeSettingRepo) List(ctx context.Context, prefix string) ([]*models.Setting, error) {
	var out []*models.Setting
	for k, v := range f.store {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, &models.Setting{Key: k, Value: v})
		}
	}
	return out, nil
}

func TestService_GetSet(t *testing.T) {
	repo := newFakeSettingRepo()
	svc := NewService(repo, zap.NewNop())
	ctx := context.Background()

	assert.True(t, svc.Persistent())

	// Default for a key that was never set
	assert.Equal(t, "gemini", svc.Get(ctx, "chat.provider", "gemini"))

	require.NoError(t, svc.Set(ctx, "chat.provider", "groq"))
	assert.Equal(t, "groq", svc.Get(ctx, "chat.provider", "gemini"))
}

func TestService_DegradedMode(t *testing.T) {
	svc := NewService(nil, zap.NewNop())
	ctx := context.Background()

	assert.False(t, svc.Persistent())

	// Get falls back to the default
	assert.Equal(t, "fallback", svc.Get(ctx, "any.key", "fallback"))

	// Set is a silent no-op
	require.NoError(t, svc.Set(ctx, "any.key", "value"))
	assert.Equal(t, "fallback", svc.Get(ctx, "any.key", "fallback"))

	require.NoError(t, svc.Delete(ctx, "any.key"))

	settings, err := svc.List(ctx, "any.")
	require.NoError(t, err)
	assert.Empty(t, settings)
}

func TestService_SetError(t *testing.T) {
	repo := newFakeSettingRepo()
	repo.failSet = true
	svc := NewService(repo, zap.NewNop())

	err := svc.Set(context.Background(), "chat.provider", "kimi")
	assert.Error(t, err)
}

func TestService_List(t *testing.T) {
	repo := newFakeSettingRepo()
	svc := NewService(repo, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "providers.groq.api_key", uuid.NewString()))
	require.NoError(t, svc.Set(ctx, "providers.openai.api_key", uuid.NewString()))
	require.NoError(t, svc.Set(ctx, "chat.provider", "groq"))

	settings, err := svc.List(ctx, "providers.")
	require.NoError(t, err)
	assert.Len(t, settings, 2)
}
