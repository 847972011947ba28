// Package settings provides key/value configuration backed by Postgres.
//
// The service runs in degraded mode when no repository is available (no
// database configured): Get returns the caller's default and Set becomes a
// no-op. Callers treat persistence as best-effort.
package settings

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/models"
	"github.com/opsdeskhq/opsdesk/repositories"
)

// Service reads and writes persisted settings
type Service struct {
	repo   repositories.SettingRepository
	logger *zap.Logger
}

// NewService creates a new settings service. A nil repository puts the
// service in degraded mode.
func NewService(repo repositories.SettingRepository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Persistent reports whether settings are actually stored
func (s *Service) Persistent() bool {
	return s.repo != nil
}

// Get returns the value for key, or def when the key is absent or the
// store is unavailable
func (s *Service) Get(ctx context.Context, key, def string) string {
	if s.repo == nil {
		return def
	}

	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		return def
	}
	return setting.Value
}

// Set stores a value for key. In degraded mode it silently succeeds.
func (s *Service) Set(ctx context.Context, key, value string) error {
	if s.repo == nil {
		s.logger.Debug("settings store unavailable, value not persisted",
			zap.String("key", key))
		return nil
	}

	err := s.repo.Upsert(ctx, &models.Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to persist setting",
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	return nil
}

// Delete removes a stored key. In degraded mode it silently succeeds.
func (s *Service) Delete(ctx context.Context, key string) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.Delete(ctx, key)
}

// List returns all settings under the given key prefix
func (s *Service) List(ctx context.Context, prefix string) ([]*models.Setting, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.List(ctx, prefix)
}
