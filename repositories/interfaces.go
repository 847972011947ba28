// Package repositories defines the data access contracts for the service
// layer. Implementations live in subpackages (postgres).
package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/opsdeskhq/opsdesk/models"
)

// ErrNotFound marks a lookup that matched no row. Services translate it into
// their own not-found errors.
var ErrNotFound = errors.New("not found")

// SettingRepository persists key/value configuration entries
type SettingRepository interface {
	Get(ctx context.Context, key string) (*models.Setting, error)
	Upsert(ctx context.Context, setting *models.Setting) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]*models.Setting, error)
}

// InteractionRepository persists logged AI exchanges
type InteractionRepository interface {
	Create(ctx context.Context, interaction *models.Interaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Interaction, error)
	ListByAgent(ctx context.Context, agentID string, limit, offset int) ([]*models.Interaction, error)
	CountByAgent(ctx context.Context, agentID string) (int, error)
}

// Repositories groups all repository instances
type Repositories struct {
	Settings     SettingRepository
	Interactions InteractionRepository
}
