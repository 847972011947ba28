package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/models"
	"github.com/opsdeskhq/opsdesk/repositories"
)

// SettingRepository implements the repositories.SettingRepository interface
type SettingRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSettingRepository creates a new setting repository
func NewSettingRepository(db *DB, logger *zap.Logger) repositories.SettingRepository {
	return &SettingRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a setting by key
func (r *SettingRepository) Get(ctx context.Context, key string) (*models.Setting, error) {
	query := `
		SELECT key, value, updated_at
		FROM settings
		WHERE key = $1
	`

	setting := &models.Setting{}
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&setting.Key,
		&setting.Value,
		&setting.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("setting not found: %s", key)
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}

	return setting, nil
}

// Upsert inserts or updates a setting
func (r *SettingRepository) Upsert(ctx context.Context, setting *models.Setting) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	if setting.UpdatedAt.IsZero() {
		setting.UpdatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		setting.Key,
		setting.Value,
		setting.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert setting: %w", err)
	}

	r.logger.Debug("setting upserted", zap.String("key", setting.Key))
	return nil
}

// Delete removes a setting by key
func (r *SettingRepository) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM settings WHERE key = $1`

	result, err := r.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("setting not found: %s", key)
	}

	return nil
}

// List retrieves all settings whose keys start with the given prefix
func (r *SettingRepository) List(ctx context.Context, prefix string) ([]*models.Setting, error) {
	query := `
		SELECT key, value, updated_at
		FROM settings
		WHERE key LIKE $1 || '%'
		ORDER BY key
	`

	rows, err := r.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var settings []*models.Setting
	for rows.Next() {
		setting := &models.Setting{}
		if err := rows.Scan(&setting.Key, &setting.Value, &setting.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings = append(settings, setting)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings: %w", err)
	}

	return settings, nil
}
