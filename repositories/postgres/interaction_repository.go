package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/models"
	"github.com/opsdeskhq/opsdesk/repositories"
)

// InteractionRepository implements the repositories.InteractionRepository interface
type InteractionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewInteractionRepository creates a new interaction repository
func NewInteractionRepository(db *DB, logger *zap.Logger) repositories.InteractionRepository {
	return &InteractionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new interaction entry
// This method supports async insert patterns by being non-blocking
func (r *InteractionRepository) Create(ctx context.Context, interaction *models.Interaction) error {
	query := `
		INSERT INTO interactions (
			id, agent_id, type, provider, model, input, output,
			context, success, error_message, fallback_from, tokens_used, latency_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	// An empty context is stored as NULL, not as empty JSON bytes.
	var contextJSON []byte
	if len(interaction.Context) > 0 {
		contextJSON = interaction.Context
	}

	_, err := r.db.ExecContext(ctx, query,
		interaction.ID,
		interaction.AgentID,
		interaction.Type,
		interaction.Provider,
		interaction.Model,
		interaction.Input,
		interaction.Output,
		contextJSON,
		interaction.Success,
		interaction.ErrorMessage,
		interaction.FallbackFrom,
		interaction.TokensUsed,
		interaction.LatencyMs,
		interaction.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}

	r.logger.Debug("interaction inserted",
		zap.String("id", interaction.ID.String()),
		zap.String("type", string(interaction.Type)))
	return nil
}

// GetByID retrieves an interaction by ID
func (r *InteractionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Interaction, error) {
	query := `
		SELECT id, agent_id, type, provider, model, input, output,
		       context, success, error_message, fallback_from, tokens_used, latency_ms, created_at
		FROM interactions
		WHERE id = $1
	`

	interaction := &models.Interaction{}
	// context is nullable JSONB; scan through []byte so NULL maps to nil.
	var contextJSON []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&interaction.ID,
		&interaction.AgentID,
		&interaction.Type,
		&interaction.Provider,
		&interaction.Model,
		&interaction.Input,
		&interaction.Output,
		&contextJSON,
		&interaction.Success,
		&interaction.ErrorMessage,
		&interaction.FallbackFrom,
		&interaction.TokensUsed,
		&interaction.LatencyMs,
		&interaction.CreatedAt,
	)
	interaction.Context = contextJSON

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("interaction %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}

	return interaction, nil
}

// ListByAgent retrieves interactions for an agent with pagination
func (r *InteractionRepository) ListByAgent(ctx context.Context, agentID string, limit, offset int) ([]*models.Interaction, error) {
	query := `
		SELECT id, agent_id, type, provider, model, input, output,
		       context, success, error_message, fallback_from, tokens_used, latency_ms, created_at
		FROM interactions
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, agentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer rows.Close()

	var interactions []*models.Interaction
	for rows.Next() {
		interaction := &models.Interaction{}
		var contextJSON []byte
		err := rows.Scan(
			&interaction.ID,
			&interaction.AgentID,
			&interaction.Type,
			&interaction.Provider,
			&interaction.Model,
			&interaction.Input,
			&interaction.Output,
			&contextJSON,
			&interaction.Success,
			&interaction.ErrorMessage,
			&interaction.FallbackFrom,
			&interaction.TokensUsed,
			&interaction.LatencyMs,
			&interaction.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		interaction.Context = contextJSON
		interactions = append(interactions, interaction)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interactions: %w", err)
	}

	return interactions, nil
}

// CountByAgent returns the number of interactions logged for an agent
func (r *InteractionRepository) CountByAgent(ctx context.Context, agentID string) (int, error) {
	query := `SELECT COUNT(*) FROM interactions WHERE agent_id = $1`

	var count int
	if err := r.db.QueryRowContext(ctx, query, agentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}

	return count, nil
}
