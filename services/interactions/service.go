// Package interactions persists AI exchanges asynchronously. Writes go
// through a buffered channel drained by background workers so the chat path
// never blocks on the database. Without a repository the service degrades to
// structured logging only.
package interactions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdeskhq/opsdesk/models"
	"github.com/opsdeskhq/opsdesk/repositories"
	"github.com/opsdeskhq/opsdesk/services"
)

// Service handles asynchronous interaction logging
type Service struct {
	repo        repositories.InteractionRepository
	logger      *zap.Logger
	eventChan   chan *models.Interaction
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	// mu guards started and, via read-locked sends in Record, guarantees no
	// send can be in flight when Stop closes the channel.
	mu sync.RWMutex
}

// Config holds configuration for the interactions Service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewService creates a new interactions service. A nil repository means
// interactions are logged but not persisted.
func NewService(repo repositories.InteractionRepository, logger *zap.Logger, config Config) *Service {
	return &Service{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.Interaction, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("interactions service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started interactions service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize),
		zap.Bool("persistent", s.repo != nil))

	return nil
}

// Stop gracefully stops the service, waiting for pending events to drain.
// The channel is closed under the write lock, so a Record holding the read
// lock can never send on a closed channel.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("interactions service not started")
	}
	s.started = false
	s.logger.Info("stopping interactions service", zap.Int("pending_events", len(s.eventChan)))
	close(s.eventChan)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("interactions service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("interactions service stop timeout after %v", timeout)
	}
}

// Record enqueues an interaction for persistence (non-blocking).
// Returns immediately; the entry is processed in the background.
func (s *Service) Record(interaction *models.Interaction) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return fmt.Errorf("interactions service not started")
	}

	// The send stays under the read lock; it cannot block because the
	// default branch handles a full buffer.
	select {
	case s.eventChan <- interaction:
		return nil
	default:
		s.logger.Warn("interaction channel full, dropping entry",
			zap.String("agent_id", interaction.AgentID),
			zap.String("type", string(interaction.Type)))
		return fmt.Errorf("interaction buffer full")
	}
}

// worker processes interactions from the channel
func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("interactions worker started", zap.Int("worker_id", id))

	for interaction := range s.eventChan {
		if err := s.process(interaction); err != nil {
			s.logger.Error("failed to process interaction",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("agent_id", interaction.AgentID))
		}
	}

	s.logger.Debug("interactions worker stopped", zap.Int("worker_id", id))
}

// process persists a single interaction; without a repository it only logs
func (s *Service) process(interaction *models.Interaction) error {
	s.logger.Debug("interaction recorded",
		zap.String("agent_id", interaction.AgentID),
		zap.String("type", string(interaction.Type)),
		zap.String("provider", interaction.Provider),
		zap.Bool("success", interaction.Success))

	if s.repo == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Create(ctx, interaction); err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}

	return nil
}

// GetStats returns statistics about the interactions service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started,
	}
}

// Stats represents interactions service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// History returns the persisted interactions of an agent, newest first,
// along with the total count for pagination. Without a repository the
// history is always empty.
func (s *Service) History(ctx context.Context, agentID string, limit, offset int) ([]*models.Interaction, int, error) {
	if s.repo == nil {
		return []*models.Interaction{}, 0, nil
	}

	items, err := s.repo.ListByAgent(ctx, agentID, limit, offset)
	if err != nil {
		return nil, 0, services.WrapInternal("failed to list interactions", err)
	}

	total, err := s.repo.CountByAgent(ctx, agentID)
	if err != nil {
		return nil, 0, services.WrapInternal("failed to count interactions", err)
	}

	return items, total, nil
}

// Get returns one persisted interaction by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Interaction, error) {
	if s.repo == nil {
		return nil, services.ErrInteractionNotFound
	}

	interaction, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInteractionNotFound
		}
		return nil, services.WrapInternal("failed to get interaction", err)
	}

	return interaction, nil
}

// Convenience constructors for common entries

// RecordChat records a successful chat exchange
func (s *Service) RecordChat(agentID, provider, model, input, output string, tokensUsed, latencyMs int) error {
	interaction := models.NewInteraction(agentID, models.InteractionTypeChat).
		WithExchange(provider, model, input, output).
		WithResult(true, "").
		WithMetrics(tokensUsed, latencyMs)

	return s.Record(interaction)
}

// RecordFallback records a chat exchange served by a fallback provider
func (s *Service) RecordFallback(agentID, provider, model, fallbackFrom, input, output string, tokensUsed, latencyMs int) error {
	interaction := models.NewInteraction(agentID, models.InteractionTypeFallback).
		WithExchange(provider, model, input, output).
		WithResult(true, "").
		WithFallback(fallbackFrom).
		WithMetrics(tokensUsed, latencyMs)

	return s.Record(interaction)
}

// RecordError records a failed chat exchange
func (s *Service) RecordError(agentID, provider, model, input, errorMessage string) error {
	interaction := models.NewInteraction(agentID, models.InteractionTypeError).
		WithExchange(provider, model, input, "").
		WithResult(false, errorMessage)

	return s.Record(interaction)
}
