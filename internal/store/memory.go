package store

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/estate-game/estate-server/internal/game"
	"github.com/estate-game/estate-server/internal/game/board"
)

// MemoryStore keeps sessions in process. Stored values are clones so callers
// never share state with the store.
type MemoryStore struct {
	logger *zap.Logger

	mu        sync.RWMutex
	sessions  map[string]*game.Session
	applied   map[string]map[string]int64
	templates []board.SquareTemplate
	failNext  error
}

func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger:   logger,
		sessions: make(map[string]*game.Session),
		applied:  make(map[string]map[string]int64),
	}
}

// FailNext makes the next Commit return err without storing anything.
func (m *MemoryStore) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *MemoryStore) LoadSession(_ context.Context, id string) (*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, game.ErrSessionNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Commit(_ context.Context, s *game.Session, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	m.sessions[s.ID] = s.Clone()
	if actionID != "" {
		if m.applied[s.ID] == nil {
			m.applied[s.ID] = make(map[string]int64)
		}
		if _, seen := m.applied[s.ID][actionID]; !seen {
			m.applied[s.ID][actionID] = s.Version
		}
	}
	if m.logger != nil {
		m.logger.Debug("session committed",
			zap.String("session_id", s.ID),
			zap.Int64("version", s.Version),
			zap.String("action_id", actionID),
		)
	}
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.applied, id)
	return nil
}

// AppliedVersion returns the version at which an action was first committed.
func (m *MemoryStore) AppliedVersion(_ context.Context, sessionID, actionID string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.applied[sessionID][actionID]
	return v, ok, nil
}

func (m *MemoryStore) SeedTemplates(_ context.Context, b *board.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = b.Templates()
	return nil
}

func (m *MemoryStore) LoadTemplates(_ context.Context) ([]board.SquareTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]board.SquareTemplate(nil), m.templates...), nil
}
