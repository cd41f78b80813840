package council

import (
	"context"
	"sync"

	"github.com/conclave-ai/conclave/pkg/models"
)

// Store persists council sessions and their transcripts. Production
// deployments back this with the same branch-store persistence layer that
// backs ordinary conversations; tests use MemoryStore.
type Store interface {
	SaveSession(ctx context.Context, session *models.CouncilSession) error
	LoadSession(ctx context.Context, sessionID string) (*models.CouncilSession, error)
	AppendMessage(ctx context.Context, msg *models.SessionMessage) error
	Transcript(ctx context.Context, sessionID string) ([]models.SessionMessage, error)
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.CouncilSession
	messages map[string][]models.SessionMessage
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.CouncilSession),
		messages: make(map[string][]models.SessionMessage),
	}
}

// SaveSession implements Store.
func (s *MemoryStore) SaveSession(ctx context.Context, session *models.CouncilSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

// LoadSession implements Store.
func (s *MemoryStore) LoadSession(ctx context.Context, sessionID string) (*models.CouncilSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	clone := *session
	return &clone, nil
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.SessionMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], *msg)
	return nil
}

// Transcript implements Store.
func (s *MemoryStore) Transcript(ctx context.Context, sessionID string) ([]models.SessionMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SessionMessage, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	return out, nil
}
