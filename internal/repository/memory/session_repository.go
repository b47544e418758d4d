package memory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/telefoot/relay/internal/domain"
)

// sessionRepository implements domain.SessionRepository using in-memory storage
type sessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewSessionRepository creates a new in-memory session repository
func NewSessionRepository() domain.SessionRepository {
	return &sessionRepository{
		sessions: make(map[string]*domain.Session),
	}
}

// Get retrieves session metadata by phone number
func (r *sessionRepository) Get(ctx context.Context, phone string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[phone]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	copied := *session
	return &copied, nil
}

// Upsert creates or updates session metadata keyed by phone number
func (r *sessionRepository) Upsert(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *session
	if copied.CredentialRef == "" {
		hash := sha256.Sum256([]byte(session.PhoneNumber))
		copied.CredentialRef = fmt.Sprintf("%x", hash[:])
	}
	if copied.CreatedAt.IsZero() {
		if existing, exists := r.sessions[session.PhoneNumber]; exists {
			copied.CreatedAt = existing.CreatedAt
		} else {
			copied.CreatedAt = time.Now()
		}
	}
	r.sessions[session.PhoneNumber] = &copied
	return nil
}

// All retrieves every persisted session ordered by creation time
func (r *sessionRepository) All(ctx context.Context) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]domain.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, *session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Delete removes a session
func (r *sessionRepository) Delete(ctx context.Context, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[phone]; !exists {
		return domain.ErrSessionNotFound
	}

	delete(r.sessions, phone)
	return nil
}
