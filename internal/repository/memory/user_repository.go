package memory

import (
	"context"
	"sync"
	"time"

	"github.com/telefoot/relay/internal/domain"
)

// userRepository implements domain.UserRepository using in-memory storage
type userRepository struct {
	mu    sync.RWMutex
	users map[int64]*domain.User
}

// NewUserRepository creates a new in-memory license record repository
func NewUserRepository() domain.UserRepository {
	return &userRepository{
		users: make(map[int64]*domain.User),
	}
}

// Get retrieves a license record by Telegram user ID
func (r *userRepository) Get(ctx context.Context, userID int64) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[userID]
	if !exists {
		return nil, domain.ErrUserNotFound
	}

	copied := *user
	return &copied, nil
}

// Upsert creates or updates a license record
func (r *userRepository) Upsert(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *user
	if copied.RegisteredAt.IsZero() {
		copied.RegisteredAt = time.Now()
	}
	r.users[user.UserID] = &copied
	return nil
}

// Count returns the number of registered users
func (r *userRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), nil
}
