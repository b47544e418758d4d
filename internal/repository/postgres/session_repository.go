package postgres

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telefoot/relay/internal/domain"
)

// sessionRepository implements domain.SessionRepository
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new account session repository
func NewSessionRepository(db *gorm.DB) domain.SessionRepository {
	return &sessionRepository{db: db}
}

// phoneHash derives the credential reference for a phone number
func phoneHash(phone string) string {
	hash := sha256.Sum256([]byte(phone))
	return fmt.Sprintf("%x", hash[:])
}

// Get retrieves session metadata by phone number
func (r *sessionRepository) Get(ctx context.Context, phone string) (*domain.Session, error) {
	var model AccountModel
	result := r.db.WithContext(ctx).Where("phone_number = ?", phone).First(&model)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if result.Error != nil {
		return nil, domain.ErrDatabaseOperation
	}

	return model.toDomain(), nil
}

// Upsert creates or updates session metadata keyed by phone number
func (r *sessionRepository) Upsert(ctx context.Context, session *domain.Session) error {
	var lastError *string
	if session.LastError != "" {
		lastError = &session.LastError
	}

	model := AccountModel{
		PhoneNumber: session.PhoneNumber,
		PhoneHash:   phoneHash(session.PhoneNumber),
		Connected:   session.Connected,
		RestoredAt:  session.RestoredAt,
		LastError:   lastError,
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"connected", "restored_at", "last_error", "updated_at",
		}),
	}).Create(&model)

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	return nil
}

// All retrieves every persisted session
func (r *sessionRepository) All(ctx context.Context) ([]domain.Session, error) {
	var models []AccountModel
	result := r.db.WithContext(ctx).Order("created_at ASC").Find(&models)
	if result.Error != nil {
		return nil, domain.ErrDatabaseOperation
	}

	sessions := make([]domain.Session, 0, len(models))
	for i := range models {
		sessions = append(sessions, *models[i].toDomain())
	}
	return sessions, nil
}

// Delete removes a session and its credential blob (cascade)
func (r *sessionRepository) Delete(ctx context.Context, phone string) error {
	result := r.db.WithContext(ctx).Where("phone_number = ?", phone).Delete(&AccountModel{})
	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	if result.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}
