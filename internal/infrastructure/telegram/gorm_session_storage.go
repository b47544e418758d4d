package telegram

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/gotd/td/session"
	"gorm.io/gorm"

	repo "github.com/telefoot/relay/internal/repository/postgres"
)

// GormSessionStorage implements session.Storage backed by the accounts and
// mtproto_sessions tables. One storage instance per linked phone number.
type GormSessionStorage struct {
	db          *gorm.DB
	phoneNumber string
	phoneHash   string
	accountID   uint
}

// NewGormSessionStorage creates a database-backed session storage
func NewGormSessionStorage(db *gorm.DB, phoneNumber string) (*GormSessionStorage, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if phoneNumber == "" {
		return nil, fmt.Errorf("phone number is required")
	}

	hash := sha256.Sum256([]byte(phoneNumber))
	phoneHash := fmt.Sprintf("%x", hash[:])

	storage := &GormSessionStorage{
		db:          db,
		phoneNumber: phoneNumber,
		phoneHash:   phoneHash,
	}

	if err := storage.ensureAccount(); err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}

	return storage, nil
}

// ensureAccount creates or retrieves the account record in the database
func (s *GormSessionStorage) ensureAccount() error {
	var account repo.AccountModel
	result := s.db.Where("phone_hash = ?", s.phoneHash).First(&account)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		account = repo.AccountModel{
			PhoneNumber: s.phoneNumber,
			PhoneHash:   s.phoneHash,
			Connected:   false,
		}
		if err := s.db.Create(&account).Error; err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
	} else if result.Error != nil {
		return fmt.Errorf("failed to query account: %w", result.Error)
	}

	s.accountID = account.ID
	return nil
}

// LoadSession loads the MTProto session blob
func (s *GormSessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	var sess repo.MTProtoSessionModel
	result := s.db.WithContext(ctx).Where("account_id = ?", s.accountID).First(&sess)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, session.ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load session: %w", result.Error)
	}

	if len(sess.SessionData) == 0 {
		return nil, session.ErrNotFound
	}

	return sess.SessionData, nil
}

// StoreSession stores the MTProto session blob
func (s *GormSessionStorage) StoreSession(ctx context.Context, data []byte) error {
	var sess repo.MTProtoSessionModel
	result := s.db.WithContext(ctx).Where("account_id = ?", s.accountID).First(&sess)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		sess = repo.MTProtoSessionModel{
			AccountID:   s.accountID,
			SessionData: data,
		}
		if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	}
	if result.Error != nil {
		return fmt.Errorf("failed to query session: %w", result.Error)
	}

	if err := s.db.WithContext(ctx).Model(&sess).Update("session_data", data).Error; err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return nil
}

// DeleteSession removes the session blob from the database
func (s *GormSessionStorage) DeleteSession(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("account_id = ?", s.accountID).Delete(&repo.MTProtoSessionModel{}).Error
}

// PhoneHash returns the credential reference for this storage
func (s *GormSessionStorage) PhoneHash() string {
	return s.phoneHash
}

// Ensure GormSessionStorage implements session.Storage interface
var _ session.Storage = (*GormSessionStorage)(nil)
