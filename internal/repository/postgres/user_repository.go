package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telefoot/relay/internal/domain"
)

// userRepository implements domain.UserRepository
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new license record repository
func NewUserRepository(db *gorm.DB) domain.UserRepository {
	return &userRepository{db: db}
}

// Get retrieves a license record by Telegram user ID
func (r *userRepository) Get(ctx context.Context, userID int64) (*domain.User, error) {
	var model UserModel
	result := r.db.WithContext(ctx).Where("telegram_id = ?", userID).First(&model)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if result.Error != nil {
		return nil, domain.ErrDatabaseOperation
	}

	return model.toDomain(), nil
}

// Upsert creates or updates a license record keyed by Telegram user ID
func (r *userRepository) Upsert(ctx context.Context, user *domain.User) error {
	model := UserModel{
		TelegramID:  user.UserID,
		Username:    user.Username,
		FirstName:   user.FirstName,
		Status:      user.Status,
		Plan:        user.Plan,
		ExpiresAt:   user.ExpiresAt,
		ActivatedAt: user.ActivatedAt,
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "telegram_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username", "first_name", "status", "plan", "expires_at", "activated_at", "updated_at",
		}),
	}).Create(&model)

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	return nil
}

// Count returns the number of registered users
func (r *userRepository) Count(ctx context.Context) (int, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&UserModel{}).Count(&count)
	if result.Error != nil {
		return 0, domain.ErrDatabaseOperation
	}
	return int(count), nil
}
