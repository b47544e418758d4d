package postgres

import (
	"encoding/json"
	"time"

	"github.com/telefoot/relay/internal/domain"
)

// UserModel represents database model for a license record
type UserModel struct {
	ID          uint       `gorm:"primaryKey"`
	TelegramID  int64      `gorm:"uniqueIndex;not null"`
	Username    string     `gorm:"size:64"`
	FirstName   string     `gorm:"size:128"`
	Status      string     `gorm:"not null;default:'waiting';size:16"`
	Plan        string     `gorm:"size:16"`
	ExpiresAt   *time.Time `gorm:""`
	ActivatedAt *time.Time `gorm:""`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for UserModel
func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) toDomain() *domain.User {
	return &domain.User{
		UserID:       m.TelegramID,
		Username:     m.Username,
		FirstName:    m.FirstName,
		Status:       m.Status,
		Plan:         m.Plan,
		ExpiresAt:    m.ExpiresAt,
		ActivatedAt:  m.ActivatedAt,
		RegisteredAt: m.CreatedAt,
	}
}

// AccountModel represents database model for a linked account session
type AccountModel struct {
	ID          uint       `gorm:"primaryKey"`
	PhoneNumber string     `gorm:"uniqueIndex;not null;size:32"`
	PhoneHash   string     `gorm:"uniqueIndex;not null;size:64"`
	Connected   bool       `gorm:"not null;default:false"`
	RestoredAt  *time.Time `gorm:""`
	LastError   *string    `gorm:"type:text"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for AccountModel
func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) toDomain() *domain.Session {
	lastError := ""
	if m.LastError != nil {
		lastError = *m.LastError
	}
	return &domain.Session{
		PhoneNumber:   m.PhoneNumber,
		CredentialRef: m.PhoneHash,
		Connected:     m.Connected,
		RestoredAt:    m.RestoredAt,
		LastError:     lastError,
		CreatedAt:     m.CreatedAt,
	}
}

// MTProtoSessionModel represents database model for an MTProto session blob
type MTProtoSessionModel struct {
	ID          uint      `gorm:"primaryKey"`
	AccountID   uint      `gorm:"uniqueIndex;not null"`
	SessionData []byte    `gorm:"type:bytea;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`

	Account AccountModel `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for MTProtoSessionModel
func (MTProtoSessionModel) TableName() string {
	return "mtproto_sessions"
}

// RedirectionModel represents database model for a redirection rule.
// Sources and destinations are stored as JSON arrays of chat IDs.
type RedirectionModel struct {
	ID           uint      `gorm:"primaryKey"`
	RuleID       string    `gorm:"not null;size:64;uniqueIndex:idx_owner_rule"`
	OwnerPhone   string    `gorm:"not null;size:32;uniqueIndex:idx_owner_rule"`
	Sources      string    `gorm:"not null;default:'[]'"`
	Destinations string    `gorm:"not null;default:'[]'"`
	Active       bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for RedirectionModel
func (RedirectionModel) TableName() string {
	return "redirections"
}

func (m *RedirectionModel) toDomain() (*domain.Rule, error) {
	var sources, destinations []int64
	if err := json.Unmarshal([]byte(m.Sources), &sources); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(m.Destinations), &destinations); err != nil {
		return nil, err
	}

	return &domain.Rule{
		ID:           m.RuleID,
		Owner:        m.OwnerPhone,
		Sources:      sources,
		Destinations: destinations,
		Active:       m.Active,
		CreatedAt:    m.CreatedAt,
	}, nil
}

func newRedirectionModel(rule *domain.Rule) (*RedirectionModel, error) {
	sources, err := json.Marshal(rule.Sources)
	if err != nil {
		return nil, err
	}
	destinations, err := json.Marshal(rule.Destinations)
	if err != nil {
		return nil, err
	}

	return &RedirectionModel{
		RuleID:       rule.ID,
		OwnerPhone:   rule.Owner,
		Sources:      string(sources),
		Destinations: string(destinations),
		Active:       rule.Active,
	}, nil
}
