package domain

import (
	"context"
	"time"
)

// UserRepository stores license records
type UserRepository interface {
	Get(ctx context.Context, userID int64) (*User, error)
	Upsert(ctx context.Context, user *User) error
	Count(ctx context.Context) (int, error)
}

// SessionRepository stores per-account connection metadata
type SessionRepository interface {
	Get(ctx context.Context, phone string) (*Session, error)
	Upsert(ctx context.Context, session *Session) error
	All(ctx context.Context) ([]Session, error)
	Delete(ctx context.Context, phone string) error
}

// RuleRepository stores redirection rules keyed by owning account
type RuleRepository interface {
	GetByOwner(ctx context.Context, owner string) ([]Rule, error)
	ListActive(ctx context.Context, owner string) ([]Rule, error)
	Upsert(ctx context.Context, rule *Rule) error
	Remove(ctx context.Context, owner, id string) error
	SetActive(ctx context.Context, owner, id string, active bool) error
	CountActive(ctx context.Context) (int, error)
}

// EventHandler consumes inbound events from one account connection.
// Events of a single connection arrive sequentially in arrival order.
type EventHandler interface {
	HandleEvent(ctx context.Context, event InboundEvent)
}

// AccountClient is one live MTProto connection for a linked phone number
type AccountClient interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	PhoneNumber() string
	SetEventHandler(handler EventHandler)
	Send(ctx context.Context, destination int64, text string) error
}

// ClientFactory creates an AccountClient for a phone number. Overridable in
// tests so the supervisor can be exercised without Telegram.
type ClientFactory func(phone string) (AccountClient, error)

// CodeProvider supplies the confirmation code during account linking
type CodeProvider interface {
	GetCode(ctx context.Context) (string, error)
}

// PasswordProvider supplies the 2FA password during account linking
type PasswordProvider interface {
	GetPassword(ctx context.Context) (string, error)
}

// AuditProducer publishes redirect outcome events. Implementations must be
// safe for concurrent use by all engines.
type AuditProducer interface {
	PublishRedirect(ctx context.Context, audit *RedirectAudit) error
	IsHealthy() bool
	Close() error
}

// HeartbeatSource exposes liveness information for the status plane
type HeartbeatSource interface {
	Running() bool
	LastHeartbeat() time.Time
}
