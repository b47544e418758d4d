package domain

import "time"

// UserStatus constants for the license table
const (
	UserStatusWaiting = "waiting"
	UserStatusActive  = "active"
)

// Plans accepted by the /activer command
const (
	PlanTrial = "essai"
	PlanWeek  = "semaine"
	PlanMonth = "mois"
)

// PlanDuration returns the access duration granted by a plan
func PlanDuration(plan string) (time.Duration, bool) {
	switch plan {
	case PlanTrial:
		return 24 * time.Hour, true
	case PlanWeek:
		return 7 * 24 * time.Hour, true
	case PlanMonth:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// User represents a license record for one Telegram user
type User struct {
	UserID       int64
	Username     string
	FirstName    string
	Status       string
	Plan         string
	ExpiresAt    *time.Time
	ActivatedAt  *time.Time
	RegisteredAt time.Time
}

// IsAuthorized reports whether the license grants access at the given time.
// Expiry is checked lazily here; there is no background sweep.
func (u *User) IsAuthorized(now time.Time) bool {
	if u == nil || u.Status != UserStatusActive {
		return false
	}
	if u.ExpiresAt != nil && !u.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Session represents persisted connection metadata for one linked account
type Session struct {
	PhoneNumber string
	// CredentialRef points at the stored MTProto session blob (phone hash).
	// Raw authentication material never appears here.
	CredentialRef string
	Connected     bool
	RestoredAt    *time.Time
	LastError     string
	CreatedAt     time.Time
}

// Rule is a redirection rule owned by one linked account
type Rule struct {
	ID           string
	Owner        string // phone number whose connection carries the rule
	Sources      []int64
	Destinations []int64
	Active       bool
	CreatedAt    time.Time
}

// MatchesSource reports whether chatID is one of the rule's sources
func (r *Rule) MatchesSource(chatID int64) bool {
	for _, src := range r.Sources {
		if src == chatID {
			return true
		}
	}
	return false
}

// Validate checks rule consistency. A chat appearing both as source and
// destination would forward a channel into itself, which is rejected
// outright rather than silently ignored.
func (r *Rule) Validate() error {
	if r.ID == "" || r.Owner == "" {
		return ErrInvalidRule
	}
	for _, src := range r.Sources {
		for _, dst := range r.Destinations {
			if src == dst {
				return ErrSelfRedirection
			}
		}
	}
	return nil
}

// InboundEvent is one new-message or edited-message update received on an
// account connection
type InboundEvent struct {
	Owner     string // phone number of the connection that received it
	ChatID    int64
	MessageID int
	Text      string
	Edit      bool
	At        time.Time
}

// RedirectAudit describes the outcome of one forward attempt
type RedirectAudit struct {
	OwnerRef   string    `json:"owner_ref"` // masked owner, never the raw phone
	RuleID     string    `json:"rule_id"`
	SourceChat int64     `json:"source_chat"`
	DestChat   int64     `json:"dest_chat"`
	Edit       bool      `json:"edit"`
	TextLength int       `json:"text_length"`
	Delivered  bool      `json:"delivered"`
	Error      string    `json:"error,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// RestoreReport summarizes one RestoreAll / RestartAll pass
type RestoreReport struct {
	TotalSessions    int
	RestoredSessions int
	FailedSessions   int
	Errors           map[string]error // masked phone -> error
}
