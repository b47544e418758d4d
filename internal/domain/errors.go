package domain

import "errors"

var (
	// ErrAuthenticationFailed is returned when MTProto authentication fails.
	// Non-retryable: the user has to re-link the account.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrConnectionFailed is returned on transient connection failures
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNotConnected is returned when an operation requires a live connection
	ErrNotConnected = errors.New("not connected to Telegram")

	// ErrSendFailed is returned when delivery to one destination gave up
	// after the bounded retry budget
	ErrSendFailed = errors.New("send failed")

	// ErrFloodWait is returned when Telegram demands a wait longer than the
	// retry budget allows
	ErrFloodWait = errors.New("flood wait required")

	// ErrPeerNotFound is returned when a destination chat cannot be resolved
	// to a known peer
	ErrPeerNotFound = errors.New("peer not found")

	// ErrSessionNotFound is returned when no session exists for a phone number
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionAlreadyLive is returned when linking a phone that already has
	// a live connection
	ErrSessionAlreadyLive = errors.New("session already has a live connection")

	// ErrRuleNotFound is returned when a redirection rule does not exist
	ErrRuleNotFound = errors.New("redirection rule not found")

	// ErrInvalidRule is returned when a rule is missing its ID or owner
	ErrInvalidRule = errors.New("invalid redirection rule")

	// ErrSelfRedirection is returned when a rule forwards a chat to itself
	ErrSelfRedirection = errors.New("rule source and destination overlap")

	// ErrUserNotFound is returned when no license record exists for a user
	ErrUserNotFound = errors.New("user not found")

	// ErrUnknownPlan is returned when /activer names a plan that does not exist
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrAccessDenied is returned when a license check fails
	ErrAccessDenied = errors.New("access denied")

	// ErrDatabaseOperation is returned when a store read or write fails.
	// Callers keep their in-memory state so the change can be re-saved.
	ErrDatabaseOperation = errors.New("database operation failed")
)
