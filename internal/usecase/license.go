package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/telefoot/relay/internal/domain"
)

// LicenseUseCase manages user registrations and plan activations
type LicenseUseCase struct {
	userRepo domain.UserRepository
	logger   zerolog.Logger
	now      func() time.Time
}

// NewLicenseUseCase creates a license use case
func NewLicenseUseCase(userRepo domain.UserRepository, logger zerolog.Logger) *LicenseUseCase {
	return &LicenseUseCase{
		userRepo: userRepo,
		logger:   logger.With().Str("component", "license").Logger(),
		now:      time.Now,
	}
}

// Register records a user in waiting state. Registering an existing user
// refreshes the profile fields but never touches an already granted plan.
func (u *LicenseUseCase) Register(ctx context.Context, userID int64, username, firstName string) (*domain.User, error) {
	user, err := u.userRepo.Get(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	if user == nil {
		user = &domain.User{
			UserID:       userID,
			Status:       domain.UserStatusWaiting,
			RegisteredAt: u.now(),
		}
	}
	user.Username = username
	user.FirstName = firstName

	if err := u.userRepo.Upsert(ctx, user); err != nil {
		return nil, err
	}

	u.logger.Info().
		Int64("user_id", userID).
		Str("status", user.Status).
		Msg("User registered")
	return user, nil
}

// Activate grants a plan to a user. Unknown plan names are rejected. The
// user record is created on the fly when the admin activates an ID that
// never sent /start.
func (u *LicenseUseCase) Activate(ctx context.Context, userID int64, plan string) (*domain.User, error) {
	duration, ok := domain.PlanDuration(plan)
	if !ok {
		return nil, domain.ErrUnknownPlan
	}

	user, err := u.userRepo.Get(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}
	if user == nil {
		user = &domain.User{
			UserID:       userID,
			Status:       domain.UserStatusWaiting,
			RegisteredAt: u.now(),
		}
	}

	now := u.now()
	expires := now.Add(duration)
	user.Status = domain.UserStatusActive
	user.Plan = plan
	user.ActivatedAt = &now
	user.ExpiresAt = &expires

	if err := u.userRepo.Upsert(ctx, user); err != nil {
		return nil, err
	}

	u.logger.Info().
		Int64("user_id", userID).
		Str("plan", plan).
		Time("expires_at", expires).
		Msg("Plan activated")
	return user, nil
}

// Authorize reports whether a user currently holds a valid plan. Expiry is
// evaluated here on every call; there is no background sweep flipping
// records back to waiting.
func (u *LicenseUseCase) Authorize(ctx context.Context, userID int64) (bool, error) {
	user, err := u.userRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsAuthorized(u.now()), nil
}

// Get returns a user's license record
func (u *LicenseUseCase) Get(ctx context.Context, userID int64) (*domain.User, error) {
	return u.userRepo.Get(ctx, userID)
}

// Count returns the number of registered users
func (u *LicenseUseCase) Count(ctx context.Context) (int, error) {
	return u.userRepo.Count(ctx)
}
