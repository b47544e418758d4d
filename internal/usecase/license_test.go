package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/telefoot/relay/internal/domain"
	"github.com/telefoot/relay/internal/repository/memory"
)

func newTestLicense(now time.Time) *LicenseUseCase {
	uc := NewLicenseUseCase(memory.NewUserRepository(), zerolog.Nop())
	uc.now = func() time.Time { return now }
	return uc
}

func TestRegisterCreatesWaitingUser(t *testing.T) {
	uc := newTestLicense(time.Now())

	user, err := uc.Register(context.Background(), 42, "alice", "Alice")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Status != domain.UserStatusWaiting {
		t.Errorf("expected waiting status, got %q", user.Status)
	}

	ok, err := uc.Authorize(context.Background(), 42)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if ok {
		t.Error("waiting user must not be authorized")
	}
}

func TestRegisterDoesNotResetActivePlan(t *testing.T) {
	uc := newTestLicense(time.Now())

	if _, err := uc.Activate(context.Background(), 42, domain.PlanMonth); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if _, err := uc.Register(context.Background(), 42, "alice", "Alice"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	user, err := uc.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if user.Status != domain.UserStatusActive || user.Plan != domain.PlanMonth {
		t.Errorf("re-registration must not reset the plan, got %+v", user)
	}
}

func TestActivateGrantsPlanDuration(t *testing.T) {
	cases := []struct {
		plan string
		want time.Duration
	}{
		{domain.PlanTrial, 24 * time.Hour},
		{domain.PlanWeek, 7 * 24 * time.Hour},
		{domain.PlanMonth, 30 * 24 * time.Hour},
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		uc := newTestLicense(now)
		user, err := uc.Activate(context.Background(), 42, tc.plan)
		if err != nil {
			t.Fatalf("Activate(%s) failed: %v", tc.plan, err)
		}
		if user.ExpiresAt == nil || !user.ExpiresAt.Equal(now.Add(tc.want)) {
			t.Errorf("plan %s: expected expiry %v, got %v", tc.plan, now.Add(tc.want), user.ExpiresAt)
		}
	}
}

func TestActivateRejectsUnknownPlan(t *testing.T) {
	uc := newTestLicense(time.Now())

	_, err := uc.Activate(context.Background(), 42, "annuel")
	if !errors.Is(err, domain.ErrUnknownPlan) {
		t.Errorf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestActivateCreatesMissingUser(t *testing.T) {
	uc := newTestLicense(time.Now())

	user, err := uc.Activate(context.Background(), 99, domain.PlanTrial)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if user.Status != domain.UserStatusActive {
		t.Errorf("expected active status, got %q", user.Status)
	}

	ok, err := uc.Authorize(context.Background(), 99)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if !ok {
		t.Error("freshly activated user must be authorized")
	}
}

func TestAuthorizeDeniesExpiredPlan(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	uc := newTestLicense(start)

	if _, err := uc.Activate(context.Background(), 42, domain.PlanTrial); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Status still reads "active" in the store; expiry is checked lazily
	uc.now = func() time.Time { return start.Add(25 * time.Hour) }

	ok, err := uc.Authorize(context.Background(), 42)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if ok {
		t.Error("expired plan must be denied even while status reads active")
	}

	user, err := uc.Get(context.Background(), 42)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if user.Status != domain.UserStatusActive {
		t.Errorf("lazy expiry must not rewrite the record, got status %q", user.Status)
	}
}

func TestAuthorizeUnknownUser(t *testing.T) {
	uc := newTestLicense(time.Now())

	ok, err := uc.Authorize(context.Background(), 7)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if ok {
		t.Error("unknown user must not be authorized")
	}
}
