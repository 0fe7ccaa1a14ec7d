package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"accountsvc/internal/domain"
)

type stubUsersStore struct {
	t *testing.T

	createUserFunc           func(context.Context, domain.NewUser) (domain.User, error)
	getUserByEmailFunc       func(context.Context, string) (domain.User, error)
	issueEmailProofFunc      func(context.Context, string, domain.SecretToken, domain.OTP, time.Time, string) (domain.User, error)
	issuePasswordResetFunc   func(context.Context, string, domain.SecretToken, time.Time, string) (domain.User, error)
	consumeEmailProofFunc    func(context.Context, string, time.Time, string) (domain.User, error)
	consumePasswordResetFunc func(context.Context, string, string, time.Time, string) (domain.User, error)
	consumeOTPFunc           func(context.Context, string, int, time.Time, string) (domain.User, error)
	swapPasswordHashFunc     func(context.Context, string, string, string, time.Time, string) (domain.User, error)
	setMagicPasswordFunc     func(context.Context, string, bool, time.Time, string) (domain.User, error)
	setActiveFunc            func(context.Context, string, bool, time.Time, string) (domain.User, error)
	softDeleteUserFunc       func(context.Context, string, time.Time, string) error
}

func (s *stubUsersStore) CreateUser(ctx context.Context, u domain.NewUser) (domain.User, error) {
	if s.createUserFunc != nil {
		return s.createUserFunc(ctx, u)
	}
	s.t.Fatalf("CreateUser called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	if s.getUserByEmailFunc != nil {
		return s.getUserByEmailFunc(ctx, email)
	}
	s.t.Fatalf("GetUserByEmail called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) IssueEmailProof(ctx context.Context, email string, tok domain.SecretToken, otp domain.OTP, at time.Time, by string) (domain.User, error) {
	if s.issueEmailProofFunc != nil {
		return s.issueEmailProofFunc(ctx, email, tok, otp, at, by)
	}
	s.t.Fatalf("IssueEmailProof called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) IssuePasswordReset(ctx context.Context, email string, tok domain.SecretToken, at time.Time, by string) (domain.User, error) {
	if s.issuePasswordResetFunc != nil {
		return s.issuePasswordResetFunc(ctx, email, tok, at, by)
	}
	s.t.Fatalf("IssuePasswordReset called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) ConsumeEmailProof(ctx context.Context, hash string, now time.Time, by string) (domain.User, error) {
	if s.consumeEmailProofFunc != nil {
		return s.consumeEmailProofFunc(ctx, hash, now, by)
	}
	s.t.Fatalf("ConsumeEmailProof called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) ConsumePasswordReset(ctx context.Context, hash, newHash string, now time.Time, by string) (domain.User, error) {
	if s.consumePasswordResetFunc != nil {
		return s.consumePasswordResetFunc(ctx, hash, newHash, now, by)
	}
	s.t.Fatalf("ConsumePasswordReset called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) ConsumeOTP(ctx context.Context, email string, code int, now time.Time, by string) (domain.User, error) {
	if s.consumeOTPFunc != nil {
		return s.consumeOTPFunc(ctx, email, code, now, by)
	}
	s.t.Fatalf("ConsumeOTP called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) SwapPasswordHash(ctx context.Context, email, current, next string, at time.Time, by string) (domain.User, error) {
	if s.swapPasswordHashFunc != nil {
		return s.swapPasswordHashFunc(ctx, email, current, next, at, by)
	}
	s.t.Fatalf("SwapPasswordHash called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) SetMagicPassword(ctx context.Context, email string, enabled bool, at time.Time, by string) (domain.User, error) {
	if s.setMagicPasswordFunc != nil {
		return s.setMagicPasswordFunc(ctx, email, enabled, at, by)
	}
	s.t.Fatalf("SetMagicPassword called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) SetActive(ctx context.Context, email string, active bool, at time.Time, by string) (domain.User, error) {
	if s.setActiveFunc != nil {
		return s.setActiveFunc(ctx, email, active, at, by)
	}
	s.t.Fatalf("SetActive called unexpectedly")
	return domain.User{}, errors.New("unexpected call")
}

func (s *stubUsersStore) SoftDeleteUser(ctx context.Context, email string, at time.Time, by string) error {
	if s.softDeleteUserFunc != nil {
		return s.softDeleteUserFunc(ctx, email, at, by)
	}
	s.t.Fatalf("SoftDeleteUser called unexpectedly")
	return errors.New("unexpected call")
}
