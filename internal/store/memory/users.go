// Package memory is an in-process UsersStore for dev mode and tests. Each
// method holds the store mutex for its whole conditional write, which gives
// the same all-or-nothing behavior the database stores get from a single
// conditional update.
package memory

import (
	"context"
	"sync"
	"time"

	"accountsvc/internal/domain"

	"github.com/google/uuid"
)

type UsersStore struct {
	mu    sync.Mutex
	users []*domain.User
}

func NewUsersStore() *UsersStore {
	return &UsersStore{}
}

func (s *UsersStore) Ping(context.Context) error { return nil }

func (s *UsersStore) CreateUser(_ context.Context, in domain.NewUser) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.byEmail(in.Email) != nil {
		return domain.User{}, domain.ErrEmailTaken
	}
	u := &domain.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		EmailProof:   in.EmailProof,
		CreatedAt:    in.At,
		CreatedBy:    in.By,
		UpdatedAt:    in.At,
		UpdatedBy:    in.By,
	}
	s.users = append(s.users, u)
	return *u, nil
}

func (s *UsersStore) GetUserByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.byEmail(email)
	if u == nil {
		return domain.User{}, domain.ErrNotFound
	}
	return *u, nil
}

func (s *UsersStore) IssueEmailProof(_ context.Context, email string, tok domain.SecretToken, otp domain.OTP, at time.Time, by string) (domain.User, error) {
	before, _, err := s.mutateByEmail(email, func(u *domain.User) {
		u.EmailProof = tok
		if otp.IsSet() {
			u.OTP = otp
		}
		touch(u, at, by)
	})
	return before, err
}

func (s *UsersStore) IssuePasswordReset(_ context.Context, email string, tok domain.SecretToken, at time.Time, by string) (domain.User, error) {
	before, _, err := s.mutateByEmail(email, func(u *domain.User) {
		u.PasswordReset = tok
		touch(u, at, by)
	})
	return before, err
}

func (s *UsersStore) ConsumeEmailProof(_ context.Context, tokenHash string, now time.Time, by string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tokenHash == "" {
		return domain.User{}, domain.ErrTokenInvalid
	}
	u := s.find(func(u *domain.User) bool { return u.EmailProof.Hash == tokenHash })
	if err := classify(u, func(u *domain.User) domain.SecretToken { return u.EmailProof }, now); err != nil {
		return domain.User{}, err
	}
	u.EmailProof = domain.SecretToken{}
	// only the first verification activates; later links keep SetActive's state
	if !u.IsVerified {
		u.IsActive = true
	}
	u.IsVerified = true
	touch(u, now, by)
	return *u, nil
}

func (s *UsersStore) ConsumePasswordReset(_ context.Context, tokenHash, newPasswordHash string, now time.Time, by string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tokenHash == "" {
		return domain.User{}, domain.ErrTokenInvalid
	}
	u := s.find(func(u *domain.User) bool { return u.PasswordReset.Hash == tokenHash })
	if err := classify(u, func(u *domain.User) domain.SecretToken { return u.PasswordReset }, now); err != nil {
		return domain.User{}, err
	}
	u.PasswordReset = domain.SecretToken{}
	u.PasswordHash = newPasswordHash
	touch(u, now, by)
	return *u, nil
}

func (s *UsersStore) ConsumeOTP(_ context.Context, email string, code int, now time.Time, by string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.byEmail(email)
	if u == nil {
		return domain.User{}, domain.ErrNotFound
	}
	if !u.OTP.IsSet() || u.OTP.Code != code {
		return domain.User{}, domain.ErrTokenInvalid
	}
	if !u.OTP.ValidAt(now) {
		return domain.User{}, domain.ErrTokenExpired
	}
	u.OTP = domain.OTP{}
	touch(u, now, by)
	return *u, nil
}

func (s *UsersStore) SwapPasswordHash(_ context.Context, email, currentHash, newHash string, at time.Time, by string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.byEmail(email)
	if u == nil || u.PasswordHash != currentHash {
		return domain.User{}, domain.ErrNotFound
	}
	u.PasswordHash = newHash
	touch(u, at, by)
	return *u, nil
}

func (s *UsersStore) SetMagicPassword(_ context.Context, email string, enabled bool, at time.Time, by string) (domain.User, error) {
	_, after, err := s.mutateByEmail(email, func(u *domain.User) {
		u.MagicPasswordEnabled = enabled
		if !enabled {
			u.OTP = domain.OTP{}
		}
		touch(u, at, by)
	})
	return after, err
}

func (s *UsersStore) SetActive(_ context.Context, email string, active bool, at time.Time, by string) (domain.User, error) {
	_, after, err := s.mutateByEmail(email, func(u *domain.User) {
		u.IsActive = active
		touch(u, at, by)
	})
	return after, err
}

func (s *UsersStore) SoftDeleteUser(_ context.Context, email string, at time.Time, by string) error {
	_, _, err := s.mutateByEmail(email, func(u *domain.User) {
		u.IsDeleted = true
		u.IsActive = false
		u.EmailProof = domain.SecretToken{}
		u.PasswordReset = domain.SecretToken{}
		u.OTP = domain.OTP{}
		touch(u, at, by)
	})
	return err
}

// mutateByEmail applies fn to the live record and returns copies taken
// before and after fn ran.
func (s *UsersStore) mutateByEmail(email string, fn func(u *domain.User)) (domain.User, domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.byEmail(email)
	if u == nil {
		return domain.User{}, domain.User{}, domain.ErrNotFound
	}
	before := *u
	fn(u)
	return before, *u, nil
}

func (s *UsersStore) byEmail(email string) *domain.User {
	return s.find(func(u *domain.User) bool { return u.Email == email })
}

func (s *UsersStore) find(match func(u *domain.User) bool) *domain.User {
	for _, u := range s.users {
		if !u.IsDeleted && match(u) {
			return u
		}
	}
	return nil
}

func classify(u *domain.User, field func(*domain.User) domain.SecretToken, now time.Time) error {
	if u == nil {
		return domain.ErrTokenInvalid
	}
	if !field(u).ValidAt(now) {
		return domain.ErrTokenExpired
	}
	return nil
}

func touch(u *domain.User, at time.Time, by string) {
	u.UpdatedAt = at
	u.UpdatedBy = by
}
