package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"accountsvc/internal/domain"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *UsersStore, email string) domain.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), domain.NewUser{
		Email:        email,
		PasswordHash: "hash-1",
		FirstName:    "Ann",
		LastName:     "Lee",
		EmailProof:   domain.SecretToken{Hash: "proof-" + email, ExpiresAt: t0.Add(time.Hour)},
		At:           t0,
		By:           domain.ActorSelf,
	})
	require.NoError(t, err)
	return u
}

func TestCreateUser_UniqueAmongNonDeleted(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()
	u := seed(t, s, "a@x.com")
	require.NotEmpty(t, u.ID)
	require.False(t, u.IsVerified)
	require.False(t, u.IsActive)

	_, err := s.CreateUser(ctx, domain.NewUser{Email: "a@x.com", PasswordHash: "h"})
	require.ErrorIs(t, err, domain.ErrEmailTaken)

	require.NoError(t, s.SoftDeleteUser(ctx, "a@x.com", t0, domain.ActorSelf))
	_, err = s.GetUserByEmail(ctx, "a@x.com")
	require.ErrorIs(t, err, domain.ErrNotFound)

	again := seed(t, s, "a@x.com")
	require.NotEqual(t, u.ID, again.ID)
}

func TestConsumeEmailProof(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()
	seed(t, s, "a@x.com")

	_, err := s.ConsumeEmailProof(ctx, "unknown", t0, domain.ActorSelf)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, err = s.ConsumeEmailProof(ctx, "proof-a@x.com", t0.Add(time.Hour), domain.ActorSelf)
	require.ErrorIs(t, err, domain.ErrTokenExpired, "now == expiresAt counts as expired")

	u, err := s.ConsumeEmailProof(ctx, "proof-a@x.com", t0.Add(time.Minute), domain.ActorSelf)
	require.NoError(t, err)
	require.True(t, u.IsVerified)
	require.True(t, u.IsActive)
	require.False(t, u.EmailProof.IsSet())
	require.True(t, u.EmailProof.ExpiresAt.IsZero())
	require.Equal(t, t0.Add(time.Minute), u.UpdatedAt)

	_, err = s.ConsumeEmailProof(ctx, "proof-a@x.com", t0.Add(time.Minute), domain.ActorSelf)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestConsumeEmailProof_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()
	seed(t, s, "a@x.com")

	const n = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		invalids int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeEmailProof(ctx, "proof-a@x.com", t0, domain.ActorSelf)
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				wins++
			case domain.ErrTokenInvalid:
				invalids++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
	require.Equal(t, n-1, invalids)
}

func TestIssuePasswordReset_OverwritesAndReturnsBefore(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()
	seed(t, s, "a@x.com")

	first := domain.SecretToken{Hash: "r1", ExpiresAt: t0.Add(time.Hour)}
	second := domain.SecretToken{Hash: "r2", ExpiresAt: t0.Add(2 * time.Hour)}

	before, err := s.IssuePasswordReset(ctx, "a@x.com", first, t0, domain.ActorSelf)
	require.NoError(t, err)
	require.False(t, before.PasswordReset.IsSet())

	before, err = s.IssuePasswordReset(ctx, "a@x.com", second, t0, domain.ActorSelf)
	require.NoError(t, err)
	require.Equal(t, first, before.PasswordReset)

	_, err = s.ConsumePasswordReset(ctx, "r1", "hash-2", t0, domain.ActorSelf)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)

	u, err := s.ConsumePasswordReset(ctx, "r2", "hash-2", t0, domain.ActorSelf)
	require.NoError(t, err)
	require.Equal(t, "hash-2", u.PasswordHash)
	require.False(t, u.PasswordReset.IsSet())

	_, err = s.IssuePasswordReset(ctx, "nobody@x.com", first, t0, domain.ActorSelf)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConsumePasswordReset_ExpiredLeavesRecord(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()
	seed(t, s, "a@x.com")
	_, err := s.IssuePasswordReset(ctx, "a@x.com", domain.SecretToken{Hash: "r1", ExpiresAt: t0.Add(time.Minute)}, t0, domain.ActorSelf)
	require.NoError(t, err)

	_, err = s.ConsumePasswordReset(ctx, "r1", "hash-2", t0.Add(2*time.Minute), domain.ActorSelf)
	require.ErrorIs(t, err, domain.ErrTokenExpired)

	u, err := s.GetUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "hash-1", u.PasswordHash)
	require.Equal(t, "r1", u.PasswordReset.Hash)
}

func TestConsumeOTP(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()
	seed(t, s, "a@x.com")

	_, err := s.ConsumeOTP(ctx, "nobody@x.com", 123456, t0, domain.ActorSelf)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.IssueEmailProof(ctx, "a@x.com", domain.SecretToken{Hash: "p2", ExpiresAt: t0.Add(time.Hour)},
		domain.OTP{Code: 123456, ExpiresAt: t0.Add(time.Minute)}, t0, domain.ActorSelf)
	require.NoError(t, err)

	_, err = s.ConsumeOTP(ctx, "a@x.com", 654321, t0, domain.ActorSelf)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)

	_, err = s.ConsumeOTP(ctx, "a@x.com", 123456, t0.Add(time.Minute), domain.ActorSelf)
	require.ErrorIs(t, err, domain.ErrTokenExpired)

	u, err := s.ConsumeOTP(ctx, "a@x.com", 123456, t0.Add(time.Second), domain.ActorSelf)
	require.NoError(t, err)
	require.False(t, u.OTP.IsSet())

	_, err = s.ConsumeOTP(ctx, "a@x.com", 123456, t0.Add(time.Second), domain.ActorSelf)
	require.ErrorIs(t, err, domain.ErrTokenInvalid)
}

func TestSwapPasswordHash(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()
	seed(t, s, "a@x.com")

	_, err := s.SwapPasswordHash(ctx, "a@x.com", "stale", "hash-2", t0, domain.ActorSelf)
	require.ErrorIs(t, err, domain.ErrNotFound)

	u, err := s.SwapPasswordHash(ctx, "a@x.com", "hash-1", "hash-2", t0, domain.ActorSelf)
	require.NoError(t, err)
	require.Equal(t, "hash-2", u.PasswordHash)
}

func TestSetMagicPassword_DisableClearsOTP(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()
	seed(t, s, "a@x.com")

	u, err := s.SetMagicPassword(ctx, "a@x.com", true, t0, domain.ActorSelf)
	require.NoError(t, err)
	require.True(t, u.MagicPasswordEnabled)

	_, err = s.IssueEmailProof(ctx, "a@x.com", domain.SecretToken{Hash: "p2", ExpiresAt: t0.Add(time.Hour)},
		domain.OTP{Code: 123456, ExpiresAt: t0.Add(time.Minute)}, t0, domain.ActorSelf)
	require.NoError(t, err)

	u, err = s.SetMagicPassword(ctx, "a@x.com", false, t0, domain.ActorSelf)
	require.NoError(t, err)
	require.False(t, u.MagicPasswordEnabled)
	require.False(t, u.OTP.IsSet())
	require.True(t, u.OTP.ExpiresAt.IsZero())
}

func TestSetActive(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()
	seed(t, s, "a@x.com")

	u, err := s.SetActive(ctx, "a@x.com", true, t0.Add(time.Second), "admin")
	require.NoError(t, err)
	require.True(t, u.IsActive)
	require.False(t, u.IsVerified)
	require.Equal(t, "admin", u.UpdatedBy)
}

func TestConsumeEmailProof_KeepsAdminDeactivation(t *testing.T) {
	ctx := context.Background()
	s := NewUsersStore()
	seed(t, s, "a@x.com")

	_, err := s.ConsumeEmailProof(ctx, "proof-a@x.com", t0, domain.ActorSelf)
	require.NoError(t, err)
	_, err = s.SetActive(ctx, "a@x.com", false, t0, "admin")
	require.NoError(t, err)

	tok := domain.SecretToken{Hash: "magic", ExpiresAt: t0.Add(time.Hour)}
	_, err = s.IssueEmailProof(ctx, "a@x.com", tok, domain.OTP{}, t0, domain.ActorSelf)
	require.NoError(t, err)

	u, err := s.ConsumeEmailProof(ctx, "magic", t0.Add(time.Minute), domain.ActorSelf)
	require.NoError(t, err)
	require.True(t, u.IsVerified)
	require.False(t, u.IsActive)
}
