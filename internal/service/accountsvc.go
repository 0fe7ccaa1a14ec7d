package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"accountsvc/internal/auth"
	"accountsvc/internal/domain"
	"accountsvc/internal/validate"
)

// UsersStore is the user record store. Every mutating method is a single
// conditional write: it either applies fully or reports why it did not.
//
// Lookups ignore soft-deleted records. Consume* methods return
// domain.ErrTokenExpired when the token is still stored but past expiry and
// domain.ErrTokenInvalid otherwise.
type UsersStore interface {
	CreateUser(ctx context.Context, u domain.NewUser) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// IssueEmailProof overwrites the email proof token and, when otp is set,
	// the OTP. It returns the record as it was before the write.
	IssueEmailProof(ctx context.Context, email string, tok domain.SecretToken, otp domain.OTP, at time.Time, by string) (domain.User, error)
	// IssuePasswordReset overwrites the reset token and returns the prior record.
	IssuePasswordReset(ctx context.Context, email string, tok domain.SecretToken, at time.Time, by string) (domain.User, error)

	ConsumeEmailProof(ctx context.Context, tokenHash string, now time.Time, by string) (domain.User, error)
	ConsumePasswordReset(ctx context.Context, tokenHash, newPasswordHash string, now time.Time, by string) (domain.User, error)
	ConsumeOTP(ctx context.Context, email string, code int, now time.Time, by string) (domain.User, error)

	// SwapPasswordHash replaces the hash only if it still equals currentHash.
	SwapPasswordHash(ctx context.Context, email, currentHash, newHash string, at time.Time, by string) (domain.User, error)
	SetMagicPassword(ctx context.Context, email string, enabled bool, at time.Time, by string) (domain.User, error)
	SetActive(ctx context.Context, email string, active bool, at time.Time, by string) (domain.User, error)
	SoftDeleteUser(ctx context.Context, email string, at time.Time, by string) error
}

type TokenIssuer interface {
	IssueOTP() (domain.OTP, error)
	IssueEmailProofToken() (domain.IssuedToken, error)
	IssuePasswordResetToken() (domain.IssuedToken, error)
	HashEmailProofToken(raw string) string
	HashPasswordResetToken(raw string) string
}

type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) (bool, error)
}

// Notifier delivers a notification out of band. The service only requests it.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

type AccountService struct {
	Users     UsersStore
	Tokens    TokenIssuer
	Passwords PasswordHasher
	Notifier  Notifier
	Logger    *slog.Logger
	Now       func() time.Time

	// RevealUnknownEmail makes GeneratePasswordResetToken return
	// domain.ErrNotFound for unknown addresses instead of a uniform ack.
	RevealUnknownEmail bool
}

const (
	ackVerificationSent = "verification link sent"
	ackMagicLinkSent    = "magic link sent"
	ackResetSent        = "if the account exists, a password reset link has been sent"
)

func (s *AccountService) now() time.Time {
	if s.Now == nil {
		return domain.StoreTime(time.Now())
	}
	return domain.StoreTime(s.Now())
}

func (s *AccountService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *AccountService) Register(ctx context.Context, in domain.Registration) (domain.UserView, error) {
	in, err := validate.Registration(in)
	if err != nil {
		return domain.UserView{}, err
	}

	hash, err := s.Passwords.Hash(in.Password)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("hash password: %w", err)
	}
	tok, err := s.Tokens.IssueEmailProofToken()
	if err != nil {
		return domain.UserView{}, err
	}

	u, err := s.Users.CreateUser(ctx, domain.NewUser{
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		EmailProof:   tok.Stored(),
		At:           s.now(),
		By:           domain.ActorSelf,
	})
	if err != nil {
		return domain.UserView{}, err
	}

	// the account exists either way; the link can be re-requested
	if err := s.notify(ctx, domain.Notification{
		Kind:      domain.NotifyEmailVerification,
		Email:     u.Email,
		FirstName: u.FirstName,
		Token:     tok.Raw,
		ExpiresAt: tok.ExpiresAt,
	}); err != nil {
		s.logger().Warn("verification notification failed", "user_id", u.ID, "err", err)
	}

	return u.View(), nil
}

func (s *AccountService) AccountVerification(ctx context.Context, token string) (domain.UserView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.UserView{}, domain.ErrTokenInvalid
	}

	u, err := s.Users.ConsumeEmailProof(ctx, s.Tokens.HashEmailProofToken(token), s.now(), domain.ActorSelf)
	if err != nil {
		return domain.UserView{}, err
	}
	return u.View(), nil
}

// GenerateToken re-issues the email proof token, and the OTP for users with
// magic password enabled. existingAuthToken is optional; when it matches the
// token being replaced the ack reports ReplacedPrevious.
func (s *AccountService) GenerateToken(ctx context.Context, email, existingAuthToken string) (domain.Ack, error) {
	email, err := validate.EmailAddress(email)
	if err != nil {
		return domain.Ack{}, err
	}

	current, err := s.Users.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.Ack{}, err
	}

	tok, err := s.Tokens.IssueEmailProofToken()
	if err != nil {
		return domain.Ack{}, err
	}
	var otp domain.OTP
	if current.MagicPasswordEnabled {
		otp, err = s.Tokens.IssueOTP()
		if err != nil {
			return domain.Ack{}, err
		}
	}

	before, err := s.Users.IssueEmailProof(ctx, email, tok.Stored(), otp, s.now(), domain.ActorSelf)
	if err != nil {
		return domain.Ack{}, err
	}

	kind, msg := domain.NotifyMagicLink, ackMagicLinkSent
	if !before.IsVerified {
		kind, msg = domain.NotifyEmailVerification, ackVerificationSent
	}
	if err := s.notify(ctx, domain.Notification{
		Kind:      kind,
		Email:     before.Email,
		FirstName: before.FirstName,
		Token:     tok.Raw,
		OTP:       otp.Code,
		ExpiresAt: tok.ExpiresAt,
	}); err != nil {
		s.logger().Error("token notification failed", "user_id", before.ID, "kind", kind, "err", err)
		return domain.Ack{}, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}

	ack := domain.Ack{Message: msg, ExpiresAt: domain.EpochMillis(tok.ExpiresAt)}
	if existing := strings.TrimSpace(existingAuthToken); existing != "" {
		ack.ReplacedPrevious = auth.SameHash(s.Tokens.HashEmailProofToken(existing), before.EmailProof.Hash)
	}
	return ack, nil
}

func (s *AccountService) GeneratePasswordResetToken(ctx context.Context, email string) (domain.Ack, error) {
	email, err := validate.EmailAddress(email)
	if err != nil {
		return domain.Ack{}, err
	}
	ack := domain.Ack{Message: ackResetSent}

	tok, err := s.Tokens.IssuePasswordResetToken()
	if err != nil {
		return domain.Ack{}, err
	}

	before, err := s.Users.IssuePasswordReset(ctx, email, tok.Stored(), s.now(), domain.ActorSelf)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && !s.RevealUnknownEmail {
			return ack, nil
		}
		return domain.Ack{}, err
	}

	if err := s.notify(ctx, domain.Notification{
		Kind:      domain.NotifyPasswordReset,
		Email:     before.Email,
		FirstName: before.FirstName,
		Token:     tok.Raw,
		ExpiresAt: tok.ExpiresAt,
	}); err != nil {
		s.logger().Warn("password reset notification failed", "user_id", before.ID, "err", err)
	}

	return ack, nil
}

func (s *AccountService) ForgetPassword(ctx context.Context, token, newPassword string) (domain.UserView, error) {
	newPassword, err := validate.NewPassword(newPassword)
	if err != nil {
		return domain.UserView{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.UserView{}, domain.ErrTokenInvalid
	}

	hash, err := s.Passwords.Hash(newPassword)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.Users.ConsumePasswordReset(ctx, s.Tokens.HashPasswordResetToken(token), hash, s.now(), domain.ActorSelf)
	if err != nil {
		return domain.UserView{}, err
	}
	return u.View(), nil
}

// VerifyOTP consumes the magic password. Unknown emails are reported as an
// invalid token so the endpoint does not reveal which addresses exist.
func (s *AccountService) VerifyOTP(ctx context.Context, email string, code int) (domain.UserView, error) {
	email, code, err := validate.OTP(email, code)
	if err != nil {
		return domain.UserView{}, err
	}

	u, err := s.Users.ConsumeOTP(ctx, email, code, s.now(), domain.ActorSelf)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.UserView{}, domain.ErrTokenInvalid
		}
		return domain.UserView{}, err
	}
	return u.View(), nil
}

// Authenticate checks credentials only. It issues no session.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (domain.UserView, error) {
	u, err := s.authenticate(ctx, email, password)
	if err != nil {
		return domain.UserView{}, err
	}
	return u.View(), nil
}

func (s *AccountService) ChangePassword(ctx context.Context, email string, in domain.PasswordChange) (domain.UserView, error) {
	in, err := validate.PasswordChange(in)
	if err != nil {
		return domain.UserView{}, err
	}
	u, err := s.authenticate(ctx, email, in.CurrentPassword)
	if err != nil {
		return domain.UserView{}, err
	}

	hash, err := s.Passwords.Hash(in.NewPassword)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("hash password: %w", err)
	}

	updated, err := s.Users.SwapPasswordHash(ctx, u.Email, u.PasswordHash, hash, s.now(), domain.ActorSelf)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// lost a race with another password change
			return domain.UserView{}, domain.ErrInvalidCredentials
		}
		return domain.UserView{}, err
	}
	return updated.View(), nil
}

func (s *AccountService) SetMagicPassword(ctx context.Context, email, password string, enabled bool) (domain.UserView, error) {
	u, err := s.authenticate(ctx, email, password)
	if err != nil {
		return domain.UserView{}, err
	}
	updated, err := s.Users.SetMagicPassword(ctx, u.Email, enabled, s.now(), domain.ActorSelf)
	if err != nil {
		return domain.UserView{}, err
	}
	return updated.View(), nil
}

// SetActive is an administrative transition and performs no credential check.
func (s *AccountService) SetActive(ctx context.Context, email string, active bool, by string) (domain.UserView, error) {
	email, err := validate.EmailAddress(email)
	if err != nil {
		return domain.UserView{}, err
	}
	if by == "" {
		by = domain.ActorSelf
	}
	u, err := s.Users.SetActive(ctx, email, active, s.now(), by)
	if err != nil {
		return domain.UserView{}, err
	}
	return u.View(), nil
}

func (s *AccountService) DeleteUser(ctx context.Context, email, password string) error {
	u, err := s.authenticate(ctx, email, password)
	if err != nil {
		return err
	}
	return s.Users.SoftDeleteUser(ctx, u.Email, s.now(), domain.ActorSelf)
}

func (s *AccountService) authenticate(ctx context.Context, email, password string) (domain.User, error) {
	email, password, err := validate.Login(email, password)
	if err != nil {
		return domain.User{}, err
	}

	u, err := s.Users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if !u.IsActive {
		return domain.User{}, domain.ErrInvalidCredentials
	}

	ok, err := s.Passwords.Verify(u.PasswordHash, password)
	if err != nil {
		return domain.User{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return u, nil
}

func (s *AccountService) notify(ctx context.Context, n domain.Notification) error {
	if s.Notifier == nil {
		return errors.New("notifier unavailable")
	}
	return s.Notifier.Notify(ctx, n)
}
