package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accountsvc/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the subset of *pgxpool.Pool the store needs.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type UsersStore struct {
	db querier
}

func NewUsersStore(db querier) *UsersStore {
	return &UsersStore{db: db}
}

func (s *UsersStore) CreateUser(ctx context.Context, in domain.NewUser) (domain.User, error) {
	const q = `
		INSERT INTO users (
			email, password_hash, first_name, last_name,
			email_proof_token, email_proof_token_expires_at,
			c_time, c_by, u_time, u_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $7, $8)
		RETURNING ` + userColumns

	u, err := scanUser(s.db.QueryRow(ctx, q,
		in.Email,
		in.PasswordHash,
		in.FirstName,
		in.LastName,
		nullIfEmpty(in.EmailProof.Hash),
		nullIfZero(in.EmailProof.ExpiresAt),
		in.At,
		in.By,
	))
	if err != nil {
		return domain.User{}, mapUserWriteError(err)
	}
	return u, nil
}

func (s *UsersStore) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND NOT is_deleted`

	u, err := scanUser(s.db.QueryRow(ctx, q, email))
	if err != nil {
		return domain.User{}, notFound(err, "get user by email")
	}
	return u, nil
}

// IssueEmailProof locks the live row, overwrites the token pair (and the OTP
// pair when otp is set) and returns the row as it was before the update.
func (s *UsersStore) IssueEmailProof(ctx context.Context, email string, tok domain.SecretToken, otp domain.OTP, at time.Time, by string) (domain.User, error) {
	const q = `
		WITH prev AS (
			SELECT * FROM users WHERE email = $1 AND NOT is_deleted FOR UPDATE
		), upd AS (
			UPDATE users u SET
				email_proof_token = $2,
				email_proof_token_expires_at = $3,
				otp = COALESCE($4, u.otp),
				otp_expires_at = COALESCE($5, u.otp_expires_at),
				u_time = $6,
				u_by = $7
			FROM prev
			WHERE u.id = prev.id
		)
		SELECT ` + userColumns + ` FROM prev`

	var code, codeExp any
	if otp.IsSet() {
		code, codeExp = otp.Code, otp.ExpiresAt
	}
	u, err := scanUser(s.db.QueryRow(ctx, q, email, tok.Hash, tok.ExpiresAt, code, codeExp, at, by))
	if err != nil {
		return domain.User{}, notFound(err, "issue email proof")
	}
	return u, nil
}

func (s *UsersStore) IssuePasswordReset(ctx context.Context, email string, tok domain.SecretToken, at time.Time, by string) (domain.User, error) {
	const q = `
		WITH prev AS (
			SELECT * FROM users WHERE email = $1 AND NOT is_deleted FOR UPDATE
		), upd AS (
			UPDATE users u SET
				password_reset_token = $2,
				password_reset_token_expires_at = $3,
				u_time = $4,
				u_by = $5
			FROM prev
			WHERE u.id = prev.id
		)
		SELECT ` + userColumns + ` FROM prev`

	u, err := scanUser(s.db.QueryRow(ctx, q, email, tok.Hash, tok.ExpiresAt, at, by))
	if err != nil {
		return domain.User{}, notFound(err, "issue password reset")
	}
	return u, nil
}

func (s *UsersStore) ConsumeEmailProof(ctx context.Context, tokenHash string, now time.Time, by string) (domain.User, error) {
	const q = `
		UPDATE users SET
			is_active = CASE WHEN is_verified THEN is_active ELSE true END,
			is_verified = true,
			email_proof_token = NULL,
			email_proof_token_expires_at = NULL,
			u_time = $2,
			u_by = $3
		WHERE email_proof_token = $1 AND email_proof_token_expires_at > $2 AND NOT is_deleted
		RETURNING ` + userColumns
	const qExists = `SELECT EXISTS (SELECT 1 FROM users WHERE email_proof_token = $1 AND NOT is_deleted)`

	if tokenHash == "" {
		return domain.User{}, domain.ErrTokenInvalid
	}
	u, err := scanUser(s.db.QueryRow(ctx, q, tokenHash, now, by))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, s.classifyTokenMiss(ctx, qExists, tokenHash)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("consume email proof: %w", err)
	}
	return u, nil
}

func (s *UsersStore) ConsumePasswordReset(ctx context.Context, tokenHash, newPasswordHash string, now time.Time, by string) (domain.User, error) {
	const q = `
		UPDATE users SET
			password_hash = $2,
			password_reset_token = NULL,
			password_reset_token_expires_at = NULL,
			u_time = $3,
			u_by = $4
		WHERE password_reset_token = $1 AND password_reset_token_expires_at > $3 AND NOT is_deleted
		RETURNING ` + userColumns
	const qExists = `SELECT EXISTS (SELECT 1 FROM users WHERE password_reset_token = $1 AND NOT is_deleted)`

	if tokenHash == "" {
		return domain.User{}, domain.ErrTokenInvalid
	}
	u, err := scanUser(s.db.QueryRow(ctx, q, tokenHash, newPasswordHash, now, by))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, s.classifyTokenMiss(ctx, qExists, tokenHash)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("consume password reset: %w", err)
	}
	return u, nil
}

func (s *UsersStore) ConsumeOTP(ctx context.Context, email string, code int, now time.Time, by string) (domain.User, error) {
	const q = `
		UPDATE users SET
			otp = NULL,
			otp_expires_at = NULL,
			u_time = $3,
			u_by = $4
		WHERE email = $1 AND otp = $2 AND otp_expires_at > $3 AND NOT is_deleted
		RETURNING ` + userColumns
	const qCurrent = `SELECT COALESCE(otp, 0) FROM users WHERE email = $1 AND NOT is_deleted`

	u, err := scanUser(s.db.QueryRow(ctx, q, email, code, now, by))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("consume otp: %w", err)
	}

	var current int
	if err := s.db.QueryRow(ctx, qCurrent, email).Scan(&current); err != nil {
		return domain.User{}, notFound(err, "classify otp")
	}
	if current != 0 && current == code {
		return domain.User{}, domain.ErrTokenExpired
	}
	return domain.User{}, domain.ErrTokenInvalid
}

func (s *UsersStore) SwapPasswordHash(ctx context.Context, email, currentHash, newHash string, at time.Time, by string) (domain.User, error) {
	const q = `
		UPDATE users SET password_hash = $3, u_time = $4, u_by = $5
		WHERE email = $1 AND password_hash = $2 AND NOT is_deleted
		RETURNING ` + userColumns

	u, err := scanUser(s.db.QueryRow(ctx, q, email, currentHash, newHash, at, by))
	if err != nil {
		return domain.User{}, notFound(err, "swap password hash")
	}
	return u, nil
}

func (s *UsersStore) SetMagicPassword(ctx context.Context, email string, enabled bool, at time.Time, by string) (domain.User, error) {
	const q = `
		UPDATE users SET
			magic_password_enabled = $2,
			otp = CASE WHEN $2 THEN otp END,
			otp_expires_at = CASE WHEN $2 THEN otp_expires_at END,
			u_time = $3,
			u_by = $4
		WHERE email = $1 AND NOT is_deleted
		RETURNING ` + userColumns

	u, err := scanUser(s.db.QueryRow(ctx, q, email, enabled, at, by))
	if err != nil {
		return domain.User{}, notFound(err, "set magic password")
	}
	return u, nil
}

func (s *UsersStore) SetActive(ctx context.Context, email string, active bool, at time.Time, by string) (domain.User, error) {
	const q = `
		UPDATE users SET is_active = $2, u_time = $3, u_by = $4
		WHERE email = $1 AND NOT is_deleted
		RETURNING ` + userColumns

	u, err := scanUser(s.db.QueryRow(ctx, q, email, active, at, by))
	if err != nil {
		return domain.User{}, notFound(err, "set active")
	}
	return u, nil
}

func (s *UsersStore) SoftDeleteUser(ctx context.Context, email string, at time.Time, by string) error {
	const q = `
		UPDATE users SET
			is_deleted = true,
			is_active = false,
			otp = NULL,
			otp_expires_at = NULL,
			email_proof_token = NULL,
			email_proof_token_expires_at = NULL,
			password_reset_token = NULL,
			password_reset_token_expires_at = NULL,
			u_time = $2,
			u_by = $3
		WHERE email = $1 AND NOT is_deleted
	`
	tag, err := s.db.Exec(ctx, q, email, at, by)
	if err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// classifyTokenMiss runs after a conditional consume matched no row. A token
// still stored on a live row can only have failed the expiry predicate.
func (s *UsersStore) classifyTokenMiss(ctx context.Context, q, tokenHash string) error {
	var exists bool
	if err := s.db.QueryRow(ctx, q, tokenHash).Scan(&exists); err != nil {
		return fmt.Errorf("classify token: %w", err)
	}
	if exists {
		return domain.ErrTokenExpired
	}
	return domain.ErrTokenInvalid
}

func mapUserWriteError(err error) error {
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		switch pgerr.ConstraintName {
		case "users_email_uq":
			return domain.ErrEmailTaken
		default:
			return fmt.Errorf("unique violation (%s): %w", pgerr.ConstraintName, err)
		}
	}
	return fmt.Errorf("create user: %w", err)
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
