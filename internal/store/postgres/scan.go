package postgres

import (
	"time"

	"accountsvc/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const userColumns = `id::text, email, password_hash, first_name, last_name,
	otp, otp_expires_at,
	email_proof_token, email_proof_token_expires_at,
	password_reset_token, password_reset_token_expires_at,
	magic_password_enabled, is_active, is_verified, is_deleted,
	c_time, c_by, u_time, u_by`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		u                          domain.User
		otp                        pgtype.Int4
		otpExp, proofExp, resetExp pgtype.Timestamptz
		proof, reset               pgtype.Text
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&otp,
		&otpExp,
		&proof,
		&proofExp,
		&reset,
		&resetExp,
		&u.MagicPasswordEnabled,
		&u.IsActive,
		&u.IsVerified,
		&u.IsDeleted,
		&u.CreatedAt,
		&u.CreatedBy,
		&u.UpdatedAt,
		&u.UpdatedBy,
	)
	if err != nil {
		return domain.User{}, err
	}

	if otp.Valid {
		u.OTP = domain.OTP{Code: int(otp.Int32), ExpiresAt: timestamptzOrZero(otpExp)}
	}
	if proof.Valid {
		u.EmailProof = domain.SecretToken{Hash: proof.String, ExpiresAt: timestamptzOrZero(proofExp)}
	}
	if reset.Valid {
		u.PasswordReset = domain.SecretToken{Hash: reset.String, ExpiresAt: timestamptzOrZero(resetExp)}
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func timestamptzOrZero(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
