package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"time"

	"accountsvc/internal/domain"
)

// Token purposes. They are mixed into the stored digest so a value issued for
// one purpose never matches a lookup for another.
const (
	PurposeEmailProof    = "email_proof"
	PurposePasswordReset = "password_reset"
)

const tokenBytes = 32

// TokenIssuer generates one-time secrets. It owns no state beyond its config.
type TokenIssuer struct {
	Rand             io.Reader
	Now              func() time.Time
	OTPDigits        int
	OTPTTL           time.Duration
	EmailProofTTL    time.Duration
	PasswordResetTTL time.Duration
}

// resolved returns a copy with unset fields defaulted. The receiver is never
// written, so one issuer can serve concurrent callers.
func (t *TokenIssuer) resolved() TokenIssuer {
	c := *t
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.OTPDigits == 0 {
		c.OTPDigits = 6
	}
	if c.OTPTTL == 0 {
		c.OTPTTL = 10 * time.Minute
	}
	if c.EmailProofTTL == 0 {
		c.EmailProofTTL = 24 * time.Hour
	}
	if c.PasswordResetTTL == 0 {
		c.PasswordResetTTL = 30 * time.Minute
	}
	return c
}

// IssueOTP returns a code of exactly OTPDigits digits, uniform over
// [10^(d-1), 10^d).
func (t *TokenIssuer) IssueOTP() (domain.OTP, error) {
	c := t.resolved()
	if c.OTPDigits < 1 || c.OTPDigits > 9 {
		return domain.OTP{}, fmt.Errorf("otp digits out of range: %d", c.OTPDigits)
	}

	low := int64(1)
	for i := 1; i < c.OTPDigits; i++ {
		low *= 10
	}
	span := big.NewInt(low*10 - low)
	n, err := rand.Int(c.Rand, span)
	if err != nil {
		return domain.OTP{}, fmt.Errorf("read otp: %w", err)
	}

	return domain.OTP{
		Code:      int(low + n.Int64()),
		ExpiresAt: domain.StoreTime(c.Now().Add(c.OTPTTL)),
	}, nil
}

func (t *TokenIssuer) IssueEmailProofToken() (domain.IssuedToken, error) {
	c := t.resolved()
	return c.issue(PurposeEmailProof, c.EmailProofTTL)
}

func (t *TokenIssuer) IssuePasswordResetToken() (domain.IssuedToken, error) {
	c := t.resolved()
	return c.issue(PurposePasswordReset, c.PasswordResetTTL)
}

func (t *TokenIssuer) HashEmailProofToken(raw string) string {
	return HashToken(PurposeEmailProof, raw)
}

func (t *TokenIssuer) HashPasswordResetToken(raw string) string {
	return HashToken(PurposePasswordReset, raw)
}

func (t *TokenIssuer) issue(purpose string, ttl time.Duration) (domain.IssuedToken, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(t.Rand, buf); err != nil {
		return domain.IssuedToken{}, fmt.Errorf("read token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)
	return domain.IssuedToken{
		Raw:       raw,
		Hash:      HashToken(purpose, raw),
		ExpiresAt: domain.StoreTime(t.Now().Add(ttl)),
	}, nil
}

// HashToken is the digest stored for a raw token of the given purpose.
func HashToken(purpose, raw string) string {
	sum := sha256.Sum256([]byte(purpose + ":" + raw))
	return hex.EncodeToString(sum[:])
}

// SameHash compares two stored digests in constant time.
func SameHash(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
