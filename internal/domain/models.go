package domain

import "time"

// ActorSelf marks audit fields written by the user acting on their own record.
const ActorSelf = "self"

// SecretToken is a stored one-time token. Hash is the digest of the raw value
// handed to the user; the raw value is never persisted. A zero value means unset.
type SecretToken struct {
	Hash      string
	ExpiresAt time.Time
}

func (t SecretToken) IsSet() bool { return t.Hash != "" }

// ValidAt reports whether the token is usable at now. now == ExpiresAt is expired.
func (t SecretToken) ValidAt(now time.Time) bool {
	return t.IsSet() && now.Before(t.ExpiresAt)
}

// OTP is the numeric magic password. Code 0 means unset.
type OTP struct {
	Code      int
	ExpiresAt time.Time
}

func (o OTP) IsSet() bool { return o.Code != 0 }

func (o OTP) ValidAt(now time.Time) bool {
	return o.IsSet() && now.Before(o.ExpiresAt)
}

// IssuedToken is a freshly generated token: Raw goes to the notification,
// Hash and ExpiresAt go to the store.
type IssuedToken struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

func (t IssuedToken) Stored() SecretToken {
	return SecretToken{Hash: t.Hash, ExpiresAt: t.ExpiresAt}
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string

	OTP           OTP
	EmailProof    SecretToken
	PasswordReset SecretToken

	MagicPasswordEnabled bool
	IsActive             bool
	IsVerified           bool
	IsDeleted            bool

	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time
	UpdatedBy string
}

// NewUser is the input to UsersStore.CreateUser.
type NewUser struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	EmailProof   SecretToken
	At           time.Time
	By           string
}

// UserView is the public projection of a User. It never carries the password
// hash, tokens or OTP. Timestamps are epoch milliseconds.
type UserView struct {
	ID                   string `json:"id"`
	Email                string `json:"email"`
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	MagicPasswordEnabled bool   `json:"magicPasswordEnabled"`
	IsActive             bool   `json:"isActive"`
	IsVerified           bool   `json:"isVerified"`
	CTime                int64  `json:"cTime"`
	CBy                  string `json:"cBy"`
	UTime                int64  `json:"uTime"`
	UBy                  string `json:"uBy"`
}

func (u User) View() UserView {
	return UserView{
		ID:                   u.ID,
		Email:                u.Email,
		FirstName:            u.FirstName,
		LastName:             u.LastName,
		MagicPasswordEnabled: u.MagicPasswordEnabled,
		IsActive:             u.IsActive,
		IsVerified:           u.IsVerified,
		CTime:                EpochMillis(u.CreatedAt),
		CBy:                  u.CreatedBy,
		UTime:                EpochMillis(u.UpdatedAt),
		UBy:                  u.UpdatedBy,
	}
}

// Ack acknowledges a token request without revealing the token.
type Ack struct {
	Message          string `json:"message"`
	ExpiresAt        int64  `json:"expiresAt,omitempty"`
	ReplacedPrevious bool   `json:"replacedPrevious,omitempty"`
}

type Registration struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type PasswordChange struct {
	CurrentPassword string
	NewPassword     string
}

type NotificationKind string

const (
	NotifyEmailVerification NotificationKind = "email_verification"
	NotifyPasswordReset     NotificationKind = "password_reset"
	NotifyMagicLink         NotificationKind = "magic_link"
)

// Notification is what the core asks an external collaborator to deliver.
type Notification struct {
	Kind      NotificationKind
	Email     string
	FirstName string
	Token     string
	OTP       int
	ExpiresAt time.Time
}

func EpochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// StoreTime normalizes t to the precision every store keeps.
func StoreTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
