package auth

import "time"

type User struct {
	ID            string
	Email         string
	Username      *string
	Name          *string
	AvatarURL     *string
	PasswordHash  *string
	EmailVerified *time.Time
	MFAEnabled    bool
	TOTPSecret    *string
	FailedLogins  int
	LockoutUntil  *time.Time
	DeletedAt     *time.Time
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Locked reports whether the account is currently inside a lockout window.
func (u *User) Locked(now time.Time) bool {
	return u.LockoutUntil != nil && u.LockoutUntil.After(now)
}

type OAuthAccount struct {
	ID                string
	UserID            string
	Provider          string
	ProviderAccountID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BackupCode is one recovery code. Code holds the encrypted value; the row
// is deleted the moment the code is redeemed.
type BackupCode struct {
	ID        string
	UserID    string
	Code      string
	CreatedAt time.Time
}

// OneTimeToken is a single-use credential (password reset, email
// verification, magic link). Only its hash ever reaches the database.
type OneTimeToken struct {
	ID        string
	UserID    string
	TokenHash string
	Purpose   string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

const (
	TokenPurposeReset     = "password_reset"
	TokenPurposeVerify    = "email_verification"
	TokenPurposeMagicLink = "magic_link"
)
