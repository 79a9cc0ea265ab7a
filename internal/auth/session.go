package auth

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionActive  SessionStatus = "ACTIVE"
	SessionRevoked SessionStatus = "REVOKED"
	SessionExpired SessionStatus = "EXPIRED"
)

// Session is one row per successful authentication. RefreshTokenHash is
// the hash of the current refresh token; rotation swaps it atomically so
// the prior raw token stops matching the instant a new one is issued.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	Status           SessionStatus
	IP               string
	UserAgent        string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	LastActiveAt     time.Time
	CreatedAt        time.Time
}

func (s *Session) Usable(now time.Time) bool {
	return s.Status == SessionActive && s.ExpiresAt.After(now)
}

func NewSessionID() string {
	return uuid.NewString()
}
