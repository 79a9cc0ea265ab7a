package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the stateless claims carried by access tokens.
type AccessClaims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid,omitempty"`
	Email     string `json:"email,omitempty"`
	// ActorID is set on impersonation tokens and names the admin acting
	// as UserID.
	ActorID string `json:"act,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is the result of every successful authentication. The refresh
// token is opaque; its hash keys the session row.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenService issues short-lived signed access tokens and opaque
// long-lived refresh tokens.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
}

func NewTokenService(secret []byte, issuer string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		secret:     secret,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		leeway:     30 * time.Second,
	}
}

func (t *TokenService) AccessTTL() time.Duration  { return t.accessTTL }
func (t *TokenService) RefreshTTL() time.Duration { return t.refreshTTL }

func (t *TokenService) IssueAccess(userID, sessionID, email string) (string, time.Time, error) {
	return t.issue(userID, sessionID, email, "", t.accessTTL)
}

// IssueImpersonation mints an access-token-only credential for an admin
// acting as another user. No session row backs it and it cannot be
// refreshed.
func (t *TokenService) IssueImpersonation(actorID, targetID, email string, ttl time.Duration) (string, time.Time, error) {
	return t.issue(targetID, "", email, actorID, ttl)
}

func (t *TokenService) issue(userID, sessionID, email, actorID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := AccessClaims{
		UserID:    userID,
		SessionID: sessionID,
		Email:     email,
		ActorID:   actorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (t *TokenService) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return t.secret, nil
	},
		jwt.WithIssuer(t.issuer),
		jwt.WithLeeway(t.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// NewRefreshToken returns a fresh opaque refresh token and the hash under
// which it is stored.
func (t *TokenService) NewRefreshToken() (raw, hash string, err error) {
	raw, err = RandomToken(32)
	if err != nil {
		return "", "", err
	}
	return raw, HashString(raw), nil
}
