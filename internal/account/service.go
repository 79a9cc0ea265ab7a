// Package account implements the credential and session engine: signup,
// sign-in with lockout, refresh-token rotation, MFA challenges, password
// reset and the single-use token flows around them.
package account

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/veyra/authd/internal/auth"
)

var timeNow = time.Now

// UserStore is the durable user state consumed by the service. The pgx
// implementation lives in internal/auth.
type UserStore interface {
	Create(ctx context.Context, email string, username, name *string, passwordHash *string, verified *time.Time) (*auth.User, error)
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	FindByID(ctx context.Context, id string) (*auth.User, error)
	RecordLoginFailure(ctx context.Context, userID string, threshold int, cooldown time.Duration) error
	ResetLoginFailures(ctx context.Context, userID string) error
	UpdatePassword(ctx context.Context, userID, hashed string) error
	SetEmailVerified(ctx context.Context, userID string) error
	SoftDelete(ctx context.Context, userID string) error
	UpdateTOTPSecret(ctx context.Context, userID string, encrypted *string) error
	EnableMFA(ctx context.Context, userID string) error
	DisableMFA(ctx context.Context, userID string) error
	ReplaceBackupCodes(ctx context.Context, userID string, encrypted []string) error
	ListBackupCodes(ctx context.Context, userID string) ([]auth.BackupCode, error)
	ConsumeBackupCode(ctx context.Context, id string) (bool, error)
	CreateOneTimeToken(ctx context.Context, userID, tokenHash, purpose string, expires time.Time) (*auth.OneTimeToken, error)
	RedeemOneTimeToken(ctx context.Context, tokenHash, purpose string) (*auth.OneTimeToken, error)
}

type SessionStore interface {
	Create(ctx context.Context, sess *auth.Session) error
	FindByID(ctx context.Context, id string) (*auth.Session, error)
	Rotate(ctx context.Context, oldHash, newHash string, newExpiry time.Time) (*auth.Session, error)
	Revoke(ctx context.Context, sessionID, userID string) error
	RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int64, error)
	ListActiveForUser(ctx context.Context, userID string) ([]auth.Session, error)
}

type ChallengeStore interface {
	Create(ctx context.Context, userID string) (*auth.MfaChallenge, error)
	Consume(ctx context.Context, id string) (*auth.MfaChallenge, error)
	Complete(ctx context.Context, id string) error
}

type Mailer interface {
	SendVerification(ctx context.Context, email, code string) error
	SendPasswordReset(ctx context.Context, email, token string) error
	SendMagicLink(ctx context.Context, email, token, redirect string) error
}

// EventPublisher fans auth events out to webhook subscribers. Nil-safe:
// a service without one simply emits nothing.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]any)
}

type Config struct {
	LockoutThreshold int
	LockoutCooldown  time.Duration
	ResetTokenTTL    time.Duration
	VerifyCodeTTL    time.Duration
	MagicLinkTTL     time.Duration
	ImpersonationTTL time.Duration
	BackupCodeCount  int
}

func DefaultConfig() Config {
	return Config{
		LockoutThreshold: 5,
		LockoutCooldown:  15 * time.Minute,
		ResetTokenTTL:    time.Hour,
		VerifyCodeTTL:    10 * time.Minute,
		MagicLinkTTL:     15 * time.Minute,
		ImpersonationTTL: time.Hour,
		BackupCodeCount:  10,
	}
}

type Service struct {
	cfg        Config
	users      UserStore
	sessions   SessionStore
	challenges ChallengeStore
	hasher     auth.PasswordHasher
	tokens     *auth.TokenService
	totp       auth.TOTPVerifier
	cipher     *auth.SecretCipher
	mailer     Mailer
	breach     auth.BreachChecker
	limiter    auth.RateLimiter
	audit      auth.AuditSink
	events     EventPublisher
	logger     *slog.Logger
}

func NewService(cfg Config, users UserStore, sessions SessionStore, challenges ChallengeStore,
	hasher auth.PasswordHasher, tokens *auth.TokenService, totp auth.TOTPVerifier,
	cipher *auth.SecretCipher, mailer Mailer, breach auth.BreachChecker,
	limiter auth.RateLimiter, audit auth.AuditSink, events EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg: cfg, users: users, sessions: sessions, challenges: challenges,
		hasher: hasher, tokens: tokens, totp: totp, cipher: cipher,
		mailer: mailer, breach: breach, limiter: limiter, audit: audit,
		events: events, logger: logger,
	}
}

// RequestContext carries the device/network context of the caller.
type RequestContext struct {
	IP        string
	UserAgent string
}

// SignInResult is either a token pair or an MFA-required indicator; never
// both.
type SignInResult struct {
	User        *auth.User
	Tokens      *auth.TokenPair
	SessionID   string
	RequiresMFA bool
	ChallengeID string
	IsNewUser   bool
}

// ValidatePassword enforces the local password policy; breach status is
// checked separately.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return auth.ErrWeakPassword
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return auth.ErrWeakPassword
	}
	return nil
}

func (s *Service) checkPassword(ctx context.Context, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	if s.breach == nil {
		return nil
	}
	breached, err := s.breach.IsBreached(ctx, password)
	if err != nil {
		// The breach corpus is advisory; an outage must not block signup.
		s.logger.Warn("breach lookup failed", "error", err)
		return nil
	}
	if breached {
		return auth.ErrBreachedPassword
	}
	return nil
}

func (s *Service) allow(ctx context.Context, key string, scope auth.Scope) error {
	if s.limiter == nil {
		return nil
	}
	ok, _, err := s.limiter.Allow(ctx, key, scope)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", "scope", scope, "error", err)
		return nil
	}
	if !ok {
		return auth.ErrRateLimited
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.events != nil {
		s.events.Publish(ctx, eventType, payload)
	}
}

func (s *Service) record(action, entityType, entityID string, metadata map[string]any) {
	if s.audit != nil {
		s.audit.Record(action, "user", entityType, entityID, metadata)
	}
}

type SignUpParams struct {
	Email    string
	Username *string
	Name     *string
	Password string
	Context  RequestContext
}

func (s *Service) SignUp(ctx context.Context, p SignUpParams) (*SignInResult, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))

	if err := s.allow(ctx, p.Context.IP, auth.ScopeSignUp); err != nil {
		return nil, err
	}
	if err := s.checkPassword(ctx, p.Password); err != nil {
		return nil, err
	}

	hashed, err := s.hasher.Hash(p.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, email, p.Username, p.Name, &hashed, nil)
	if err != nil {
		return nil, err
	}

	if err := s.issueVerificationCode(ctx, user); err != nil {
		s.logger.Warn("verification email failed", "user", user.ID, "error", err)
	}

	tokens, sessionID, err := s.createSession(ctx, user, p.Context)
	if err != nil {
		return nil, err
	}

	s.record("user.signed_up", "user", user.ID, map[string]any{"ip": p.Context.IP})
	s.publish(ctx, "user.created", map[string]any{"userId": user.ID, "email": user.Email})

	return &SignInResult{User: user, Tokens: tokens, SessionID: sessionID, IsNewUser: true}, nil
}

type SignInParams struct {
	Email    string
	Password string
	Context  RequestContext
}

func (s *Service) SignIn(ctx context.Context, p SignInParams) (*SignInResult, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))

	if err := s.allow(ctx, p.Context.IP, auth.ScopeSignIn); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == nil {
		// Burn a comparison so unknown emails cost the same as wrong
		// passwords.
		s.hasher.Compare(decoyHash, p.Password)
		return nil, auth.ErrInvalidCredentials
	}

	now := time.Now()
	if user.Locked(now) {
		return nil, &auth.LockoutError{Until: *user.LockoutUntil}
	}

	if !s.hasher.Compare(*user.PasswordHash, p.Password) {
		if err := s.users.RecordLoginFailure(ctx, user.ID, s.cfg.LockoutThreshold, s.cfg.LockoutCooldown); err != nil {
			return nil, err
		}
		s.record("user.sign_in_failed", "user", user.ID, map[string]any{"ip": p.Context.IP})
		return nil, auth.ErrInvalidCredentials
	}

	if err := s.users.ResetLoginFailures(ctx, user.ID); err != nil {
		return nil, err
	}

	if user.MFAEnabled {
		ch, err := s.challenges.Create(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		return &SignInResult{User: user, RequiresMFA: true, ChallengeID: ch.ID}, nil
	}

	tokens, sessionID, err := s.createSession(ctx, user, p.Context)
	if err != nil {
		return nil, err
	}
	if s.limiter != nil {
		s.limiter.Reset(ctx, p.Context.IP, auth.ScopeSignIn)
	}

	s.record("user.signed_in", "user", user.ID, map[string]any{"ip": p.Context.IP})
	s.publish(ctx, "user.signed_in", map[string]any{"userId": user.ID})

	return &SignInResult{User: user, Tokens: tokens, SessionID: sessionID}, nil
}

// decoyHash is compared against for unknown accounts so the failure path
// is not measurably faster than a real mismatch.
const decoyHash = "$argon2id$v=19$m=65536,t=2,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// createSession mints a refresh token, persists the session keyed by its
// hash and issues the paired access token. Shared by every successful
// authentication path, including OAuth.
func (s *Service) createSession(ctx context.Context, user *auth.User, rc RequestContext) (*auth.TokenPair, string, error) {
	rawRefresh, refreshHash, err := s.tokens.NewRefreshToken()
	if err != nil {
		return nil, "", err
	}

	sess := &auth.Session{
		ID:               auth.NewSessionID(),
		UserID:           user.ID,
		RefreshTokenHash: refreshHash,
		Status:           auth.SessionActive,
		IP:               rc.IP,
		UserAgent:        rc.UserAgent,
		ExpiresAt:        time.Now().Add(s.tokens.RefreshTTL()),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, "", err
	}

	access, exp, err := s.tokens.IssueAccess(user.ID, sess.ID, user.Email)
	if err != nil {
		return nil, "", err
	}

	return &auth.TokenPair{
		AccessToken:  access,
		RefreshToken: rawRefresh,
		ExpiresAt:    exp,
	}, sess.ID, nil
}

// CreateSessionFor is the session-creation primitive used by the OAuth
// pipeline and magic-link redemption.
func (s *Service) CreateSessionFor(ctx context.Context, user *auth.User, rc RequestContext) (*auth.TokenPair, string, error) {
	return s.createSession(ctx, user, rc)
}

// Refresh rotates the presented refresh token. Single-use: the rotation
// UPDATE matches the old hash exactly once, so a replayed token fails
// with ErrSessionNotFound even though the session row is still ACTIVE.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*auth.TokenPair, string, error) {
	oldHash := auth.HashString(rawRefresh)

	newRaw, newHash, err := s.tokens.NewRefreshToken()
	if err != nil {
		return nil, "", err
	}

	sess, err := s.sessions.Rotate(ctx, oldHash, newHash, time.Now().Add(s.tokens.RefreshTTL()))
	if err != nil {
		return nil, "", err
	}

	user, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", auth.ErrSessionNotFound
	}

	access, exp, err := s.tokens.IssueAccess(user.ID, sess.ID, user.Email)
	if err != nil {
		return nil, "", err
	}

	return &auth.TokenPair{
		AccessToken:  access,
		RefreshToken: newRaw,
		ExpiresAt:    exp,
	}, sess.ID, nil
}

func (s *Service) SignOut(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.Revoke(ctx, sessionID, userID); err != nil {
		return err
	}
	s.record("user.signed_out", "session", sessionID, nil)
	s.publish(ctx, "session.revoked", map[string]any{"userId": userID, "sessionId": sessionID})
	return nil
}

func (s *Service) SignOutAll(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	n, err := s.sessions.RevokeAllForUser(ctx, userID, exceptSessionID)
	if err != nil {
		return 0, err
	}
	s.record("user.signed_out_all", "user", userID, map[string]any{"revoked": n})
	return n, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (*auth.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, auth.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) ListSessions(ctx context.Context, userID string) ([]auth.Session, error) {
	return s.sessions.ListActiveForUser(ctx, userID)
}

// Impersonate mints an access-token-only credential for an admin acting
// as the target user. No session row is created, so impersonation never
// shows up in the target's session list; the audit trail is the record.
func (s *Service) Impersonate(ctx context.Context, actorID, targetUserID string) (string, time.Time, error) {
	target, err := s.users.FindByID(ctx, targetUserID)
	if err != nil {
		return "", time.Time{}, err
	}
	if target == nil {
		return "", time.Time{}, auth.ErrUserNotFound
	}

	token, exp, err := s.tokens.IssueImpersonation(actorID, target.ID, target.Email, s.cfg.ImpersonationTTL)
	if err != nil {
		return "", time.Time{}, err
	}

	if s.audit != nil {
		s.audit.Record("admin.impersonated", "admin", "user", target.ID, map[string]any{"actorId": actorID})
	}
	return token, exp, nil
}
