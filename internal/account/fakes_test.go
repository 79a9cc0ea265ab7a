package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veyra/authd/internal/auth"
)

type fakeUserStore struct {
	mu          sync.Mutex
	users       map[string]*auth.User
	backupCodes map[string][]auth.BackupCode
	tokens      map[string]*auth.OneTimeToken
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:       map[string]*auth.User{},
		backupCodes: map[string][]auth.BackupCode{},
		tokens:      map[string]*auth.OneTimeToken{},
	}
}

func (f *fakeUserStore) Create(ctx context.Context, email string, username, name *string, passwordHash *string, verified *time.Time) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == strings.ToLower(email) {
			return nil, auth.ErrEmailTaken
		}
	}
	u := &auth.User{
		ID:            uuid.NewString(),
		Email:         strings.ToLower(email),
		Username:      username,
		Name:          name,
		PasswordHash:  passwordHash,
		EmailVerified: verified,
		CreatedAt:     time.Now(),
	}
	f.users[u.ID] = u
	return copyUser(u), nil
}

func (f *fakeUserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == strings.ToLower(email) && u.DeletedAt == nil {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (f *fakeUserStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, nil
	}
	return copyUser(u), nil
}

func (f *fakeUserStore) RecordLoginFailure(ctx context.Context, userID string, threshold int, cooldown time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.FailedLogins++
	if u.FailedLogins >= threshold {
		until := time.Now().Add(cooldown)
		u.LockoutUntil = &until
	}
	return nil
}

func (f *fakeUserStore) ResetLoginFailures(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.FailedLogins = 0
	u.LockoutUntil = nil
	return nil
}

func (f *fakeUserStore) UpdatePassword(ctx context.Context, userID, hashed string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID].PasswordHash = &hashed
	return nil
}

func (f *fakeUserStore) SetEmailVerified(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.users[userID].EmailVerified = &now
	return nil
}

func (f *fakeUserStore) SoftDelete(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.users[userID].DeletedAt = &now
	return nil
}

func (f *fakeUserStore) UpdateTOTPSecret(ctx context.Context, userID string, encrypted *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID].TOTPSecret = encrypted
	return nil
}

func (f *fakeUserStore) EnableMFA(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID].MFAEnabled = true
	return nil
}

func (f *fakeUserStore) DisableMFA(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID].MFAEnabled = false
	f.users[userID].TOTPSecret = nil
	delete(f.backupCodes, userID)
	return nil
}

func (f *fakeUserStore) ReplaceBackupCodes(ctx context.Context, userID string, encrypted []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	codes := make([]auth.BackupCode, 0, len(encrypted))
	for _, c := range encrypted {
		codes = append(codes, auth.BackupCode{ID: uuid.NewString(), UserID: userID, Code: c})
	}
	f.backupCodes[userID] = codes
	return nil
}

func (f *fakeUserStore) ListBackupCodes(ctx context.Context, userID string) ([]auth.BackupCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auth.BackupCode(nil), f.backupCodes[userID]...), nil
}

func (f *fakeUserStore) ConsumeBackupCode(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for userID, codes := range f.backupCodes {
		for i, c := range codes {
			if c.ID == id {
				f.backupCodes[userID] = append(codes[:i], codes[i+1:]...)
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeUserStore) CreateOneTimeToken(ctx context.Context, userID, tokenHash, purpose string, expires time.Time) (*auth.OneTimeToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, tok := range f.tokens {
		if tok.UserID == userID && tok.Purpose == purpose && tok.UsedAt == nil {
			delete(f.tokens, hash)
		}
	}
	tok := &auth.OneTimeToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: tokenHash,
		Purpose:   purpose,
		ExpiresAt: expires,
		CreatedAt: time.Now(),
	}
	f.tokens[tokenHash] = tok
	return tok, nil
}

func (f *fakeUserStore) RedeemOneTimeToken(ctx context.Context, tokenHash, purpose string) (*auth.OneTimeToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[tokenHash]
	if !ok || tok.Purpose != purpose || tok.UsedAt != nil || time.Now().After(tok.ExpiresAt) {
		return nil, auth.ErrTokenInvalid
	}
	now := time.Now()
	tok.UsedAt = &now
	return tok, nil
}

func copyUser(u *auth.User) *auth.User {
	cp := *u
	return &cp
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]*auth.Session{}}
}

func (f *fakeSessionStore) Create(ctx context.Context, sess *auth.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess.LastActiveAt = time.Now()
	sess.CreatedAt = time.Now()
	cp := *sess
	f.sessions[sess.ID] = &cp
	return nil
}

func (f *fakeSessionStore) FindByID(ctx context.Context, id string) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// Rotate mirrors the conditional-UPDATE semantics of the SQL store: it
// matches the old hash against an active unexpired session exactly once.
func (f *fakeSessionStore) Rotate(ctx context.Context, oldHash, newHash string, newExpiry time.Time) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sess := range f.sessions {
		if sess.RefreshTokenHash == oldHash && sess.Status == auth.SessionActive && sess.ExpiresAt.After(time.Now()) {
			sess.RefreshTokenHash = newHash
			sess.ExpiresAt = newExpiry
			sess.LastActiveAt = time.Now()
			cp := *sess
			return &cp, nil
		}
	}
	return nil, auth.ErrSessionNotFound
}

func (f *fakeSessionStore) Revoke(ctx context.Context, sessionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok || sess.UserID != userID || sess.Status != auth.SessionActive {
		return auth.ErrSessionNotFound
	}
	now := time.Now()
	sess.Status = auth.SessionRevoked
	sess.RevokedAt = &now
	return nil
}

func (f *fakeSessionStore) RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now()
	for id, sess := range f.sessions {
		if sess.UserID == userID && sess.Status == auth.SessionActive && id != exceptSessionID {
			sess.Status = auth.SessionRevoked
			sess.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionStore) ListActiveForUser(ctx context.Context, userID string) ([]auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []auth.Session
	for _, sess := range f.sessions {
		if sess.UserID == userID && sess.Usable(time.Now()) {
			out = append(out, *sess)
		}
	}
	return out, nil
}

type fakeChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*auth.MfaChallenge
	max        int
}

func newFakeChallengeStore() *fakeChallengeStore {
	return &fakeChallengeStore{challenges: map[string]*auth.MfaChallenge{}, max: 5}
}

func (f *fakeChallengeStore) Create(ctx context.Context, userID string) (*auth.MfaChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &auth.MfaChallenge{ID: uuid.NewString(), UserID: userID, CreatedAt: time.Now()}
	f.challenges[ch.ID] = ch
	return ch, nil
}

func (f *fakeChallengeStore) Consume(ctx context.Context, id string) (*auth.MfaChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.challenges[id]
	if !ok {
		return nil, auth.ErrChallengeNotFound
	}
	ch.Attempts++
	if ch.Attempts > f.max {
		delete(f.challenges, id)
		return nil, auth.ErrChallengeExhausted
	}
	cp := *ch
	return &cp, nil
}

func (f *fakeChallengeStore) Complete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.challenges, id)
	return nil
}

// fakeHasher trades argon2 cost for speed; Compare is still exact.
type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }
func (fakeHasher) Compare(hash, password string) bool   { return hash == "hashed:"+password }

type fakeTOTP struct {
	valid string
}

func (f *fakeTOTP) Verify(secret, code string) bool { return code == f.valid }
func (f *fakeTOTP) Generate(email string) (string, string, string, error) {
	return "FAKESECRET", "otpauth://totp/authd:" + email, "data:image/png;base64,xxx", nil
}

type sentMail struct {
	kind  string
	email string
	value string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeMailer) SendVerification(ctx context.Context, email, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind: "verify", email: email, value: code})
	return nil
}

func (f *fakeMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind: "reset", email: email, value: token})
	return nil
}

func (f *fakeMailer) SendMagicLink(ctx context.Context, email, token, redirect string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind: "magic", email: email, value: token})
	return nil
}

func (f *fakeMailer) last(kind string) (sentMail, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].kind == kind {
			return f.sent[i], true
		}
	}
	return sentMail{}, false
}

type recordedEvent struct {
	eventType string
	payload   map[string]any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) Publish(ctx context.Context, eventType string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType: eventType, payload: payload})
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.eventType)
	}
	return out
}
