package oauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/veyra/authd/internal/account"
	"github.com/veyra/authd/internal/auth"
)

// UserStore is the slice of durable state the pipeline needs; the pgx
// UserRepository satisfies it.
type UserStore interface {
	FindByOAuth(ctx context.Context, provider, accountID string) (*auth.User, error)
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	LinkOAuthAccount(ctx context.Context, userID, provider, accountID string) (*auth.OAuthAccount, error)
	CreateWithOAuth(ctx context.Context, email string, name, avatar *string, provider, accountID string) (*auth.User, error)
}

// SessionCreator is the account service's session-creation primitive.
type SessionCreator interface {
	CreateSessionFor(ctx context.Context, user *auth.User, rc account.RequestContext) (*auth.TokenPair, string, error)
}

type Service struct {
	providers map[string]Provider
	states    *StateStore
	users     UserStore
	sessions  SessionCreator
	audit     auth.AuditSink
	logger    *slog.Logger
}

func NewService(states *StateStore, users UserStore, sessions SessionCreator, audit auth.AuditSink, logger *slog.Logger, providers ...Provider) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Service{providers: m, states: states, users: users, sessions: sessions, audit: audit, logger: logger}
}

func (s *Service) provider(name string) (Provider, error) {
	p, ok := s.providers[strings.ToLower(name)]
	if !ok {
		return nil, auth.ErrProviderNotConfigured
	}
	return p, nil
}

// Initiate stores {provider, verifier, returnTo} under a fresh state
// token and returns the provider authorization URL carrying the PKCE
// challenge.
func (s *Service) Initiate(ctx context.Context, providerName, redirectURI, returnTo string) (string, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return "", err
	}

	verifier, challenge, err := NewPKCE()
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	if err := s.states.Put(ctx, state, StateRecord{
		Provider: p.Name(),
		Verifier: verifier,
		ReturnTo: returnTo,
	}); err != nil {
		return "", err
	}

	return p.AuthURL(state, challenge, redirectURI), nil
}

// CallbackResult carries the minted session plus whether a brand-new
// user was created, and where the caller originally wanted to go.
type CallbackResult struct {
	*account.SignInResult
	ReturnTo string
}

// Callback redeems the single-use state record, exchanges the code with
// the stored verifier, normalizes the identity and resolves it to a
// user.
func (s *Service) Callback(ctx context.Context, providerName, code, state, redirectURI string, rc account.RequestContext) (*CallbackResult, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}

	rec, err := s.states.Take(ctx, state)
	if err != nil {
		return nil, err
	}
	if rec.Provider != p.Name() {
		return nil, auth.ErrStateInvalid
	}

	token, err := p.Exchange(ctx, code, rec.Verifier, redirectURI)
	if err != nil {
		s.logger.Warn("oauth exchange failed", "provider", p.Name(), "error", err)
		return nil, err
	}

	identity, err := p.FetchIdentity(ctx, token)
	if err != nil {
		s.logger.Warn("oauth identity fetch failed", "provider", p.Name(), "error", err)
		return nil, err
	}
	if identity.Email == "" {
		return nil, auth.ErrProviderEmailMissing
	}

	user, isNew, err := s.resolveIdentity(ctx, p.Name(), identity)
	if err != nil {
		return nil, err
	}

	tokens, sessionID, err := s.sessions.CreateSessionFor(ctx, user, rc)
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		s.audit.Record("oauth.signed_in", "user", "user", user.ID, map[string]any{
			"provider": p.Name(),
			"newUser":  isNew,
		})
	}

	return &CallbackResult{
		SignInResult: &account.SignInResult{
			User:      user,
			Tokens:    tokens,
			SessionID: sessionID,
			IsNewUser: isNew,
		},
		ReturnTo: rec.ReturnTo,
	}, nil
}

// resolveIdentity maps an external identity onto exactly one user:
// known (provider, accountId) link first, then email match, then fresh
// creation with emailVerified set (federated emails are trusted). The
// storage-level uniqueness constraint on (provider, providerAccountId)
// is the guard under races; a unique violation means a concurrent
// callback won, so the chain is re-run once.
func (s *Service) resolveIdentity(ctx context.Context, provider string, id *Identity) (*auth.User, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		user, err := s.users.FindByOAuth(ctx, provider, id.ProviderAccountID)
		if err != nil {
			return nil, false, err
		}
		if user != nil {
			return user, false, nil
		}

		user, err = s.users.FindByEmail(ctx, id.Email)
		if err != nil {
			return nil, false, err
		}
		if user != nil {
			if _, err := s.users.LinkOAuthAccount(ctx, user.ID, provider, id.ProviderAccountID); err != nil {
				return nil, false, err
			}
			return user, false, nil
		}

		var name, avatar *string
		if v := strings.TrimSpace(id.Name); v != "" {
			name = &v
		}
		if v := strings.TrimSpace(id.AvatarURL); v != "" {
			avatar = &v
		}

		user, err = s.users.CreateWithOAuth(ctx, id.Email, name, avatar, provider, id.ProviderAccountID)
		if err != nil {
			if errors.Is(err, auth.ErrEmailTaken) || errors.Is(err, auth.ErrAccountAlreadyLinked) {
				continue
			}
			return nil, false, err
		}
		return user, true, nil
	}
	return nil, false, auth.ErrAccountAlreadyLinked
}
