package account

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/veyra/authd/internal/auth"
)

// RequestPasswordReset always reports success so the response cannot be
// used to probe which emails exist. The token is 32 random bytes; only
// its hash is stored.
func (s *Service) RequestPasswordReset(ctx context.Context, email, ip string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := s.allow(ctx, email, auth.ScopeReset); err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		s.logger.Error("password reset lookup failed", "error", err)
		return nil
	}
	if user == nil || user.PasswordHash == nil {
		return nil
	}

	token, err := auth.RandomToken(32)
	if err != nil {
		return nil
	}
	if _, err := s.users.CreateOneTimeToken(ctx, user.ID, auth.HashString(token), auth.TokenPurposeReset, timeNow().Add(s.cfg.ResetTokenTTL)); err != nil {
		s.logger.Error("password reset token store failed", "user", user.ID, "error", err)
		return nil
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, token); err != nil {
		s.logger.Warn("password reset email failed", "user", user.ID, "error", err)
	}
	s.record("user.password_reset_requested", "user", user.ID, map[string]any{"ip": ip})
	return nil
}

// ResetPassword redeems a single-use token, re-validates the new
// password and revokes every active session: a password change
// invalidates all prior trust.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := s.checkPassword(ctx, newPassword); err != nil {
		return err
	}

	tok, err := s.users.RedeemOneTimeToken(ctx, auth.HashString(token), auth.TokenPurposeReset)
	if err != nil {
		return err
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, tok.UserID, hashed); err != nil {
		return err
	}
	if err := s.users.ResetLoginFailures(ctx, tok.UserID); err != nil {
		return err
	}

	revoked, err := s.sessions.RevokeAllForUser(ctx, tok.UserID, "")
	if err != nil {
		return err
	}

	s.record("user.password_reset", "user", tok.UserID, map[string]any{"sessionsRevoked": revoked})
	s.publish(ctx, "user.password_reset", map[string]any{"userId": tok.UserID})
	return nil
}

// RequestEmailVerification re-issues the 6-digit code for an
// unverified account. Like the reset flow, the response never reveals
// whether the email exists.
func (s *Service) RequestEmailVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := s.allow(ctx, email, auth.ScopeVerify); err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		s.logger.Error("verification lookup failed", "error", err)
		return nil
	}
	if user == nil || user.EmailVerified != nil {
		return nil
	}
	if err := s.issueVerificationCode(ctx, user); err != nil {
		s.logger.Warn("verification email failed", "user", user.ID, "error", err)
	}
	return nil
}

func (s *Service) issueVerificationCode(ctx context.Context, user *auth.User) error {
	code, err := randomSixDigitCode()
	if err != nil {
		return err
	}
	if _, err := s.users.CreateOneTimeToken(ctx, user.ID, verifyCodeHash(user.Email, code), auth.TokenPurposeVerify, timeNow().Add(s.cfg.VerifyCodeTTL)); err != nil {
		return err
	}
	return s.mailer.SendVerification(ctx, user.Email, code)
}

func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	tok, err := s.users.RedeemOneTimeToken(ctx, verifyCodeHash(email, code), auth.TokenPurposeVerify)
	if err != nil {
		return err
	}
	if err := s.users.SetEmailVerified(ctx, tok.UserID); err != nil {
		return err
	}
	s.record("user.email_verified", "user", tok.UserID, nil)
	s.publish(ctx, "user.email_verified", map[string]any{"userId": tok.UserID})
	return nil
}

// RequestMagicLink mails a single-use sign-in link. Enumeration-safe.
func (s *Service) RequestMagicLink(ctx context.Context, email, redirect string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := s.allow(ctx, email, auth.ScopeMagicLink); err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		s.logger.Error("magic link lookup failed", "error", err)
		return nil
	}
	if user == nil {
		return nil
	}

	token, err := auth.RandomToken(32)
	if err != nil {
		return nil
	}
	if _, err := s.users.CreateOneTimeToken(ctx, user.ID, auth.HashString(token), auth.TokenPurposeMagicLink, timeNow().Add(s.cfg.MagicLinkTTL)); err != nil {
		s.logger.Error("magic link token store failed", "user", user.ID, "error", err)
		return nil
	}

	if err := s.mailer.SendMagicLink(ctx, user.Email, token, redirect); err != nil {
		s.logger.Warn("magic link email failed", "user", user.ID, "error", err)
	}
	return nil
}

// RedeemMagicLink exchanges a link token for a session. Possession of
// the link proves control of the mailbox, so the email is marked
// verified as a side effect.
func (s *Service) RedeemMagicLink(ctx context.Context, token string, rc RequestContext) (*SignInResult, error) {
	tok, err := s.users.RedeemOneTimeToken(ctx, auth.HashString(token), auth.TokenPurposeMagicLink)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, tok.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, auth.ErrTokenInvalid
	}

	if user.EmailVerified == nil {
		if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	if user.MFAEnabled {
		ch, err := s.challenges.Create(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		return &SignInResult{User: user, RequiresMFA: true, ChallengeID: ch.ID}, nil
	}

	tokens, sessionID, err := s.createSession(ctx, user, rc)
	if err != nil {
		return nil, err
	}

	s.record("user.signed_in", "user", user.ID, map[string]any{"ip": rc.IP, "magicLink": true})
	return &SignInResult{User: user, Tokens: tokens, SessionID: sessionID}, nil
}

// verifyCodeHash scopes short numeric codes to the address they were
// mailed to; unlike 32-byte tokens they are not globally unique.
func verifyCodeHash(email, code string) string {
	return auth.HashString(strings.ToLower(email) + ":" + code)
}

func randomSixDigitCode() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	n := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return fmt.Sprintf("%06d", n%1000000), nil
}
