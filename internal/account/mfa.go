package account

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/veyra/authd/internal/auth"
)

const (
	MethodTOTP   = "totp"
	MethodBackup = "backup"
)

type TOTPSetup struct {
	Secret     string
	OtpauthURL string
	QRDataURL  string
}

// SetupTOTP generates a fresh seed and stores it encrypted without
// enabling MFA; EnableTOTP flips the switch once the user proves a code
// against it.
func (s *Service) SetupTOTP(ctx context.Context, userID string) (*TOTPSetup, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, auth.ErrUserNotFound
	}
	if user.MFAEnabled {
		return nil, auth.ErrMFAAlreadyEnabled
	}

	secret, otpauth, qr, err := s.totp.Generate(user.Email)
	if err != nil {
		return nil, err
	}

	encrypted, err := s.cipher.Encrypt(secret)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateTOTPSecret(ctx, userID, &encrypted); err != nil {
		return nil, err
	}

	return &TOTPSetup{Secret: secret, OtpauthURL: otpauth, QRDataURL: qr}, nil
}

// EnableTOTP verifies one code against the unconfirmed seed, enables MFA
// and returns the one-time view of freshly minted backup codes.
func (s *Service) EnableTOTP(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, auth.ErrUserNotFound
	}
	if user.MFAEnabled {
		return nil, auth.ErrMFAAlreadyEnabled
	}
	if user.TOTPSecret == nil {
		return nil, auth.ErrMFASetupNotStarted
	}

	secret, err := s.cipher.Decrypt(*user.TOTPSecret)
	if err != nil {
		return nil, err
	}
	if !s.totp.Verify(secret, code) {
		return nil, auth.ErrInvalidCode
	}

	if err := s.users.EnableMFA(ctx, userID); err != nil {
		return nil, err
	}

	codes, err := s.mintBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.record("mfa.enabled", "user", userID, nil)
	s.publish(ctx, "mfa.enabled", map[string]any{"userId": userID})
	return codes, nil
}

// DisableTOTP requires password re-authentication before clearing the
// seed and backup codes.
func (s *Service) DisableTOTP(ctx context.Context, userID, password string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return auth.ErrUserNotFound
	}
	if !user.MFAEnabled {
		return auth.ErrMFANotEnabled
	}
	if user.PasswordHash == nil || !s.hasher.Compare(*user.PasswordHash, password) {
		return auth.ErrPasswordReauthFailed
	}

	if err := s.users.DisableMFA(ctx, userID); err != nil {
		return err
	}
	s.record("mfa.disabled", "user", userID, nil)
	s.publish(ctx, "mfa.disabled", map[string]any{"userId": userID})
	return nil
}

// RegenerateBackupCodes replaces the remaining set after password
// re-authentication.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, auth.ErrUserNotFound
	}
	if !user.MFAEnabled {
		return nil, auth.ErrMFANotEnabled
	}
	if user.PasswordHash == nil || !s.hasher.Compare(*user.PasswordHash, password) {
		return nil, auth.ErrPasswordReauthFailed
	}
	return s.mintBackupCodes(ctx, userID)
}

func (s *Service) mintBackupCodes(ctx context.Context, userID string) ([]string, error) {
	plain := make([]string, 0, s.cfg.BackupCodeCount)
	encrypted := make([]string, 0, s.cfg.BackupCodeCount)
	for i := 0; i < s.cfg.BackupCodeCount; i++ {
		code, err := auth.RandomToken(4)
		if err != nil {
			return nil, err
		}
		enc, err := s.cipher.Encrypt(code)
		if err != nil {
			return nil, err
		}
		plain = append(plain, code)
		encrypted = append(encrypted, enc)
	}
	if err := s.users.ReplaceBackupCodes(ctx, userID, encrypted); err != nil {
		return nil, err
	}
	return plain, nil
}

// VerifyMfa completes a sign-in challenge with either a TOTP code or a
// backup code. Every call consumes one attempt; the challenge record is
// deleted on success and on attempt exhaustion.
func (s *Service) VerifyMfa(ctx context.Context, challengeID, code, method string, rc RequestContext) (*SignInResult, error) {
	ch, err := s.challenges.Consume(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, ch.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.MFAEnabled {
		return nil, auth.ErrChallengeNotFound
	}

	switch method {
	case MethodTOTP, "":
		if user.TOTPSecret == nil {
			return nil, auth.ErrMFANotEnabled
		}
		secret, err := s.cipher.Decrypt(*user.TOTPSecret)
		if err != nil {
			return nil, err
		}
		if !s.totp.Verify(secret, code) {
			return nil, auth.ErrInvalidCode
		}
	case MethodBackup:
		if err := s.redeemBackupCode(ctx, user.ID, code); err != nil {
			return nil, err
		}
	default:
		return nil, auth.ErrInvalidCode
	}

	if err := s.challenges.Complete(ctx, challengeID); err != nil {
		return nil, err
	}
	if err := s.users.ResetLoginFailures(ctx, user.ID); err != nil {
		return nil, err
	}

	tokens, sessionID, err := s.createSession(ctx, user, rc)
	if err != nil {
		return nil, err
	}

	s.record("user.signed_in", "user", user.ID, map[string]any{"ip": rc.IP, "mfa": true})
	s.publish(ctx, "user.signed_in", map[string]any{"userId": user.ID, "mfa": true})

	return &SignInResult{User: user, Tokens: tokens, SessionID: sessionID}, nil
}

// redeemBackupCode decrypts each stored code and compares in constant
// time; the matching row is deleted so the code can never be replayed.
func (s *Service) redeemBackupCode(ctx context.Context, userID, code string) error {
	codes, err := s.users.ListBackupCodes(ctx, userID)
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return auth.ErrBackupCodesDepleted
	}

	candidate := strings.ToLower(strings.TrimSpace(code))
	for _, bc := range codes {
		plain, err := s.cipher.Decrypt(bc.Code)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(plain), []byte(candidate)) == 1 {
			consumed, err := s.users.ConsumeBackupCode(ctx, bc.ID)
			if err != nil {
				return err
			}
			if !consumed {
				// A concurrent redeem won; treat as spent.
				return auth.ErrBackupCodeInvalid
			}
			return nil
		}
	}
	return auth.ErrBackupCodeInvalid
}
