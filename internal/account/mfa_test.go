package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veyra/authd/internal/auth"
)

func enableMFA(t *testing.T, env *testEnv, userID string) []string {
	t.Helper()
	_, err := env.svc.SetupTOTP(context.Background(), userID)
	require.NoError(t, err)
	codes, err := env.svc.EnableTOTP(context.Background(), userID, "123456")
	require.NoError(t, err)
	return codes
}

func TestSetupAndEnableTOTP(t *testing.T) {
	env := newTestEnv(t)
	user := signUp(t, env, "a@example.com", "Str0ngpass")

	setup, err := env.svc.SetupTOTP(context.Background(), user.User.ID)
	require.NoError(t, err)
	require.Equal(t, "FAKESECRET", setup.Secret)
	require.Contains(t, setup.OtpauthURL, "otpauth://totp/")

	// The stored copy is encrypted, never the raw seed.
	stored, err := env.users.FindByID(context.Background(), user.User.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TOTPSecret)
	require.NotEqual(t, "FAKESECRET", *stored.TOTPSecret)
	require.False(t, stored.MFAEnabled)

	codes, err := env.svc.EnableTOTP(context.Background(), user.User.ID, "123456")
	require.NoError(t, err)
	require.Len(t, codes, DefaultConfig().BackupCodeCount)
	for _, c := range codes {
		require.Len(t, c, 8)
	}

	stored, _ = env.users.FindByID(context.Background(), user.User.ID)
	require.True(t, stored.MFAEnabled)
}

func TestEnableTOTPWrongCode(t *testing.T) {
	env := newTestEnv(t)
	user := signUp(t, env, "a@example.com", "Str0ngpass")

	_, err := env.svc.SetupTOTP(context.Background(), user.User.ID)
	require.NoError(t, err)

	_, err = env.svc.EnableTOTP(context.Background(), user.User.ID, "000000")
	require.ErrorIs(t, err, auth.ErrInvalidCode)
}

func TestEnableTOTPWithoutSetup(t *testing.T) {
	env := newTestEnv(t)
	user := signUp(t, env, "a@example.com", "Str0ngpass")

	_, err := env.svc.EnableTOTP(context.Background(), user.User.ID, "123456")
	require.ErrorIs(t, err, auth.ErrMFASetupNotStarted)
}

func TestSetupTOTPAlreadyEnabled(t *testing.T) {
	env := newTestEnv(t)
	user := signUp(t, env, "a@example.com", "Str0ngpass")
	enableMFA(t, env, user.User.ID)

	_, err := env.svc.SetupTOTP(context.Background(), user.User.ID)
	require.ErrorIs(t, err, auth.ErrMFAAlreadyEnabled)
}

func TestSignInWithMFAChallengeFlow(t *testing.T) {
	env := newTestEnv(t)
	user := signUp(t, env, "a@example.com", "Str0ngpass")
	enableMFA(t, env, user.User.ID)

	result, err := env.svc.SignIn(context.Background(), SignInParams{
		Email: "a@example.com", Password: "Str0ngpass",
	})
	require.NoError(t, err)
	require.True(t, result.RequiresMFA)
	require.NotEmpty(t, result.ChallengeID)
	require.Nil(t, result.Tokens)

	final, err := env.svc.VerifyMfa(context.Background(), result.ChallengeID, "123456", MethodTOTP, RequestContext{})
	require.NoError(t, err)
	require.NotEmpty(t, final.Tokens.RefreshToken)

	// The challenge was completed and cannot mint a second session.
	_, err = env.svc.VerifyMfa(context.Background(), result.ChallengeID, "123456", MethodTOTP, RequestContext{})
	require.ErrorIs(t, err, auth.ErrChallengeNotFound)
}

func TestVerifyMfaWrongCodeConsumesAttempts(t *testing.T) {
	env := newTestEnv(t)
	user := signUp(t, env, "a@example.com", "Str0ngpass")
	enableMFA(t, env, user.User.ID)

	result, err := env.svc.SignIn(context.Background(), SignInParams{
		Email: "a@example.com", Password: "Str0ngpass",
	})
	require.NoError(t, err)

	for i := 0; i < env.challenges.max; i++ {
		_, err := env.svc.VerifyMfa(context.Background(), result.ChallengeID, "000000", MethodTOTP, RequestContext{})
		require.ErrorIs(t, err, auth.ErrInvalidCode)
	}

	_, err = env.svc.VerifyMfa(context.Background(), result.ChallengeID, "123456", MethodTOTP, RequestContext{})
	require.ErrorIs(t, err, auth.ErrChallengeExhausted)
}

func TestBackupCodeSignInIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	user := signUp(t, env, "a@example.com", "Str0ngpass")
	codes := enableMFA(t, env, user.User.ID)

	signInMFA := func() string {
		result, err := env.svc.SignIn(context.Background(), SignInParams{
			Email: "a@example.com", Password: "Str0ngpass",
		})
		require.NoError(t, err)
		require.True(t, result.RequiresMFA)
		return result.ChallengeID
	}

	ch := signInMFA()
	_, err := env.svc.VerifyMfa(context.Background(), ch, codes[0], MethodBackup, RequestContext{})
	require.NoError(t, err)

	ch = signInMFA()
	_, err = env.svc.VerifyMfa(context.Background(), ch, codes[0], MethodBackup, RequestContext{})
	require.ErrorIs(t, err, auth.ErrBackupCodeInvalid)

	ch = signInMFA()
	_, err = env.svc.VerifyMfa(context.Background(), ch, codes[1], MethodBackup, RequestContext{})
	require.NoError(t, err)
}

func TestDisableTOTPRequiresPassword(t *testing.T) {
	env := newTestEnv(t)
	user := signUp(t, env, "a@example.com", "Str0ngpass")
	enableMFA(t, env, user.User.ID)

	err := env.svc.DisableTOTP(context.Background(), user.User.ID, "wrong")
	require.ErrorIs(t, err, auth.ErrPasswordReauthFailed)

	require.NoError(t, env.svc.DisableTOTP(context.Background(), user.User.ID, "Str0ngpass"))

	stored, _ := env.users.FindByID(context.Background(), user.User.ID)
	require.False(t, stored.MFAEnabled)
	require.Nil(t, stored.TOTPSecret)
}

func TestRegenerateBackupCodesInvalidatesOld(t *testing.T) {
	env := newTestEnv(t)
	user := signUp(t, env, "a@example.com", "Str0ngpass")
	old := enableMFA(t, env, user.User.ID)

	fresh, err := env.svc.RegenerateBackupCodes(context.Background(), user.User.ID, "Str0ngpass")
	require.NoError(t, err)
	require.Len(t, fresh, DefaultConfig().BackupCodeCount)
	require.NotEqual(t, old, fresh)

	result, err := env.svc.SignIn(context.Background(), SignInParams{
		Email: "a@example.com", Password: "Str0ngpass",
	})
	require.NoError(t, err)

	_, err = env.svc.VerifyMfa(context.Background(), result.ChallengeID, old[0], MethodBackup, RequestContext{})
	require.ErrorIs(t, err, auth.ErrBackupCodeInvalid)
}
