package webhook

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Now()
	payload := []byte(`{"id":"evt_1","type":"user.created"}`)
	header := Sign("whsec_abc", payload, now)

	require.True(t, strings.HasPrefix(header, "t="))
	require.Contains(t, header, ",v1=")
	require.NoError(t, Verify("whsec_abc", payload, header, now, 0))
}

func TestVerifyWrongSecret(t *testing.T) {
	t.Parallel()

	now := time.Now()
	payload := []byte(`{}`)
	header := Sign("whsec_abc", payload, now)
	require.ErrorIs(t, Verify("whsec_other", payload, header, now, 0), ErrSignatureInvalid)
}

func TestVerifyTamperedPayload(t *testing.T) {
	t.Parallel()

	now := time.Now()
	header := Sign("whsec_abc", []byte(`{"amount":10}`), now)
	require.ErrorIs(t, Verify("whsec_abc", []byte(`{"amount":99}`), header, now, 0), ErrSignatureInvalid)
}

func TestVerifyTamperedTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Now()
	payload := []byte(`{}`)
	header := Sign("whsec_abc", payload, now)
	// Shift t by one second; the MAC binds the original timestamp.
	forged := strings.Replace(header, "t=", "t=1", 1)
	require.ErrorIs(t, Verify("whsec_abc", payload, forged, now, 0), ErrSignatureInvalid)
}

func TestVerifyTolerance(t *testing.T) {
	t.Parallel()

	now := time.Now()
	payload := []byte(`{}`)

	// Just inside the default window on both sides.
	require.NoError(t, Verify("s", payload, Sign("s", payload, now.Add(-SignatureTolerance+time.Second)), now, 0))
	require.NoError(t, Verify("s", payload, Sign("s", payload, now.Add(SignatureTolerance-time.Second)), now, 0))

	// Outside on both sides.
	err := Verify("s", payload, Sign("s", payload, now.Add(-SignatureTolerance-time.Minute)), now, 0)
	require.ErrorIs(t, err, ErrSignatureExpired)
	err = Verify("s", payload, Sign("s", payload, now.Add(SignatureTolerance+time.Minute)), now, 0)
	require.ErrorIs(t, err, ErrSignatureExpired)

	// A custom tolerance narrows the window.
	err = Verify("s", payload, Sign("s", payload, now.Add(-2*time.Second)), now, time.Second)
	require.ErrorIs(t, err, ErrSignatureExpired)
}

func TestVerifyMalformedHeader(t *testing.T) {
	t.Parallel()

	payload := []byte(`{}`)
	now := time.Now()
	for _, header := range []string{
		"",
		"garbage",
		"t=notanumber,v1=abc",
		"v1=deadbeef",
		"t=1700000000",
	} {
		require.ErrorIs(t, Verify("s", payload, header, now, 0), ErrSignatureFormat, "header %q", header)
	}
}
