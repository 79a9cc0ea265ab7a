package auth

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretCipherRoundTrip(t *testing.T) {
	t.Parallel()

	cipher, err := NewSecretCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	ct, err := cipher.Encrypt("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	require.NotContains(t, ct, "JBSWY3DPEHPK3PXP")

	plain, err := cipher.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, "JBSWY3DPEHPK3PXP", plain)
}

func TestSecretCipherKeyLength(t *testing.T) {
	t.Parallel()

	_, err := NewSecretCipher([]byte("short"))
	require.Error(t, err)
}

func TestSecretCipherWrongKey(t *testing.T) {
	t.Parallel()

	c1, err := NewSecretCipher(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	c2, err := NewSecretCipher(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)

	ct, err := c1.Encrypt("secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(ct)
	require.Error(t, err)
}

func TestSecretCipherRejectsTampering(t *testing.T) {
	t.Parallel()

	cipher, err := NewSecretCipher(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)

	ct, err := cipher.Encrypt("secret")
	require.NoError(t, err)

	_, err = cipher.Decrypt("A" + ct[1:])
	require.Error(t, err)
	_, err = cipher.Decrypt("not base64 at all!!")
	require.Error(t, err)
}
