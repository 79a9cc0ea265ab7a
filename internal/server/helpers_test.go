package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProxyCIDRs(t *testing.T) {
	t.Parallel()

	nets := parseProxyCIDRs([]string{"10.0.0.0/8", "192.168.1.5", " ", "::1", "not-a-cidr"})
	require.Len(t, nets, 3)

	require.True(t, isTrustedProxy("10.1.2.3", nets))
	require.True(t, isTrustedProxy("192.168.1.5", nets))
	require.False(t, isTrustedProxy("192.168.1.6", nets))
	require.True(t, isTrustedProxy("::1", nets))
	require.False(t, isTrustedProxy("8.8.8.8", nets))
	require.False(t, isTrustedProxy("garbage", nets))
}

func TestClientIPIgnoresHeadersFromUntrustedPeer(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:54321"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	require.Equal(t, "203.0.113.7", clientIP(r, nil))
	require.Equal(t, "203.0.113.7", clientIP(r, parseProxyCIDRs([]string{"10.0.0.0/8"})))
}

func TestClientIPTrustsForwardedForFromProxy(t *testing.T) {
	t.Parallel()

	trusted := parseProxyCIDRs([]string{"10.0.0.0/8"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.2:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.2")
	require.Equal(t, "198.51.100.9", clientIP(r, trusted))

	// X-Real-IP is the fallback when no X-Forwarded-For is present.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.2:443"
	r.Header.Set("X-Real-IP", "198.51.100.10")
	require.Equal(t, "198.51.100.10", clientIP(r, trusted))

	// No headers at all falls back to the peer address.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.2:443"
	require.Equal(t, "10.0.0.2", clientIP(r, trusted))
}

func TestValidateEmail(t *testing.T) {
	t.Parallel()

	require.True(t, validateEmail("user@example.com"))
	require.True(t, validateEmail("first.last+tag@sub.example.co"))
	require.False(t, validateEmail(""))
	require.False(t, validateEmail("not-an-email"))
	require.False(t, validateEmail("missing@domain@example.com"))
}
