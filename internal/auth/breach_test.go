package auth

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHIBPCheckerBreached(t *testing.T) {
	t.Parallel()

	password := "password123"
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(fmt.Sprintf("%x", sum))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/"+digest[:5], r.URL.Path)
		require.Equal(t, "true", r.Header.Get("Add-Padding"))
		fmt.Fprintf(w, "0000000000000000000000000000000000F:0\r\n%s:42\r\n", digest[5:])
	}))
	defer srv.Close()

	checker := &HIBPChecker{BaseURL: srv.URL, Client: srv.Client()}

	breached, err := checker.IsBreached(context.Background(), password)
	require.NoError(t, err)
	require.True(t, breached)
}

func TestHIBPCheckerClean(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0000000000000000000000000000000000F:3\r\n")
	}))
	defer srv.Close()

	checker := &HIBPChecker{BaseURL: srv.URL, Client: srv.Client()}

	breached, err := checker.IsBreached(context.Background(), "genuinely-unique-passphrase-1X")
	require.NoError(t, err)
	require.False(t, breached)
}

func TestHIBPCheckerUpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	checker := &HIBPChecker{BaseURL: srv.URL, Client: srv.Client()}

	_, err := checker.IsBreached(context.Background(), "whatever1A")
	require.Error(t, err)
}
