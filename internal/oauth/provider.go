// Package oauth implements the federation pipeline: state/PKCE issuance,
// provider code exchange, identity normalization and account linking.
package oauth

import (
	"context"
	"net/http"
	"time"
)

// Identity is the canonical shape every provider response is mapped
// into.
type Identity struct {
	ProviderAccountID string
	Email             string
	Name              string
	AvatarURL         string
}

// Provider is the single capability the pipeline talks to; one variant
// exists per upstream.
type Provider interface {
	Name() string
	AuthURL(state, challenge, redirectURI string) string
	Exchange(ctx context.Context, code, verifier, redirectURI string) (string, error)
	FetchIdentity(ctx context.Context, accessToken string) (*Identity, error)
}

// ClientCredentials configures one provider registration.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func (c ClientCredentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// httpClient bounds every outbound provider call; a timeout is treated
// the same as a connection failure.
var httpClient = &http.Client{Timeout: 10 * time.Second}
