package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type GitHub struct {
	Credentials ClientCredentials
	// Overridable for tests.
	AuthEndpoint  string
	TokenEndpoint string
	APIBase       string
}

func NewGitHub(creds ClientCredentials) *GitHub {
	return &GitHub{
		Credentials:   creds,
		AuthEndpoint:  "https://github.com/login/oauth/authorize",
		TokenEndpoint: "https://github.com/login/oauth/access_token",
		APIBase:       "https://api.github.com",
	}
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) AuthURL(state, challenge, redirectURI string) string {
	u, _ := url.Parse(g.AuthEndpoint)
	q := u.Query()
	q.Set("client_id", g.Credentials.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", "read:user user:email")
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	u.RawQuery = q.Encode()
	return u.String()
}

func (g *GitHub) Exchange(ctx context.Context, code, verifier, redirectURI string) (string, error) {
	form := url.Values{}
	form.Set("client_id", g.Credentials.ClientID)
	form.Set("client_secret", g.Credentials.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("github: missing access token")
	}
	return tok.AccessToken, nil
}

func (g *GitHub) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	var data struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := g.getJSON(ctx, accessToken, "/user", &data); err != nil {
		return nil, err
	}

	email := data.Email
	if email == "" {
		// Most accounts hide the profile email; fall back to the
		// primary verified address.
		email, _ = g.primaryEmail(ctx, accessToken)
	}

	name := data.Name
	if strings.TrimSpace(name) == "" {
		name = data.Login
	}

	return &Identity{
		ProviderAccountID: fmt.Sprintf("%d", data.ID),
		Email:             email,
		Name:              name,
		AvatarURL:         data.AvatarURL,
	}, nil
}

func (g *GitHub) primaryEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := g.getJSON(ctx, accessToken, "/user/emails", &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, nil
	}
	return "", nil
}

func (g *GitHub) getJSON(ctx context.Context, token, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.APIBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github: %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
