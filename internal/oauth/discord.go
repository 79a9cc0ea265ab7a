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

type Discord struct {
	Credentials   ClientCredentials
	AuthEndpoint  string
	TokenEndpoint string
	UserEndpoint  string
}

func NewDiscord(creds ClientCredentials) *Discord {
	return &Discord{
		Credentials:   creds,
		AuthEndpoint:  "https://discord.com/api/oauth2/authorize",
		TokenEndpoint: "https://discord.com/api/oauth2/token",
		UserEndpoint:  "https://discord.com/api/users/@me",
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) AuthURL(state, challenge, redirectURI string) string {
	u, _ := url.Parse(d.AuthEndpoint)
	q := u.Query()
	q.Set("client_id", d.Credentials.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "identify email")
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("prompt", "none")
	u.RawQuery = q.Encode()
	return u.String()
}

func (d *Discord) Exchange(ctx context.Context, code, verifier, redirectURI string) (string, error) {
	form := url.Values{}
	form.Set("client_id", d.Credentials.ClientID)
	form.Set("client_secret", d.Credentials.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)
	form.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

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
		return "", errors.New("discord: missing access token")
	}
	return tok.AccessToken, nil
}

func (d *Discord) FetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.UserEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord: user fetch returned %d", resp.StatusCode)
	}

	var data struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		GlobalName    string `json:"global_name"`
		Email         string `json:"email"`
		Avatar        string `json:"avatar"`
		Discriminator string `json:"discriminator"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}

	name := data.GlobalName
	if name == "" {
		name = data.Username
		if data.Discriminator != "" && data.Discriminator != "0" {
			name = fmt.Sprintf("%s#%s", data.Username, data.Discriminator)
		}
	}

	var avatarURL string
	if data.Avatar != "" {
		avatarURL = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", data.ID, data.Avatar)
	}

	return &Identity{
		ProviderAccountID: data.ID,
		Email:             data.Email,
		Name:              name,
		AvatarURL:         avatarURL,
	}, nil
}
