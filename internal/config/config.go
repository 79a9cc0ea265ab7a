package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/veyra/authd/internal/email"
	"github.com/veyra/authd/internal/oauth"
)

type Config struct {
	Port        string
	BaseURL     string
	DatabaseURL string
	RedisURL    string

	JWTSecret string
	// AdminAPIKey guards the webhook management and impersonation
	// endpoints. Empty disables them.
	AdminAPIKey string
	// SecretKey is the 32-byte AES key protecting TOTP seeds and backup
	// codes at rest, supplied base64-encoded.
	SecretKey []byte
	Issuer    string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	LockoutThreshold int
	LockoutCooldown  time.Duration

	WebhookMaxAttempts int

	LogLevel  string
	LogFormat string

	TrustedProxies []string

	Email email.Config
	OAuth OAuthConfig
}

type OAuthConfig struct {
	GitHub  oauth.ClientCredentials
	Google  oauth.ClientCredentials
	Discord oauth.ClientCredentials
}

func Load() (Config, error) {
	clean := func(val string) string {
		return strings.Trim(val, "\"' \t\r\n")
	}

	rawPort := strings.Trim(getenvDefault("EMAIL_SERVER_PORT", "587"), "\"' ")
	emailPort, err := strconv.Atoi(rawPort)
	if err != nil {
		emailPort = 587
	}

	cfg := Config{
		Port:               getenvDefault("PORT", "8080"),
		BaseURL:            getenvDefault("APP_BASE_URL", "http://localhost:8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           getenvDefault("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AdminAPIKey:        clean(os.Getenv("ADMIN_API_KEY")),
		Issuer:             getenvDefault("JWT_ISSUER", "authd"),
		AccessTokenTTL:     parseDuration(os.Getenv("ACCESS_TOKEN_TTL"), 15*time.Minute),
		RefreshTokenTTL:    parseDuration(os.Getenv("REFRESH_TOKEN_TTL"), 30*24*time.Hour),
		LockoutThreshold:   parseInt(os.Getenv("LOCKOUT_THRESHOLD"), 5),
		LockoutCooldown:    parseDuration(os.Getenv("LOCKOUT_COOLDOWN"), 15*time.Minute),
		WebhookMaxAttempts: parseInt(os.Getenv("WEBHOOK_MAX_ATTEMPTS"), 5),
		LogLevel:           getenvDefault("LOG_LEVEL", "info"),
		LogFormat:          getenvDefault("LOG_FORMAT", "json"),
		TrustedProxies:     parseList(os.Getenv("TRUSTED_PROXIES")),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}

	rawKey := clean(os.Getenv("SECRET_KEY"))
	if rawKey == "" {
		return Config{}, fmt.Errorf("SECRET_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(rawKey)
	if err != nil {
		return Config{}, fmt.Errorf("SECRET_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return Config{}, fmt.Errorf("SECRET_KEY must decode to 32 bytes, got %d", len(key))
	}
	cfg.SecretKey = key

	cfg.Email = email.Config{
		Host:     clean(os.Getenv("EMAIL_SERVER_HOST")),
		Port:     emailPort,
		Username: clean(os.Getenv("EMAIL_SERVER_USER")),
		Password: clean(os.Getenv("EMAIL_SERVER_PASSWORD")),
		From:     clean(os.Getenv("EMAIL_FROM")),
		Secure:   parseBool(os.Getenv("EMAIL_SERVER_SECURE")),
	}

	cfg.OAuth = OAuthConfig{
		GitHub: oauth.ClientCredentials{
			ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
			ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
			RedirectURL:  getenvDefault("GITHUB_REDIRECT_URL", cfg.BaseURL+"/api/oauth/github/callback"),
		},
		Google: oauth.ClientCredentials{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  getenvDefault("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/api/oauth/google/callback"),
		},
		Discord: oauth.ClientCredentials{
			ClientID:     os.Getenv("DISCORD_CLIENT_ID"),
			ClientSecret: os.Getenv("DISCORD_CLIENT_SECRET"),
			RedirectURL:  getenvDefault("DISCORD_REDIRECT_URL", cfg.BaseURL+"/api/oauth/discord/callback"),
		},
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseBool(val string) bool {
	if val == "" {
		return false
	}
	val = strings.ToLower(strings.Trim(val, "\"' "))
	return val == "1" || val == "true" || val == "yes"
}

func parseInt(val string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseDuration(val string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseList(val string) []string {
	parts := strings.Split(val, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
