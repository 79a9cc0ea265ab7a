package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/veyra/authd/internal/account"
	"github.com/veyra/authd/internal/auth"
	"github.com/veyra/authd/internal/config"
	"github.com/veyra/authd/internal/oauth"
	"github.com/veyra/authd/internal/webhook"
)

type Server struct {
	Accounts *account.Service
	OAuth    *oauth.Service
	Webhooks *webhook.Service
	Tokens   *auth.TokenService
	Config   config.Config
	Logger   *slog.Logger

	db             *pgxpool.Pool
	rdb            *redis.Client
	trustedProxies []net.IPNet
}

func NewServer(cfg config.Config, accounts *account.Service, oauthSvc *oauth.Service,
	webhooks *webhook.Service, tokens *auth.TokenService,
	db *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Accounts:       accounts,
		OAuth:          oauthSvc,
		Webhooks:       webhooks,
		Tokens:         tokens,
		Config:         cfg,
		Logger:         logger,
		db:             db,
		rdb:            rdb,
		trustedProxies: parseProxyCIDRs(cfg.TrustedProxies),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders)

	r.Get("/healthz", s.handleHealth)

	r.Post("/api/register", s.handleRegister)
	r.Post("/api/verify-email", s.handleVerifyEmail)
	r.Post("/api/resend-verification", s.handleResendVerification)
	r.Post("/api/forgot-password", s.handleForgotPassword)
	r.Post("/api/reset-password", s.handleResetPassword)
	r.Post("/api/magic-link", s.handleMagicLinkRequest)
	r.Post("/api/magic-link/redeem", s.handleMagicLinkRedeem)

	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/refresh", s.handleRefresh)
	r.Post("/api/mfa/verify", s.handleMfaVerify)

	r.Get("/api/oauth/{provider}/start", s.handleOAuthStart)
	r.Get("/api/oauth/{provider}/callback", s.handleOAuthCallback)

	r.Group(func(pr chi.Router) {
		pr.Use(s.requireAuth)

		pr.Get("/api/auth/me", s.handleMe)
		pr.Post("/api/auth/logout", s.handleLogout)
		pr.Post("/api/auth/logout-all", s.handleLogoutAll)
		pr.Get("/api/sessions", s.handleListSessions)
		pr.Delete("/api/sessions/{id}", s.handleRevokeSession)

		pr.Post("/api/mfa/setup", s.handleMfaSetup)
		pr.Post("/api/mfa/enable", s.handleMfaEnable)
		pr.Post("/api/mfa/disable", s.handleMfaDisable)
		pr.Post("/api/mfa/backup-codes", s.handleBackupCodesRegenerate)
	})

	r.Group(func(ar chi.Router) {
		ar.Use(s.requireAdmin)

		ar.Post("/api/admin/impersonate", s.handleImpersonate)

		ar.Post("/api/webhooks", s.handleWebhookCreate)
		ar.Get("/api/webhooks", s.handleWebhookList)
		ar.Get("/api/webhooks/{id}", s.handleWebhookGet)
		ar.Patch("/api/webhooks/{id}", s.handleWebhookUpdate)
		ar.Delete("/api/webhooks/{id}", s.handleWebhookDelete)
		ar.Get("/api/webhooks/{id}/deliveries", s.handleWebhookDeliveries)
		ar.Post("/api/deliveries/{id}/replay", s.handleDeliveryReplay)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := map[string]string{"postgres": "ok", "redis": "ok"}

	if err := s.db.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}
