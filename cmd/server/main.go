package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veyra/authd/internal/account"
	"github.com/veyra/authd/internal/auth"
	"github.com/veyra/authd/internal/config"
	"github.com/veyra/authd/internal/database"
	"github.com/veyra/authd/internal/email"
	"github.com/veyra/authd/internal/oauth"
	redisx "github.com/veyra/authd/internal/redis"
	"github.com/veyra/authd/internal/server"
	"github.com/veyra/authd/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database error", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := redisx.New(cfg.RedisURL)
	if err != nil {
		logger.Error("redis error", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	users := auth.NewUserRepository(db)
	sessionRepo := auth.NewSessionRepository(db)
	challenges := auth.NewChallengeStore(redisClient)
	hasher := auth.NewArgon2Hasher()
	tokens := auth.NewTokenService([]byte(cfg.JWTSecret), cfg.Issuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	totpSvc := auth.NewTOTPService(cfg.Issuer)
	limiter := &auth.RedisRateLimiter{Redis: redisClient}
	audit := &auth.RedisAuditSink{Redis: redisClient, Logger: logger, MaxLen: 10000}
	breach := auth.NewHIBPChecker()

	cipher, err := auth.NewSecretCipher(cfg.SecretKey)
	if err != nil {
		logger.Error("secret cipher error", "error", err)
		os.Exit(1)
	}

	mailer := email.NewMailer(email.NewSender(cfg.Email), cfg.BaseURL)

	webhookRepo := webhook.NewRepository(db)
	webhookQueue := webhook.NewQueue(redisClient)
	webhooks := webhook.NewService(webhook.Config{MaxAttempts: cfg.WebhookMaxAttempts}, webhookRepo, webhookQueue, logger)
	events := &webhook.Events{Service: webhooks}

	accountCfg := account.DefaultConfig()
	accountCfg.LockoutThreshold = cfg.LockoutThreshold
	accountCfg.LockoutCooldown = cfg.LockoutCooldown

	accounts := account.NewService(accountCfg, users, sessionRepo, challenges,
		hasher, tokens, totpSvc, cipher, mailer, breach, limiter, audit, events, logger)

	states := oauth.NewStateStore(redisClient)
	oauthSvc := oauth.NewService(states, users, accounts, audit, logger,
		oauth.NewGitHub(cfg.OAuth.GitHub),
		oauth.NewGoogle(cfg.OAuth.Google),
		oauth.NewDiscord(cfg.OAuth.Discord),
	)

	api := server.NewServer(cfg, accounts, oauthSvc, webhooks, tokens, db, redisClient, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := webhook.NewDispatcher(webhookRepo, webhookQueue, logger)
	go dispatcher.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
