package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/veyra/authd/internal/account"
	"github.com/veyra/authd/internal/auth"
)

const healthTimeout = 2 * time.Second

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func validateEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

// writeServiceError maps the service sentinels onto HTTP. Anything
// unmapped is a 500 with a generic body.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var lockout *auth.LockoutError
	if errors.As(err, &lockout) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"message":      "Account temporarily locked due to repeated failures.",
			"lockedUntil":  lockout.Until,
			"retryAfterMs": time.Until(lockout.Until).Milliseconds(),
		})
		return
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid email or password.")
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, "A user with this email already exists.")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters and contain upper and lower case letters and a number.")
	case errors.Is(err, auth.ErrBreachedPassword):
		writeError(w, http.StatusBadRequest, "This password appears in known data breaches. Choose a different one.")
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Too many attempts. Try again later.")
	case errors.Is(err, auth.ErrSessionNotFound):
		writeError(w, http.StatusUnauthorized, "Session is invalid or has been revoked.")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "Token has expired.")
	case errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "Token is invalid.")
	case errors.Is(err, auth.ErrChallengeNotFound):
		writeError(w, http.StatusNotFound, "Challenge not found or expired.")
	case errors.Is(err, auth.ErrChallengeExhausted):
		writeError(w, http.StatusTooManyRequests, "Too many incorrect codes. Sign in again.")
	case errors.Is(err, auth.ErrInvalidCode):
		writeError(w, http.StatusUnauthorized, "Incorrect code.")
	case errors.Is(err, auth.ErrBackupCodeInvalid):
		writeError(w, http.StatusUnauthorized, "Incorrect backup code.")
	case errors.Is(err, auth.ErrBackupCodesDepleted):
		writeError(w, http.StatusUnauthorized, "No backup codes remain. Use your authenticator app.")
	case errors.Is(err, auth.ErrMFAAlreadyEnabled):
		writeError(w, http.StatusConflict, "Two-factor authentication is already enabled.")
	case errors.Is(err, auth.ErrMFANotEnabled):
		writeError(w, http.StatusBadRequest, "Two-factor authentication is not enabled.")
	case errors.Is(err, auth.ErrMFASetupNotStarted):
		writeError(w, http.StatusBadRequest, "Start two-factor setup first.")
	case errors.Is(err, auth.ErrPasswordReauthFailed):
		writeError(w, http.StatusUnauthorized, "Password confirmation failed.")
	case errors.Is(err, auth.ErrProviderNotConfigured):
		writeError(w, http.StatusNotFound, "Unknown or unconfigured provider.")
	case errors.Is(err, auth.ErrStateInvalid):
		writeError(w, http.StatusBadRequest, "Sign-in state is invalid or expired. Start over.")
	case errors.Is(err, auth.ErrProviderEmailMissing):
		writeError(w, http.StatusBadRequest, "The provider did not share an email address.")
	case errors.Is(err, auth.ErrAccountAlreadyLinked):
		writeError(w, http.StatusConflict, "This external account is linked to another user.")
	case errors.Is(err, auth.ErrWebhookNotFound):
		writeError(w, http.StatusNotFound, "Webhook not found.")
	case errors.Is(err, auth.ErrWebhookURLInvalid):
		writeError(w, http.StatusBadRequest, "Webhook URL must be an absolute http(s) URL.")
	case errors.Is(err, auth.ErrDeliveryNotFound):
		writeError(w, http.StatusNotFound, "Delivery not found.")
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found.")
	default:
		s.Logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error.")
	}
}

func (s *Server) requestContext(r *http.Request) account.RequestContext {
	return account.RequestContext{
		IP:        clientIP(r, s.trustedProxies),
		UserAgent: r.UserAgent(),
	}
}

func clientIP(r *http.Request, trusted []net.IPNet) string {
	remoteHost, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || remoteHost == "" {
		remoteHost = r.RemoteAddr
	}

	// Only trust forwarded headers when the immediate sender is a trusted proxy.
	if remoteHost != "" && isTrustedProxy(remoteHost, trusted) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}

	return remoteHost
}

func parseProxyCIDRs(values []string) []net.IPNet {
	var nets []net.IPNet
	for _, v := range values {
		val := strings.TrimSpace(v)
		if val == "" {
			continue
		}
		if ip := net.ParseIP(val); ip != nil {
			mask := net.CIDRMask(128, 128)
			if ip.To4() != nil {
				mask = net.CIDRMask(32, 32)
			}
			nets = append(nets, net.IPNet{IP: ip, Mask: mask})
			continue
		}
		if _, cidr, err := net.ParseCIDR(val); err == nil {
			nets = append(nets, *cidr)
		}
	}
	return nets
}

func isTrustedProxy(ipStr string, proxies []net.IPNet) bool {
	if len(proxies) == 0 {
		return false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func userPayload(u *auth.User) map[string]any {
	return map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"username":      u.Username,
		"name":          u.Name,
		"avatarUrl":     u.AvatarURL,
		"emailVerified": u.EmailVerified != nil,
		"mfaEnabled":    u.MFAEnabled,
		"createdAt":     u.CreatedAt,
	}
}

func tokenPayload(t *auth.TokenPair, sessionID string) map[string]any {
	return map[string]any{
		"accessToken":  t.AccessToken,
		"refreshToken": t.RefreshToken,
		"expiresAt":    t.ExpiresAt,
		"sessionId":    sessionID,
	}
}
