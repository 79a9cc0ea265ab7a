package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/veyra/authd/internal/auth"
)

type ctxKey string

const claimsContextKey ctxKey = "claims"

func claimsFromContext(ctx context.Context) *auth.AccessClaims {
	claims, _ := ctx.Value(claimsContextKey).(*auth.AccessClaims)
	return claims
}

// requireAuth verifies the bearer access token statelessly; the session
// row is only consulted by the operations that need it.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		claims, err := s.Tokens.VerifyAccess(token)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.Config.AdminAPIKey
		if key == "" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		presented := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}
