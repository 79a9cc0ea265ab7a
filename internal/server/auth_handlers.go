package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veyra/authd/internal/account"
)

type registerRequest struct {
	Email    string  `json:"email"`
	Username *string `json:"username"`
	Name     *string `json:"name"`
	Password string  `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Invalid email format")
		return
	}

	result, err := s.Accounts.SignUp(r.Context(), account.SignUpParams{
		Email:    req.Email,
		Username: req.Username,
		Name:     req.Name,
		Password: req.Password,
		Context:  s.requestContext(r),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful! Please check your email to verify your account.",
		"user":    userPayload(result.User),
		"tokens":  tokenPayload(result.Tokens, result.SessionID),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.Accounts.SignIn(r.Context(), account.SignInParams{
		Email:    req.Email,
		Password: req.Password,
		Context:  s.requestContext(r),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if result.RequiresMFA {
		writeJSON(w, http.StatusOK, map[string]any{
			"mfaRequired": true,
			"challengeId": result.ChallengeID,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":   userPayload(result.User),
		"tokens": tokenPayload(result.Tokens, result.SessionID),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tokens, sessionID, err := s.Accounts.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokenPayload(tokens, sessionID)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims.SessionID == "" {
		writeError(w, http.StatusBadRequest, "Token is not backed by a session")
		return
	}
	if err := s.Accounts.SignOut(r.Context(), claims.UserID, claims.SessionID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Signed out."})
}

type logoutAllRequest struct {
	KeepCurrent bool `json:"keepCurrent"`
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req logoutAllRequest
	_ = decodeJSON(r, &req)

	except := ""
	if req.KeepCurrent {
		except = claims.SessionID
	}

	revoked, err := s.Accounts.SignOutAll(r.Context(), claims.UserID, except)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	user, err := s.Accounts.GetUser(r.Context(), claims.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	payload := map[string]any{"user": userPayload(user)}
	if claims.ActorID != "" {
		payload["impersonatedBy"] = claims.ActorID
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	sessions, err := s.Accounts.ListSessions(r.Context(), claims.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, map[string]any{
			"id":           sess.ID,
			"ip":           sess.IP,
			"userAgent":    sess.UserAgent,
			"current":      sess.ID == claims.SessionID,
			"lastActiveAt": sess.LastActiveAt,
			"expiresAt":    sess.ExpiresAt,
			"createdAt":    sess.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")

	if err := s.Accounts.SignOut(r.Context(), claims.UserID, sessionID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session revoked."})
}

type impersonateRequest struct {
	ActorID string `json:"actorId"`
	UserID  string `json:"userId"`
}

func (s *Server) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	var req impersonateRequest
	if err := decodeJSON(r, &req); err != nil || req.ActorID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, exp, err := s.Accounts.Impersonate(r.Context(), req.ActorID, req.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": token,
		"expiresAt":   exp,
	})
}
