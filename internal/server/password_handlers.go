package server

import (
	"net/http"
)

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil || !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.Accounts.RequestPasswordReset(r.Context(), req.Email, clientIP(r, s.trustedProxies)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	// Same answer whether or not the account exists.
	writeJSON(w, http.StatusOK, map[string]string{"message": "If an account exists for this email, a reset link has been sent."})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.Accounts.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated. All sessions have been signed out."})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := decodeJSON(r, &req); err != nil || req.Email == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.Accounts.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified."})
}

type resendVerificationRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendVerificationRequest
	if err := decodeJSON(r, &req); err != nil || !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.Accounts.RequestEmailVerification(r.Context(), req.Email); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "If the email is pending verification, a new code has been sent."})
}

type magicLinkRequest struct {
	Email    string `json:"email"`
	Redirect string `json:"redirect"`
}

func (s *Server) handleMagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := decodeJSON(r, &req); err != nil || !validateEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.Accounts.RequestMagicLink(r.Context(), req.Email, req.Redirect); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "If an account exists for this email, a sign-in link has been sent."})
}

type magicLinkRedeemRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleMagicLinkRedeem(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRedeemRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.Accounts.RedeemMagicLink(r.Context(), req.Token, s.requestContext(r))
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
