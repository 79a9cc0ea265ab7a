package server

import (
	"net/http"
)

type mfaVerifyRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
	Method      string `json:"method"`
}

func (s *Server) handleMfaVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if err := decodeJSON(r, &req); err != nil || req.ChallengeID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.Accounts.VerifyMfa(r.Context(), req.ChallengeID, req.Code, req.Method, s.requestContext(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":   userPayload(result.User),
		"tokens": tokenPayload(result.Tokens, result.SessionID),
	})
}

func (s *Server) handleMfaSetup(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	setup, err := s.Accounts.SetupTOTP(r.Context(), claims.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"secret":     setup.Secret,
		"otpauthUrl": setup.OtpauthURL,
		"qrDataUrl":  setup.QRDataURL,
	})
}

type mfaEnableRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleMfaEnable(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req mfaEnableRequest
	if err := decodeJSON(r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	codes, err := s.Accounts.EnableTOTP(r.Context(), claims.UserID, req.Code)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// Backup codes are shown exactly once.
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Two-factor authentication enabled.",
		"backupCodes": codes,
	})
}

type mfaDisableRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleMfaDisable(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req mfaDisableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.Accounts.DisableTOTP(r.Context(), claims.UserID, req.Password); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication disabled."})
}

type backupCodesRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleBackupCodesRegenerate(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req backupCodesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	codes, err := s.Accounts.RegenerateBackupCodes(r.Context(), claims.UserID, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backupCodes": codes})
}
