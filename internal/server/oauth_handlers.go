package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	returnTo := r.URL.Query().Get("returnTo")

	redirectURI := s.oauthRedirectURI(provider)
	authURL, err := s.OAuth.Initiate(r.Context(), provider, redirectURI, returnTo)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		writeError(w, http.StatusBadRequest, "The provider denied the request.")
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "Missing code or state")
		return
	}

	result, err := s.OAuth.Callback(r.Context(), provider, code, state, s.oauthRedirectURI(provider), s.requestContext(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":      userPayload(result.User),
		"tokens":    tokenPayload(result.Tokens, result.SessionID),
		"isNewUser": result.IsNewUser,
		"returnTo":  result.ReturnTo,
	})
}

func (s *Server) oauthRedirectURI(provider string) string {
	switch provider {
	case "github":
		return s.Config.OAuth.GitHub.RedirectURL
	case "google":
		return s.Config.OAuth.Google.RedirectURL
	case "discord":
		return s.Config.OAuth.Discord.RedirectURL
	}
	return ""
}
