package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type webhookCreateRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"eventTypes"`
}

func (s *Server) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	var req webhookCreateRequest
	if err := decodeJSON(r, &req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	hook, secret, err := s.Webhooks.Register(r.Context(), req.URL, req.EventTypes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": hook,
		"secret":  secret,
	})
}

func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.Webhooks.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

func (s *Server) handleWebhookGet(w http.ResponseWriter, r *http.Request) {
	hook, err := s.Webhooks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhook": hook})
}

type webhookUpdateRequest struct {
	URL        *string  `json:"url"`
	EventTypes []string `json:"eventTypes"`
	Enabled    *bool    `json:"enabled"`
}

func (s *Server) handleWebhookUpdate(w http.ResponseWriter, r *http.Request) {
	var req webhookUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	hook, err := s.Webhooks.Update(r.Context(), chi.URLParam(r, "id"), req.URL, req.EventTypes, req.Enabled)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhook": hook})
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Webhooks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Webhook deleted."})
}

func (s *Server) handleWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	deliveries, err := s.Webhooks.Deliveries(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

func (s *Server) handleDeliveryReplay(w http.ResponseWriter, r *http.Request) {
	delivery, err := s.Webhooks.Replay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"delivery": delivery})
}
