package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleShares(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	result, err := s.service.ListShares(r.Context(), session, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleTeamShares(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		UserID     string `json:"userId"`
		Permission string `json:"permission"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeInvalidBody(w, err)
		return
	}
	result, err := s.service.CreateShare(r.Context(), session, chi.URLParam(r, "id"), body.UserID, body.Permission)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleTeamShare(w http.ResponseWriter, r *http.Request, session Session) {
	manualID := chi.URLParam(r, "id")
	shareID := chi.URLParam(r, "shareId")
	switch r.Method {
	case http.MethodPut:
		var body struct {
			Permission string `json:"permission"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeInvalidBody(w, err)
			return
		}
		result, err := s.service.UpdateShare(r.Context(), session, manualID, shareID, body.Permission)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodDelete:
		if err := s.service.DeleteShare(r.Context(), session, manualID, shareID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// parseExpiry reads an optional RFC 3339 timestamp. Absent and null both
// yield nil.
func parseExpiry(raw json.RawMessage) (*time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, errValidation("expiresAt must be an RFC 3339 timestamp", map[string]any{"field": "expiresAt"})
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(text))
	if err != nil {
		return nil, errValidation("expiresAt must be an RFC 3339 timestamp", map[string]any{"field": "expiresAt"})
	}
	return &at, nil
}

func (s *HTTPServer) handleExternalLinks(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		AccessType string          `json:"accessType"`
		ExpiresAt  json.RawMessage `json:"expiresAt"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeInvalidBody(w, err)
		return
	}
	expiresAt, err := parseExpiry(body.ExpiresAt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.CreateExternalLink(r.Context(), session, chi.URLParam(r, "id"), body.AccessType, expiresAt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleExternalLink(w http.ResponseWriter, r *http.Request, session Session) {
	manualID := chi.URLParam(r, "id")
	linkID := chi.URLParam(r, "linkId")
	switch r.Method {
	case http.MethodPut:
		var body struct {
			AccessType *string         `json:"accessType"`
			IsActive   *bool           `json:"isActive"`
			ExpiresAt  json.RawMessage `json:"expiresAt"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeInvalidBody(w, err)
			return
		}
		update := LinkUpdate{AccessType: body.AccessType, IsActive: body.IsActive}
		// A present key, null included, replaces the expiry.
		if body.ExpiresAt != nil {
			expiresAt, err := parseExpiry(body.ExpiresAt)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			update.SetExpiry = true
			update.ExpiresAt = expiresAt
		}
		result, err := s.service.UpdateExternalLink(r.Context(), session, manualID, linkID, update)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodDelete:
		if err := s.service.DeleteExternalLink(r.Context(), session, manualID, linkID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// handleSharedManual serves a public link and needs no session.
func (s *HTTPServer) handleSharedManual(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.SharedManual(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
