package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleTeam(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		result, err := s.service.GetTeam(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodPost, http.MethodPut:
		var body struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeInvalidBody(w, err)
			return
		}
		if r.Method == http.MethodPost {
			result, err := s.service.CreateTeam(r.Context(), session, body.Name, body.Description)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, result)
			return
		}
		result, err := s.service.UpdateTeam(r.Context(), session, body.Name, body.Description)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodDelete:
		if err := s.service.DeleteTeam(r.Context(), session); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// handleTeamMembers invites a new member by email.
func (s *HTTPServer) handleTeamMembers(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeInvalidBody(w, err)
		return
	}
	result, err := s.service.InviteMember(r.Context(), session, body.Email, body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleTeamMember(w http.ResponseWriter, r *http.Request, session Session) {
	memberID := chi.URLParam(r, "memberId")
	switch r.Method {
	case http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeInvalidBody(w, err)
			return
		}
		result, err := s.service.UpdateMemberRole(r.Context(), session, memberID, body.Role)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodDelete:
		if err := s.service.RemoveMember(r.Context(), session, memberID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleTeamTransfer(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		MemberID string `json:"memberId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeInvalidBody(w, err)
		return
	}
	result, err := s.service.TransferOwnership(r.Context(), session, body.MemberID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleInvitations(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.ListInvitations(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleInvitationAction(w http.ResponseWriter, r *http.Request, session Session) {
	token := chi.URLParam(r, "token")
	switch chi.URLParam(r, "action") {
	case "accept":
		result, err := s.service.AcceptInvitation(r.Context(), session, token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "reject":
		if err := s.service.RejectInvitation(r.Context(), session, token); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
