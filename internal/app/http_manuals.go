package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hoonjeong/menualic/internal/store"
)

func (s *HTTPServer) handleManuals(w http.ResponseWriter, r *http.Request, session Session) {
	switch r.Method {
	case http.MethodGet:
		result, err := s.service.ListManuals(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodPost:
		var body struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeInvalidBody(w, err)
			return
		}
		result, err := s.service.CreateManual(r.Context(), session, body.Title, body.Description)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleManual(w http.ResponseWriter, r *http.Request, session Session) {
	manualID := chi.URLParam(r, "id")
	switch r.Method {
	case http.MethodGet:
		result, err := s.service.GetManual(r.Context(), session, manualID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodPut:
		var body struct {
			Title       *string `json:"title"`
			Description *string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeInvalidBody(w, err)
			return
		}
		result, err := s.service.UpdateManual(r.Context(), session, manualID, body.Title, body.Description)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodDelete:
		if err := s.service.DeleteManual(r.Context(), session, manualID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSections(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		Title    string  `json:"title"`
		ParentID *string `json:"parentId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeInvalidBody(w, err)
		return
	}
	result, err := s.service.AddSection(r.Context(), session, chi.URLParam(r, "id"), body.Title, body.ParentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleSection(w http.ResponseWriter, r *http.Request, session Session) {
	manualID := chi.URLParam(r, "id")
	sectionID := chi.URLParam(r, "sectionId")
	switch r.Method {
	case http.MethodPut:
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeInvalidBody(w, err)
			return
		}
		result, err := s.service.UpdateSection(r.Context(), session, manualID, sectionID, body.Title)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodDelete:
		if err := s.service.DeleteSection(r.Context(), session, manualID, sectionID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

type reorderBody struct {
	Items []store.OrderUpdate `json:"items"`
}

func (s *HTTPServer) handleSectionReorder(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body reorderBody
	if err := decodeBody(r, &body); err != nil {
		writeInvalidBody(w, err)
		return
	}
	if err := s.service.ReorderSections(r.Context(), session, chi.URLParam(r, "id"), body.Items); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleBlockReorder(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body reorderBody
	if err := decodeBody(r, &body); err != nil {
		writeInvalidBody(w, err)
		return
	}
	if err := s.service.ReorderBlocks(r.Context(), session, chi.URLParam(r, "id"), body.Items); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// blockContent accepts block content either as a JSON string or as a raw
// JSON object.
func blockContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", errors.New("invalid JSON body")
		}
		return text, nil
	}
	return string(raw), nil
}

func (s *HTTPServer) handleBlocks(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		SectionID string          `json:"sectionId"`
		Type      string          `json:"type"`
		Content   json.RawMessage `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeInvalidBody(w, err)
		return
	}
	content, err := blockContent(body.Content)
	if err != nil {
		writeInvalidBody(w, err)
		return
	}
	result, err := s.service.AddBlock(r.Context(), session, chi.URLParam(r, "id"), body.SectionID, body.Type, content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleBlock(w http.ResponseWriter, r *http.Request, session Session) {
	manualID := chi.URLParam(r, "id")
	blockID := chi.URLParam(r, "blockId")
	switch r.Method {
	case http.MethodPut:
		var body struct {
			Type    *string         `json:"type"`
			Content json.RawMessage `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeInvalidBody(w, err)
			return
		}
		var content *string
		if len(body.Content) > 0 {
			text, err := blockContent(body.Content)
			if err != nil {
				writeInvalidBody(w, err)
				return
			}
			content = &text
		}
		result, err := s.service.UpdateBlock(r.Context(), session, manualID, blockID, body.Type, content)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodDelete:
		if err := s.service.DeleteBlock(r.Context(), session, manualID, blockID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, session Session) {
	manualID := chi.URLParam(r, "id")
	switch r.Method {
	case http.MethodGet:
		result, err := s.service.ListVersions(r.Context(), session, manualID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodPost:
		var body struct {
			Summary string `json:"summary"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeInvalidBody(w, err)
			return
		}
		result, err := s.service.CreateVersion(r.Context(), session, manualID, body.Summary)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleVersion(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	result, err := s.service.GetVersion(r.Context(), session, chi.URLParam(r, "id"), chi.URLParam(r, "versionId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleVersionRestore(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	result, err := s.service.RestoreVersion(r.Context(), session, chi.URLParam(r, "id"), chi.URLParam(r, "versionId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
