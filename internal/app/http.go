package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/hoonjeong/menualic/internal/auth"
	"github.com/hoonjeong/menualic/internal/store"
	"github.com/rs/zerolog"
)

const sessionCookieName = "menualic_session"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: service.log}
}

// sessionHandler is a handler that runs after the caller is authenticated.
type sessionHandler func(w http.ResponseWriter, r *http.Request, session Session)

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.corsOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: s.corsOrigin != "*",
		MaxAge:           300,
	}))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)

	r.Post("/api/auth/signup", s.handleAuthSignUp)
	r.Post("/api/auth/login", s.handleAuthLogin)
	r.Post("/api/auth/logout", s.handleAuthLogout)
	r.Get("/api/auth/session", s.handleAuthSession)
	r.Post("/api/auth/password/forgot", s.handleAuthForgotPassword)
	r.Post("/api/auth/password/reset", s.handleAuthResetPassword)
	r.Get("/api/share/{token}", s.handleSharedManual)

	r.HandleFunc("/api/user/profile", s.authed(s.handleProfile))
	r.HandleFunc("/api/user/password", s.authed(s.handleChangePassword))

	r.HandleFunc("/api/team", s.authed(s.handleTeam))
	r.HandleFunc("/api/team/member", s.authed(s.handleTeamMembers))
	r.HandleFunc("/api/team/member/{memberId}", s.authed(s.handleTeamMember))
	r.HandleFunc("/api/team/transfer", s.authed(s.handleTeamTransfer))
	r.Get("/api/invitations", s.authed(s.handleInvitations))
	r.Post("/api/invitations/{token}/{action}", s.authed(s.handleInvitationAction))

	r.HandleFunc("/api/manual", s.authed(s.handleManuals))
	r.Route("/api/manual/{id}", func(r chi.Router) {
		r.HandleFunc("/", s.authed(s.handleManual))
		r.HandleFunc("/section", s.authed(s.handleSections))
		r.HandleFunc("/section/reorder", s.authed(s.handleSectionReorder))
		r.HandleFunc("/section/{sectionId}", s.authed(s.handleSection))
		r.HandleFunc("/block", s.authed(s.handleBlocks))
		r.HandleFunc("/block/reorder", s.authed(s.handleBlockReorder))
		r.HandleFunc("/block/{blockId}", s.authed(s.handleBlock))
		r.HandleFunc("/share", s.authed(s.handleShares))
		r.HandleFunc("/share/team", s.authed(s.handleTeamShares))
		r.HandleFunc("/share/team/{shareId}", s.authed(s.handleTeamShare))
		r.HandleFunc("/share/external", s.authed(s.handleExternalLinks))
		r.HandleFunc("/share/external/{linkId}", s.authed(s.handleExternalLink))
		r.HandleFunc("/version", s.authed(s.handleVersions))
		r.HandleFunc("/version/{versionId}", s.authed(s.handleVersion))
		r.HandleFunc("/version/{versionId}/restore", s.authed(s.handleVersionRestore))
		r.HandleFunc("/export", s.authed(s.handleExport))
	})

	r.Get("/api/search", s.authed(s.handleSearch))
	r.Get("/api/notifications", s.authed(s.handleNotifications))
	r.Put("/api/notifications/read-all", s.authed(s.handleNotificationsReadAll))
	r.Put("/api/notifications/{notificationId}/read", s.authed(s.handleNotificationRead))
	r.Post("/api/upload", s.authed(s.handleUpload))

	if dir := s.service.localUploadDir(); dir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", noDirectoryListing(http.FileServer(http.Dir(dir)))))
	}
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"search":   map[string]any{"status": "ok", "meilisearch": s.service.SearchHealthy()},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) authed(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		next(w, r, session)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := sessionToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.fail(w, r, fmt.Errorf("session lookup: %w", err))
		return Session{}, false
	}
	return session, true
}

// fail writes err through mapError. Server errors are logged with the
// request id.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err, s.service.Development())
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeInvalidBody(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// sessionToken prefers the Authorization header and falls back to the
// session cookie.
func sessionToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// mapError converts an error into an HTTP status and error body. Messages
// of unexpected errors are only exposed in development.
func mapError(err error, development bool) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "CONFLICT", "Conflict", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if development {
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", err.Error()
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil
}

// noDirectoryListing hides directory indexes of the upload tree and stops
// browsers from running anything served from it.
func noDirectoryListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		w.Header().Del("Cache-Control")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; sandbox")
		next.ServeHTTP(w, r)
	})
}
