package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hoonjeong/menualic/internal/export"
	"github.com/hoonjeong/menualic/internal/rbac"
	"github.com/hoonjeong/menualic/internal/search"
	"github.com/hoonjeong/menualic/internal/storage"
)

// Search runs a substring search over the manuals the caller can access.
func (s *Service) Search(ctx context.Context, sess Session, text string, limit int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{Query: text, Manuals: []search.ManualHit{}, Sections: []search.SectionHit{}, Blocks: []search.BlockHit{}}, nil
	}
	manuals, err := s.store.ListAccessibleManuals(ctx, sess.UserID)
	if err != nil {
		return search.Response{}, err
	}
	ids := make([]string, 0, len(manuals))
	for _, m := range manuals {
		ids = append(ids, m.ID)
	}
	return s.search.Search(ctx, search.Query{Text: text, ManualIDs: ids, Limit: limit}), nil
}

func (s *Service) ListNotifications(ctx context.Context, sess Session, unreadOnly bool) (map[string]any, error) {
	items, err := s.store.ListNotifications(ctx, sess.UserID, unreadOnly)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	unread := 0
	for _, n := range items {
		if !n.IsRead {
			unread++
		}
		out = append(out, notificationPayload(n))
	}
	return map[string]any{"notifications": out, "unreadCount": unread}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, sess Session, notificationID string) error {
	if err := s.store.MarkNotificationRead(ctx, sess.UserID, notificationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Notification")
		}
		return err
	}
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, sess Session) (map[string]any, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"updated": n}, nil
}

// Upload stores an image or video and returns its public URL.
func (s *Service) Upload(ctx context.Context, sess Session, filename, contentType string, r io.Reader, size int64) (map[string]any, error) {
	if size > s.cfg.UploadMaxBytes {
		return nil, domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload size limit", map[string]any{"maxBytes": s.cfg.UploadMaxBytes})
	}
	if !storage.AllowedContentType(contentType) {
		return nil, errValidation("Only image and video files can be uploaded", map[string]any{"contentType": contentType})
	}
	key := storage.ObjectKey(s.now(), contentType)
	url, err := s.uploads.Put(ctx, key, contentType, r, size)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedType) {
			return nil, errValidation("Only image and video files can be uploaded", map[string]any{"contentType": contentType})
		}
		return nil, err
	}
	s.log.Info().Str("user_id", sess.UserID).Str("filename", filename).Str("key", key).Int64("size", size).Msg("file uploaded")
	return map[string]any{"url": url}, nil
}

// Export renders the manual as HTML or PDF.
func (s *Service) Export(ctx context.Context, sess Session, manualID, format string) (*export.Result, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	f, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return nil, errValidation("format must be html or pdf", map[string]any{"field": "format"})
	}
	_, _, nodes, err := s.loadTree(ctx, manual.ID)
	if err != nil {
		return nil, err
	}
	doc := export.Document{
		Title:       manual.Title,
		Description: manual.Description,
		Author:      manual.OwnerName,
		UpdatedAt:   manual.UpdatedAt,
		Sections:    nodes,
	}
	if team, err := s.store.GetTeam(ctx, manual.TeamID); err == nil {
		doc.TeamName = team.Name
	}

	result, err := s.exporter.Export(ctx, doc, f)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil)
		}
		return nil, err
	}
	return result, nil
}
