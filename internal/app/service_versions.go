package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/hoonjeong/menualic/internal/rbac"
	"github.com/hoonjeong/menualic/internal/store"
	"github.com/hoonjeong/menualic/internal/versioning"
)

const maxSummaryLength = 500

func errVersionCorrupted() *DomainError {
	return domainError(http.StatusInternalServerError, "VERSION_CORRUPTED", "The version snapshot could not be read", nil)
}

// CreateVersion stores a full snapshot of the manual as it is now.
func (s *Service) CreateVersion(ctx context.Context, sess Session, manualID, summary string) (map[string]any, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	summary = strings.TrimSpace(summary)
	if len([]rune(summary)) > maxSummaryLength {
		return nil, errValidation("Summary is too long", map[string]any{"field": "summary"})
	}
	sections, blockRows, _, err := s.loadTree(ctx, manual.ID)
	if err != nil {
		return nil, err
	}
	raw, err := versioning.Encode(versioning.Capture(manual, sections, blockRows))
	if err != nil {
		return nil, err
	}

	version := store.Version{
		ID:          s.newID(),
		ManualID:    manual.ID,
		Snapshot:    raw,
		Summary:     summary,
		CreatorID:   sess.UserID,
		CreatorName: sess.Name,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertVersion(ctx, version); err != nil {
		return nil, err
	}
	return map[string]any{"version": versionPayload(version)}, nil
}

func (s *Service) ListVersions(ctx context.Context, sess Session, manualID string) (map[string]any, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, manual.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, versionPayload(v))
	}
	return map[string]any{"versions": items}, nil
}

func (s *Service) versionOf(ctx context.Context, manualID, versionID string) (store.Version, versioning.Snapshot, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Version{}, versioning.Snapshot{}, errNotFound("Version")
		}
		return store.Version{}, versioning.Snapshot{}, err
	}
	if version.ManualID != manualID {
		return store.Version{}, versioning.Snapshot{}, errNotFound("Version")
	}
	snap, err := versioning.Decode(version.Snapshot)
	if err != nil {
		s.log.Error().Err(err).Str("version_id", version.ID).Msg("decode version snapshot")
		return store.Version{}, versioning.Snapshot{}, errVersionCorrupted()
	}
	return version, snap, nil
}

func (s *Service) GetVersion(ctx context.Context, sess Session, manualID, versionID string) (map[string]any, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	version, snap, err := s.versionOf(ctx, manual.ID, versionID)
	if err != nil {
		return nil, err
	}
	payload := versionPayload(version)
	payload["snapshot"] = snap
	return map[string]any{"version": payload}, nil
}

// RestoreVersion replaces the manual's title, description and whole
// section tree with the snapshot. Restored sections and blocks get fresh
// ids. The current state is not snapshotted first.
func (s *Service) RestoreVersion(ctx context.Context, sess Session, manualID, versionID string) (map[string]any, error) {
	manual, permission, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	_, snap, err := s.versionOf(ctx, manual.ID, versionID)
	if err != nil {
		return nil, err
	}
	sections, blockRows, err := versioning.Remap(snap, manual.ID, s.newID)
	if err != nil {
		s.log.Error().Err(err).Str("version_id", versionID).Msg("remap version snapshot")
		return nil, errVersionCorrupted()
	}
	if err := s.store.RestoreManual(ctx, manual.ID, snap.Title, snap.Description, sections, blockRows); err != nil {
		return nil, err
	}
	s.reindexManual(ctx, manual.ID)

	restored, err := s.store.GetManual(ctx, manual.ID)
	if err != nil {
		return nil, err
	}
	return s.manualView(ctx, restored, permission)
}
