package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hoonjeong/menualic/internal/rbac"
	"github.com/hoonjeong/menualic/internal/store"
	"github.com/hoonjeong/menualic/internal/tree"
	"github.com/hoonjeong/menualic/internal/util"
)

// shareLinkTokenBytes is the amount of randomness in an external link token.
const shareLinkTokenBytes = 16

// ListShares returns the manual's internal shares and external links and
// the team members it could still be shared with.
func (s *Service) ListShares(ctx context.Context, sess Session, manualID string) (map[string]any, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionShare)
	if err != nil {
		return nil, err
	}
	shares, err := s.store.ListShares(ctx, manual.ID)
	if err != nil {
		return nil, err
	}
	links, err := s.store.ListExternalLinks(ctx, manual.ID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListTeamMembers(ctx, manual.TeamID)
	if err != nil {
		return nil, err
	}

	shared := make(map[string]bool, len(shares))
	shareItems := make([]map[string]any, 0, len(shares))
	for _, sh := range shares {
		shared[sh.UserID] = true
		shareItems = append(shareItems, sharePayload(sh))
	}
	linkItems := make([]map[string]any, 0, len(links))
	for _, l := range links {
		linkItems = append(linkItems, linkPayload(l))
	}
	shareable := make([]map[string]any, 0, len(members))
	for _, m := range members {
		if m.UserID == manual.OwnerID || shared[m.UserID] {
			continue
		}
		shareable = append(shareable, memberPayload(m))
	}
	return map[string]any{
		"shares":           shareItems,
		"externalLinks":    linkItems,
		"shareableMembers": shareable,
	}, nil
}

// CreateShare grants a member of the manual's team an explicit permission
// and notifies them.
func (s *Service) CreateShare(ctx context.Context, sess Session, manualID, userID, permission string) (map[string]any, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionShare)
	if err != nil {
		return nil, err
	}
	permission = strings.ToUpper(strings.TrimSpace(permission))
	if !rbac.ValidSharePermission(permission) {
		return nil, errValidation("Permission must be EDITOR or VIEWER", map[string]any{"field": "permission"})
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errValidation("userId is required", map[string]any{"field": "userId"})
	}
	if userID == manual.OwnerID {
		return nil, errValidation("The manual owner already has full access", map[string]any{"field": "userId"})
	}
	role, err := s.store.GetTeamRole(ctx, userID, manual.TeamID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, errValidation("Manuals can only be shared with members of the team", map[string]any{"field": "userId"})
	}
	existing, err := s.store.GetSharePermission(ctx, manual.ID, userID)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return nil, errValidation("The manual is already shared with this user", map[string]any{"field": "userId"})
	}

	share := store.Share{
		ID:         s.newID(),
		ManualID:   manual.ID,
		UserID:     userID,
		Permission: permission,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateShare(ctx, share); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, errValidation("The manual is already shared with this user", map[string]any{"field": "userId"})
		}
		return nil, err
	}
	if grantee, err := s.store.GetUserByID(ctx, userID); err == nil {
		share.UserName = grantee.Name
		share.UserEmail = grantee.Email
	}

	s.notify(ctx, store.Notification{
		UserID:    userID,
		Type:      store.NotificationManualShared,
		Title:     "Manual shared with you",
		Message:   fmt.Sprintf("%s shared %q with you as %s", sess.Name, manual.Title, permission),
		RelatedID: manual.ID,
	})
	return map[string]any{"share": sharePayload(share)}, nil
}

func (s *Service) shareOf(ctx context.Context, manualID, shareID string) (store.Share, error) {
	share, err := s.store.GetShare(ctx, shareID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Share{}, errNotFound("Share")
		}
		return store.Share{}, err
	}
	if share.ManualID != manualID {
		return store.Share{}, errNotFound("Share")
	}
	return share, nil
}

func (s *Service) UpdateShare(ctx context.Context, sess Session, manualID, shareID, permission string) (map[string]any, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionShare)
	if err != nil {
		return nil, err
	}
	share, err := s.shareOf(ctx, manual.ID, shareID)
	if err != nil {
		return nil, err
	}
	permission = strings.ToUpper(strings.TrimSpace(permission))
	if !rbac.ValidSharePermission(permission) {
		return nil, errValidation("Permission must be EDITOR or VIEWER", map[string]any{"field": "permission"})
	}
	if err := s.store.UpdateSharePermission(ctx, share.ID, permission); err != nil {
		return nil, err
	}
	share.Permission = permission
	return map[string]any{"share": sharePayload(share)}, nil
}

func (s *Service) DeleteShare(ctx context.Context, sess Session, manualID, shareID string) error {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionShare)
	if err != nil {
		return err
	}
	share, err := s.shareOf(ctx, manual.ID, shareID)
	if err != nil {
		return err
	}
	return s.store.DeleteShare(ctx, share.ID)
}

func validAccessType(accessType string) bool {
	return accessType == store.AccessTitleOnly || accessType == store.AccessFullAccess
}

// CreateExternalLink issues a public link token for the manual.
func (s *Service) CreateExternalLink(ctx context.Context, sess Session, manualID, accessType string, expiresAt *time.Time) (map[string]any, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionShare)
	if err != nil {
		return nil, err
	}
	accessType = strings.ToUpper(strings.TrimSpace(accessType))
	if accessType == "" {
		accessType = store.AccessTitleOnly
	}
	if !validAccessType(accessType) {
		return nil, errValidation("accessType must be TITLE_ONLY or FULL_ACCESS", map[string]any{"field": "accessType"})
	}
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return nil, errValidation("expiresAt must be in the future", map[string]any{"field": "expiresAt"})
	}

	link := store.ExternalLink{
		ID:         s.newID(),
		ManualID:   manual.ID,
		Token:      util.NewToken(shareLinkTokenBytes),
		AccessType: accessType,
		IsActive:   true,
		ExpiresAt:  expiresAt,
		CreatedBy:  sess.UserID,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateExternalLink(ctx, link); err != nil {
		return nil, err
	}
	return map[string]any{"link": linkPayload(link)}, nil
}

// LinkUpdate holds the optional fields of an external link update.
// ExpiresAt applies only when SetExpiry is true; nil then clears it.
type LinkUpdate struct {
	AccessType *string
	IsActive   *bool
	SetExpiry  bool
	ExpiresAt  *time.Time
}

func (s *Service) UpdateExternalLink(ctx context.Context, sess Session, manualID, linkID string, update LinkUpdate) (map[string]any, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionShare)
	if err != nil {
		return nil, err
	}
	link, err := s.linkOf(ctx, manual.ID, linkID)
	if err != nil {
		return nil, err
	}
	if update.AccessType != nil {
		accessType := strings.ToUpper(strings.TrimSpace(*update.AccessType))
		if !validAccessType(accessType) {
			return nil, errValidation("accessType must be TITLE_ONLY or FULL_ACCESS", map[string]any{"field": "accessType"})
		}
		link.AccessType = accessType
	}
	if update.IsActive != nil {
		link.IsActive = *update.IsActive
	}
	if update.SetExpiry {
		if update.ExpiresAt != nil && !update.ExpiresAt.After(s.now()) {
			return nil, errValidation("expiresAt must be in the future", map[string]any{"field": "expiresAt"})
		}
		link.ExpiresAt = update.ExpiresAt
	}
	if err := s.store.UpdateExternalLink(ctx, link); err != nil {
		return nil, err
	}
	return map[string]any{"link": linkPayload(link)}, nil
}

func (s *Service) DeleteExternalLink(ctx context.Context, sess Session, manualID, linkID string) error {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionShare)
	if err != nil {
		return err
	}
	link, err := s.linkOf(ctx, manual.ID, linkID)
	if err != nil {
		return err
	}
	return s.store.DeleteExternalLink(ctx, link.ID)
}

func (s *Service) linkOf(ctx context.Context, manualID, linkID string) (store.ExternalLink, error) {
	link, err := s.store.GetExternalLink(ctx, linkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ExternalLink{}, errNotFound("Link")
		}
		return store.ExternalLink{}, err
	}
	if link.ManualID != manualID {
		return store.ExternalLink{}, errNotFound("Link")
	}
	return link, nil
}

// SharedManual serves an external link without authentication. TITLE_ONLY
// links get the section outline with every block list emptied.
func (s *Service) SharedManual(ctx context.Context, token string) (map[string]any, error) {
	link, err := s.store.GetExternalLinkByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Link")
		}
		return nil, err
	}
	if !link.IsActive {
		return nil, domainError(http.StatusForbidden, "LINK_INACTIVE", "This link has been deactivated", nil)
	}
	if link.ExpiresAt != nil && !s.now().Before(*link.ExpiresAt) {
		return nil, domainError(http.StatusGone, "LINK_EXPIRED", "This link has expired", nil)
	}

	manual, err := s.store.GetManual(ctx, link.ManualID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Link")
		}
		return nil, err
	}
	_, _, nodes, err := s.loadTree(ctx, manual.ID)
	if err != nil {
		return nil, err
	}
	if link.AccessType == store.AccessTitleOnly {
		tree.StripBlocks(nodes)
	}
	return map[string]any{
		"manual": map[string]any{
			"id":          manual.ID,
			"title":       manual.Title,
			"description": manual.Description,
			"ownerName":   manual.OwnerName,
			"updatedAt":   manual.UpdatedAt,
			"sections":    nodes,
		},
		"accessType": link.AccessType,
	}, nil
}
