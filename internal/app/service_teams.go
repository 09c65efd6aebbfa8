package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"github.com/hoonjeong/menualic/internal/auth"
	"github.com/hoonjeong/menualic/internal/rbac"
	"github.com/hoonjeong/menualic/internal/store"
	"github.com/hoonjeong/menualic/internal/util"
)

const (
	maxTeamNameLength        = 100
	maxTeamDescriptionLength = 500
)

func validateTeamFields(name, description string) (string, string, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" {
		return "", "", errValidation("Team name is required", map[string]any{"field": "name"})
	}
	if len([]rune(name)) > maxTeamNameLength {
		return "", "", errValidation(fmt.Sprintf("Team name must be at most %d characters", maxTeamNameLength), map[string]any{"field": "name"})
	}
	if len([]rune(description)) > maxTeamDescriptionLength {
		return "", "", errValidation(fmt.Sprintf("Description must be at most %d characters", maxTeamDescriptionLength), map[string]any{"field": "description"})
	}
	return name, description, nil
}

// GetTeam returns the caller's team with its members, or team=null.
func (s *Service) GetTeam(ctx context.Context, sess Session) (map[string]any, error) {
	member, ok, err := s.membership(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{"team": nil}, nil
	}
	return s.teamView(ctx, member)
}

func (s *Service) teamView(ctx context.Context, member store.TeamMember) (map[string]any, error) {
	team, err := s.store.GetTeam(ctx, member.TeamID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListTeamMembers(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, memberPayload(m))
	}
	payload := teamPayload(team)
	payload["members"] = items
	return map[string]any{"team": payload, "myRole": member.Role}, nil
}

// CreateTeam makes the caller the OWNER of a new team. A caller who already
// belongs to a team gets ALREADY_IN_TEAM and nothing is written.
func (s *Service) CreateTeam(ctx context.Context, sess Session, name, description string) (map[string]any, error) {
	name, description, err := validateTeamFields(name, description)
	if err != nil {
		return nil, err
	}
	if _, ok, err := s.membership(ctx, sess.UserID); err != nil {
		return nil, err
	} else if ok {
		return nil, errBadRequest("ALREADY_IN_TEAM", "You already belong to a team")
	}

	team := store.Team{ID: s.newID(), Name: name, Description: description, OwnerID: sess.UserID}
	owner := store.TeamMember{ID: s.newID(), UserID: sess.UserID, TeamID: team.ID, Role: string(rbac.TeamOwner)}
	if err := s.store.CreateTeamWithOwner(ctx, team, owner); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, errBadRequest("ALREADY_IN_TEAM", "You already belong to a team")
		}
		return nil, err
	}
	return s.teamView(ctx, owner)
}

func (s *Service) UpdateTeam(ctx context.Context, sess Session, name, description string) (map[string]any, error) {
	member, err := s.requireTeamOwner(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	name, description, err = validateTeamFields(name, description)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateTeam(ctx, member.TeamID, name, description); err != nil {
		return nil, err
	}
	return s.teamView(ctx, member)
}

// DeleteTeam removes the team; memberships and the team's manuals cascade.
func (s *Service) DeleteTeam(ctx context.Context, sess Session) error {
	member, err := s.requireTeamOwner(ctx, sess.UserID)
	if err != nil {
		return err
	}
	manuals, err := s.store.ListAccessibleManuals(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTeam(ctx, member.TeamID); err != nil {
		return err
	}
	for _, m := range manuals {
		if m.TeamID == member.TeamID {
			s.search.DeleteManual(m.ID)
		}
	}
	return nil
}

// InviteMember creates a pending invitation for email. When SMTP is not
// configured the raw token is returned in the payload.
func (s *Service) InviteMember(ctx context.Context, sess Session, emailAddr, role string) (map[string]any, error) {
	owner, err := s.requireTeamOwner(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if _, err := mail.ParseAddress(emailAddr); err != nil || emailAddr == "" {
		return nil, errValidation("A valid email is required", map[string]any{"field": "email"})
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	if role != string(rbac.TeamEditor) && role != string(rbac.TeamViewer) {
		return nil, errValidation("Role must be EDITOR or VIEWER", map[string]any{"field": "role"})
	}

	invitee, err := s.store.GetUserByEmail(ctx, emailAddr)
	inviteeExists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if inviteeExists {
		teamRole, err := s.store.GetTeamRole(ctx, invitee.ID, owner.TeamID)
		if err != nil {
			return nil, err
		}
		if teamRole != "" {
			return nil, errBadRequest("ALREADY_MEMBER", "This user is already a member of the team")
		}
	}
	if _, err := s.store.FindPendingInvitation(ctx, owner.TeamID, emailAddr); err == nil {
		return nil, errBadRequest("INVITATION_EXISTS", "A pending invitation already exists for this email")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	team, err := s.store.GetTeam(ctx, owner.TeamID)
	if err != nil {
		return nil, err
	}
	token := util.NewToken(32)
	inv := store.Invitation{
		ID:         s.newID(),
		Email:      emailAddr,
		Role:       role,
		TokenHash:  auth.HashToken(token),
		TeamID:     owner.TeamID,
		SenderID:   sess.UserID,
		Status:     store.InvitationPending,
		ExpiresAt:  s.now().Add(s.cfg.InvitationTTL),
		CreatedAt:  s.now(),
		TeamName:   team.Name,
		SenderName: sess.Name,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}

	if inviteeExists {
		s.notify(ctx, store.Notification{
			UserID:    invitee.ID,
			Type:      store.NotificationTeamInvitation,
			Title:     "Team invitation",
			Message:   fmt.Sprintf("%s invited you to join %s as %s", sess.Name, team.Name, role),
			RelatedID: inv.ID,
		})
	}

	payload := map[string]any{"invitation": invitationPayload(inv)}
	if s.mailer.IsConfigured() {
		acceptURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/invitations/" + url.PathEscape(token)
		if err := s.mailer.SendInvitationEmail(emailAddr, team.Name, sess.Name, role, acceptURL); err != nil {
			s.log.Warn().Err(err).Str("invitation_id", inv.ID).Msg("send invitation email")
		}
	} else {
		payload["token"] = token
	}
	return payload, nil
}

// memberOfTeam loads a member and checks it belongs to teamID.
func (s *Service) memberOfTeam(ctx context.Context, memberID, teamID string) (store.TeamMember, error) {
	target, err := s.store.GetTeamMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.TeamMember{}, errNotFound("Member")
		}
		return store.TeamMember{}, err
	}
	if target.TeamID != teamID {
		return store.TeamMember{}, errNotFound("Member")
	}
	return target, nil
}

// UpdateMemberRole changes a non-owner member between EDITOR and VIEWER.
// Ownership only moves through TransferOwnership, so a team always has
// exactly one OWNER.
func (s *Service) UpdateMemberRole(ctx context.Context, sess Session, memberID, role string) (map[string]any, error) {
	owner, err := s.requireTeamOwner(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	target, err := s.memberOfTeam(ctx, memberID, owner.TeamID)
	if err != nil {
		return nil, err
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	if !rbac.ValidTeamRole(role) {
		return nil, errValidation("Role must be EDITOR or VIEWER", map[string]any{"field": "role"})
	}
	if rbac.TeamRole(target.Role) == rbac.TeamOwner {
		return nil, errValidation("The owner's role cannot be changed; transfer ownership instead", nil)
	}
	if rbac.TeamRole(role) == rbac.TeamOwner {
		return nil, errValidation("Use ownership transfer to assign a new owner", nil)
	}
	if err := s.store.UpdateTeamMemberRole(ctx, target.ID, role); err != nil {
		return nil, err
	}
	target.Role = role
	return map[string]any{"member": memberPayload(target)}, nil
}

// RemoveMember lets the owner remove a member, or a member leave the team.
// The owner can never be removed.
func (s *Service) RemoveMember(ctx context.Context, sess Session, memberID string) error {
	caller, ok, err := s.membership(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("Team")
	}
	target, err := s.memberOfTeam(ctx, memberID, caller.TeamID)
	if err != nil {
		return err
	}
	if rbac.TeamRole(target.Role) == rbac.TeamOwner {
		return errBadRequest("CANNOT_REMOVE_OWNER", "The team owner cannot be removed")
	}
	if rbac.TeamRole(caller.Role) != rbac.TeamOwner && caller.ID != target.ID {
		return errForbidden("Only the team owner can remove other members")
	}
	return s.store.RemoveTeamMember(ctx, target)
}

// TransferOwnership makes another member the OWNER and demotes the caller
// to EDITOR in one transaction.
func (s *Service) TransferOwnership(ctx context.Context, sess Session, memberID string) (map[string]any, error) {
	owner, err := s.requireTeamOwner(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	target, err := s.memberOfTeam(ctx, memberID, owner.TeamID)
	if err != nil {
		return nil, err
	}
	if target.ID == owner.ID {
		return nil, errValidation("You already own this team", nil)
	}
	if err := s.store.TransferOwnership(ctx, owner.TeamID, owner, target); err != nil {
		return nil, err
	}
	owner.Role = string(rbac.TeamEditor)
	return s.teamView(ctx, owner)
}

// ListInvitations returns the caller's pending invitations. Ones past their
// expiry are marked EXPIRED as they are read.
func (s *Service) ListInvitations(ctx context.Context, sess Session) (map[string]any, error) {
	invitations, err := s.store.ListInvitationsByEmail(ctx, sess.Email)
	if err != nil {
		return nil, err
	}
	now := s.now()
	items := make([]map[string]any, 0, len(invitations))
	for _, inv := range invitations {
		if !now.Before(inv.ExpiresAt) {
			if err := s.store.UpdateInvitationStatus(ctx, inv.ID, store.InvitationExpired); err != nil {
				return nil, err
			}
			inv.Status = store.InvitationExpired
		}
		items = append(items, invitationPayload(inv))
	}
	return map[string]any{"invitations": items}, nil
}

// invitationForCaller looks an invitation up by its raw token and checks it
// was addressed to the caller and is still pending.
func (s *Service) invitationForCaller(ctx context.Context, sess Session, token string) (store.Invitation, error) {
	inv, err := s.store.GetInvitationByTokenHash(ctx, auth.HashToken(strings.TrimSpace(token)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Invitation{}, errNotFound("Invitation")
		}
		return store.Invitation{}, err
	}
	if !strings.EqualFold(inv.Email, sess.Email) {
		return store.Invitation{}, errForbidden("This invitation was sent to a different email")
	}
	expired := domainError(http.StatusGone, "INVITATION_EXPIRED", "This invitation has expired", nil)
	switch inv.Status {
	case store.InvitationPending:
	case store.InvitationExpired:
		return store.Invitation{}, expired
	default:
		return store.Invitation{}, errBadRequest("INVITATION_NOT_PENDING", "This invitation is no longer pending")
	}
	if !s.now().Before(inv.ExpiresAt) {
		if err := s.store.UpdateInvitationStatus(ctx, inv.ID, store.InvitationExpired); err != nil {
			return store.Invitation{}, err
		}
		return store.Invitation{}, expired
	}
	return inv, nil
}

func (s *Service) AcceptInvitation(ctx context.Context, sess Session, token string) (map[string]any, error) {
	inv, err := s.invitationForCaller(ctx, sess, token)
	if err != nil {
		return nil, err
	}
	if _, ok, err := s.membership(ctx, sess.UserID); err != nil {
		return nil, err
	} else if ok {
		return nil, errBadRequest("ALREADY_IN_TEAM", "You already belong to a team")
	}

	member := store.TeamMember{ID: s.newID(), UserID: sess.UserID, TeamID: inv.TeamID, Role: inv.Role}
	if err := s.store.AcceptInvitation(ctx, inv.ID, member); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, errBadRequest("ALREADY_IN_TEAM", "You already belong to a team")
		}
		return nil, err
	}
	return s.teamView(ctx, member)
}

func (s *Service) RejectInvitation(ctx context.Context, sess Session, token string) error {
	inv, err := s.invitationForCaller(ctx, sess, token)
	if err != nil {
		return err
	}
	return s.store.UpdateInvitationStatus(ctx, inv.ID, store.InvitationRejected)
}

// notify writes a notification. Failures are logged and never fail the
// operation that triggered them.
func (s *Service) notify(ctx context.Context, n store.Notification) {
	n.ID = s.newID()
	n.CreatedAt = s.now()
	if err := s.store.CreateNotification(ctx, n); err != nil {
		s.log.Warn().Err(err).Str("user_id", n.UserID).Str("type", n.Type).Msg("create notification")
	}
}
