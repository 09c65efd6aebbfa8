package app

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hoonjeong/menualic/internal/rbac"
	"github.com/hoonjeong/menualic/internal/store"
)

// ResolvePermission returns the caller's effective permission on a manual.
// A manual that does not exist resolves to NONE.
func (s *Service) ResolvePermission(ctx context.Context, userID, manualID string) (rbac.Permission, error) {
	manual, err := s.store.GetManual(ctx, manualID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.PermissionNone, nil
		}
		return rbac.PermissionNone, err
	}
	return s.permissionOn(ctx, userID, manual)
}

func (s *Service) permissionOn(ctx context.Context, userID string, manual store.Manual) (rbac.Permission, error) {
	role, err := s.store.GetTeamRole(ctx, userID, manual.TeamID)
	if err != nil {
		return rbac.PermissionNone, err
	}
	share, err := s.store.GetSharePermission(ctx, manual.ID, userID)
	if err != nil {
		return rbac.PermissionNone, err
	}
	return rbac.Resolve(rbac.Inputs{
		IsOwner:  manual.OwnerID == userID,
		TeamRole: rbac.TeamRole(role),
		Share:    rbac.Permission(share),
	}), nil
}

// authorizeManual loads the manual and checks the caller may perform
// action on it. Callers without any access get NOT_FOUND so existence is
// not revealed.
func (s *Service) authorizeManual(ctx context.Context, sess Session, manualID string, action rbac.Action) (store.Manual, rbac.Permission, error) {
	manual, err := s.store.GetManual(ctx, manualID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Manual{}, rbac.PermissionNone, errNotFound("Manual")
		}
		return store.Manual{}, rbac.PermissionNone, err
	}
	permission, err := s.permissionOn(ctx, sess.UserID, manual)
	if err != nil {
		return store.Manual{}, rbac.PermissionNone, err
	}
	if permission == rbac.PermissionNone {
		return store.Manual{}, rbac.PermissionNone, errNotFound("Manual")
	}
	if !rbac.Can(permission, action) {
		return store.Manual{}, permission, errForbidden("You do not have permission to " + string(action) + " this manual")
	}
	return manual, permission, nil
}

// membership returns the caller's team membership, or ok=false when the
// caller has no team.
func (s *Service) membership(ctx context.Context, userID string) (store.TeamMember, bool, error) {
	member, err := s.store.GetMembershipByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.TeamMember{}, false, nil
		}
		return store.TeamMember{}, false, err
	}
	return member, true, nil
}

// requireTeamOwner returns the caller's membership if they own their team.
func (s *Service) requireTeamOwner(ctx context.Context, userID string) (store.TeamMember, error) {
	member, ok, err := s.membership(ctx, userID)
	if err != nil {
		return store.TeamMember{}, err
	}
	if !ok {
		return store.TeamMember{}, errNotFound("Team")
	}
	if rbac.TeamRole(member.Role) != rbac.TeamOwner {
		return store.TeamMember{}, errForbidden("Only the team owner can do this")
	}
	return member, nil
}
