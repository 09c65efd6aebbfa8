// Package rbac resolves a user's effective permission on a manual.
package rbac

type Permission string

// TeamRole is a member's role in a team. Share permissions reuse the
// EDITOR and VIEWER values.
type TeamRole string

const (
	PermissionOwner  Permission = "OWNER"
	PermissionEditor Permission = "EDITOR"
	PermissionViewer Permission = "VIEWER"
	PermissionNone   Permission = "NONE"
)

const (
	TeamOwner  TeamRole = "OWNER"
	TeamEditor TeamRole = "EDITOR"
	TeamViewer TeamRole = "VIEWER"
)

type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionShare  Action = "share"
)

// Inputs are the rows the resolver looks at. TeamRole is the user's role in
// the manual's team, empty when the user is not a member of it. Share is
// the explicit share permission, empty when none exists.
type Inputs struct {
	IsOwner  bool
	TeamRole TeamRole
	Share    Permission
}

// Resolve applies the precedence owner > team role > explicit share > none.
func Resolve(in Inputs) Permission {
	if in.IsOwner || in.TeamRole == TeamOwner {
		return PermissionOwner
	}
	switch in.TeamRole {
	case TeamEditor:
		return PermissionEditor
	case TeamViewer:
		return PermissionViewer
	}
	switch in.Share {
	case PermissionEditor, PermissionViewer:
		return in.Share
	}
	return PermissionNone
}

func Can(permission Permission, action Action) bool {
	switch permission {
	case PermissionOwner:
		return true
	case PermissionEditor:
		return action == ActionView || action == ActionEdit
	case PermissionViewer:
		return action == ActionView
	default:
		return false
	}
}

func CanEdit(p Permission) bool   { return Can(p, ActionEdit) }
func CanDelete(p Permission) bool { return Can(p, ActionDelete) }
func CanShare(p Permission) bool  { return Can(p, ActionShare) }

// ValidTeamRole reports whether role is one of OWNER, EDITOR, VIEWER.
func ValidTeamRole(role string) bool {
	switch TeamRole(role) {
	case TeamOwner, TeamEditor, TeamViewer:
		return true
	default:
		return false
	}
}

// ValidSharePermission reports whether p may be granted by a share.
func ValidSharePermission(p string) bool {
	return Permission(p) == PermissionEditor || Permission(p) == PermissionViewer
}
