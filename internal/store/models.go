package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID               string
	Email            string
	Name             string
	Image            string
	PasswordHash     string
	ResetTokenHash   string
	ResetTokenExpiry *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Team struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TeamMember carries the member's user fields when loaded by a list query.
type TeamMember struct {
	ID        string
	UserID    string
	TeamID    string
	Role      string
	JoinedAt  time.Time
	UserName  string
	UserEmail string
	UserImage string
}

type Invitation struct {
	ID         string
	Email      string
	Role       string
	TokenHash  string
	TeamID     string
	SenderID   string
	Status     string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	TeamName   string
	SenderName string
}

const (
	InvitationPending  = "PENDING"
	InvitationAccepted = "ACCEPTED"
	InvitationRejected = "REJECTED"
	InvitationExpired  = "EXPIRED"
)

type Manual struct {
	ID          string
	Title       string
	Description string
	OwnerID     string
	TeamID      string
	OwnerName   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Section struct {
	ID        string
	ManualID  string
	ParentID  *string
	Title     string
	Order     int
	Depth     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Block.ManualID is filled by joins through the owning section.
type Block struct {
	ID        string
	SectionID string
	ManualID  string
	Type      string
	Content   string
	Order     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderUpdate is one (id, order) pair of a reorder request.
type OrderUpdate struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

type Share struct {
	ID         string
	ManualID   string
	UserID     string
	Permission string
	CreatedAt  time.Time
	UserName   string
	UserEmail  string
}

type ExternalLink struct {
	ID         string
	ManualID   string
	Token      string
	AccessType string
	IsActive   bool
	ExpiresAt  *time.Time
	CreatedBy  string
	CreatedAt  time.Time
}

const (
	AccessTitleOnly  = "TITLE_ONLY"
	AccessFullAccess = "FULL_ACCESS"
)

// Version.Snapshot is empty in list results.
type Version struct {
	ID          string
	ManualID    string
	Snapshot    json.RawMessage
	Summary     string
	CreatorID   string
	CreatorName string
	CreatedAt   time.Time
}

type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	RelatedID string
	IsRead    bool
	CreatedAt time.Time
}

const (
	NotificationManualShared   = "MANUAL_SHARED"
	NotificationTeamInvitation = "TEAM_INVITATION"
)
