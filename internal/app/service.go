package app

import (
	"context"
	"strings"
	"time"

	"github.com/hoonjeong/menualic/internal/authpw"
	"github.com/hoonjeong/menualic/internal/config"
	"github.com/hoonjeong/menualic/internal/email"
	"github.com/hoonjeong/menualic/internal/export"
	"github.com/hoonjeong/menualic/internal/search"
	"github.com/hoonjeong/menualic/internal/session"
	"github.com/hoonjeong/menualic/internal/storage"
	"github.com/hoonjeong/menualic/internal/store"
	"github.com/hoonjeong/menualic/internal/util"
	"github.com/rs/zerolog"
)

// Session is an authenticated caller.
type Session struct {
	Token     string
	JTI       string
	UserID    string
	Email     string
	Name      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type dataStore interface {
	authpw.UserStore
	Ping(ctx context.Context) error
	UpdateUserProfile(context.Context, string, string, string) (store.User, error)

	GetTeam(context.Context, string) (store.Team, error)
	CreateTeamWithOwner(context.Context, store.Team, store.TeamMember) error
	UpdateTeam(context.Context, string, string, string) (store.Team, error)
	DeleteTeam(context.Context, string) error
	GetMembershipByUser(context.Context, string) (store.TeamMember, error)
	GetTeamMember(context.Context, string) (store.TeamMember, error)
	ListTeamMembers(context.Context, string) ([]store.TeamMember, error)
	GetTeamRole(context.Context, string, string) (string, error)
	UpdateTeamMemberRole(context.Context, string, string) error
	RemoveTeamMember(context.Context, store.TeamMember) error
	TransferOwnership(context.Context, string, store.TeamMember, store.TeamMember) error

	CreateInvitation(context.Context, store.Invitation) error
	FindPendingInvitation(context.Context, string, string) (store.Invitation, error)
	GetInvitationByTokenHash(context.Context, string) (store.Invitation, error)
	ListInvitationsByEmail(context.Context, string) ([]store.Invitation, error)
	UpdateInvitationStatus(context.Context, string, string) error
	AcceptInvitation(context.Context, string, store.TeamMember) error

	CreateManual(context.Context, store.Manual) error
	GetManual(context.Context, string) (store.Manual, error)
	ListAccessibleManuals(context.Context, string) ([]store.Manual, error)
	UpdateManual(context.Context, string, string, string) error
	DeleteManual(context.Context, string) error

	GetSection(context.Context, string) (store.Section, error)
	ListSections(context.Context, string) ([]store.Section, error)
	InsertSection(context.Context, store.Section) (store.Section, error)
	UpdateSectionTitle(context.Context, string, string, string) (store.Section, error)
	DeleteSection(context.Context, string, string) error
	ReorderSections(context.Context, string, []store.OrderUpdate) error

	GetBlock(context.Context, string) (store.Block, error)
	ListBlocksByManual(context.Context, string) ([]store.Block, error)
	InsertBlock(context.Context, string, store.Block) (store.Block, error)
	UpdateBlock(context.Context, string, string, string, string) (store.Block, error)
	DeleteBlock(context.Context, string, string) error
	ReorderBlocks(context.Context, string, []store.OrderUpdate) error

	ListShares(context.Context, string) ([]store.Share, error)
	GetShare(context.Context, string) (store.Share, error)
	GetSharePermission(context.Context, string, string) (string, error)
	CreateShare(context.Context, store.Share) error
	UpdateSharePermission(context.Context, string, string) error
	DeleteShare(context.Context, string) error
	ListExternalLinks(context.Context, string) ([]store.ExternalLink, error)
	GetExternalLink(context.Context, string) (store.ExternalLink, error)
	GetExternalLinkByToken(context.Context, string) (store.ExternalLink, error)
	CreateExternalLink(context.Context, store.ExternalLink) error
	UpdateExternalLink(context.Context, store.ExternalLink) error
	DeleteExternalLink(context.Context, string) error

	InsertVersion(context.Context, store.Version) error
	ListVersions(context.Context, string) ([]store.Version, error)
	GetVersion(context.Context, string) (store.Version, error)
	RestoreManual(context.Context, string, string, string, []store.Section, []store.Block) error

	CreateNotification(context.Context, store.Notification) error
	ListNotifications(context.Context, string, bool) ([]store.Notification, error)
	MarkNotificationRead(context.Context, string, string) error
	MarkAllNotificationsRead(context.Context, string) (int64, error)
}

// Dependencies are the collaborators of Service besides the store. Mailer
// may be nil; the rest are required.
type Dependencies struct {
	Blacklist session.Blacklist
	Search    *search.Service
	Uploads   storage.Store
	Exporter  *export.Service
	Mailer    *email.Service
	Logger    zerolog.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	passwords *authpw.Service
	sessions  session.Blacklist
	search    *search.Service
	uploads   storage.Store
	exporter  *export.Service
	mailer    *email.Service
	log       zerolog.Logger
	now       func() time.Time
	newID     func() string
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Dependencies) *Service {
	return newService(cfg, dataStore, deps)
}

func newService(cfg config.Config, ds dataStore, deps Dependencies) *Service {
	return &Service{
		cfg:       cfg,
		store:     ds,
		passwords: authpw.NewService(ds),
		sessions:  deps.Blacklist,
		search:    deps.Search,
		uploads:   deps.Uploads,
		exporter:  deps.Exporter,
		mailer:    deps.Mailer,
		log:       deps.Logger,
		now:       time.Now,
		newID:     util.NewID,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SearchHealthy reports whether the Meilisearch accelerator is in use.
func (s *Service) SearchHealthy() bool {
	return s.search.Indexing()
}

// SMTPConfigured gates the dev bypass that returns tokens in responses.
func (s *Service) SMTPConfigured() bool {
	return s.mailer.IsConfigured()
}

func (s *Service) Development() bool {
	return s.cfg.IsDevelopment()
}

// localUploadDir is the directory served at /uploads, empty when uploads go
// to object storage.
func (s *Service) localUploadDir() string {
	if s.cfg.MinIO.Endpoint != "" {
		return ""
	}
	return s.cfg.UploadDir
}

// secureCookies marks the session cookie Secure when served over HTTPS.
func (s *Service) secureCookies() bool {
	return strings.HasPrefix(strings.ToLower(s.cfg.BaseURL), "https://")
}
