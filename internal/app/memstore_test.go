package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hoonjeong/menualic/internal/store"
)

// memStore is an in-memory dataStore with the same row semantics as the
// Postgres store: ErrNoRows on missing rows, ErrConflict on unique
// violations and cascading deletes.
type memStore struct {
	mu sync.Mutex

	pingErr error
	clock   time.Time

	users         map[string]store.User
	teams         map[string]store.Team
	members       map[string]store.TeamMember
	invitations   map[string]store.Invitation
	manuals       map[string]store.Manual
	sections      map[string]store.Section
	blocks        map[string]store.Block
	shares        map[string]store.Share
	links         map[string]store.ExternalLink
	versions      []store.Version
	notifications []store.Notification
}

func newMemStore() *memStore {
	return &memStore{
		clock:       time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		users:       map[string]store.User{},
		teams:       map[string]store.Team{},
		members:     map[string]store.TeamMember{},
		invitations: map[string]store.Invitation{},
		manuals:     map[string]store.Manual{},
		sections:    map[string]store.Section{},
		blocks:      map[string]store.Block{},
		shares:      map[string]store.Share{},
		links:       map[string]store.ExternalLink{},
	}
}

// tick returns a strictly increasing timestamp so ordering by time is
// deterministic.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

// users

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = strings.ToLower(user.Email)
	for _, u := range m.users {
		if u.Email == user.Email {
			return store.ErrConflict
		}
	}
	user.CreatedAt = m.tick()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByResetToken(_ context.Context, tokenHash string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ResetTokenHash != "" && u.ResetTokenHash == tokenHash {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.ResetTokenHash = ""
	u.ResetTokenExpiry = nil
	m.users[userID] = u
	return nil
}

func (m *memStore) SetPasswordResetToken(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.ResetTokenHash = tokenHash
	u.ResetTokenExpiry = &expiresAt
	m.users[userID] = u
	return nil
}

func (m *memStore) UpdateUserProfile(_ context.Context, userID, name, image string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	u.Name = name
	u.Image = image
	u.UpdatedAt = m.tick()
	m.users[userID] = u
	return u, nil
}

// teams

func (m *memStore) withUser(member store.TeamMember) store.TeamMember {
	u := m.users[member.UserID]
	member.UserName, member.UserEmail, member.UserImage = u.Name, u.Email, u.Image
	return member
}

func (m *memStore) GetTeam(_ context.Context, teamID string) (store.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[teamID]
	if !ok {
		return store.Team{}, sql.ErrNoRows
	}
	return t, nil
}

func (m *memStore) CreateTeamWithOwner(_ context.Context, team store.Team, owner store.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.members {
		if mem.UserID == owner.UserID {
			return store.ErrConflict
		}
	}
	team.CreatedAt = m.tick()
	team.UpdatedAt = team.CreatedAt
	m.teams[team.ID] = team
	owner.TeamID = team.ID
	owner.Role = "OWNER"
	owner.JoinedAt = team.CreatedAt
	m.members[owner.ID] = owner
	return nil
}

func (m *memStore) UpdateTeam(_ context.Context, teamID, name, description string) (store.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[teamID]
	if !ok {
		return store.Team{}, sql.ErrNoRows
	}
	t.Name, t.Description, t.UpdatedAt = name, description, m.tick()
	m.teams[teamID] = t
	return t, nil
}

func (m *memStore) DeleteTeam(_ context.Context, teamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[teamID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.teams, teamID)
	for id, mem := range m.members {
		if mem.TeamID == teamID {
			delete(m.members, id)
		}
	}
	for id, inv := range m.invitations {
		if inv.TeamID == teamID {
			delete(m.invitations, id)
		}
	}
	for id, man := range m.manuals {
		if man.TeamID == teamID {
			m.deleteManualLocked(id)
		}
	}
	return nil
}

func (m *memStore) GetMembershipByUser(_ context.Context, userID string) (store.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.members {
		if mem.UserID == userID {
			return m.withUser(mem), nil
		}
	}
	return store.TeamMember{}, sql.ErrNoRows
}

func (m *memStore) GetTeamMember(_ context.Context, memberID string) (store.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberID]
	if !ok {
		return store.TeamMember{}, sql.ErrNoRows
	}
	return m.withUser(mem), nil
}

func roleRank(role string) int {
	switch role {
	case "OWNER":
		return 0
	case "EDITOR":
		return 1
	default:
		return 2
	}
}

func (m *memStore) ListTeamMembers(_ context.Context, teamID string) ([]store.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.TeamMember, 0)
	for _, mem := range m.members {
		if mem.TeamID == teamID {
			items = append(items, m.withUser(mem))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if ri, rj := roleRank(items[i].Role), roleRank(items[j].Role); ri != rj {
			return ri < rj
		}
		return items[i].JoinedAt.Before(items[j].JoinedAt)
	})
	return items, nil
}

func (m *memStore) GetTeamRole(_ context.Context, userID, teamID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.members {
		if mem.UserID == userID && mem.TeamID == teamID {
			return mem.Role, nil
		}
	}
	return "", nil
}

func (m *memStore) UpdateTeamMemberRole(_ context.Context, memberID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberID]
	if !ok {
		return sql.ErrNoRows
	}
	mem.Role = role
	m.members[memberID] = mem
	return nil
}

func (m *memStore) RemoveTeamMember(_ context.Context, member store.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[member.ID]; !ok {
		return sql.ErrNoRows
	}
	for id, sh := range m.shares {
		if sh.UserID == member.UserID && m.manuals[sh.ManualID].TeamID == member.TeamID {
			delete(m.shares, id)
		}
	}
	delete(m.members, member.ID)
	return nil
}

func (m *memStore) TransferOwnership(_ context.Context, teamID string, from, to store.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.members[from.ID]
	if !ok || current.TeamID != teamID || current.Role != "OWNER" {
		return sql.ErrNoRows
	}
	target, ok := m.members[to.ID]
	if !ok || target.TeamID != teamID {
		return sql.ErrNoRows
	}
	current.Role = "EDITOR"
	m.members[from.ID] = current
	target.Role = "OWNER"
	m.members[to.ID] = target
	team := m.teams[teamID]
	team.OwnerID = target.UserID
	m.teams[teamID] = team
	return nil
}

// invitations

func (m *memStore) withTeamAndSender(inv store.Invitation) store.Invitation {
	inv.TeamName = m.teams[inv.TeamID].Name
	inv.SenderName = m.users[inv.SenderID].Name
	return inv
}

func (m *memStore) CreateInvitation(_ context.Context, inv store.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.invitations {
		if existing.TokenHash == inv.TokenHash {
			return store.ErrConflict
		}
	}
	inv.Email = strings.ToLower(inv.Email)
	inv.Status = store.InvitationPending
	inv.CreatedAt = m.tick()
	m.invitations[inv.ID] = inv
	return nil
}

func (m *memStore) FindPendingInvitation(_ context.Context, teamID, email string) (store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(email)
	for _, inv := range m.invitations {
		if inv.TeamID == teamID && inv.Email == email && inv.Status == store.InvitationPending && inv.ExpiresAt.After(time.Now()) {
			return m.withTeamAndSender(inv), nil
		}
	}
	return store.Invitation{}, sql.ErrNoRows
}

func (m *memStore) GetInvitationByTokenHash(_ context.Context, tokenHash string) (store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.TokenHash == tokenHash {
			return m.withTeamAndSender(inv), nil
		}
	}
	return store.Invitation{}, sql.ErrNoRows
}

func (m *memStore) ListInvitationsByEmail(_ context.Context, email string) ([]store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(email)
	items := make([]store.Invitation, 0)
	for _, inv := range m.invitations {
		if inv.Email == email && inv.Status == store.InvitationPending {
			items = append(items, m.withTeamAndSender(inv))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) UpdateInvitationStatus(_ context.Context, invitationID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[invitationID]
	if !ok {
		return sql.ErrNoRows
	}
	inv.Status = status
	m.invitations[invitationID] = inv
	return nil
}

func (m *memStore) AcceptInvitation(_ context.Context, invitationID string, member store.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[invitationID]
	if !ok || inv.Status != store.InvitationPending {
		return sql.ErrNoRows
	}
	for _, mem := range m.members {
		if mem.UserID == member.UserID {
			return store.ErrConflict
		}
	}
	inv.Status = store.InvitationAccepted
	m.invitations[invitationID] = inv
	member.JoinedAt = m.tick()
	m.members[member.ID] = member
	return nil
}

// manuals

func (m *memStore) withOwner(man store.Manual) store.Manual {
	man.OwnerName = m.users[man.OwnerID].Name
	return man
}

func (m *memStore) touch(manualID string) {
	if man, ok := m.manuals[manualID]; ok {
		man.UpdatedAt = m.tick()
		m.manuals[manualID] = man
	}
}

func (m *memStore) CreateManual(_ context.Context, manual store.Manual) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	manual.CreatedAt = m.tick()
	manual.UpdatedAt = manual.CreatedAt
	m.manuals[manual.ID] = manual
	return nil
}

func (m *memStore) GetManual(_ context.Context, manualID string) (store.Manual, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	man, ok := m.manuals[manualID]
	if !ok {
		return store.Manual{}, sql.ErrNoRows
	}
	return m.withOwner(man), nil
}

func (m *memStore) ListAccessibleManuals(_ context.Context, userID string) ([]store.Manual, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	teams := map[string]bool{}
	for _, mem := range m.members {
		if mem.UserID == userID {
			teams[mem.TeamID] = true
		}
	}
	shared := map[string]bool{}
	for _, sh := range m.shares {
		if sh.UserID == userID {
			shared[sh.ManualID] = true
		}
	}
	items := make([]store.Manual, 0)
	for _, man := range m.manuals {
		if man.OwnerID == userID || teams[man.TeamID] || shared[man.ID] {
			items = append(items, m.withOwner(man))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return items, nil
}

func (m *memStore) UpdateManual(_ context.Context, manualID, title, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	man, ok := m.manuals[manualID]
	if !ok {
		return sql.ErrNoRows
	}
	man.Title, man.Description, man.UpdatedAt = title, description, m.tick()
	m.manuals[manualID] = man
	return nil
}

func (m *memStore) DeleteManual(_ context.Context, manualID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.manuals[manualID]; !ok {
		return sql.ErrNoRows
	}
	m.deleteManualLocked(manualID)
	return nil
}

func (m *memStore) deleteManualLocked(manualID string) {
	delete(m.manuals, manualID)
	for id, sec := range m.sections {
		if sec.ManualID == manualID {
			m.deleteSectionLocked(id)
		}
	}
	for id, sh := range m.shares {
		if sh.ManualID == manualID {
			delete(m.shares, id)
		}
	}
	for id, l := range m.links {
		if l.ManualID == manualID {
			delete(m.links, id)
		}
	}
	kept := m.versions[:0]
	for _, v := range m.versions {
		if v.ManualID != manualID {
			kept = append(kept, v)
		}
	}
	m.versions = kept
}

// sections

func (m *memStore) GetSection(_ context.Context, sectionID string) (store.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sec, ok := m.sections[sectionID]
	if !ok {
		return store.Section{}, sql.ErrNoRows
	}
	return sec, nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *memStore) ListSections(_ context.Context, manualID string) ([]store.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Section, 0)
	for _, sec := range m.sections {
		if sec.ManualID == manualID {
			items = append(items, sec)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return items, nil
}

func (m *memStore) InsertSection(_ context.Context, section store.Section) (store.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order := 0
	for _, sec := range m.sections {
		if sec.ManualID == section.ManualID && sameParent(sec.ParentID, section.ParentID) && sec.Order >= order {
			order = sec.Order + 1
		}
	}
	section.Order = order
	section.CreatedAt = m.tick()
	section.UpdatedAt = section.CreatedAt
	m.sections[section.ID] = section
	m.touch(section.ManualID)
	return section, nil
}

func (m *memStore) UpdateSectionTitle(_ context.Context, manualID, sectionID, title string) (store.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sec, ok := m.sections[sectionID]
	if !ok || sec.ManualID != manualID {
		return store.Section{}, sql.ErrNoRows
	}
	sec.Title, sec.UpdatedAt = title, m.tick()
	m.sections[sectionID] = sec
	m.touch(manualID)
	return sec, nil
}

func (m *memStore) DeleteSection(_ context.Context, manualID, sectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sec, ok := m.sections[sectionID]
	if !ok || sec.ManualID != manualID {
		return sql.ErrNoRows
	}
	m.deleteSectionLocked(sectionID)
	m.touch(manualID)
	return nil
}

func (m *memStore) deleteSectionLocked(sectionID string) {
	delete(m.sections, sectionID)
	for id, b := range m.blocks {
		if b.SectionID == sectionID {
			delete(m.blocks, id)
		}
	}
	for id, child := range m.sections {
		if child.ParentID != nil && *child.ParentID == sectionID {
			m.deleteSectionLocked(id)
		}
	}
}

func (m *memStore) ReorderSections(_ context.Context, manualID string, items []store.OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		if sec, ok := m.sections[item.ID]; !ok || sec.ManualID != manualID {
			return sql.ErrNoRows
		}
	}
	for _, item := range items {
		sec := m.sections[item.ID]
		sec.Order = item.Order
		m.sections[item.ID] = sec
	}
	m.touch(manualID)
	return nil
}

// blocks

func (m *memStore) withManual(b store.Block) store.Block {
	b.ManualID = m.sections[b.SectionID].ManualID
	return b
}

func (m *memStore) GetBlock(_ context.Context, blockID string) (store.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[blockID]
	if !ok {
		return store.Block{}, sql.ErrNoRows
	}
	return m.withManual(b), nil
}

func (m *memStore) ListBlocksByManual(_ context.Context, manualID string) ([]store.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Block, 0)
	for _, b := range m.blocks {
		if m.sections[b.SectionID].ManualID == manualID {
			items = append(items, m.withManual(b))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.SectionID != b.SectionID {
			return a.SectionID < b.SectionID
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return items, nil
}

func (m *memStore) InsertBlock(_ context.Context, manualID string, block store.Block) (store.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sections[block.SectionID]; !ok {
		return store.Block{}, errors.New("insert block: section does not exist")
	}
	order := 0
	for _, b := range m.blocks {
		if b.SectionID == block.SectionID && b.Order >= order {
			order = b.Order + 1
		}
	}
	block.Order = order
	block.ManualID = manualID
	block.CreatedAt = m.tick()
	block.UpdatedAt = block.CreatedAt
	m.blocks[block.ID] = block
	m.touch(manualID)
	return block, nil
}

func (m *memStore) UpdateBlock(_ context.Context, manualID, blockID, blockType, content string) (store.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[blockID]
	if !ok || m.sections[b.SectionID].ManualID != manualID {
		return store.Block{}, sql.ErrNoRows
	}
	b.Type, b.Content, b.UpdatedAt = blockType, content, m.tick()
	m.blocks[blockID] = b
	m.touch(manualID)
	return m.withManual(b), nil
}

func (m *memStore) DeleteBlock(_ context.Context, manualID, blockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[blockID]
	if !ok || m.sections[b.SectionID].ManualID != manualID {
		return sql.ErrNoRows
	}
	delete(m.blocks, blockID)
	m.touch(manualID)
	return nil
}

func (m *memStore) ReorderBlocks(_ context.Context, manualID string, items []store.OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		b, ok := m.blocks[item.ID]
		if !ok || m.sections[b.SectionID].ManualID != manualID {
			return sql.ErrNoRows
		}
	}
	for _, item := range items {
		b := m.blocks[item.ID]
		b.Order = item.Order
		m.blocks[item.ID] = b
	}
	m.touch(manualID)
	return nil
}

// sharing

func (m *memStore) withGrantee(sh store.Share) store.Share {
	u := m.users[sh.UserID]
	sh.UserName, sh.UserEmail = u.Name, u.Email
	return sh
}

func (m *memStore) ListShares(_ context.Context, manualID string) ([]store.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Share, 0)
	for _, sh := range m.shares {
		if sh.ManualID == manualID {
			items = append(items, m.withGrantee(sh))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) GetShare(_ context.Context, shareID string) (store.Share, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shares[shareID]
	if !ok {
		return store.Share{}, sql.ErrNoRows
	}
	return m.withGrantee(sh), nil
}

func (m *memStore) GetSharePermission(_ context.Context, manualID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sh := range m.shares {
		if sh.ManualID == manualID && sh.UserID == userID {
			return sh.Permission, nil
		}
	}
	return "", nil
}

func (m *memStore) CreateShare(_ context.Context, share store.Share) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sh := range m.shares {
		if sh.ManualID == share.ManualID && sh.UserID == share.UserID {
			return store.ErrConflict
		}
	}
	share.CreatedAt = m.tick()
	m.shares[share.ID] = share
	return nil
}

func (m *memStore) UpdateSharePermission(_ context.Context, shareID, permission string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shares[shareID]
	if !ok {
		return sql.ErrNoRows
	}
	sh.Permission = permission
	m.shares[shareID] = sh
	return nil
}

func (m *memStore) DeleteShare(_ context.Context, shareID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shares[shareID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.shares, shareID)
	return nil
}

func (m *memStore) ListExternalLinks(_ context.Context, manualID string) ([]store.ExternalLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.ExternalLink, 0)
	for _, l := range m.links {
		if l.ManualID == manualID {
			items = append(items, l)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memStore) GetExternalLink(_ context.Context, linkID string) (store.ExternalLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[linkID]
	if !ok {
		return store.ExternalLink{}, sql.ErrNoRows
	}
	return l, nil
}

func (m *memStore) GetExternalLinkByToken(_ context.Context, token string) (store.ExternalLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.Token == token {
			return l, nil
		}
	}
	return store.ExternalLink{}, sql.ErrNoRows
}

func (m *memStore) CreateExternalLink(_ context.Context, link store.ExternalLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.Token == link.Token {
			return store.ErrConflict
		}
	}
	link.CreatedAt = m.tick()
	m.links[link.ID] = link
	return nil
}

func (m *memStore) UpdateExternalLink(_ context.Context, link store.ExternalLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.links[link.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.AccessType, existing.IsActive, existing.ExpiresAt = link.AccessType, link.IsActive, link.ExpiresAt
	m.links[link.ID] = existing
	return nil
}

func (m *memStore) DeleteExternalLink(_ context.Context, linkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[linkID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.links, linkID)
	return nil
}

// versions

func (m *memStore) InsertVersion(_ context.Context, version store.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	version.CreatedAt = m.tick()
	version.Snapshot = append(json.RawMessage(nil), version.Snapshot...)
	m.versions = append(m.versions, version)
	return nil
}

func (m *memStore) ListVersions(_ context.Context, manualID string) ([]store.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Version, 0)
	for i := len(m.versions) - 1; i >= 0; i-- {
		v := m.versions[i]
		if v.ManualID == manualID {
			v.Snapshot = nil
			v.CreatorName = m.users[v.CreatorID].Name
			items = append(items, v)
		}
	}
	return items, nil
}

func (m *memStore) GetVersion(_ context.Context, versionID string) (store.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.ID == versionID {
			v.CreatorName = m.users[v.CreatorID].Name
			return v, nil
		}
	}
	return store.Version{}, sql.ErrNoRows
}

func (m *memStore) RestoreManual(_ context.Context, manualID, title, description string, sections []store.Section, blocks []store.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	man, ok := m.manuals[manualID]
	if !ok {
		return sql.ErrNoRows
	}
	for id, sec := range m.sections {
		if sec.ManualID == manualID {
			m.deleteSectionLocked(id)
		}
	}
	for _, sec := range sections {
		if sec.ParentID != nil {
			if _, ok := m.sections[*sec.ParentID]; !ok {
				return errors.New("restore section: parent inserted out of order")
			}
		}
		sec.ManualID = manualID
		sec.CreatedAt = m.tick()
		sec.UpdatedAt = sec.CreatedAt
		m.sections[sec.ID] = sec
	}
	for _, b := range blocks {
		b.CreatedAt = m.tick()
		b.UpdatedAt = b.CreatedAt
		m.blocks[b.ID] = b
	}
	man.Title, man.Description, man.UpdatedAt = title, description, m.tick()
	m.manuals[manualID] = man
	return nil
}

// notifications

func (m *memStore) CreateNotification(_ context.Context, n store.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.CreatedAt = m.tick()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *memStore) ListNotifications(_ context.Context, userID string, unreadOnly bool) ([]store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Notification, 0)
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.UserID == userID && (!unreadOnly || !n.IsRead) {
			items = append(items, n)
		}
	}
	return items, nil
}

func (m *memStore) MarkNotificationRead(_ context.Context, userID, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notifications {
		if n.ID == notificationID && n.UserID == userID {
			m.notifications[i].IsRead = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) MarkAllNotificationsRead(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i, item := range m.notifications {
		if item.UserID == userID && !item.IsRead {
			m.notifications[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) teamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.teams)
}
