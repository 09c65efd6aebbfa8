package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hoonjeong/menualic/internal/config"
	"github.com/hoonjeong/menualic/internal/export"
	"github.com/hoonjeong/menualic/internal/rbac"
	"github.com/hoonjeong/menualic/internal/search"
	"github.com/hoonjeong/menualic/internal/session"
	"github.com/hoonjeong/menualic/internal/store"
	"github.com/hoonjeong/menualic/internal/tree"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const testPassword = "password123"

type recordingSearcher struct {
	mu    sync.Mutex
	last  search.Query
	calls int
	resp  search.Response
}

func (r *recordingSearcher) Search(_ context.Context, q search.Query) (search.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = q
	r.calls++
	resp := r.resp
	resp.Query = q.Text
	return resp, nil
}

func (r *recordingSearcher) Healthy() bool { return true }

type memUploads struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (u *memUploads) Put(_ context.Context, key, _ string, r io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.objects == nil {
		u.objects = map[string][]byte{}
	}
	u.objects[key] = data
	return "/uploads/" + key, nil
}

type testEnv struct {
	svc      *Service
	store    *memStore
	searcher *recordingSearcher
	uploads  *memUploads
	redis    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ms := newMemStore()
	searcher := &recordingSearcher{}
	uploads := &memUploads{}
	cfg := config.Config{
		Env:            "development",
		JWTSecret:      "test-secret",
		SessionTTL:     time.Hour,
		InvitationTTL:  7 * 24 * time.Hour,
		BaseURL:        "http://localhost:3000",
		UploadDir:      t.TempDir(),
		UploadMaxBytes: 1 << 20,
	}
	svc := newService(cfg, ms, Dependencies{
		Blacklist: session.NewRedisStoreWithClient(client),
		Search:    search.NewService(nil, searcher, zerolog.Nop()),
		Uploads:   uploads,
		Exporter:  export.NewService(),
		Logger:    zerolog.Nop(),
	})
	return &testEnv{svc: svc, store: ms, searcher: searcher, uploads: uploads, redis: mr}
}

func (e *testEnv) signUp(t *testing.T, emailAddr, name string) Session {
	t.Helper()
	ctx := context.Background()
	if _, err := e.svc.SignUp(ctx, emailAddr, testPassword, name); err != nil {
		t.Fatalf("sign up %s: %v", emailAddr, err)
	}
	sess, _, err := e.svc.Login(ctx, emailAddr, testPassword)
	if err != nil {
		t.Fatalf("login %s: %v", emailAddr, err)
	}
	return sess
}

func (e *testEnv) createTeam(t *testing.T, owner Session) {
	t.Helper()
	if _, err := e.svc.CreateTeam(context.Background(), owner, "Docs", "Team manuals"); err != nil {
		t.Fatalf("create team: %v", err)
	}
}

// join invites member into owner's team with role and accepts.
func (e *testEnv) join(t *testing.T, owner, member Session, role string) {
	t.Helper()
	ctx := context.Background()
	result, err := e.svc.InviteMember(ctx, owner, member.Email, role)
	if err != nil {
		t.Fatalf("invite %s: %v", member.Email, err)
	}
	token, _ := result["token"].(string)
	if token == "" {
		t.Fatalf("expected invitation token in payload without SMTP, got %v", result)
	}
	if _, err := e.svc.AcceptInvitation(ctx, member, token); err != nil {
		t.Fatalf("accept invitation: %v", err)
	}
}

func (e *testEnv) createManual(t *testing.T, sess Session, title string) string {
	t.Helper()
	result, err := e.svc.CreateManual(context.Background(), sess, title, "")
	if err != nil {
		t.Fatalf("create manual: %v", err)
	}
	return result["manual"].(map[string]any)["id"].(string)
}

func (e *testEnv) addSection(t *testing.T, sess Session, manualID, title string, parentID *string) string {
	t.Helper()
	result, err := e.svc.AddSection(context.Background(), sess, manualID, title, parentID)
	if err != nil {
		t.Fatalf("add section %q: %v", title, err)
	}
	return result["section"].(map[string]any)["id"].(string)
}

func (e *testEnv) addBlock(t *testing.T, sess Session, manualID, sectionID, blockType, content string) string {
	t.Helper()
	result, err := e.svc.AddBlock(context.Background(), sess, manualID, sectionID, blockType, content)
	if err != nil {
		t.Fatalf("add %s block: %v", blockType, err)
	}
	return result["block"].(map[string]any)["id"].(string)
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error %s, got %v", code, err)
	}
	if domainErr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, domainErr.Code, domainErr.Message)
	}
}

func ptr[T any](v T) *T { return &v }

// outline renders a section forest as indented lines so two trees can be
// compared without their ids.
func outline(nodes []*tree.Node) string {
	var b strings.Builder
	tree.Walk(nodes, func(n *tree.Node) {
		fmt.Fprintf(&b, "%s%s [%d]\n", strings.Repeat("  ", n.Depth-1), n.Title, n.Order)
		for _, blk := range n.Blocks {
			fmt.Fprintf(&b, "%s- %s %s [%d]\n", strings.Repeat("  ", n.Depth), blk.Type, blk.Content, blk.Order)
		}
	})
	return b.String()
}

func manualSections(t *testing.T, payload map[string]any) []*tree.Node {
	t.Helper()
	nodes, ok := payload["manual"].(map[string]any)["sections"].([]*tree.Node)
	if !ok {
		t.Fatalf("expected section nodes, got %T", payload["manual"].(map[string]any)["sections"])
	}
	return nodes
}

func TestTeamOwnerResolvesToOwnerOnEditorsManual(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	editor := env.signUp(t, "editor@example.com", "Editor")
	viewer := env.signUp(t, "viewer@example.com", "Viewer")
	outsider := env.signUp(t, "outsider@example.com", "Outsider")
	env.createTeam(t, owner)
	env.join(t, owner, editor, "EDITOR")
	env.join(t, owner, viewer, "VIEWER")

	manualID := env.createManual(t, editor, "Onboarding")

	cases := []struct {
		name string
		user Session
		want rbac.Permission
	}{
		{"team owner", owner, rbac.PermissionOwner},
		{"manual creator", editor, rbac.PermissionOwner},
		{"team viewer", viewer, rbac.PermissionViewer},
		{"outsider", outsider, rbac.PermissionNone},
	}
	for _, tc := range cases {
		got, err := env.svc.ResolvePermission(ctx, tc.user.UserID, manualID)
		if err != nil {
			t.Fatalf("%s: resolve permission: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}

	if _, err := env.svc.GetManual(ctx, outsider, manualID); err == nil {
		t.Fatal("expected outsider to be refused")
	} else {
		requireCode(t, err, "NOT_FOUND")
	}
	if _, err := env.svc.UpdateManual(ctx, viewer, manualID, ptr("Renamed"), nil); err == nil {
		t.Fatal("expected viewer edit to be refused")
	} else {
		requireCode(t, err, "FORBIDDEN")
	}
	if err := env.svc.DeleteManual(ctx, editor, manualID); err != nil {
		t.Fatalf("creator delete: %v", err)
	}
}

func TestViewerCannotCreateManual(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signUp(t, "owner@example.com", "Owner")
	viewer := env.signUp(t, "viewer@example.com", "Viewer")
	env.createTeam(t, owner)
	env.join(t, owner, viewer, "VIEWER")

	_, err := env.svc.CreateManual(context.Background(), viewer, "Nope", "")
	requireCode(t, err, "FORBIDDEN")
}

func TestCreateTeamWhenAlreadyInTeamWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signUp(t, "owner@example.com", "Owner")
	env.createTeam(t, owner)

	_, err := env.svc.CreateTeam(context.Background(), owner, "Second", "")
	requireCode(t, err, "ALREADY_IN_TEAM")
	if n := env.store.teamCount(); n != 1 {
		t.Fatalf("expected one team row, got %d", n)
	}
}

func TestAcceptInvitationWhileInAnotherTeam(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.signUp(t, "first@example.com", "First")
	second := env.signUp(t, "second@example.com", "Second")
	env.createTeam(t, first)
	env.createTeam(t, second)

	result, err := env.svc.InviteMember(ctx, first, second.Email, "EDITOR")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	_, err = env.svc.AcceptInvitation(ctx, second, result["token"].(string))
	requireCode(t, err, "ALREADY_IN_TEAM")
}

func TestInvitationChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	invitee := env.signUp(t, "invitee@example.com", "Invitee")
	other := env.signUp(t, "other@example.com", "Other")
	env.createTeam(t, owner)

	_, err := env.svc.InviteMember(ctx, owner, "invitee@example.com", "OWNER")
	requireCode(t, err, "VALIDATION_ERROR")

	result, err := env.svc.InviteMember(ctx, owner, "Invitee@Example.com", "viewer")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	token := result["token"].(string)

	_, err = env.svc.InviteMember(ctx, owner, "invitee@example.com", "EDITOR")
	requireCode(t, err, "INVITATION_EXISTS")

	_, err = env.svc.AcceptInvitation(ctx, other, token)
	requireCode(t, err, "FORBIDDEN")

	notes, err := env.svc.ListNotifications(ctx, invitee, false)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if notes["unreadCount"].(int) != 1 {
		t.Fatalf("expected an invitation notification, got %v", notes)
	}

	env.svc.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	_, err = env.svc.AcceptInvitation(ctx, invitee, token)
	requireCode(t, err, "INVITATION_EXPIRED")
	_, err = env.svc.AcceptInvitation(ctx, invitee, token)
	requireCode(t, err, "INVITATION_EXPIRED")
}

func TestTeamMemberManagement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	editor := env.signUp(t, "editor@example.com", "Editor")
	viewer := env.signUp(t, "viewer@example.com", "Viewer")
	env.createTeam(t, owner)
	env.join(t, owner, editor, "EDITOR")
	env.join(t, owner, viewer, "VIEWER")

	ownerMember, _, _ := env.svc.membership(ctx, owner.UserID)
	editorMember, _, _ := env.svc.membership(ctx, editor.UserID)
	viewerMember, _, _ := env.svc.membership(ctx, viewer.UserID)

	err := env.svc.RemoveMember(ctx, owner, ownerMember.ID)
	requireCode(t, err, "CANNOT_REMOVE_OWNER")

	err = env.svc.RemoveMember(ctx, viewer, editorMember.ID)
	requireCode(t, err, "FORBIDDEN")

	_, err = env.svc.UpdateMemberRole(ctx, owner, ownerMember.ID, "VIEWER")
	requireCode(t, err, "VALIDATION_ERROR")

	if _, err := env.svc.UpdateMemberRole(ctx, owner, viewerMember.ID, "EDITOR"); err != nil {
		t.Fatalf("promote viewer: %v", err)
	}

	if _, err := env.svc.TransferOwnership(ctx, owner, editorMember.ID); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	members, _ := env.store.ListTeamMembers(ctx, ownerMember.TeamID)
	owners := 0
	for _, m := range members {
		if m.Role == "OWNER" {
			owners++
			if m.UserID != editor.UserID {
				t.Fatalf("expected editor to own the team, got %s", m.UserID)
			}
		}
	}
	if owners != 1 {
		t.Fatalf("expected exactly one owner, got %d", owners)
	}

	if err := env.svc.RemoveMember(ctx, viewer, viewerMember.ID); err != nil {
		t.Fatalf("leave team: %v", err)
	}
}

func TestSectionOrdersAreConsecutiveAndReorderIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	env.createTeam(t, owner)
	manualID := env.createManual(t, owner, "Handbook")

	ids := []string{
		env.addSection(t, owner, manualID, "One", nil),
		env.addSection(t, owner, manualID, "Two", nil),
		env.addSection(t, owner, manualID, "Three", nil),
	}
	sections, _ := env.store.ListSections(ctx, manualID)
	for i, sec := range sections {
		if sec.Order != i {
			t.Fatalf("expected order %d for %s, got %d", i, sec.Title, sec.Order)
		}
	}

	items := []store.OrderUpdate{{ID: ids[2], Order: 0}, {ID: ids[0], Order: 1}, {ID: ids[1], Order: 2}}
	if err := env.svc.ReorderSections(ctx, owner, manualID, items); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	first, _ := env.svc.GetManual(ctx, owner, manualID)
	if err := env.svc.ReorderSections(ctx, owner, manualID, items); err != nil {
		t.Fatalf("reorder again: %v", err)
	}
	second, _ := env.svc.GetManual(ctx, owner, manualID)

	if outline(manualSections(t, first)) != outline(manualSections(t, second)) {
		t.Fatalf("reorder is not idempotent:\n%s\nvs\n%s", outline(manualSections(t, first)), outline(manualSections(t, second)))
	}
	if got := manualSections(t, first)[0].Title; got != "Three" {
		t.Fatalf("expected Three first, got %s", got)
	}

	err := env.svc.ReorderSections(ctx, owner, manualID, []store.OrderUpdate{{ID: "missing", Order: 0}})
	requireCode(t, err, "VALIDATION_ERROR")
}

func TestAddSectionRejectsFourthLevel(t *testing.T) {
	env := newTestEnv(t)
	owner := env.signUp(t, "owner@example.com", "Owner")
	env.createTeam(t, owner)
	manualID := env.createManual(t, owner, "Deep")

	level1 := env.addSection(t, owner, manualID, "L1", nil)
	level2 := env.addSection(t, owner, manualID, "L2", &level1)
	level3 := env.addSection(t, owner, manualID, "L3", &level2)

	_, err := env.svc.AddSection(context.Background(), owner, manualID, "L4", &level3)
	requireCode(t, err, "VALIDATION_ERROR")
}

func TestBlockValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	env.createTeam(t, owner)
	manualID := env.createManual(t, owner, "Blocks")
	sectionID := env.addSection(t, owner, manualID, "Intro", nil)

	_, err := env.svc.AddBlock(ctx, owner, manualID, sectionID, "QUOTE", "")
	requireCode(t, err, "VALIDATION_ERROR")

	_, err = env.svc.AddBlock(ctx, owner, manualID, sectionID, "IMAGE", `{"url":"javascript:alert(1)"}`)
	requireCode(t, err, "VALIDATION_ERROR")

	_, err = env.svc.AddBlock(ctx, owner, manualID, "elsewhere", "BODY", "<p>x</p>")
	requireCode(t, err, "VALIDATION_ERROR")

	first := env.addBlock(t, owner, manualID, sectionID, "HEADING1", `{"text":"Welcome"}`)
	second := env.addBlock(t, owner, manualID, sectionID, "DIVIDER", "")
	blockRows, _ := env.store.ListBlocksByManual(ctx, manualID)
	if len(blockRows) != 2 || blockRows[0].ID != first || blockRows[1].ID != second {
		t.Fatalf("unexpected block order: %+v", blockRows)
	}
	if blockRows[0].Order != 0 || blockRows[1].Order != 1 {
		t.Fatalf("expected orders 0 and 1, got %d and %d", blockRows[0].Order, blockRows[1].Order)
	}
}

func TestUpdateBlockLastWriteWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	editor := env.signUp(t, "editor@example.com", "Editor")
	env.createTeam(t, owner)
	env.join(t, owner, editor, "EDITOR")
	manualID := env.createManual(t, owner, "Shared")
	sectionID := env.addSection(t, owner, manualID, "Body", nil)
	blockID := env.addBlock(t, owner, manualID, sectionID, "BODY", "<p>start</p>")

	if _, err := env.svc.UpdateBlock(ctx, owner, manualID, blockID, nil, ptr("<p>owner</p>")); err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if _, err := env.svc.UpdateBlock(ctx, editor, manualID, blockID, nil, ptr("<p>editor</p>")); err != nil {
		t.Fatalf("editor update: %v", err)
	}
	stored, _ := env.store.GetBlock(ctx, blockID)
	if stored.Content != "<p>editor</p>" {
		t.Fatalf("expected last write to win, got %q", stored.Content)
	}
}

func TestUpdateBlockTypeOnlyKeepsContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	env.createTeam(t, owner)
	manualID := env.createManual(t, owner, "Guide")
	sectionID := env.addSection(t, owner, manualID, "Intro", nil)
	blockID := env.addBlock(t, owner, manualID, sectionID, "HEADING1", `{"text":"Welcome"}`)

	if _, err := env.svc.UpdateBlock(ctx, owner, manualID, blockID, ptr("HEADING2"), nil); err != nil {
		t.Fatalf("retype heading: %v", err)
	}
	stored, _ := env.store.GetBlock(ctx, blockID)
	if stored.Type != "HEADING2" || stored.Content != `{"text":"Welcome"}` {
		t.Fatalf("expected HEADING2 keeping its text, got %s %q", stored.Type, stored.Content)
	}

	_, err := env.svc.UpdateBlock(ctx, owner, manualID, blockID, ptr("TABLE"), nil)
	requireCode(t, err, "VALIDATION_ERROR")
	_, err = env.svc.UpdateBlock(ctx, owner, manualID, blockID, nil, nil)
	requireCode(t, err, "VALIDATION_ERROR")

	stored, _ = env.store.GetBlock(ctx, blockID)
	if stored.Content != `{"text":"Welcome"}` {
		t.Fatalf("rejected updates must not touch content, got %q", stored.Content)
	}
}

func TestTitleOnlyLinkStripsBlocksAtEveryDepth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	env.createTeam(t, owner)
	manualID := env.createManual(t, owner, "Public")

	level1 := env.addSection(t, owner, manualID, "L1", nil)
	level2 := env.addSection(t, owner, manualID, "L2", &level1)
	level3 := env.addSection(t, owner, manualID, "L3", &level2)
	for _, id := range []string{level1, level2, level3} {
		env.addBlock(t, owner, manualID, id, "BODY", "<p>secret</p>")
	}

	titleOnly, err := env.svc.CreateExternalLink(ctx, owner, manualID, "", nil)
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	token := titleOnly["link"].(map[string]any)["token"].(string)
	shared, err := env.svc.SharedManual(ctx, token)
	if err != nil {
		t.Fatalf("shared manual: %v", err)
	}
	if shared["accessType"] != store.AccessTitleOnly {
		t.Fatalf("expected default TITLE_ONLY, got %v", shared["accessType"])
	}
	count := 0
	tree.Walk(manualSections(t, shared), func(n *tree.Node) {
		count++
		if len(n.Blocks) != 0 {
			t.Fatalf("section %s leaked %d blocks", n.Title, len(n.Blocks))
		}
	})
	if count != 3 {
		t.Fatalf("expected all 3 section titles, got %d", count)
	}

	full, err := env.svc.CreateExternalLink(ctx, owner, manualID, "FULL_ACCESS", nil)
	if err != nil {
		t.Fatalf("create full link: %v", err)
	}
	shared, err = env.svc.SharedManual(ctx, full["link"].(map[string]any)["token"].(string))
	if err != nil {
		t.Fatalf("shared manual: %v", err)
	}
	blocksSeen := 0
	tree.Walk(manualSections(t, shared), func(n *tree.Node) { blocksSeen += len(n.Blocks) })
	if blocksSeen != 3 {
		t.Fatalf("expected 3 blocks through FULL_ACCESS, got %d", blocksSeen)
	}
}

func TestSharedManualRejectsInactiveAndExpiredLinks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	env.createTeam(t, owner)
	manualID := env.createManual(t, owner, "Public")

	_, err := env.svc.CreateExternalLink(ctx, owner, manualID, "TITLE_ONLY", ptr(time.Now().Add(-time.Minute)))
	requireCode(t, err, "VALIDATION_ERROR")

	created, err := env.svc.CreateExternalLink(ctx, owner, manualID, "FULL_ACCESS", ptr(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	link := created["link"].(map[string]any)
	token, linkID := link["token"].(string), link["id"].(string)

	if _, err := env.svc.SharedManual(ctx, token); err != nil {
		t.Fatalf("fresh link: %v", err)
	}

	if _, err := env.svc.UpdateExternalLink(ctx, owner, manualID, linkID, LinkUpdate{IsActive: ptr(false)}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err = env.svc.SharedManual(ctx, token)
	requireCode(t, err, "LINK_INACTIVE")

	if _, err := env.svc.UpdateExternalLink(ctx, owner, manualID, linkID, LinkUpdate{IsActive: ptr(true)}); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	env.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = env.svc.SharedManual(ctx, token)
	requireCode(t, err, "LINK_EXPIRED")

	_, err = env.svc.SharedManual(ctx, "no-such-token")
	requireCode(t, err, "NOT_FOUND")
}

func TestCreateShareGrantsPermissionAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	viewer := env.signUp(t, "viewer@example.com", "Viewer")
	outsider := env.signUp(t, "outsider@example.com", "Outsider")
	env.createTeam(t, owner)
	env.join(t, owner, viewer, "VIEWER")
	manualID := env.createManual(t, owner, "Shared")

	_, err := env.svc.CreateShare(ctx, owner, manualID, outsider.UserID, "EDITOR")
	requireCode(t, err, "VALIDATION_ERROR")
	_, err = env.svc.CreateShare(ctx, owner, manualID, viewer.UserID, "OWNER")
	requireCode(t, err, "VALIDATION_ERROR")
	_, err = env.svc.CreateShare(ctx, viewer, manualID, viewer.UserID, "EDITOR")
	requireCode(t, err, "FORBIDDEN")

	if _, err := env.svc.CreateShare(ctx, owner, manualID, viewer.UserID, "EDITOR"); err != nil {
		t.Fatalf("create share: %v", err)
	}
	_, err = env.svc.CreateShare(ctx, owner, manualID, viewer.UserID, "VIEWER")
	requireCode(t, err, "VALIDATION_ERROR")

	notes, err := env.svc.ListNotifications(ctx, viewer, true)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	items := notes["notifications"].([]map[string]any)
	found := false
	for _, n := range items {
		if n["type"] == store.NotificationManualShared && n["relatedId"] == manualID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MANUAL_SHARED notification, got %v", items)
	}

	updated, err := env.svc.MarkAllNotificationsRead(ctx, viewer)
	if err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if updated["updated"].(int64) == 0 {
		t.Fatal("expected notifications to be marked read")
	}
	err = env.svc.MarkNotificationRead(ctx, owner, items[0]["id"].(string))
	requireCode(t, err, "NOT_FOUND")
}

func TestRestoreVersionRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	env.createTeam(t, owner)
	manualID := env.createManual(t, owner, "Runbook")

	intro := env.addSection(t, owner, manualID, "Intro", nil)
	setup := env.addSection(t, owner, manualID, "Setup", &intro)
	env.addSection(t, owner, manualID, "Details", &setup)
	env.addBlock(t, owner, manualID, intro, "BODY", "<p>hello</p>")
	env.addBlock(t, owner, manualID, setup, "CODE", `{"language":"sh","code":"make"}`)

	before, _ := env.svc.GetManual(ctx, owner, manualID)
	want := outline(manualSections(t, before))

	created, err := env.svc.CreateVersion(ctx, owner, manualID, "baseline")
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	versionID := created["version"].(map[string]any)["id"].(string)

	if _, err := env.svc.UpdateManual(ctx, owner, manualID, ptr("Changed"), nil); err != nil {
		t.Fatalf("update manual: %v", err)
	}
	if err := env.svc.DeleteSection(ctx, owner, manualID, setup); err != nil {
		t.Fatalf("delete section: %v", err)
	}
	env.addSection(t, owner, manualID, "Extra", nil)

	restored, err := env.svc.RestoreVersion(ctx, owner, manualID, versionID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if title := restored["manual"].(map[string]any)["title"]; title != "Runbook" {
		t.Fatalf("expected title restored, got %v", title)
	}
	if got := outline(manualSections(t, restored)); got != want {
		t.Fatalf("restored tree differs:\n%s\nwant:\n%s", got, want)
	}

	listed, err := env.svc.ListVersions(ctx, owner, manualID)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if n := len(listed["versions"].([]map[string]any)); n != 1 {
		t.Fatalf("restore must not create versions, got %d", n)
	}

	other := env.createManual(t, owner, "Other")
	_, err = env.svc.GetVersion(ctx, owner, other, versionID)
	requireCode(t, err, "NOT_FOUND")
}

func TestRestoreCorruptedVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	env.createTeam(t, owner)
	manualID := env.createManual(t, owner, "Broken")

	if err := env.store.InsertVersion(ctx, store.Version{ID: "v-bad", ManualID: manualID, Snapshot: []byte(`{"sections":[`), CreatorID: owner.UserID}); err != nil {
		t.Fatalf("insert version: %v", err)
	}
	_, err := env.svc.RestoreVersion(ctx, owner, manualID, "v-bad")
	requireCode(t, err, "VERSION_CORRUPTED")
}

func TestSearchIsScopedToAccessibleManuals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	stranger := env.signUp(t, "stranger@example.com", "Stranger")
	env.createTeam(t, owner)
	env.createTeam(t, stranger)
	mine := env.createManual(t, owner, "Mine")
	env.createManual(t, stranger, "Theirs")

	resp, err := env.svc.Search(ctx, owner, "  query  ", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Query != "query" {
		t.Fatalf("expected trimmed query, got %q", resp.Query)
	}
	if len(env.searcher.last.ManualIDs) != 1 || env.searcher.last.ManualIDs[0] != mine {
		t.Fatalf("expected scope [%s], got %v", mine, env.searcher.last.ManualIDs)
	}

	calls := env.searcher.calls
	if _, err := env.svc.Search(ctx, owner, "   ", 5); err != nil {
		t.Fatalf("blank search: %v", err)
	}
	if env.searcher.calls != calls {
		t.Fatal("blank query must not reach the searcher")
	}
}

func TestDeleteTeamCascadesManuals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.signUp(t, "owner@example.com", "Owner")
	env.createTeam(t, owner)
	manualID := env.createManual(t, owner, "Gone")

	if err := env.svc.DeleteTeam(ctx, owner); err != nil {
		t.Fatalf("delete team: %v", err)
	}
	if _, err := env.store.GetManual(ctx, manualID); err == nil {
		t.Fatal("expected manual to be deleted with its team")
	}
	result, err := env.svc.GetTeam(ctx, owner)
	if err != nil {
		t.Fatalf("get team: %v", err)
	}
	if result["team"] != nil {
		t.Fatalf("expected no team, got %v", result["team"])
	}
}
