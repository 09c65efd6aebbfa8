package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hoonjeong/menualic/internal/blocks"
	"github.com/hoonjeong/menualic/internal/rbac"
	"github.com/hoonjeong/menualic/internal/search"
	"github.com/hoonjeong/menualic/internal/store"
	"github.com/hoonjeong/menualic/internal/tree"
	"github.com/hoonjeong/menualic/internal/versioning"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
)

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errValidation("Title is required", map[string]any{"field": "title"})
	}
	if len([]rune(title)) > maxTitleLength {
		return "", errValidation(fmt.Sprintf("Title must be at most %d characters", maxTitleLength), map[string]any{"field": "title"})
	}
	return title, nil
}

func validateDescription(description string) (string, error) {
	description = strings.TrimSpace(description)
	if len([]rune(description)) > maxDescriptionLength {
		return "", errValidation(fmt.Sprintf("Description must be at most %d characters", maxDescriptionLength), map[string]any{"field": "description"})
	}
	return description, nil
}

// ListManuals returns every manual the caller can access, most recently
// updated first, each with the caller's permission.
func (s *Service) ListManuals(ctx context.Context, sess Session) (map[string]any, error) {
	manuals, err := s.store.ListAccessibleManuals(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(manuals))
	for _, m := range manuals {
		permission, err := s.permissionOn(ctx, sess.UserID, m)
		if err != nil {
			return nil, err
		}
		if permission == rbac.PermissionNone {
			continue
		}
		items = append(items, manualPayload(m, permission))
	}
	return map[string]any{"manuals": items}, nil
}

// CreateManual binds a new manual to the caller's team. Only team OWNERs
// and EDITORs may create manuals.
func (s *Service) CreateManual(ctx context.Context, sess Session, title, description string) (map[string]any, error) {
	member, ok, err := s.membership(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errForbidden("Join or create a team before creating manuals")
	}
	if role := rbac.TeamRole(member.Role); role != rbac.TeamOwner && role != rbac.TeamEditor {
		return nil, errForbidden("Only team owners and editors can create manuals")
	}
	title, err = validateTitle(title)
	if err != nil {
		return nil, err
	}
	description, err = validateDescription(description)
	if err != nil {
		return nil, err
	}

	manual := store.Manual{
		ID:          s.newID(),
		Title:       title,
		Description: description,
		OwnerID:     sess.UserID,
		TeamID:      member.TeamID,
		OwnerName:   sess.Name,
		CreatedAt:   s.now(),
		UpdatedAt:   s.now(),
	}
	if err := s.store.CreateManual(ctx, manual); err != nil {
		return nil, err
	}
	s.search.IndexManual(manualRecord(manual))
	return map[string]any{"manual": manualPayload(manual, rbac.PermissionOwner)}, nil
}

// loadTree reads a manual's sections and blocks and nests them.
func (s *Service) loadTree(ctx context.Context, manualID string) ([]store.Section, []store.Block, []*tree.Node, error) {
	sections, err := s.store.ListSections(ctx, manualID)
	if err != nil {
		return nil, nil, nil, err
	}
	blockRows, err := s.store.ListBlocksByManual(ctx, manualID)
	if err != nil {
		return nil, nil, nil, err
	}
	return sections, blockRows, tree.Build(sections, blockRows), nil
}

func (s *Service) GetManual(ctx context.Context, sess Session, manualID string) (map[string]any, error) {
	manual, permission, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	return s.manualView(ctx, manual, permission)
}

func (s *Service) manualView(ctx context.Context, manual store.Manual, permission rbac.Permission) (map[string]any, error) {
	_, _, nodes, err := s.loadTree(ctx, manual.ID)
	if err != nil {
		return nil, err
	}
	payload := manualPayload(manual, permission)
	payload["sections"] = nodes
	return map[string]any{"manual": payload}, nil
}

// UpdateManual changes title and/or description. Nil leaves a field as is.
func (s *Service) UpdateManual(ctx context.Context, sess Session, manualID string, title, description *string) (map[string]any, error) {
	manual, permission, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	if title != nil {
		if manual.Title, err = validateTitle(*title); err != nil {
			return nil, err
		}
	}
	if description != nil {
		if manual.Description, err = validateDescription(*description); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdateManual(ctx, manual.ID, manual.Title, manual.Description); err != nil {
		return nil, err
	}
	manual.UpdatedAt = s.now()
	s.reindexManual(ctx, manual.ID)
	return map[string]any{"manual": manualPayload(manual, permission)}, nil
}

func (s *Service) DeleteManual(ctx context.Context, sess Session, manualID string) error {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionDelete)
	if err != nil {
		return err
	}
	if err := s.store.DeleteManual(ctx, manual.ID); err != nil {
		return err
	}
	s.search.DeleteManual(manual.ID)
	return nil
}

// AddSection appends a section under parentID (or at the root). Depth is
// derived from the parent and may not exceed three levels.
func (s *Service) AddSection(ctx context.Context, sess Session, manualID, title string, parentID *string) (map[string]any, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	title, err = validateTitle(title)
	if err != nil {
		return nil, err
	}

	depth := 1
	if parentID != nil && strings.TrimSpace(*parentID) == "" {
		parentID = nil
	}
	if parentID != nil {
		parent, err := s.store.GetSection(ctx, *parentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errValidation("Parent section not found", map[string]any{"field": "parentId"})
			}
			return nil, err
		}
		if parent.ManualID != manual.ID {
			return nil, errValidation("Parent section belongs to another manual", map[string]any{"field": "parentId"})
		}
		depth = parent.Depth + 1
	}
	if depth > versioning.MaxDepth {
		return nil, errValidation(fmt.Sprintf("Sections can be nested at most %d levels deep", versioning.MaxDepth), map[string]any{"maxDepth": versioning.MaxDepth})
	}

	created, err := s.store.InsertSection(ctx, store.Section{
		ID:       s.newID(),
		ManualID: manual.ID,
		ParentID: parentID,
		Title:    title,
		Depth:    depth,
	})
	if err != nil {
		return nil, err
	}
	s.search.IndexSection(sectionRecord(created, manual.Title))
	return map[string]any{"section": sectionPayload(created)}, nil
}

func (s *Service) UpdateSection(ctx context.Context, sess Session, manualID, sectionID, title string) (map[string]any, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	title, err = validateTitle(title)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateSectionTitle(ctx, manual.ID, sectionID, title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Section")
		}
		return nil, err
	}
	s.reindexManual(ctx, manual.ID)
	return map[string]any{"section": sectionPayload(updated)}, nil
}

// DeleteSection removes a section with its subsections and blocks.
func (s *Service) DeleteSection(ctx context.Context, sess Session, manualID, sectionID string) error {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSection(ctx, manual.ID, sectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Section")
		}
		return err
	}
	s.reindexManual(ctx, manual.ID)
	return nil
}

// validateOrder checks a reorder request against the ids the manual owns.
func validateOrder(items []store.OrderUpdate, known map[string]bool) error {
	if len(items) == 0 {
		return errValidation("items are required", nil)
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !known[item.ID] {
			return errValidation("Item does not belong to this manual", map[string]any{"id": item.ID})
		}
		if seen[item.ID] {
			return errValidation("Duplicate item in reorder request", map[string]any{"id": item.ID})
		}
		if item.Order < 0 {
			return errValidation("Order must not be negative", map[string]any{"id": item.ID})
		}
		seen[item.ID] = true
	}
	return nil
}

func (s *Service) ReorderSections(ctx context.Context, sess Session, manualID string, items []store.OrderUpdate) error {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	sections, err := s.store.ListSections(ctx, manual.ID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(sections))
	for _, sec := range sections {
		known[sec.ID] = true
	}
	if err := validateOrder(items, known); err != nil {
		return err
	}
	return s.store.ReorderSections(ctx, manual.ID, items)
}

// sectionOf checks sectionID exists and belongs to manualID.
func (s *Service) sectionOf(ctx context.Context, manualID, sectionID string) (store.Section, error) {
	sec, err := s.store.GetSection(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Section{}, errValidation("Section not found in this manual", map[string]any{"field": "sectionId"})
		}
		return store.Section{}, err
	}
	if sec.ManualID != manualID {
		return store.Section{}, errValidation("Section not found in this manual", map[string]any{"field": "sectionId"})
	}
	return sec, nil
}

func blockContentError(err error) error {
	if errors.Is(err, blocks.ErrInvalidContent) {
		return errValidation(err.Error(), map[string]any{"field": "content"})
	}
	return err
}

// AddBlock appends a block to a section. Content is validated against the
// block type and stored in its canonical form.
func (s *Service) AddBlock(ctx context.Context, sess Session, manualID, sectionID, blockType, content string) (map[string]any, error) {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	sec, err := s.sectionOf(ctx, manual.ID, sectionID)
	if err != nil {
		return nil, err
	}
	t, err := blocks.ParseType(blockType)
	if err != nil {
		return nil, errValidation(err.Error(), map[string]any{"field": "type"})
	}
	stored, err := blocks.Normalize(t, content)
	if err != nil {
		return nil, blockContentError(err)
	}

	created, err := s.store.InsertBlock(ctx, manual.ID, store.Block{
		ID:        s.newID(),
		SectionID: sec.ID,
		Type:      string(t),
		Content:   stored,
	})
	if err != nil {
		return nil, err
	}
	s.search.IndexBlock(blockRecord(created, manual, sec.Title))
	return map[string]any{"block": blockPayload(created)}, nil
}

// UpdateBlock replaces a block's content and optionally its type. A nil
// content keeps the stored payload, converted when the type changes. Writes
// are last-write-wins.
func (s *Service) UpdateBlock(ctx context.Context, sess Session, manualID, blockID string, blockType *string, content *string) (map[string]any, error) {
	if blockType == nil && content == nil {
		return nil, errValidation("type or content is required", nil)
	}
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionEdit)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.GetBlock(ctx, blockID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Block")
		}
		return nil, err
	}
	if existing.ManualID != manual.ID {
		return nil, errNotFound("Block")
	}

	t := blocks.Type(existing.Type)
	if blockType != nil {
		if t, err = blocks.ParseType(*blockType); err != nil {
			return nil, errValidation(err.Error(), map[string]any{"field": "type"})
		}
	}
	var stored string
	if content != nil {
		stored, err = blocks.Normalize(t, *content)
	} else {
		stored, err = blocks.Retype(blocks.Type(existing.Type), t, existing.Content)
	}
	if err != nil {
		return nil, blockContentError(err)
	}

	updated, err := s.store.UpdateBlock(ctx, manual.ID, existing.ID, string(t), stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Block")
		}
		return nil, err
	}
	if s.search.Indexing() {
		if sec, err := s.store.GetSection(ctx, updated.SectionID); err == nil {
			s.search.IndexBlock(blockRecord(updated, manual, sec.Title))
		}
	}
	return map[string]any{"block": blockPayload(updated)}, nil
}

func (s *Service) DeleteBlock(ctx context.Context, sess Session, manualID, blockID string) error {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBlock(ctx, manual.ID, blockID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Block")
		}
		return err
	}
	s.search.DeleteBlock(blockID)
	return nil
}

func (s *Service) ReorderBlocks(ctx context.Context, sess Session, manualID string, items []store.OrderUpdate) error {
	manual, _, err := s.authorizeManual(ctx, sess, manualID, rbac.ActionEdit)
	if err != nil {
		return err
	}
	blockRows, err := s.store.ListBlocksByManual(ctx, manual.ID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(blockRows))
	for _, b := range blockRows {
		known[b.ID] = true
	}
	if err := validateOrder(items, known); err != nil {
		return err
	}
	return s.store.ReorderBlocks(ctx, manual.ID, items)
}

func manualRecord(m store.Manual) search.ManualRecord {
	return search.ManualRecord{ID: m.ID, ManualID: m.ID, Title: m.Title, Description: m.Description}
}

func sectionRecord(sec store.Section, manualTitle string) search.SectionRecord {
	return search.SectionRecord{ID: sec.ID, ManualID: sec.ManualID, ManualTitle: manualTitle, Title: sec.Title}
}

func blockRecord(b store.Block, manual store.Manual, sectionTitle string) search.BlockRecord {
	return search.BlockRecord{
		ID:           b.ID,
		ManualID:     manual.ID,
		ManualTitle:  manual.Title,
		SectionID:    b.SectionID,
		SectionTitle: sectionTitle,
		Type:         b.Type,
		Text:         blocks.PlainTextOf(blocks.Type(b.Type), b.Content),
	}
}

// reindexManual replaces everything indexed for a manual. Used where a
// change cascades to rows that carry denormalized titles.
func (s *Service) reindexManual(ctx context.Context, manualID string) {
	if !s.search.Indexing() {
		return
	}
	manual, err := s.store.GetManual(ctx, manualID)
	if err != nil {
		s.log.Warn().Err(err).Str("manual_id", manualID).Msg("load manual for reindex")
		return
	}
	sections, blockRows, _, err := s.loadTree(ctx, manualID)
	if err != nil {
		s.log.Warn().Err(err).Str("manual_id", manualID).Msg("load tree for reindex")
		return
	}
	titles := make(map[string]string, len(sections))
	sectionRecords := make([]search.SectionRecord, 0, len(sections))
	for _, sec := range sections {
		titles[sec.ID] = sec.Title
		sectionRecords = append(sectionRecords, sectionRecord(sec, manual.Title))
	}
	blockRecords := make([]search.BlockRecord, 0, len(blockRows))
	for _, b := range blockRows {
		blockRecords = append(blockRecords, blockRecord(b, manual, titles[b.SectionID]))
	}
	s.search.ReplaceManual(manualRecord(manual), sectionRecords, blockRecords)
}
