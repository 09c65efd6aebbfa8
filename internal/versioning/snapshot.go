// Package versioning captures a manual as a JSON snapshot and turns a
// snapshot back into rows for restore.
package versioning

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hoonjeong/menualic/internal/store"
	"github.com/hoonjeong/menualic/internal/tree"
)

const MaxDepth = 3

var ErrCorrupted = errors.New("corrupted version snapshot")

type Snapshot struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Sections    []Section `json:"sections"`
}

// Section is stored flat with a parentId link. Children is accepted on
// decode for nested snapshots and flattened away.
type Section struct {
	ID       string    `json:"id"`
	ParentID *string   `json:"parentId"`
	Title    string    `json:"title"`
	Order    int       `json:"order"`
	Depth    int       `json:"depth"`
	Blocks   []Block   `json:"blocks"`
	Children []Section `json:"children,omitempty"`
}

type Block struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Order   int    `json:"order"`
}

// Capture serializes the manual with sections in tree order, parents first.
func Capture(manual store.Manual, sections []store.Section, blocks []store.Block) Snapshot {
	snap := Snapshot{Title: manual.Title, Description: manual.Description, Sections: []Section{}}
	tree.Walk(tree.Build(sections, blocks), func(n *tree.Node) {
		sec := Section{
			ID:       n.ID,
			ParentID: n.ParentID,
			Title:    n.Title,
			Order:    n.Order,
			Depth:    n.Depth,
			Blocks:   make([]Block, 0, len(n.Blocks)),
		}
		for _, b := range n.Blocks {
			sec.Blocks = append(sec.Blocks, Block{ID: b.ID, Type: b.Type, Content: b.Content, Order: b.Order})
		}
		snap.Sections = append(snap.Sections, sec)
	})
	return snap
}

func Encode(snap Snapshot) ([]byte, error) {
	out, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return out, nil
}

func Decode(raw []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	snap.Sections = flatten(snap.Sections, nil)
	return snap, nil
}

func flatten(sections []Section, parentID *string) []Section {
	out := make([]Section, 0, len(sections))
	for _, sec := range sections {
		children := sec.Children
		sec.Children = nil
		if parentID != nil {
			pid := *parentID
			sec.ParentID = &pid
		}
		out = append(out, sec)
		if len(children) > 0 {
			id := sec.ID
			out = append(out, flatten(children, &id)...)
		}
	}
	return out
}

// Remap assigns fresh identities to every section and block of snap and
// rewrites parent links to the new ids. Sections come back parents first
// with depth recomputed from the parent chain. A parent reference that
// does not resolve, a cycle, or a depth beyond MaxDepth is ErrCorrupted.
func Remap(snap Snapshot, manualID string, newID func() string) ([]store.Section, []store.Block, error) {
	byID := make(map[string]Section, len(snap.Sections))
	childrenOf := make(map[string][]string)
	var roots []string
	for _, sec := range snap.Sections {
		if sec.ID == "" {
			return nil, nil, fmt.Errorf("%w: section without id", ErrCorrupted)
		}
		if _, dup := byID[sec.ID]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate section %s", ErrCorrupted, sec.ID)
		}
		byID[sec.ID] = sec
	}
	for _, sec := range snap.Sections {
		if sec.ParentID == nil || *sec.ParentID == "" {
			roots = append(roots, sec.ID)
			continue
		}
		if _, ok := byID[*sec.ParentID]; !ok {
			return nil, nil, fmt.Errorf("%w: section %s references unknown parent %s", ErrCorrupted, sec.ID, *sec.ParentID)
		}
		childrenOf[*sec.ParentID] = append(childrenOf[*sec.ParentID], sec.ID)
	}

	sections := make([]store.Section, 0, len(snap.Sections))
	var blocks []store.Block
	var visit func(oldID string, parentNewID *string, depth int) error
	visit = func(oldID string, parentNewID *string, depth int) error {
		if depth > MaxDepth {
			return fmt.Errorf("%w: section %s exceeds depth %d", ErrCorrupted, oldID, MaxDepth)
		}
		sec := byID[oldID]
		id := newID()
		sections = append(sections, store.Section{
			ID:       id,
			ManualID: manualID,
			ParentID: parentNewID,
			Title:    sec.Title,
			Order:    sec.Order,
			Depth:    depth,
		})
		for _, b := range sec.Blocks {
			blocks = append(blocks, store.Block{
				ID:        newID(),
				SectionID: id,
				ManualID:  manualID,
				Type:      b.Type,
				Content:   b.Content,
				Order:     b.Order,
			})
		}
		for _, child := range childrenOf[oldID] {
			pid := id
			if err := visit(child, &pid, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range roots {
		if err := visit(root, nil, 1); err != nil {
			return nil, nil, err
		}
	}
	if len(sections) != len(snap.Sections) {
		return nil, nil, fmt.Errorf("%w: section parent links form a cycle", ErrCorrupted)
	}
	return sections, blocks, nil
}
