// Package tree assembles the nested section view of a manual from its flat
// section and block rows.
package tree

import (
	"sort"

	"github.com/hoonjeong/menualic/internal/store"
)

type Block struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Order   int    `json:"order"`
}

type Node struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parentId"`
	Title    string  `json:"title"`
	Order    int     `json:"order"`
	Depth    int     `json:"depth"`
	Blocks   []Block `json:"blocks"`
	Children []*Node `json:"children"`
}

// Build nests sections under their parents with blocks attached, siblings
// sorted by order. Sections whose parent is missing are placed at the root.
func Build(sections []store.Section, blocks []store.Block) []*Node {
	nodes := make(map[string]*Node, len(sections))
	for _, sec := range sections {
		nodes[sec.ID] = &Node{
			ID:       sec.ID,
			ParentID: sec.ParentID,
			Title:    sec.Title,
			Order:    sec.Order,
			Depth:    sec.Depth,
			Blocks:   []Block{},
			Children: []*Node{},
		}
	}

	for _, b := range blocks {
		node, ok := nodes[b.SectionID]
		if !ok {
			continue
		}
		node.Blocks = append(node.Blocks, Block{ID: b.ID, Type: b.Type, Content: b.Content, Order: b.Order})
	}

	roots := []*Node{}
	for _, sec := range sections {
		node := nodes[sec.ID]
		if sec.ParentID != nil {
			if parent, ok := nodes[*sec.ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	sortNodes(roots)
	return roots
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Order != nodes[j].Order {
			return nodes[i].Order < nodes[j].Order
		}
		return nodes[i].ID < nodes[j].ID
	})
	for _, n := range nodes {
		sort.SliceStable(n.Blocks, func(i, j int) bool {
			if n.Blocks[i].Order != n.Blocks[j].Order {
				return n.Blocks[i].Order < n.Blocks[j].Order
			}
			return n.Blocks[i].ID < n.Blocks[j].ID
		})
		sortNodes(n.Children)
	}
}

// StripBlocks empties every block list in the forest, at any depth.
func StripBlocks(nodes []*Node) {
	for _, n := range nodes {
		n.Blocks = []Block{}
		StripBlocks(n.Children)
	}
}

// Walk visits nodes depth-first, parents before children.
func Walk(nodes []*Node, fn func(*Node)) {
	for _, n := range nodes {
		fn(n)
		Walk(n.Children, fn)
	}
}
