package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hoonjeong/menualic/internal/blocks"
)

// PgSearch implements Searcher with ILIKE substring matching in PostgreSQL.
// It is the source of truth for search results.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// Search matches manual titles and descriptions, section titles and block
// text. Block rows are prefiltered on their stored form and then checked
// against their plain text, so markup and JSON keys never match.
func (p *PgSearch) Search(ctx context.Context, q Query) (Response, error) {
	resp := emptyResponse(q.Text)
	term := strings.TrimSpace(q.Text)
	if term == "" || len(q.ManualIDs) == 0 {
		return resp, nil
	}
	limit := limitOrDefault(q.Limit)
	pattern := escapeLike(term)

	manualRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description
		FROM manuals
		WHERE id = ANY($1)
		  AND (title ILIKE $2 OR description ILIKE $2)
		ORDER BY updated_at DESC
		LIMIT $3
	`, q.ManualIDs, pattern, limit)
	if err != nil {
		return resp, fmt.Errorf("search manuals: %w", err)
	}
	defer manualRows.Close()
	for manualRows.Next() {
		var hit ManualHit
		if err := manualRows.Scan(&hit.ID, &hit.Title, &hit.Description); err != nil {
			return resp, fmt.Errorf("scan manual hit: %w", err)
		}
		resp.Manuals = append(resp.Manuals, hit)
	}
	if err := manualRows.Err(); err != nil {
		return resp, fmt.Errorf("iterate manual hits: %w", err)
	}

	sectionRows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.manual_id, m.title, s.title
		FROM manual_sections s
		JOIN manuals m ON m.id = s.manual_id
		WHERE s.manual_id = ANY($1)
		  AND s.title ILIKE $2
		ORDER BY m.updated_at DESC, s.depth ASC, s.sort_order ASC
		LIMIT $3
	`, q.ManualIDs, pattern, limit)
	if err != nil {
		return resp, fmt.Errorf("search sections: %w", err)
	}
	defer sectionRows.Close()
	for sectionRows.Next() {
		var hit SectionHit
		if err := sectionRows.Scan(&hit.ID, &hit.ManualID, &hit.ManualTitle, &hit.Title); err != nil {
			return resp, fmt.Errorf("scan section hit: %w", err)
		}
		resp.Sections = append(resp.Sections, hit)
	}
	if err := sectionRows.Err(); err != nil {
		return resp, fmt.Errorf("iterate section hits: %w", err)
	}

	blockRows, err := p.db.QueryContext(ctx, `
		SELECT b.id, s.manual_id, m.title, s.id, s.title, b.type, b.content
		FROM content_blocks b
		JOIN manual_sections s ON s.id = b.section_id
		JOIN manuals m ON m.id = s.manual_id
		WHERE s.manual_id = ANY($1)
		  AND b.content ILIKE $2
		ORDER BY m.updated_at DESC, s.sort_order ASC, b.sort_order ASC
	`, q.ManualIDs, pattern)
	if err != nil {
		return resp, fmt.Errorf("search blocks: %w", err)
	}
	defer blockRows.Close()
	for blockRows.Next() {
		var hit BlockHit
		var content string
		if err := blockRows.Scan(&hit.ID, &hit.ManualID, &hit.ManualTitle, &hit.SectionID, &hit.SectionTitle, &hit.Type, &content); err != nil {
			return resp, fmt.Errorf("scan block hit: %w", err)
		}
		if len(resp.Blocks) >= limit {
			break
		}
		text := blocks.PlainTextOf(blocks.Type(hit.Type), content)
		if !Contains(text, term) {
			continue
		}
		hit.Preview = Preview(text, term)
		resp.Blocks = append(resp.Blocks, hit)
	}
	if err := blockRows.Err(); err != nil {
		return resp, fmt.Errorf("iterate block hits: %w", err)
	}

	return resp, nil
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]ManualRecord, []SectionRecord, []BlockRecord, error) {
	manualRows, err := p.db.QueryContext(ctx, `SELECT id, title, description FROM manuals`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load manuals: %w", err)
	}
	defer manualRows.Close()

	manuals := make([]ManualRecord, 0)
	for manualRows.Next() {
		var m ManualRecord
		if err := manualRows.Scan(&m.ID, &m.Title, &m.Description); err != nil {
			return nil, nil, nil, fmt.Errorf("scan manual: %w", err)
		}
		m.ManualID = m.ID
		manuals = append(manuals, m)
	}
	if err := manualRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate manuals: %w", err)
	}

	sectionRows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.manual_id, m.title, s.title
		FROM manual_sections s
		JOIN manuals m ON m.id = s.manual_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load sections: %w", err)
	}
	defer sectionRows.Close()

	sections := make([]SectionRecord, 0)
	for sectionRows.Next() {
		var s SectionRecord
		if err := sectionRows.Scan(&s.ID, &s.ManualID, &s.ManualTitle, &s.Title); err != nil {
			return nil, nil, nil, fmt.Errorf("scan section: %w", err)
		}
		sections = append(sections, s)
	}
	if err := sectionRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate sections: %w", err)
	}

	blockRows, err := p.db.QueryContext(ctx, `
		SELECT b.id, s.manual_id, m.title, s.id, s.title, b.type, b.content
		FROM content_blocks b
		JOIN manual_sections s ON s.id = b.section_id
		JOIN manuals m ON m.id = s.manual_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load blocks: %w", err)
	}
	defer blockRows.Close()

	records := make([]BlockRecord, 0)
	for blockRows.Next() {
		var b BlockRecord
		var content string
		if err := blockRows.Scan(&b.ID, &b.ManualID, &b.ManualTitle, &b.SectionID, &b.SectionTitle, &b.Type, &content); err != nil {
			return nil, nil, nil, fmt.Errorf("scan block: %w", err)
		}
		b.Text = blocks.PlainTextOf(blocks.Type(b.Type), content)
		records = append(records, b)
	}
	if err := blockRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate blocks: %w", err)
	}

	return manuals, sections, records, nil
}
