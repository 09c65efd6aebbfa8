package store

import (
	"context"
	"fmt"
)

const manualColumns = `m.id, m.title, m.description, m.owner_id, m.team_id, u.name, m.created_at, m.updated_at`

func scanManual(row interface{ Scan(...any) error }) (Manual, error) {
	var m Manual
	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.OwnerID, &m.TeamID, &m.OwnerName, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *PostgresStore) CreateManual(ctx context.Context, manual Manual) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manuals (id, title, description, owner_id, team_id)
		VALUES ($1, $2, $3, $4, $5)
	`, manual.ID, manual.Title, manual.Description, manual.OwnerID, manual.TeamID)
	if err != nil {
		return fmt.Errorf("create manual: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetManual(ctx context.Context, manualID string) (Manual, error) {
	return scanManual(s.db.QueryRowContext(ctx, `
		SELECT `+manualColumns+`
		FROM manuals m JOIN users u ON u.id = m.owner_id
		WHERE m.id=$1
	`, manualID))
}

// ListAccessibleManuals returns manuals the user owns, shares a team with,
// or was explicitly shared, most recently updated first.
func (s *PostgresStore) ListAccessibleManuals(ctx context.Context, userID string) ([]Manual, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+manualColumns+`
		FROM manuals m JOIN users u ON u.id = m.owner_id
		WHERE m.owner_id=$1
		   OR m.team_id IN (SELECT team_id FROM team_members WHERE user_id=$1)
		   OR m.id IN (SELECT manual_id FROM manual_shares WHERE user_id=$1)
		ORDER BY m.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list manuals: %w", err)
	}
	defer rows.Close()

	items := make([]Manual, 0)
	for rows.Next() {
		m, err := scanManual(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manual: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manuals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateManual(ctx context.Context, manualID, title, description string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE manuals SET title=$2, description=$3, updated_at=NOW()
		WHERE id=$1
	`, manualID, title, description)
	if err != nil {
		return fmt.Errorf("update manual: %w", err)
	}
	return affectedOne(result)
}

func (s *PostgresStore) DeleteManual(ctx context.Context, manualID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM manuals WHERE id=$1`, manualID)
	if err != nil {
		return fmt.Errorf("delete manual: %w", err)
	}
	return affectedOne(result)
}

func touchManual(ctx context.Context, q DBTX, manualID string) error {
	if _, err := q.ExecContext(ctx, `UPDATE manuals SET updated_at=NOW() WHERE id=$1`, manualID); err != nil {
		return fmt.Errorf("touch manual: %w", err)
	}
	return nil
}

const sectionColumns = `id, manual_id, parent_id, title, sort_order, depth, created_at, updated_at`

func scanSection(row interface{ Scan(...any) error }) (Section, error) {
	var sec Section
	err := row.Scan(&sec.ID, &sec.ManualID, &sec.ParentID, &sec.Title, &sec.Order, &sec.Depth, &sec.CreatedAt, &sec.UpdatedAt)
	return sec, err
}

func (s *PostgresStore) GetSection(ctx context.Context, sectionID string) (Section, error) {
	return scanSection(s.db.QueryRowContext(ctx, `SELECT `+sectionColumns+` FROM manual_sections WHERE id=$1`, sectionID))
}

func (s *PostgresStore) ListSections(ctx context.Context, manualID string) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sectionColumns+`
		FROM manual_sections
		WHERE manual_id=$1
		ORDER BY depth, sort_order, created_at
	`, manualID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	items := make([]Section, 0)
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		items = append(items, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return items, nil
}

// InsertSection appends the section after its last sibling and returns the
// stored row. The first sibling gets order 0.
func (s *PostgresStore) InsertSection(ctx context.Context, section Section) (Section, error) {
	var created Section
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO manual_sections (id, manual_id, parent_id, title, sort_order, depth)
			SELECT $1, $2, $3, $4, COALESCE(MAX(sort_order), -1) + 1, $5
			FROM manual_sections
			WHERE manual_id=$2 AND parent_id IS NOT DISTINCT FROM $3
			RETURNING `+sectionColumns,
			section.ID, section.ManualID, section.ParentID, section.Title, section.Depth)
		var err error
		if created, err = scanSection(row); err != nil {
			return fmt.Errorf("insert section: %w", err)
		}
		return touchManual(ctx, tx, section.ManualID)
	})
	return created, err
}

func (s *PostgresStore) UpdateSectionTitle(ctx context.Context, manualID, sectionID, title string) (Section, error) {
	var updated Section
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		var err error
		updated, err = scanSection(tx.QueryRowContext(ctx, `
			UPDATE manual_sections SET title=$3, updated_at=NOW()
			WHERE id=$1 AND manual_id=$2
			RETURNING `+sectionColumns, sectionID, manualID, title))
		if err != nil {
			return err
		}
		return touchManual(ctx, tx, manualID)
	})
	return updated, err
}

// DeleteSection removes the section; child sections and blocks cascade.
func (s *PostgresStore) DeleteSection(ctx context.Context, manualID, sectionID string) error {
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM manual_sections WHERE id=$1 AND manual_id=$2`, sectionID, manualID)
		if err != nil {
			return fmt.Errorf("delete section: %w", err)
		}
		if err := affectedOne(result); err != nil {
			return err
		}
		return touchManual(ctx, tx, manualID)
	})
}

// ReorderSections applies every update or none. An id outside the manual
// aborts with sql.ErrNoRows.
func (s *PostgresStore) ReorderSections(ctx context.Context, manualID string, items []OrderUpdate) error {
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		for _, item := range items {
			result, err := tx.ExecContext(ctx, `
				UPDATE manual_sections SET sort_order=$3, updated_at=NOW()
				WHERE id=$1 AND manual_id=$2
			`, item.ID, manualID, item.Order)
			if err != nil {
				return fmt.Errorf("reorder section %s: %w", item.ID, err)
			}
			if err := affectedOne(result); err != nil {
				return err
			}
		}
		return touchManual(ctx, tx, manualID)
	})
}

const blockColumns = `b.id, b.section_id, s.manual_id, b.type, b.content, b.sort_order, b.created_at, b.updated_at`

func scanBlock(row interface{ Scan(...any) error }) (Block, error) {
	var b Block
	err := row.Scan(&b.ID, &b.SectionID, &b.ManualID, &b.Type, &b.Content, &b.Order, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (s *PostgresStore) GetBlock(ctx context.Context, blockID string) (Block, error) {
	return scanBlock(s.db.QueryRowContext(ctx, `
		SELECT `+blockColumns+`
		FROM content_blocks b JOIN manual_sections s ON s.id = b.section_id
		WHERE b.id=$1
	`, blockID))
}

func (s *PostgresStore) ListBlocksByManual(ctx context.Context, manualID string) ([]Block, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+blockColumns+`
		FROM content_blocks b JOIN manual_sections s ON s.id = b.section_id
		WHERE s.manual_id=$1
		ORDER BY b.section_id, b.sort_order, b.created_at
	`, manualID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	items := make([]Block, 0)
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return items, nil
}

// InsertBlock appends the block after the last block of its section.
func (s *PostgresStore) InsertBlock(ctx context.Context, manualID string, block Block) (Block, error) {
	var created Block
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO content_blocks (id, section_id, type, content, sort_order)
			SELECT $1, $2, $3, $4, COALESCE(MAX(sort_order), -1) + 1
			FROM content_blocks
			WHERE section_id=$2
			RETURNING id, section_id, type, content, sort_order, created_at, updated_at
		`, block.ID, block.SectionID, block.Type, block.Content).Scan(
			&created.ID, &created.SectionID, &created.Type, &created.Content, &created.Order, &created.CreatedAt, &created.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert block: %w", err)
		}
		created.ManualID = manualID
		return touchManual(ctx, tx, manualID)
	})
	return created, err
}

// UpdateBlock overwrites type and content; concurrent writers race and the
// last commit wins.
func (s *PostgresStore) UpdateBlock(ctx context.Context, manualID, blockID, blockType, content string) (Block, error) {
	var updated Block
	err := WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE content_blocks SET type=$3, content=$4, updated_at=NOW()
			WHERE id=$1 AND section_id IN (SELECT id FROM manual_sections WHERE manual_id=$2)
			RETURNING id, section_id, type, content, sort_order, created_at, updated_at
		`, blockID, manualID, blockType, content).Scan(
			&updated.ID, &updated.SectionID, &updated.Type, &updated.Content, &updated.Order, &updated.CreatedAt, &updated.UpdatedAt)
		if err != nil {
			return err
		}
		updated.ManualID = manualID
		return touchManual(ctx, tx, manualID)
	})
	return updated, err
}

func (s *PostgresStore) DeleteBlock(ctx context.Context, manualID, blockID string) error {
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM content_blocks
			WHERE id=$1 AND section_id IN (SELECT id FROM manual_sections WHERE manual_id=$2)
		`, blockID, manualID)
		if err != nil {
			return fmt.Errorf("delete block: %w", err)
		}
		if err := affectedOne(result); err != nil {
			return err
		}
		return touchManual(ctx, tx, manualID)
	})
}

func (s *PostgresStore) ReorderBlocks(ctx context.Context, manualID string, items []OrderUpdate) error {
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		for _, item := range items {
			result, err := tx.ExecContext(ctx, `
				UPDATE content_blocks SET sort_order=$3, updated_at=NOW()
				WHERE id=$1 AND section_id IN (SELECT id FROM manual_sections WHERE manual_id=$2)
			`, item.ID, manualID, item.Order)
			if err != nil {
				return fmt.Errorf("reorder block %s: %w", item.ID, err)
			}
			if err := affectedOne(result); err != nil {
				return err
			}
		}
		return touchManual(ctx, tx, manualID)
	})
}
