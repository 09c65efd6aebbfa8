package store

import (
	"context"
	"fmt"
	"time"
)

func (s *PostgresStore) InsertVersion(ctx context.Context, version Version) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manual_versions (id, manual_id, snapshot, summary, creator_id)
		VALUES ($1, $2, $3::jsonb, $4, $5)
	`, version.ID, version.ManualID, string(version.Snapshot), version.Summary, version.CreatorID)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// ListVersions returns metadata only, newest first.
func (s *PostgresStore) ListVersions(ctx context.Context, manualID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.manual_id, v.summary, v.creator_id, u.name, v.created_at
		FROM manual_versions v JOIN users u ON u.id = v.creator_id
		WHERE v.manual_id=$1
		ORDER BY v.created_at DESC
	`, manualID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.ManualID, &v.Summary, &v.CreatorID, &v.CreatorName, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, versionID string) (Version, error) {
	var v Version
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT v.id, v.manual_id, v.snapshot, v.summary, v.creator_id, u.name, v.created_at
		FROM manual_versions v JOIN users u ON u.id = v.creator_id
		WHERE v.id=$1
	`, versionID).Scan(&v.ID, &v.ManualID, &snapshot, &v.Summary, &v.CreatorID, &v.CreatorName, &v.CreatedAt)
	if err != nil {
		return Version{}, err
	}
	v.Snapshot = snapshot
	return v, nil
}

// RestoreManual replaces the manual's whole tree. Sections must be ordered
// parents first.
func (s *PostgresStore) RestoreManual(ctx context.Context, manualID, title, description string, sections []Section, blocks []Block) error {
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM manual_sections WHERE manual_id=$1`, manualID); err != nil {
			return fmt.Errorf("clear sections: %w", err)
		}
		for _, sec := range sections {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO manual_sections (id, manual_id, parent_id, title, sort_order, depth)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, sec.ID, manualID, sec.ParentID, sec.Title, sec.Order, sec.Depth); err != nil {
				return fmt.Errorf("restore section %s: %w", sec.ID, err)
			}
		}
		for _, b := range blocks {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO content_blocks (id, section_id, type, content, sort_order)
				VALUES ($1, $2, $3, $4, $5)
			`, b.ID, b.SectionID, b.Type, b.Content, b.Order); err != nil {
				return fmt.Errorf("restore block %s: %w", b.ID, err)
			}
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE manuals SET title=$2, description=$3, updated_at=NOW()
			WHERE id=$1
		`, manualID, title, description)
		if err != nil {
			return fmt.Errorf("restore manual: %w", err)
		}
		return affectedOne(result)
	})
}

// PruneVersions deletes versions created before cutoff.
func (s *PostgresStore) PruneVersions(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM manual_versions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune versions: %w", err)
	}
	return result.RowsAffected()
}
