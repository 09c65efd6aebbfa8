package store

import (
	"context"
	"database/sql"
	"fmt"
)

const shareColumns = `sh.id, sh.manual_id, sh.user_id, sh.permission, sh.created_at, u.name, u.email`

func scanShare(row interface{ Scan(...any) error }) (Share, error) {
	var sh Share
	err := row.Scan(&sh.ID, &sh.ManualID, &sh.UserID, &sh.Permission, &sh.CreatedAt, &sh.UserName, &sh.UserEmail)
	return sh, err
}

func (s *PostgresStore) ListShares(ctx context.Context, manualID string) ([]Share, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shareColumns+`
		FROM manual_shares sh JOIN users u ON u.id = sh.user_id
		WHERE sh.manual_id=$1
		ORDER BY sh.created_at
	`, manualID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	items := make([]Share, 0)
	for rows.Next() {
		sh, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		items = append(items, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetShare(ctx context.Context, shareID string) (Share, error) {
	return scanShare(s.db.QueryRowContext(ctx, `
		SELECT `+shareColumns+`
		FROM manual_shares sh JOIN users u ON u.id = sh.user_id
		WHERE sh.id=$1
	`, shareID))
}

// GetSharePermission returns "" when the user has no explicit share.
func (s *PostgresStore) GetSharePermission(ctx context.Context, manualID, userID string) (string, error) {
	var permission string
	err := s.db.QueryRowContext(ctx, `SELECT permission FROM manual_shares WHERE manual_id=$1 AND user_id=$2`, manualID, userID).Scan(&permission)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get share permission: %w", err)
	}
	return permission, nil
}

func (s *PostgresStore) CreateShare(ctx context.Context, share Share) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO manual_shares (id, manual_id, user_id, permission)
		VALUES ($1, $2, $3, $4)
	`, share.ID, share.ManualID, share.UserID, share.Permission)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create share: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSharePermission(ctx context.Context, shareID, permission string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE manual_shares SET permission=$2 WHERE id=$1`, shareID, permission)
	if err != nil {
		return fmt.Errorf("update share: %w", err)
	}
	return affectedOne(result)
}

func (s *PostgresStore) DeleteShare(ctx context.Context, shareID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM manual_shares WHERE id=$1`, shareID)
	if err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	return affectedOne(result)
}

const linkColumns = `id, manual_id, token, access_type, is_active, expires_at, created_by, created_at`

func scanLink(row interface{ Scan(...any) error }) (ExternalLink, error) {
	var link ExternalLink
	var expires sql.NullTime
	if err := row.Scan(&link.ID, &link.ManualID, &link.Token, &link.AccessType, &link.IsActive, &expires, &link.CreatedBy, &link.CreatedAt); err != nil {
		return ExternalLink{}, err
	}
	if expires.Valid {
		t := expires.Time
		link.ExpiresAt = &t
	}
	return link, nil
}

func (s *PostgresStore) ListExternalLinks(ctx context.Context, manualID string) ([]ExternalLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+linkColumns+`
		FROM external_share_links
		WHERE manual_id=$1
		ORDER BY created_at DESC
	`, manualID)
	if err != nil {
		return nil, fmt.Errorf("list external links: %w", err)
	}
	defer rows.Close()

	items := make([]ExternalLink, 0)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan external link: %w", err)
		}
		items = append(items, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate external links: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetExternalLink(ctx context.Context, linkID string) (ExternalLink, error) {
	return scanLink(s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM external_share_links WHERE id=$1`, linkID))
}

func (s *PostgresStore) GetExternalLinkByToken(ctx context.Context, token string) (ExternalLink, error) {
	return scanLink(s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM external_share_links WHERE token=$1`, token))
}

func (s *PostgresStore) CreateExternalLink(ctx context.Context, link ExternalLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO external_share_links (id, manual_id, token, access_type, is_active, expires_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, link.ID, link.ManualID, link.Token, link.AccessType, link.IsActive, link.ExpiresAt, link.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create external link: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateExternalLink(ctx context.Context, link ExternalLink) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE external_share_links SET access_type=$2, is_active=$3, expires_at=$4
		WHERE id=$1
	`, link.ID, link.AccessType, link.IsActive, link.ExpiresAt)
	if err != nil {
		return fmt.Errorf("update external link: %w", err)
	}
	return affectedOne(result)
}

func (s *PostgresStore) DeleteExternalLink(ctx context.Context, linkID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM external_share_links WHERE id=$1`, linkID)
	if err != nil {
		return fmt.Errorf("delete external link: %w", err)
	}
	return affectedOne(result)
}
