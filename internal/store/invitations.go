package store

import (
	"context"
	"fmt"
	"strings"
)

const invitationColumns = `i.id, i.email, i.role, i.token_hash, i.team_id, i.sender_id, i.status, i.expires_at, i.created_at, t.name, u.name`

const invitationFrom = `
	FROM invitations i
	JOIN teams t ON t.id = i.team_id
	JOIN users u ON u.id = i.sender_id`

func scanInvitation(row interface{ Scan(...any) error }) (Invitation, error) {
	var inv Invitation
	err := row.Scan(&inv.ID, &inv.Email, &inv.Role, &inv.TokenHash, &inv.TeamID, &inv.SenderID, &inv.Status, &inv.ExpiresAt, &inv.CreatedAt, &inv.TeamName, &inv.SenderName)
	return inv, err
}

func (s *PostgresStore) CreateInvitation(ctx context.Context, inv Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, email, role, token_hash, team_id, sender_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING', $7)
	`, inv.ID, strings.ToLower(inv.Email), inv.Role, inv.TokenHash, inv.TeamID, inv.SenderID, inv.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

// FindPendingInvitation returns sql.ErrNoRows when none is pending.
func (s *PostgresStore) FindPendingInvitation(ctx context.Context, teamID, email string) (Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx, `
		SELECT `+invitationColumns+invitationFrom+`
		WHERE i.team_id=$1 AND i.email=$2 AND i.status='PENDING' AND i.expires_at > NOW()
		ORDER BY i.created_at DESC
		LIMIT 1
	`, teamID, strings.ToLower(email)))
}

func (s *PostgresStore) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx, `
		SELECT `+invitationColumns+invitationFrom+`
		WHERE i.token_hash=$1
	`, tokenHash))
}

func (s *PostgresStore) ListInvitationsByEmail(ctx context.Context, email string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invitationColumns+invitationFrom+`
		WHERE i.email=$1 AND i.status='PENDING'
		ORDER BY i.created_at DESC
	`, strings.ToLower(email))
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateInvitationStatus(ctx context.Context, invitationID, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE invitations SET status=$2 WHERE id=$1`, invitationID, status)
	if err != nil {
		return fmt.Errorf("update invitation: %w", err)
	}
	return affectedOne(result)
}

// AcceptInvitation marks the invitation accepted and inserts the membership.
// ErrConflict means the user joined a team in the meantime.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, invitationID string, member TeamMember) error {
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE invitations SET status='ACCEPTED'
			WHERE id=$1 AND status='PENDING'
		`, invitationID)
		if err != nil {
			return fmt.Errorf("accept invitation: %w", err)
		}
		if err := affectedOne(result); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO team_members (id, user_id, team_id, role)
			VALUES ($1, $2, $3, $4)
		`, member.ID, member.UserID, member.TeamID, member.Role); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
}
