package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var team Team
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, owner_id, created_at, updated_at
		FROM teams WHERE id=$1
	`, teamID).Scan(&team.ID, &team.Name, &team.Description, &team.OwnerID, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

// CreateTeamWithOwner inserts the team and its OWNER membership together.
// A user who already belongs to a team yields ErrConflict and no team row.
func (s *PostgresStore) CreateTeamWithOwner(ctx context.Context, team Team, owner TeamMember) error {
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO teams (id, name, description, owner_id)
			VALUES ($1, $2, $3, $4)
		`, team.ID, team.Name, team.Description, team.OwnerID); err != nil {
			return fmt.Errorf("insert team: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO team_members (id, user_id, team_id, role)
			VALUES ($1, $2, $3, 'OWNER')
		`, owner.ID, owner.UserID, team.ID); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) UpdateTeam(ctx context.Context, teamID, name, description string) (Team, error) {
	var team Team
	err := s.db.QueryRowContext(ctx, `
		UPDATE teams SET name=$2, description=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING id, name, description, owner_id, created_at, updated_at
	`, teamID, name, description).Scan(&team.ID, &team.Name, &team.Description, &team.OwnerID, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

func (s *PostgresStore) DeleteTeam(ctx context.Context, teamID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id=$1`, teamID)
	if err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	return affectedOne(result)
}

const memberColumns = `m.id, m.user_id, m.team_id, m.role, m.joined_at, u.name, u.email, u.image`

func scanMember(row interface{ Scan(...any) error }) (TeamMember, error) {
	var m TeamMember
	err := row.Scan(&m.ID, &m.UserID, &m.TeamID, &m.Role, &m.JoinedAt, &m.UserName, &m.UserEmail, &m.UserImage)
	return m, err
}

// GetMembershipByUser returns sql.ErrNoRows when the user has no team.
func (s *PostgresStore) GetMembershipByUser(ctx context.Context, userID string) (TeamMember, error) {
	return scanMember(s.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM team_members m JOIN users u ON u.id = m.user_id
		WHERE m.user_id=$1
	`, userID))
}

func (s *PostgresStore) GetTeamMember(ctx context.Context, memberID string) (TeamMember, error) {
	return scanMember(s.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+`
		FROM team_members m JOIN users u ON u.id = m.user_id
		WHERE m.id=$1
	`, memberID))
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memberColumns+`
		FROM team_members m JOIN users u ON u.id = m.user_id
		WHERE m.team_id=$1
		ORDER BY CASE m.role WHEN 'OWNER' THEN 0 WHEN 'EDITOR' THEN 1 ELSE 2 END, m.joined_at
	`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()

	items := make([]TeamMember, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team members: %w", err)
	}
	return items, nil
}

// GetTeamRole returns "" when the user is not a member of teamID.
func (s *PostgresStore) GetTeamRole(ctx context.Context, userID, teamID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM team_members WHERE user_id=$1 AND team_id=$2`, userID, teamID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get team role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) UpdateTeamMemberRole(ctx context.Context, memberID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE team_members SET role=$2 WHERE id=$1`, memberID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	return affectedOne(result)
}

// RemoveTeamMember deletes the membership and the member's shares on the
// team's manuals.
func (s *PostgresStore) RemoveTeamMember(ctx context.Context, member TeamMember) error {
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM manual_shares
			WHERE user_id=$1 AND manual_id IN (SELECT id FROM manuals WHERE team_id=$2)
		`, member.UserID, member.TeamID); err != nil {
			return fmt.Errorf("delete member shares: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE id=$1`, member.ID)
		if err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		return affectedOne(result)
	})
}

// TransferOwnership demotes the current owner to EDITOR and promotes the
// target member in one transaction.
func (s *PostgresStore) TransferOwnership(ctx context.Context, teamID string, from, to TeamMember) error {
	return WithTx(ctx, s.db, nil, func(ctx context.Context, tx DBTX) error {
		result, err := tx.ExecContext(ctx, `UPDATE team_members SET role='EDITOR' WHERE id=$1 AND team_id=$2 AND role='OWNER'`, from.ID, teamID)
		if err != nil {
			return fmt.Errorf("demote owner: %w", err)
		}
		if err := affectedOne(result); err != nil {
			return fmt.Errorf("demote owner: %w", err)
		}
		result, err = tx.ExecContext(ctx, `UPDATE team_members SET role='OWNER' WHERE id=$1 AND team_id=$2`, to.ID, teamID)
		if err != nil {
			return fmt.Errorf("promote member: %w", err)
		}
		if err := affectedOne(result); err != nil {
			return fmt.Errorf("promote member: %w", err)
		}
		result, err = tx.ExecContext(ctx, `UPDATE teams SET owner_id=$2, updated_at=NOW() WHERE id=$1`, teamID, to.UserID)
		if err != nil {
			return fmt.Errorf("update team owner: %w", err)
		}
		return affectedOne(result)
	})
}
