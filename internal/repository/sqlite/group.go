package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
)

func scanGroup(s rowScanner) (*model.Group, error) {
	var (
		g      model.Group
		avatar sql.NullString
	)
	if err := s.Scan(&g.ID, &g.Name, &avatar, &g.OwnerID, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Avatar = avatar.String
	return &g, nil
}

// CreateGroup inserts the group row only. The owner's membership row is
// added separately with AddMember inside the same transaction.
func (q *queries) CreateGroup(ctx context.Context, group *model.Group) error {
	group.CreatedAt = time.Now().UTC()

	res, err := q.db.ExecContext(ctx,
		`INSERT INTO chat_groups (name, avatar, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		group.Name,
		nullString(group.Avatar),
		group.OwnerID,
		group.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting group %q: %w", group.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new group id: %w", err)
	}
	group.ID = id
	return nil
}

// GetGroup retrieves a group by id.
// Returns apperror.ErrNotFound if it does not exist (or was dissolved).
func (q *queries) GetGroup(ctx context.Context, id int64) (*model.Group, error) {
	g, err := scanGroup(q.db.QueryRowContext(ctx,
		`SELECT id, name, avatar, owner_id, created_at FROM chat_groups WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("group", id)
		}
		return nil, fmt.Errorf("sqlite: getting group %d: %w", id, err)
	}
	return g, nil
}

// DeleteGroup removes the roster and the group row. Messages and read
// cursors reference the group and must be deleted first.
func (q *queries) DeleteGroup(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting members of group %d: %w", id, err)
	}

	res, err := q.db.ExecContext(ctx, `DELETE FROM chat_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting group %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("group", id)
	}
	return nil
}

// AddMember inserts a roster row. An existing membership returns
// apperror.ErrConflict with reason already_member.
func (q *queries) AddMember(ctx context.Context, member *model.GroupMember) error {
	member.JoinedAt = time.Now().UTC()

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		member.GroupID,
		member.UserID,
		string(member.Role),
		member.JoinedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict(apperror.ReasonAlreadyMember, "user is already in this group")
		}
		return fmt.Errorf("sqlite: adding user %d to group %d: %w", member.UserID, member.GroupID, err)
	}
	return nil
}

func (q *queries) RemoveMember(ctx context.Context, groupID, userID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: removing user %d from group %d: %w", userID, groupID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return rows, nil
}

// SetMemberRole changes a member's role and returns the rows touched (0 when
// the user is not in the group).
func (q *queries) SetMemberRole(ctx context.Context, groupID, userID int64, role model.Role) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?`,
		string(role), groupID, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: setting role of %d in group %d: %w", userID, groupID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return rows, nil
}

// GetMember returns the roster row for (groupID, userID), or
// apperror.ErrNotFound when the user is not a member.
func (q *queries) GetMember(ctx context.Context, groupID, userID int64) (*model.GroupMember, error) {
	var (
		m    model.GroupMember
		role string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	).Scan(&m.GroupID, &m.UserID, &role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("group member", userID)
		}
		return nil, fmt.Errorf("sqlite: getting member %d of group %d: %w", userID, groupID, err)
	}
	m.Role = model.Role(role)
	return &m, nil
}

// ListMembers returns the roster in join order.
func (q *queries) ListMembers(ctx context.Context, groupID int64) ([]model.GroupMember, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT group_id, user_id, role, joined_at FROM group_members
		 WHERE group_id = ? ORDER BY rowid`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing members of group %d: %w", groupID, err)
	}
	defer rows.Close()

	members := []model.GroupMember{}
	for rows.Next() {
		var (
			m    model.GroupMember
			role string
		)
		if err := rows.Scan(&m.GroupID, &m.UserID, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning member: %w", err)
		}
		m.Role = model.Role(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating members: %w", err)
	}
	return members, nil
}

func (q *queries) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	return q.int64s(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY rowid`, groupID)
}

// ListUserGroups returns every group userID belongs to, oldest first.
func (q *queries) ListUserGroups(ctx context.Context, userID int64) ([]model.Group, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT g.id, g.name, g.avatar, g.owner_id, g.created_at
		 FROM group_members m
		 JOIN chat_groups g ON g.id = m.group_id
		 WHERE m.user_id = ?
		 ORDER BY g.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing groups of %d: %w", userID, err)
	}
	defer rows.Close()

	groups := []model.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning group: %w", err)
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating groups: %w", err)
	}
	return groups, nil
}
