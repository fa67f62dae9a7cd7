package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
)

// FRIENDSHIP IS TWO ROWS:
// (a, b) and (b, a) are written and deleted together. Listing friends is then
// a plain lookup on owner_id, and "are we friends" is a primary-key probe.
// Callers run these inside InTx so the pair can never be half-written.

func (q *queries) FriendEdgeExists(ctx context.Context, ownerID, friendID int64) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM friendships WHERE owner_id = ? AND friend_id = ?)`,
		ownerID, friendID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking friendship %d->%d: %w", ownerID, friendID, err)
	}
	return exists, nil
}

// InsertFriendPair writes both directed edges. An existing edge returns
// apperror.ErrConflict with reason already_friends.
func (q *queries) InsertFriendPair(ctx context.Context, a, b int64) error {
	now := time.Now().UTC()
	for _, edge := range [][2]int64{{a, b}, {b, a}} {
		_, err := q.db.ExecContext(ctx,
			`INSERT INTO friendships (owner_id, friend_id, created_at) VALUES (?, ?, ?)`,
			edge[0], edge[1], now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict(apperror.ReasonAlreadyFriends, "already friends")
			}
			return fmt.Errorf("sqlite: inserting friendship %d->%d: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// DeleteFriendPair removes both edges and returns how many rows went away
// (0 when the two were not friends).
func (q *queries) DeleteFriendPair(ctx context.Context, a, b int64) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM friendships
		 WHERE (owner_id = ? AND friend_id = ?) OR (owner_id = ? AND friend_id = ?)`,
		a, b, b, a,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting friendship %d<->%d: %w", a, b, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return rows, nil
}

// ListFriends returns the user's friends in the order they were added.
func (q *queries) ListFriends(ctx context.Context, userID int64) ([]model.UserSummary, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT u.id, u.link_code, u.nickname, u.avatar
		 FROM friendships f
		 JOIN users u ON u.id = f.friend_id
		 WHERE f.owner_id = ?
		 ORDER BY f.created_at, u.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing friends of %d: %w", userID, err)
	}
	defer rows.Close()

	friends := []model.UserSummary{}
	for rows.Next() {
		var (
			s      model.UserSummary
			avatar sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.LinkCode, &s.Nickname, &avatar); err != nil {
			return nil, fmt.Errorf("sqlite: scanning friend: %w", err)
		}
		s.Avatar = avatar.String
		friends = append(friends, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating friends: %w", err)
	}
	return friends, nil
}

func (q *queries) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	return q.int64s(ctx,
		`SELECT friend_id FROM friendships WHERE owner_id = ? ORDER BY friend_id`, userID)
}

// int64s runs a single-column query and collects the values.
func (q *queries) int64s(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating ids: %w", err)
	}
	return ids, nil
}
