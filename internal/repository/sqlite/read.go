package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
)

// TWO READ-STATE MECHANISMS:
//
// Private chats flip is_read on each message. Only the receiver ever reads
// a private message, so the flag on the row is enough.
//
// Groups have many readers per message, so instead of a row per
// (message, reader) each member keeps one watermark: the highest message id
// they have seen. Message ids are monotonic, so "unread" is simply
// id > watermark, excluding the member's own messages.

// MarkPrivateRead flips every unread message from peerID to userID.
func (q *queries) MarkPrivateRead(ctx context.Context, userID, peerID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1
		 WHERE receiver_id = ? AND sender_id = ? AND group_id IS NULL AND is_read = 0`,
		userID, peerID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: marking messages from %d to %d read: %w", peerID, userID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return rows, nil
}

func (q *queries) CountUnreadPrivate(ctx context.Context, userID, peerID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE receiver_id = ? AND sender_id = ? AND group_id IS NULL AND is_read = 0`,
		userID, peerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting unread from %d to %d: %w", peerID, userID, err)
	}
	return n, nil
}

// GetReadCursor returns the user's watermark for the group, 0 when the user
// has never marked it read.
func (q *queries) GetReadCursor(ctx context.Context, userID, groupID int64) (int64, error) {
	var cursor int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(last_read_message_id), 0) FROM group_read_cursors
		 WHERE user_id = ? AND group_id = ?`,
		userID, groupID,
	).Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading cursor of %d in group %d: %w", userID, groupID, err)
	}
	return cursor, nil
}

// AdvanceReadCursor upserts the watermark. MAX() in the conflict clause
// keeps it from ever moving backward, even under concurrent calls.
func (q *queries) AdvanceReadCursor(ctx context.Context, userID, groupID, messageID int64) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO group_read_cursors (user_id, group_id, last_read_message_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, group_id) DO UPDATE SET
		   last_read_message_id = MAX(last_read_message_id, excluded.last_read_message_id),
		   updated_at = excluded.updated_at`,
		userID, groupID, messageID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: advancing cursor of %d in group %d: %w", userID, groupID, err)
	}
	return nil
}

func (q *queries) DeleteGroupCursors(ctx context.Context, groupID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM group_read_cursors WHERE group_id = ?`, groupID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting cursors of group %d: %w", groupID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return rows, nil
}

func (q *queries) CountUnreadGroup(ctx context.Context, userID, groupID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE group_id = ?
		   AND sender_id <> ?
		   AND id > COALESCE((SELECT last_read_message_id FROM group_read_cursors
		                      WHERE user_id = ? AND group_id = ?), 0)`,
		groupID, userID, userID, groupID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting unread of %d in group %d: %w", userID, groupID, err)
	}
	return n, nil
}

// UnreadPrivateByFriend counts unread private messages per current friend.
// Friends with nothing unread produce no row.
func (q *queries) UnreadPrivateByFriend(ctx context.Context, userID int64) ([]model.UnreadEntry, error) {
	return q.unreadEntries(ctx, model.ChatPrivate,
		`SELECT f.friend_id, COUNT(m.id)
		 FROM friendships f
		 JOIN messages m
		   ON m.receiver_id = f.owner_id
		  AND m.sender_id = f.friend_id
		  AND m.group_id IS NULL
		  AND m.is_read = 0
		 WHERE f.owner_id = ?
		 GROUP BY f.friend_id
		 ORDER BY f.friend_id`,
		userID,
	)
}

// UnreadByGroup counts unread messages per group the user belongs to.
// Groups with nothing unread produce no row.
func (q *queries) UnreadByGroup(ctx context.Context, userID int64) ([]model.UnreadEntry, error) {
	return q.unreadEntries(ctx, model.ChatGroup,
		`SELECT gm.group_id, COUNT(m.id)
		 FROM group_members gm
		 LEFT JOIN group_read_cursors c
		   ON c.user_id = gm.user_id AND c.group_id = gm.group_id
		 JOIN messages m
		   ON m.group_id = gm.group_id
		  AND m.sender_id <> gm.user_id
		  AND m.id > COALESCE(c.last_read_message_id, 0)
		 WHERE gm.user_id = ?
		 GROUP BY gm.group_id
		 ORDER BY gm.group_id`,
		userID,
	)
}

func (q *queries) unreadEntries(ctx context.Context, chatType model.ChatType, query string, args ...any) ([]model.UnreadEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: summarizing %s unread: %w", chatType, err)
	}
	defer rows.Close()

	entries := []model.UnreadEntry{}
	for rows.Next() {
		e := model.UnreadEntry{ChatType: chatType}
		if err := rows.Scan(&e.ChatID, &e.Unread); err != nil {
			return nil, fmt.Errorf("sqlite: scanning unread entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating unread entries: %w", err)
	}
	return entries, nil
}
