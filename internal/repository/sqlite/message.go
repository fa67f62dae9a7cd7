package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
)

const messageColumns = `id, sender_id, receiver_id, group_id, message_type, content, file_path, file_name, is_read, created_at`

// scanMessage rebuilds the target union from the two nullable id columns.
// The table CHECK guarantees exactly one is set.
func scanMessage(s rowScanner) (*model.Message, error) {
	var (
		m          model.Message
		receiverID sql.NullInt64
		groupID    sql.NullInt64
		msgType    string
		content    sql.NullString
		filePath   sql.NullString
		fileName   sql.NullString
	)
	if err := s.Scan(
		&m.ID,
		&m.SenderID,
		&receiverID,
		&groupID,
		&msgType,
		&content,
		&filePath,
		&fileName,
		&m.IsRead,
		&m.CreatedAt,
	); err != nil {
		return nil, err
	}

	var rid, gid *int64
	if receiverID.Valid {
		rid = &receiverID.Int64
	}
	if groupID.Valid {
		gid = &groupID.Int64
	}
	target, err := model.TargetFromColumns(rid, gid)
	if err != nil {
		return nil, fmt.Errorf("message %d: %w", m.ID, err)
	}

	m.Target = target
	m.Type = model.MessageType(msgType)
	m.Content = content.String
	if filePath.Valid {
		m.File = &model.FileRef{Path: filePath.String, Name: fileName.String}
	}
	return &m, nil
}

// CreateMessage persists msg and assigns its id and timestamp. Private
// messages start unread.
func (q *queries) CreateMessage(ctx context.Context, msg *model.Message) error {
	var receiverID, groupID sql.NullInt64
	switch t := msg.Target.(type) {
	case model.PrivateTarget:
		receiverID = sql.NullInt64{Int64: t.ReceiverID, Valid: true}
	case model.GroupTarget:
		groupID = sql.NullInt64{Int64: t.GroupID, Valid: true}
	default:
		return fmt.Errorf("sqlite: message has no target")
	}

	var filePath, fileName sql.NullString
	if msg.File != nil {
		filePath = sql.NullString{String: msg.File.Path, Valid: true}
		fileName = sql.NullString{String: msg.File.Name, Valid: true}
	}

	msg.IsRead = false
	msg.CreatedAt = time.Now().UTC()

	res, err := q.db.ExecContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, group_id, message_type, content, file_path, file_name, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		msg.SenderID,
		receiverID,
		groupID,
		string(msg.Type),
		nullString(msg.Content),
		filePath,
		fileName,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting message from %d: %w", msg.SenderID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new message id: %w", err)
	}
	msg.ID = id
	return nil
}

// ListPrivateMessages returns one page of the conversation between UserID
// and PeerID in chronological order.
//
// PAGINATION:
// The page is cut newest-first (offset 0 is the most recent window) and then
// reversed, so a chat view that scrolls upward loads older windows by
// increasing the offset while each window still reads top to bottom.
func (q *queries) ListPrivateMessages(ctx context.Context, pq repository.PrivateQuery) ([]model.Message, error) {
	page := pq.ListOptions.Clamp(repository.DefaultPageSize, repository.MaxPageSize)

	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE group_id IS NULL
		  AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))`
	args := []any{pq.UserID, pq.PeerID, pq.PeerID, pq.UserID}
	if pq.UnreadOnly {
		query += ` AND is_read = 0 AND receiver_id = ?`
		args = append(args, pq.UserID)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	msgs, err := q.messages(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing private messages %d<->%d: %w", pq.UserID, pq.PeerID, err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// ListGroupMessages returns one page of a group's history in chronological
// order. With UnreadOnly it keeps messages after the user's read cursor that
// someone else sent, matching CountUnreadGroup.
func (q *queries) ListGroupMessages(ctx context.Context, gq repository.GroupQuery) ([]model.Message, error) {
	page := gq.ListOptions.Clamp(repository.DefaultPageSize, repository.MaxPageSize)

	query := `SELECT ` + messageColumns + ` FROM messages WHERE group_id = ?`
	args := []any{gq.GroupID}
	if gq.UnreadOnly {
		query += ` AND sender_id <> ?
		  AND id > COALESCE((SELECT last_read_message_id FROM group_read_cursors
		                     WHERE user_id = ? AND group_id = ?), 0)`
		args = append(args, gq.UserID, gq.UserID, gq.GroupID)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	msgs, err := q.messages(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing messages of group %d: %w", gq.GroupID, err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// SearchMessages does a substring match over text messages the user can see:
// private messages with a current friend and messages of groups the user is
// in right now. Results are newest first.
//
// LIKE is case-insensitive for ASCII in SQLite, which is the database-default
// matching the search contract allows.
func (q *queries) SearchMessages(ctx context.Context, sq repository.SearchQuery) ([]model.Message, error) {
	keyword := strings.TrimSpace(sq.Keyword)
	if keyword == "" {
		return []model.Message{}, nil
	}
	limit := repository.ListOptions{Limit: sq.Limit}.Clamp(repository.DefaultSearchSize, repository.MaxSearchSize).Limit

	msgs, err := q.messages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE message_type = 'text'
		   AND content LIKE ? ESCAPE '\'
		   AND (
		        (group_id IS NULL AND (
		             (sender_id = ? AND receiver_id IN (SELECT friend_id FROM friendships WHERE owner_id = ?))
		          OR (receiver_id = ? AND sender_id IN (SELECT friend_id FROM friendships WHERE owner_id = ?))))
		     OR group_id IN (SELECT group_id FROM group_members WHERE user_id = ?)
		   )
		 ORDER BY id DESC
		 LIMIT ?`,
		"%"+escapeLike(keyword)+"%",
		sq.UserID, sq.UserID,
		sq.UserID, sq.UserID,
		sq.UserID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching messages for %d: %w", sq.UserID, err)
	}
	return msgs, nil
}

// DeletePrivateHistory removes every private message between a and b in
// both directions.
func (q *queries) DeletePrivateHistory(ctx context.Context, a, b int64) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM messages
		 WHERE group_id IS NULL
		   AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))`,
		a, b, b, a,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting history %d<->%d: %w", a, b, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return rows, nil
}

func (q *queries) DeleteGroupMessages(ctx context.Context, groupID int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM messages WHERE group_id = ?`, groupID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting messages of group %d: %w", groupID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return rows, nil
}

// LatestGroupMessageID returns the highest message id in the group. ok is
// false when the group has no messages.
func (q *queries) LatestGroupMessageID(ctx context.Context, groupID int64) (int64, bool, error) {
	var id sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		`SELECT MAX(id) FROM messages WHERE group_id = ?`, groupID,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: latest message of group %d: %w", groupID, err)
	}
	return id.Int64, id.Valid, nil
}

func (q *queries) messages(ctx context.Context, query string, args ...any) ([]model.Message, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}
