package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MsAiBoWithStar/linkin-chat/internal/apperror"
	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
)

const userColumns = `id, link_code, nickname, avatar, password_hash, github_id, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads one users row. Optional columns are NULL in the table and
// empty (zero) on the struct.
func scanUser(s rowScanner) (*model.User, error) {
	var (
		u            model.User
		avatar       sql.NullString
		passwordHash sql.NullString
		githubID     sql.NullInt64
	)
	if err := s.Scan(
		&u.ID,
		&u.LinkCode,
		&u.Nickname,
		&avatar,
		&passwordHash,
		&githubID,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Avatar = avatar.String
	u.PasswordHash = passwordHash.String
	u.GitHubID = githubID.Int64
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

// CreateUser inserts a new user and fills in ID and timestamps.
// A taken link code or GitHub account returns apperror.ErrConflict.
func (q *queries) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	res, err := q.db.ExecContext(ctx,
		`INSERT INTO users (link_code, nickname, avatar, password_hash, github_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.LinkCode,
		user.Nickname,
		nullString(user.Avatar),
		nullString(user.PasswordHash),
		nullInt64(user.GitHubID),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict(apperror.ReasonLinkCodeTaken,
				fmt.Sprintf("link code %s or GitHub account already registered", user.LinkCode))
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.LinkCode, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new user id: %w", err)
	}
	user.ID = id
	return nil
}

// GetUserByID retrieves a user by internal id.
// Returns apperror.ErrNotFound if no user exists with that id.
func (q *queries) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return u, nil
}

func (q *queries) GetUserByLinkCode(ctx context.Context, code string) (*model.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE link_code = ?`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", code)
		}
		return nil, fmt.Errorf("sqlite: getting user by link code %s: %w", code, err)
	}
	return u, nil
}

func (q *queries) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = ?`, githubID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", githubID)
		}
		return nil, fmt.Errorf("sqlite: getting user by github_id %d: %w", githubID, err)
	}
	return u, nil
}

func (q *queries) LinkCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE link_code = ?)`, code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking link code %s: %w", code, err)
	}
	return exists, nil
}

// UpdateUserProfile writes nickname and avatar. Other columns are immutable
// through this path.
func (q *queries) UpdateUserProfile(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	res, err := q.db.ExecContext(ctx,
		`UPDATE users SET nickname = ?, avatar = ?, updated_at = ? WHERE id = ?`,
		user.Nickname,
		nullString(user.Avatar),
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %d: %w", user.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

// SearchUsers matches an exact link code and/or a nickname substring. Both
// filters apply when both are given; with neither the result is empty.
func (q *queries) SearchUsers(ctx context.Context, linkCode, nickname string, limit int) ([]model.User, error) {
	var (
		where []string
		args  []any
	)
	if linkCode != "" {
		where = append(where, "link_code = ?")
		args = append(args, linkCode)
	}
	if nickname != "" {
		where = append(where, `nickname LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(nickname)+"%")
	}
	if len(where) == 0 {
		return []model.User{}, nil
	}
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+strings.Join(where, " AND ")+` ORDER BY id LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

// UserSummaries loads display data for a batch of users in one query.
// Unknown ids are simply absent from the map.
func (q *queries) UserSummaries(ctx context.Context, ids []int64) (map[int64]model.UserSummary, error) {
	out := make(map[int64]model.UserSummary, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, link_code, nickname, avatar FROM users WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading user summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s      model.UserSummary
			avatar sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.LinkCode, &s.Nickname, &avatar); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user summary: %w", err)
		}
		s.Avatar = avatar.String
		out[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user summaries: %w", err)
	}
	return out, nil
}
