// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the server builds without a C
// toolchain and ":memory:" databases make store tests fast and isolated.
//
// TRANSACTIONS:
// Every query method lives on *queries, which runs against a dbtx: either the
// *sql.DB pool or a *sql.Tx. DB embeds a *queries bound to the pool, and InTx
// hands the callback a *queries bound to a transaction. Services therefore use
// the exact same methods inside and outside a transaction.
//
// Transactions are opened with BEGIN IMMEDIATE (the _txlock DSN parameter), so
// a transaction takes the write lock up front. Two concurrent check-then-write
// operations (two addFriend calls, a dissolve racing a group send) serialize
// instead of both passing their checks.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
)

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements repository.Queries against a pool or a transaction.
type queries struct {
	db dbtx
}

var _ repository.Queries = (*queries)(nil)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
	*queries
}

// COMPILE-TIME INTERFACE CHECK:
// If *DB stops satisfying repository.Store the build fails here rather than
// at the wiring site in internal/server.
var _ repository.Store = (*DB)(nil)

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/linkin.db" → file-based database (persistent)
//   - ":memory:"       → in-memory database (tests)
//
// PRAGMAS ARE PER CONNECTION:
// foreign_keys and busy_timeout only affect the connection they run on, so
// they go in the DSN (_pragma) and apply to every connection the pool opens.
// An in-memory database exists per connection, so the pool is pinned to a
// single connection for ":memory:".
func New(dbPath string) (*DB, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a writer holds the lock. The setting is
	// persistent in the database file; in-memory databases ignore it.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn, queries: &queries{db: conn}}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// InTx runs fn inside a single transaction.
//
// fn must only use the Queries it is given: with the in-memory pool pinned to
// one connection, touching db itself from inside fn would wait forever for
// the connection the transaction is holding.
func (db *DB) InTx(ctx context.Context, fn func(q repository.Queries) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("sqlite: rolling back: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
//
// "groups" is an SQLite keyword (window frames), hence chat_groups.
func (db *DB) migrate() error {
	steps := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				link_code     TEXT NOT NULL UNIQUE,
				nickname      TEXT NOT NULL,
				avatar        TEXT,
				password_hash TEXT,
				github_id     INTEGER UNIQUE,
				created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`},
		{"friendships", `
			CREATE TABLE IF NOT EXISTS friendships (
				owner_id   INTEGER NOT NULL REFERENCES users(id),
				friend_id  INTEGER NOT NULL REFERENCES users(id),
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (owner_id, friend_id),
				CHECK (owner_id <> friend_id)
			);
		`},
		{"chat_groups", `
			CREATE TABLE IF NOT EXISTS chat_groups (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				name       TEXT NOT NULL,
				avatar     TEXT,
				owner_id   INTEGER NOT NULL REFERENCES users(id),
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`},
		{"group_members", `
			CREATE TABLE IF NOT EXISTS group_members (
				group_id  INTEGER NOT NULL REFERENCES chat_groups(id),
				user_id   INTEGER NOT NULL REFERENCES users(id),
				role      TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('owner', 'admin', 'member')),
				joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (group_id, user_id)
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_group_members_one_owner
				ON group_members(group_id) WHERE role = 'owner';
			CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);
		`},
		// AUTOINCREMENT guarantees ids are never reused, even after a
		// dissolve deletes the newest rows. Read cursors depend on that.
		{"messages", `
			CREATE TABLE IF NOT EXISTS messages (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				sender_id    INTEGER NOT NULL REFERENCES users(id),
				receiver_id  INTEGER REFERENCES users(id),
				group_id     INTEGER REFERENCES chat_groups(id),
				message_type TEXT NOT NULL CHECK (message_type IN ('text', 'file')),
				content      TEXT,
				file_path    TEXT,
				file_name    TEXT,
				is_read      INTEGER NOT NULL DEFAULT 0,
				created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				CHECK ((receiver_id IS NULL) <> (group_id IS NULL))
			);
			CREATE INDEX IF NOT EXISTS idx_messages_receiver_sender
				ON messages(receiver_id, sender_id, is_read);
			CREATE INDEX IF NOT EXISTS idx_messages_sender_receiver
				ON messages(sender_id, receiver_id);
			CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, id);
		`},
		{"group_read_cursors", `
			CREATE TABLE IF NOT EXISTS group_read_cursors (
				user_id              INTEGER NOT NULL REFERENCES users(id),
				group_id             INTEGER NOT NULL REFERENCES chat_groups(id),
				last_read_message_id INTEGER NOT NULL DEFAULT 0,
				updated_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (user_id, group_id)
			);
		`},
	}

	for _, step := range steps {
		if _, err := db.conn.Exec(step.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", step.name, err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// escapeLike escapes LIKE wildcards so user input matches literally.
// Queries pair it with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
