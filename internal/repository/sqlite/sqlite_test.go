package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MsAiBoWithStar/linkin-chat/internal/model"
	"github.com/MsAiBoWithStar/linkin-chat/internal/repository"
)

// newTestDB opens a fresh in-memory database with the full schema.
// Each test gets its own database, so tests never see each other's rows.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestUser inserts a user whose link code is derived from n.
func createTestUser(t *testing.T, db *DB, n int, nickname string) *model.User {
	t.Helper()
	user := &model.User{
		LinkCode: fmt.Sprintf("%08d", 10000000+n),
		Nickname: nickname,
	}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func befriend(t *testing.T, db *DB, a, b int64) {
	t.Helper()
	if err := db.InsertFriendPair(context.Background(), a, b); err != nil {
		t.Fatalf("failed to befriend %d and %d: %v", a, b, err)
	}
}

// createTestGroup creates a group owned by owner with the given plain members.
func createTestGroup(t *testing.T, db *DB, owner int64, members ...int64) *model.Group {
	t.Helper()
	ctx := context.Background()
	g := &model.Group{Name: "test group", OwnerID: owner}
	if err := db.CreateGroup(ctx, g); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	if err := db.AddMember(ctx, &model.GroupMember{GroupID: g.ID, UserID: owner, Role: model.RoleOwner}); err != nil {
		t.Fatalf("failed to add owner: %v", err)
	}
	for _, m := range members {
		if err := db.AddMember(ctx, &model.GroupMember{GroupID: g.ID, UserID: m, Role: model.RoleMember}); err != nil {
			t.Fatalf("failed to add member %d: %v", m, err)
		}
	}
	return g
}

func sendPrivate(t *testing.T, db *DB, from, to int64, content string) *model.Message {
	t.Helper()
	m := &model.Message{SenderID: from, Target: model.PrivateTarget{ReceiverID: to}, Type: model.MessageText, Content: content}
	if err := db.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("failed to send private message: %v", err)
	}
	return m
}

func sendGroup(t *testing.T, db *DB, from, group int64, content string) *model.Message {
	t.Helper()
	m := &model.Message{SenderID: from, Target: model.GroupTarget{GroupID: group}, Type: model.MessageText, Content: content}
	if err := db.CreateMessage(context.Background(), m); err != nil {
		t.Fatalf("failed to send group message: %v", err)
	}
	return m
}

// =========================================================================
// SCHEMA / TRANSACTION TESTS
// =========================================================================

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
}

func TestNew_ForeignKeysEnforced(t *testing.T) {
	db := newTestDB(t)

	m := &model.Message{SenderID: 999, Target: model.PrivateTarget{ReceiverID: 998}, Type: model.MessageText, Content: "ghost"}
	if err := db.CreateMessage(context.Background(), m); err == nil {
		t.Fatal("CreateMessage() with unknown users should fail the foreign key check")
	}
}

func TestMessageTargetCheck(t *testing.T) {
	db := newTestDB(t)
	a := createTestUser(t, db, 1, "alice")
	g := createTestGroup(t, db, a.ID)

	_, err := db.conn.Exec(
		`INSERT INTO messages (sender_id, receiver_id, group_id, message_type, content) VALUES (?, ?, ?, 'text', 'x')`,
		a.ID, a.ID, g.ID)
	if err == nil {
		t.Error("a message with both receiver_id and group_id should be rejected")
	}

	_, err = db.conn.Exec(
		`INSERT INTO messages (sender_id, message_type, content) VALUES (?, 'text', 'x')`, a.ID)
	if err == nil {
		t.Error("a message with neither receiver_id nor group_id should be rejected")
	}
}

func TestInTx_CommitsOnNil(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, 1, "alice")
	b := createTestUser(t, db, 2, "bob")

	err := db.InTx(ctx, func(q repository.Queries) error {
		return q.InsertFriendPair(ctx, a.ID, b.ID)
	})
	if err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	ok, err := db.FriendEdgeExists(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatalf("FriendEdgeExists() error = %v", err)
	}
	if !ok {
		t.Error("committed friendship is missing")
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, 1, "alice")
	b := createTestUser(t, db, 2, "bob")

	boom := errors.New("boom")
	err := db.InTx(ctx, func(q repository.Queries) error {
		if err := q.InsertFriendPair(ctx, a.ID, b.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want %v", err, boom)
	}

	ok, err := db.FriendEdgeExists(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("FriendEdgeExists() error = %v", err)
	}
	if ok {
		t.Error("friendship survived a rolled-back transaction")
	}
}

func TestInTx_RollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, 1, "alice")
	b := createTestUser(t, db, 2, "bob")

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("InTx() swallowed the panic")
			}
		}()
		_ = db.InTx(ctx, func(q repository.Queries) error {
			_ = q.InsertFriendPair(ctx, a.ID, b.ID)
			panic("interrupted")
		})
	}()

	ok, err := db.FriendEdgeExists(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("FriendEdgeExists() error = %v", err)
	}
	if ok {
		t.Error("friendship survived a panicking transaction")
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"50%", `50\%`},
		{"a_b", `a\_b`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
