package social

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/karaoke-core/internal/auth"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "social.db")+"?_foreign_keys=ON")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	files, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	for _, f := range files {
		body, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = db.Exec(string(body))
		require.NoError(t, err, "applying %s", filepath.Base(f))
	}
	return db
}

func seedUser(t *testing.T, db *sql.DB, name string, role auth.Role) auth.Identity {
	t.Helper()

	u := &auth.User{Username: name, Email: name + "@x.com", PasswordHash: "x", Role: role, FullName: name}
	require.NoError(t, auth.NewUserRepository(db).Create(context.Background(), u))
	return auth.Identity{UserID: u.ID, Role: role}
}

func TestService_RequestAcceptList(t *testing.T) {
	db := testDB(t)
	svc := NewService(NewSQLiteRepository(db))
	ctx := context.Background()

	alice := seedUser(t, db, "alice", auth.RoleUser)
	bob := seedUser(t, db, "bob", auth.RoleUser)

	require.NoError(t, svc.Request(ctx, alice, bob.UserID))
	require.NoError(t, svc.Request(ctx, alice, bob.UserID), "repeated request is a no-op")

	friends, err := svc.Friends(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, friends, "pending requests are not friends yet")

	require.NoError(t, svc.Accept(ctx, bob, alice.UserID))

	friends, err = svc.Friends(ctx, alice)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0].Username)

	friends, err = svc.Friends(ctx, bob)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "alice", friends[0].Username)
}

func TestService_AcceptWithoutRequest(t *testing.T) {
	db := testDB(t)
	svc := NewService(NewSQLiteRepository(db))

	alice := seedUser(t, db, "alice", auth.RoleUser)
	carol := seedUser(t, db, "carol", auth.RoleUser)

	assert.ErrorIs(t, svc.Accept(context.Background(), carol, alice.UserID), ErrNoRequest)
}

func TestService_Policy(t *testing.T) {
	db := testDB(t)
	svc := NewService(NewSQLiteRepository(db))
	ctx := context.Background()

	guest := seedUser(t, db, "guest-1", auth.RoleGuest)
	alice := seedUser(t, db, "alice", auth.RoleUser)

	assert.ErrorIs(t, svc.Request(ctx, guest, alice.UserID), auth.ErrForbidden)
	assert.ErrorIs(t, svc.Request(ctx, alice, alice.UserID), ErrSelfFriend)
	assert.ErrorIs(t, svc.Request(ctx, alice, ""), auth.ErrInvalidInput)
	assert.ErrorIs(t, svc.Request(ctx, alice, "usr-ghost"), auth.ErrUserNotFound)
}

func TestService_MutualRequestsMakeOneFriendship(t *testing.T) {
	db := testDB(t)
	svc := NewService(NewSQLiteRepository(db))
	ctx := context.Background()

	alice := seedUser(t, db, "alice", auth.RoleUser)
	bob := seedUser(t, db, "bob", auth.RoleUser)

	require.NoError(t, svc.Request(ctx, alice, bob.UserID))
	require.NoError(t, svc.Request(ctx, bob, alice.UserID), "reverse request accepts the pending one")

	var rows int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM friendships").Scan(&rows))
	assert.Equal(t, 1, rows)

	friends, err := svc.Friends(ctx, alice)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0].Username)

	require.NoError(t, svc.Accept(ctx, alice, bob.UserID), "accepting an accepted friendship is a no-op")
	friends, err = svc.Friends(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, friends, 1)
}

func TestService_SenderCannotAcceptOwnRequest(t *testing.T) {
	db := testDB(t)
	svc := NewService(NewSQLiteRepository(db))
	ctx := context.Background()

	carol := seedUser(t, db, "carol", auth.RoleUser)
	dave := seedUser(t, db, "dave", auth.RoleUser)

	require.NoError(t, svc.Request(ctx, carol, dave.UserID))
	assert.ErrorIs(t, svc.Accept(ctx, carol, dave.UserID), ErrNoRequest)

	friends, err := svc.Friends(ctx, dave)
	require.NoError(t, err)
	assert.Empty(t, friends)
}
