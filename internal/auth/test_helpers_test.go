package auth

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testSecret is the HMAC key used by every test issuer.
const testSecret = "test-secret-key-for-jwt-signing-32b"

// testDB creates a temporary SQLite database with the real migrations applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	dbPath := filepath.Join(t.TempDir(), "auth-test.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	files, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.up.sql"))
	if err != nil || len(files) == 0 {
		t.Fatalf("locating migrations: %v (found %d)", err, len(files))
	}
	sort.Strings(files)

	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("reading %s: %v", f, err)
		}
		if _, err := db.Exec(string(body)); err != nil {
			t.Fatalf("applying %s: %v", filepath.Base(f), err)
		}
	}

	return db
}

// testIssuer returns an issuer with default lifetimes.
func testIssuer(t *testing.T) *Issuer {
	t.Helper()

	iss, err := NewIssuer(IssuerConfig{Secret: testSecret, Issuer: "karaoke-test"})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return iss
}

// seedTestUser inserts a test user with password "test-password" and returns it.
func seedTestUser(t *testing.T, db *sql.DB, username string, role Role) *User {
	t.Helper()

	hash, err := HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	repo := NewUserRepository(db)
	user := &User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         role,
		FullName:     username,
	}
	if err := repo.Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return user
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	events []Event
}

func (r *recordingPublisher) PublishEvent(ev Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) kinds() []EventKind {
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// testService wires a Service over a fresh database.
func testService(t *testing.T) (*Service, *sql.DB, *recordingPublisher) {
	t.Helper()

	db := testDB(t)
	iss := testIssuer(t)
	pub := &recordingPublisher{}

	svc, err := NewService(ServiceDeps{
		Users:    NewUserRepository(db),
		Sessions: NewSessions(NewTokenRepository(db), iss),
		Issuer:   iss,
		Events:   pub,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, db, pub
}
