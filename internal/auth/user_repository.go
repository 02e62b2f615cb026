package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// UserRepository defines the interface for user account persistence.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	List(ctx context.Context) ([]User, error)
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*User, error)
	UpdateRole(ctx context.Context, id string, role Role) error
	SetLockedUntil(ctx context.Context, id string, until *time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	CountByRole(ctx context.Context) (map[Role]int, error)
}

// idAttempts bounds how often Create draws a fresh generated ID after a
// primary key collision.
const idAttempts = 3

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db    *sql.DB
	newID func() string
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db, newID: newUserID}
}

// newUserID returns "usr-" followed by a random UUID (122 random bits).
func newUserID() string {
	return "usr-" + uuid.NewString()
}

const userColumns = "id, username, email, password_hash, role, locked_until, full_name, avatar_url, bio, created_at"

// Create inserts a new user account. The ID is generated if empty, and
// redrawn if a generated ID collides with an existing row.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if !user.Role.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, user.Role)
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	generated := user.ID == ""
	for attempt := 1; ; attempt++ {
		if generated {
			user.ID = r.newID()
		}
		err := r.insert(ctx, user)
		if err == nil {
			return nil
		}
		if generated && isPrimaryKeyViolation(err) && attempt < idAttempts {
			continue
		}
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
}

func (r *SQLiteUserRepository) insert(ctx context.Context, user *User) error {
	now := time.Now().UTC().Truncate(time.Second)
	user.CreatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, role, locked_until, full_name, avatar_url, bio, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, nullString(user.Email), user.PasswordHash,
		string(user.Role), nullTime(user.LockedUntil),
		user.FullName, nullString(user.AvatarURL), nullString(user.Bio),
		now.Format(time.RFC3339),
	)
	return err
}

// GetByID retrieves a user by their unique ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByIdentifier retrieves a user by username or email.
func (r *SQLiteUserRepository) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	return r.getUser(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? OR email = ? LIMIT 1",
		identifier, strings.ToLower(identifier))
}

// GetByEmail retrieves a user by email address.
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", strings.ToLower(email))
}

// EmailExists reports whether an account already uses the email address.
func (r *SQLiteUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)", strings.ToLower(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email: %w", err)
	}
	return exists == 1, nil
}

// List returns all users ordered by creation date.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUserFrom(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}

	if users == nil {
		users = []User{}
	}
	return users, nil
}

// UpdateProfile applies the non-nil fields of upd and returns the updated user.
func (r *SQLiteUserRepository) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*User, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET full_name = COALESCE(?, full_name),
		     avatar_url = COALESCE(?, avatar_url),
		     bio = COALESCE(?, bio)
		 WHERE id = ?`,
		optionalString(upd.FullName), optionalString(upd.AvatarURL), optionalString(upd.Bio), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}

	if err := requireRow(result); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// UpdateRole changes a user's role.
func (r *SQLiteUserRepository) UpdateRole(ctx context.Context, id string, role Role) error {
	if !role.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	result, err := r.db.ExecContext(ctx, "UPDATE users SET role = ? WHERE id = ?", string(role), id)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	return requireRow(result)
}

// SetLockedUntil sets or clears (nil) the account lock.
func (r *SQLiteUserRepository) SetLockedUntil(ctx context.Context, id string, until *time.Time) error {
	result, err := r.db.ExecContext(ctx, "UPDATE users SET locked_until = ? WHERE id = ?", nullTime(until), id)
	if err != nil {
		return fmt.Errorf("updating lock: %w", err)
	}
	return requireRow(result)
}

// UpdatePassword changes a user's password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, id)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return requireRow(result)
}

// Delete removes a user account by ID. Sessions and friendships cascade.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return requireRow(result)
}

// Count returns the total number of user accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// CountByRole returns the number of accounts per role.
func (r *SQLiteUserRepository) CountByRole(ctx context.Context) (map[Role]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT role, COUNT(*) FROM users GROUP BY role")
	if err != nil {
		return nil, fmt.Errorf("counting users by role: %w", err)
	}
	defer rows.Close()

	counts := make(map[Role]int, len(ValidRoles))
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("scanning role count: %w", err)
		}
		counts[Role(role)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role counts: %w", err)
	}
	return counts, nil
}

// getUser executes a query and scans a single user result.
func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	return scanUserFrom(r.db.QueryRowContext(ctx, query, args...))
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanUserFrom scans a user from any scanner (Row or Rows).
func scanUserFrom(s scanner) (*User, error) {
	var u User
	var email, lockedUntil, avatarURL, bio sql.NullString
	var role, createdAt string

	err := s.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &role,
		&lockedUntil, &u.FullName, &avatarURL, &bio, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Role = Role(role)
	u.Email = email.String
	u.AvatarURL = avatarURL.String
	u.Bio = bio.String

	if lockedUntil.Valid {
		t, err := time.Parse(time.RFC3339, lockedUntil.String)
		if err != nil {
			return nil, fmt.Errorf("parsing locked_until %q: %w", lockedUntil.String, err)
		}
		u.LockedUntil = &t
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &u, nil
}

// Helper functions.

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func optionalString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// requireRow maps a zero-row UPDATE/DELETE to ErrUserNotFound.
func requireRow(result sql.Result) error {
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// isUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isPrimaryKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
