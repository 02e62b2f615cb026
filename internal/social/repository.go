// Package social manages friendships between accounts.
package social

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/karaoke-core/internal/auth"
)

// Friendship states.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
)

// Sentinel errors for friendship operations.
var (
	ErrSelfFriend = errors.New("cannot befriend yourself")
	ErrNoRequest  = errors.New("no pending friend request")
)

// Repository persists friendships.
type Repository interface {
	Request(ctx context.Context, userID, friendID string) error
	Accept(ctx context.Context, userID, friendID string) error
	ListFriends(ctx context.Context, userID string) ([]auth.PublicProfile, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new friendship repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Request records a pending request from userID to friendID. Repeating a
// request is a no-op. If friendID has already asked userID, the existing
// request is accepted instead of opening a second one.
func (r *SQLiteRepository) Request(ctx context.Context, userID, friendID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning friend request: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		`UPDATE friendships SET status = ?, updated_at = ?
		 WHERE user_id = ? AND friend_id = ? AND status = ?`,
		StatusAccepted, now, friendID, userID, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("accepting reverse request: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 { //nolint:errcheck // always succeeds on SQLite
		_, err = tx.ExecContext(ctx,
			`INSERT INTO friendships (user_id, friend_id, status, created_at, updated_at)
			 SELECT ?, ?, ?, ?, ?
			 WHERE NOT EXISTS (
			   SELECT 1 FROM friendships WHERE user_id = ? AND friend_id = ?)
			 ON CONFLICT (user_id, friend_id) DO NOTHING`,
			userID, friendID, StatusPending, now, now,
			friendID, userID,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return auth.ErrUserNotFound
			}
			return fmt.Errorf("creating friend request: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing friend request: %w", err)
	}
	return nil
}

// Accept accepts the request friendID sent to userID. Only the recipient can
// accept; accepting twice is a no-op.
func (r *SQLiteRepository) Accept(ctx context.Context, userID, friendID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE friendships SET status = ?, updated_at = ?
		 WHERE user_id = ? AND friend_id = ?`,
		StatusAccepted, time.Now().UTC().Format(time.RFC3339),
		friendID, userID,
	)
	if err != nil {
		return fmt.Errorf("accepting friend request: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows > 0 {
		return nil
	}

	var friends int
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM friendships
		 WHERE status = ? AND ((user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)))`,
		StatusAccepted, userID, friendID, friendID, userID,
	).Scan(&friends)
	if err != nil {
		return fmt.Errorf("checking friendship: %w", err)
	}
	if friends == 0 {
		return ErrNoRequest
	}
	return nil
}

// ListFriends returns the public profiles of every accepted friend.
func (r *SQLiteRepository) ListFriends(ctx context.Context, userID string) ([]auth.PublicProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT u.id, u.username, u.full_name, u.avatar_url, u.bio, u.created_at
		 FROM users u
		 JOIN friendships f
		   ON (f.user_id = ? AND f.friend_id = u.id)
		   OR (f.friend_id = ? AND f.user_id = u.id)
		 WHERE f.status = ?
		 ORDER BY u.username`,
		userID, userID, StatusAccepted,
	)
	if err != nil {
		return nil, fmt.Errorf("listing friends: %w", err)
	}
	defer rows.Close()

	friends := []auth.PublicProfile{}
	for rows.Next() {
		var p auth.PublicProfile
		var avatarURL, bio sql.NullString
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Username, &p.FullName, &avatarURL, &bio, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning friend: %w", err)
		}
		p.AvatarURL = avatarURL.String
		p.Bio = bio.String
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		friends = append(friends, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating friends: %w", err)
	}
	return friends, nil
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
