package auth

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
// Usernames must be 1-64 characters, alphanumeric with dots, hyphens, underscores.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleGuest is a throwaway account created by guest login.
	// Guests can browse and sing but cannot befriend other users.
	RoleGuest Role = "guest"

	// RoleUser is a registered member. Default role on registration.
	RoleUser Role = "user"

	// RoleAdmin moderates users: list, delete, lock. Cannot act on other
	// admins or the owner.
	RoleAdmin Role = "admin"

	// RoleOwn is the platform owner. Everything admin can do plus role
	// changes and moderation of admins.
	RoleOwn Role = "own"
)

// ValidRoles is the closed set of account roles.
var ValidRoles = []Role{RoleGuest, RoleUser, RoleAdmin, RoleOwn}

// ParseRole converts a string into a Role, rejecting anything outside ValidRoles.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	switch r {
	case RoleGuest, RoleUser, RoleAdmin, RoleOwn:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// IsValid reports whether r is one of ValidRoles.
func (r Role) IsValid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// IsPrivileged reports whether the role belongs to the administrative tier.
// Privileged roles get short refresh tokens, must log in through the admin
// platform, and have their session re-checked on every request.
func (r Role) IsPrivileged() bool {
	return IsAdminTier(r)
}

// User represents an account in the credential store.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"` // never serialised
	Role         Role       `json:"role"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
	FullName     string     `json:"full_name"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Bio          string     `json:"bio,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IsLocked reports whether the account is locked at the given instant.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// PublicProfile is the subset of a user visible to anyone.
type PublicProfile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Public strips private fields from the user.
func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:        u.ID,
		Username:  u.Username,
		FullName:  u.FullName,
		AvatarURL: u.AvatarURL,
		Bio:       u.Bio,
		CreatedAt: u.CreatedAt,
	}
}

// ProfileUpdate carries a partial profile change. Nil fields are left untouched.
type ProfileUpdate struct {
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

// RefreshToken is a stored refresh session. Only the hash of the raw token is kept.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"` // never serialised
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID string
	Role   Role
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameExists     = errors.New("username or email already exists")
	ErrInvalidRole        = errors.New("invalid role")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrSessionRevoked     = errors.New("session has been revoked")
	ErrAccountLocked      = errors.New("account is locked")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrSelfAction         = errors.New("cannot perform this action on your own account")
	ErrMissingSecret      = errors.New("jwt secret is not configured")
	ErrInvalidDuration    = errors.New("invalid lock duration")
	ErrInvalidInput       = errors.New("invalid input")
)

// CredentialsError is returned when the password does not match an existing
// account. It carries the account email so clients can offer password resync.
type CredentialsError struct {
	Email string
}

func (e *CredentialsError) Error() string { return ErrInvalidCredentials.Error() }

// Unwrap lets errors.Is match ErrInvalidCredentials.
func (e *CredentialsError) Unwrap() error { return ErrInvalidCredentials }

// LockError is returned when a locked account attempts to log in.
type LockError struct {
	Until time.Time
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked, e.Until.UTC().Format(time.RFC3339))
}

// Unwrap lets errors.Is match ErrAccountLocked.
func (e *LockError) Unwrap() error { return ErrAccountLocked }
