package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
)

const (
	// guestSuffixBytes is the random part of generated guest usernames.
	guestSuffixBytes = 8

	// guestNameAttempts bounds retries when a generated guest name is taken.
	guestNameAttempts = 3
)

// Service composes the hasher, issuer, session registry and guard into the
// account flows exposed to HTTP handlers.
type Service struct {
	users    UserRepository
	sessions *Sessions
	issuer   *Issuer
	events   EventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceDeps holds the dependencies of a Service. Events may be nil.
type ServiceDeps struct {
	Users    UserRepository
	Sessions *Sessions
	Issuer   *Issuer
	Events   EventPublisher
	Logger   *slog.Logger
}

// NewService wires a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Users == nil || deps.Sessions == nil || deps.Issuer == nil {
		return nil, errors.New("auth service: users, sessions and issuer are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    deps.Users,
		sessions: deps.Sessions,
		issuer:   deps.Issuer,
		events:   deps.Events,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Sessions exposes the session registry used by the service.
func (s *Service) Sessions() *Sessions { return s.sessions }

// Issuer exposes the token issuer used by the service.
func (s *Service) Issuer() *Issuer { return s.issuer }

// AuthResult is returned by every flow that logs a user in.
type AuthResult struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// RegisterInput is the payload of a registration.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	FullName string
}

// LoginInput is the payload of a login. AdminPlatform marks requests coming
// from the administrative console.
type LoginInput struct {
	Identifier    string
	Password      string
	AdminPlatform bool
}

// Register creates a user account with role user and logs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", ErrInvalidInput)
	}
	if !IsValidUsername(in.Username) {
		return nil, fmt.Errorf("%w: username must be 1-64 characters of letters, digits, '.', '-' or '_'", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, fmt.Errorf("%w: malformed email address", ErrInvalidInput)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		fullName = in.Username
	}

	user := &User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         RoleUser,
		FullName:     fullName,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.publish(Event{Kind: EventRegistered, UserID: user.ID, Role: user.Role})
	return s.issue(ctx, user)
}

// Login authenticates by username or email.
//
// Check order: credentials, then lock state, then platform. A wrong password
// reveals the account email (for password resync) but nothing else.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.publish(Event{Kind: EventLoginFailed})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(in.Password, user.PasswordHash)
	if err != nil {
		s.logger.Warn("stored password hash unreadable", "user_id", user.ID, "error", err)
	}
	if !ok {
		s.publish(Event{Kind: EventLoginFailed, UserID: user.ID, Role: user.Role})
		return nil, &CredentialsError{Email: user.Email}
	}

	if user.IsLocked(s.now()) {
		s.publish(Event{Kind: EventLoginLocked, UserID: user.ID, Role: user.Role, LockedUntil: user.LockedUntil})
		return nil, &LockError{Until: *user.LockedUntil}
	}

	if user.Role.IsPrivileged() && !in.AdminPlatform {
		return nil, fmt.Errorf("%w: %s accounts must sign in through the admin platform", ErrForbidden, user.Role)
	}

	if NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, in.Password)
	}

	s.publish(Event{Kind: EventLogin, UserID: user.ID, Role: user.Role})
	return s.issue(ctx, user)
}

// GuestLogin creates a throwaway guest account and logs it in.
func (s *Service) GuestLogin(ctx context.Context) (*AuthResult, error) {
	secret, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	// Guests never log in with a password; the hash only fills the column.
	hash, err := HashPassword(secret)
	if err != nil {
		return nil, fmt.Errorf("hashing guest password: %w", err)
	}

	user := &User{
		PasswordHash: hash,
		Role:         RoleGuest,
		FullName:     "Guest",
	}
	for attempt := 1; ; attempt++ {
		user.Username, err = guestUsername()
		if err != nil {
			return nil, err
		}
		err = s.users.Create(ctx, user)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrUsernameExists) || attempt == guestNameAttempts {
			return nil, err
		}
	}

	s.publish(Event{Kind: EventRegistered, UserID: user.ID, Role: user.Role})
	return s.issue(ctx, user)
}

// guestUsername returns "guest-" followed by 16 random hex characters.
func guestUsername() (string, error) {
	suffix := make([]byte, guestSuffixBytes)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generating guest name: %w", err)
	}
	return "guest-" + hex.EncodeToString(suffix), nil
}

// Refresh exchanges a refresh token for a new access token. The refresh token
// itself is not rotated; the role is re-read from the store.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	userID, err := s.sessions.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrTokenInvalid
		}
		return "", err
	}
	if user.IsLocked(s.now()) {
		return "", &LockError{Until: *user.LockedUntil}
	}

	access, err := s.issuer.IssueAccess(user.ID, user.Role)
	if err != nil {
		return "", err
	}

	s.publish(Event{Kind: EventRefreshed, UserID: user.ID, Role: user.Role})
	return access, nil
}

// Logout revokes one refresh token. Unknown tokens succeed silently.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if err := s.sessions.RevokeOne(ctx, refreshToken); err != nil {
		return err
	}
	s.publish(Event{Kind: EventLogout})
	return nil
}

// LogoutAll revokes every session of the caller.
func (s *Service) LogoutAll(ctx context.Context, id Identity) (int64, error) {
	n, err := s.sessions.RevokeAllForUser(ctx, id.UserID)
	if err != nil {
		return 0, err
	}
	s.publish(Event{Kind: EventSessionsRevoked, UserID: id.UserID, ActorID: id.UserID, Role: id.Role})
	return n, nil
}

// CheckEmail reports whether an email address is already registered.
func (s *Service) CheckEmail(ctx context.Context, email string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return false, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return s.users.EmailExists(ctx, email)
}

// SyncPassword overwrites the password of the account with the given email
// after an out-of-band reset, then logs it in. The caller must already have
// verified ownership of the email; nothing here does. Locked accounts stay
// locked and privileged accounts cannot be reset this way.
func (s *Service) SyncPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.IsLocked(s.now()) {
		return nil, &LockError{Until: *user.LockedUntil}
	}
	if user.Role.IsPrivileged() {
		return nil, fmt.Errorf("%w: %s passwords cannot be synced", ErrForbidden, user.Role)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return nil, err
	}
	user.PasswordHash = hash

	s.publish(Event{Kind: EventPasswordSynced, UserID: user.ID, Role: user.Role})
	return s.issue(ctx, user)
}

// Profile returns the caller's full profile.
func (s *Service) Profile(ctx context.Context, userID string) (*User, error) {
	return s.users.GetByID(ctx, userID)
}

// UpdateProfile applies a partial profile change for the caller.
func (s *Service) UpdateProfile(ctx context.Context, id Identity, upd ProfileUpdate) (*User, error) {
	if !HasPermission(id.Role, PermProfileWrite) {
		return nil, ErrForbidden
	}
	return s.users.UpdateProfile(ctx, id.UserID, upd)
}

// PublicProfile returns the publicly visible part of any account.
func (s *Service) PublicProfile(ctx context.Context, userID string) (PublicProfile, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return PublicProfile{}, err
	}
	return u.Public(), nil
}

// DeleteGuest removes the caller's own guest account. Only guests may do this.
func (s *Service) DeleteGuest(ctx context.Context, id Identity) error {
	if id.Role != RoleGuest {
		return fmt.Errorf("%w: only guest accounts can remove themselves", ErrForbidden)
	}
	user, err := s.users.GetByID(ctx, id.UserID)
	if err != nil {
		return err
	}
	if user.Role != RoleGuest {
		return fmt.Errorf("%w: account is no longer a guest", ErrForbidden)
	}
	if err := s.users.Delete(ctx, id.UserID); err != nil {
		return err
	}
	s.publish(Event{Kind: EventDeleted, UserID: id.UserID, ActorID: id.UserID, Role: RoleGuest})
	return nil
}

// ListUsers returns every account for moderators.
func (s *Service) ListUsers(ctx context.Context, requester Identity) ([]User, error) {
	if !HasPermission(requester.Role, PermUsersList) {
		return nil, ErrForbidden
	}
	return s.users.List(ctx)
}

// DeleteUser removes another account, subject to the escalation guard.
func (s *Service) DeleteUser(ctx context.Context, requester Identity, targetID string) (*User, error) {
	target, err := s.guarded(ctx, requester, targetID, ActionDelete)
	if err != nil {
		return nil, err
	}
	if err := s.users.Delete(ctx, target.ID); err != nil {
		return nil, err
	}
	s.publish(Event{Kind: EventDeleted, UserID: target.ID, ActorID: requester.UserID, Role: target.Role})
	return target, nil
}

// LockUser locks or unlocks another account. Any lock revokes all of the
// target's sessions immediately; unlock leaves sessions alone.
func (s *Service) LockUser(ctx context.Context, requester Identity, targetID string, d LockDuration) (*User, error) {
	target, err := s.guarded(ctx, requester, targetID, d.Action())
	if err != nil {
		return nil, err
	}

	until := d.Until(s.now())
	if err := s.users.SetLockedUntil(ctx, target.ID, until); err != nil {
		return nil, err
	}
	target.LockedUntil = until

	if d == LockUnlock {
		s.publish(Event{Kind: EventUnlocked, UserID: target.ID, ActorID: requester.UserID, Role: target.Role})
		return target, nil
	}

	if _, err := s.sessions.RevokeAllForUser(ctx, target.ID); err != nil {
		return nil, fmt.Errorf("revoking sessions of locked user: %w", err)
	}
	s.publish(Event{Kind: EventLocked, UserID: target.ID, ActorID: requester.UserID, Role: target.Role, LockedUntil: until})
	return target, nil
}

// ChangeRole sets another account's role. Owner only. The target's sessions
// are revoked so that no token keeps the old role alive.
func (s *Service) ChangeRole(ctx context.Context, requester Identity, targetID string, role Role) (*User, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	target, err := s.guarded(ctx, requester, targetID, ActionChangeRole)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateRole(ctx, target.ID, role); err != nil {
		return nil, err
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, target.ID); err != nil {
		return nil, fmt.Errorf("revoking sessions after role change: %w", err)
	}
	target.Role = role

	s.publish(Event{Kind: EventRoleChanged, UserID: target.ID, ActorID: requester.UserID, Role: role})
	return target, nil
}

// RevokeUserSessions force-logs-out another account.
func (s *Service) RevokeUserSessions(ctx context.Context, requester Identity, targetID string) (int64, error) {
	target, err := s.guarded(ctx, requester, targetID, ActionRevokeSessions)
	if err != nil {
		return 0, err
	}
	n, err := s.sessions.RevokeAllForUser(ctx, target.ID)
	if err != nil {
		return 0, err
	}
	s.publish(Event{Kind: EventSessionsRevoked, UserID: target.ID, ActorID: requester.UserID, Role: target.Role})
	return n, nil
}

// RevokeByOperator drops every session of a user on behalf of an out-of-band
// operator command. No guard applies; the caller is trusted infrastructure.
func (s *Service) RevokeByOperator(ctx context.Context, userID string) (int64, error) {
	n, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.publish(Event{Kind: EventSessionsRevoked, UserID: userID, ActorID: OperatorActor})
	return n, nil
}

// guarded loads the target and runs the escalation guard.
func (s *Service) guarded(ctx context.Context, requester Identity, targetID string, action Action) (*User, error) {
	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(requester, target, action); err != nil {
		return nil, err
	}
	return target, nil
}

// issue mints both tokens for a user.
func (s *Service) issue(ctx context.Context, user *User) (*AuthResult, error) {
	access, err := s.issuer.IssueAccess(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sessions.IssueRefresh(ctx, user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.issuer.AccessTTL().Seconds()),
	}, nil
}

// rehash upgrades a legacy password hash. Failure only costs a log line.
func (s *Service) rehash(ctx context.Context, user *User, password string) {
	hash, err := HashPassword(password)
	if err != nil {
		s.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.logger.Warn("password rehash not stored", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	s.logger.Info("password hash upgraded", "user_id", user.ID)
}

func (s *Service) publish(ev Event) {
	if s.events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	if err := s.events.PublishEvent(ev); err != nil {
		s.logger.Warn("account event not published", "kind", ev.Kind, "user_id", ev.UserID, "error", err)
	}
}
