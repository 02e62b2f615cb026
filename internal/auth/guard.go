package auth

import (
	"fmt"
	"time"
)

// Action is an administrative operation against another account.
type Action string

// Guarded actions.
const (
	ActionDelete         Action = "delete"
	ActionLock           Action = "lock"
	ActionUnlock         Action = "unlock"
	ActionRevokeSessions Action = "revoke_sessions"
	ActionChangeRole     Action = "change_role"
)

// permission returns the capability an action requires.
func (a Action) permission() (Permission, bool) {
	switch a {
	case ActionDelete:
		return PermUsersDelete, true
	case ActionLock, ActionUnlock:
		return PermUsersLock, true
	case ActionRevokeSessions:
		return PermSessionsRevoke, true
	case ActionChangeRole:
		return PermUsersRole, true
	default:
		return "", false
	}
}

// Authorize is the role-escalation guard for every destructive admin action.
// The caller loads target first; a missing target is reported as ErrUserNotFound
// before the guard runs.
//
// Rules, in order:
//   - an admin may not act on an admin or the owner
//   - nobody may act on their own account, the owner included
//   - the requester must hold the action's permission (role changes are owner-only)
func Authorize(requester Identity, target *User, action Action) error {
	perm, ok := action.permission()
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrForbidden, action)
	}

	if requester.Role == RoleAdmin && IsAdminTier(target.Role) {
		return fmt.Errorf("%w: admins cannot %s an account with role %s", ErrForbidden, action, target.Role)
	}

	if requester.UserID == target.ID {
		return ErrSelfAction
	}

	if !HasPermission(requester.Role, perm) {
		return fmt.Errorf("%w: role %s cannot %s", ErrForbidden, requester.Role, action)
	}

	return nil
}

// LockDuration is a named lock period chosen by a moderator.
type LockDuration string

// Supported lock durations.
const (
	Lock1Hour     LockDuration = "1h"
	Lock1Day      LockDuration = "1d"
	Lock7Days     LockDuration = "7d"
	LockPermanent LockDuration = "permanent"
	LockUnlock    LockDuration = "unlock"
)

// permanentLock is far enough ahead to be indistinguishable from forever.
const permanentLock = 100 * 365 * 24 * time.Hour

// ParseLockDuration validates a duration name.
func ParseLockDuration(s string) (LockDuration, error) {
	d := LockDuration(s)
	switch d {
	case Lock1Hour, Lock1Day, Lock7Days, LockPermanent, LockUnlock:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
}

// Until returns the lock expiry relative to now, or nil for unlock.
func (d LockDuration) Until(now time.Time) *time.Time {
	var offset time.Duration
	switch d {
	case Lock1Hour:
		offset = time.Hour
	case Lock1Day:
		offset = 24 * time.Hour
	case Lock7Days:
		offset = 7 * 24 * time.Hour
	case LockPermanent:
		offset = permanentLock
	case LockUnlock:
		return nil
	default:
		return nil
	}
	t := now.Add(offset).UTC().Truncate(time.Second)
	return &t
}

// Action returns the guarded action a duration corresponds to.
func (d LockDuration) Action() Action {
	if d == LockUnlock {
		return ActionUnlock
	}
	return ActionLock
}
