// Package auth provides authentication and authorisation for the karaoke
// platform.
//
// It implements a closed 4-role model (guest → user → admin → own) with:
//   - Argon2id password hashing, with transparent upgrade of legacy bcrypt hashes
//   - Short-lived HS256 access tokens carrying user id and role
//   - Opaque refresh tokens stored as SHA-256 hashes, one session per user
//   - A role-escalation guard for every destructive moderation action
//   - Static role-permission mapping (compile-time, no database lookup)
//
// Admin-tier sessions are re-checked against the session store on every
// request, so revoking them (logout-all, lock, role change) takes effect
// before the access token expires.
package auth
