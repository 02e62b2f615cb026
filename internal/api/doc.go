// Package api implements the HTTP REST API for karaoke core.
//
// This package provides:
//   - Registration, login (including guest and admin-console logins), token
//     refresh, logout and password resync
//   - Profile and friendship endpoints for signed-in users
//   - Moderation endpoints for admins and the owner
//   - Middleware stack (request ID, logging, recovery, CORS, rate limiting)
//
// # Security
//
// Every protected route runs the auth gate: a missing or malformed bearer
// token is 401 unauthenticated, a token that fails verification is 403
// invalid_token, and an admin or owner whose refresh session has been revoked
// is 401 session_revoked even while the access token is still unexpired.
// Regular users are not re-checked against the session store.
//
// Admin routes add requireAdmin (admin, own) or requireOwn (own only). The
// per-target escalation rules live in auth.Authorize and are applied by the
// service, never by handlers.
//
// Store failures are logged with the request id and reported to the client
// as a generic internal_error.
package api
