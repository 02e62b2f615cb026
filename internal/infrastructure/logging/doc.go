// Package logging provides structured logging for the karaoke core service.
//
// It wraps log/slog with a JSON or text handler, level filtering and default
// service/version fields, and carries request-scoped loggers through
// context.Context so handlers log with the request id attached.
//
// Never log raw passwords, password hashes, access tokens or refresh tokens.
// The one exception is the generated seed owner password, logged once at first
// boot so the operator can sign in.
package logging
