package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sessions is the refresh-token registry. All state lives in the
// TokenRepository; Sessions itself is stateless and safe for concurrent use.
type Sessions struct {
	tokens TokenRepository
	issuer *Issuer
	now    func() time.Time
}

// NewSessions creates a session registry backed by tokens, using issuer for
// role-dependent lifetimes.
func NewSessions(tokens TokenRepository, issuer *Issuer) *Sessions {
	return &Sessions{tokens: tokens, issuer: issuer, now: time.Now}
}

// IssueRefresh mints a new opaque refresh token for the user and makes it the
// user's only session. The returned raw token is never stored.
func (s *Sessions) IssueRefresh(ctx context.Context, userID string, role Role) (string, error) {
	raw, err := GenerateRefreshToken()
	if err != nil {
		return "", err
	}

	token := &RefreshToken{
		UserID:    userID,
		TokenHash: HashToken(raw),
		ExpiresAt: s.now().Add(s.issuer.RefreshTTL(role)),
	}
	if err := s.tokens.ReplaceForUser(ctx, token); err != nil {
		return "", fmt.Errorf("storing refresh token: %w", err)
	}
	return raw, nil
}

// ValidateRefresh returns the owning user of a live refresh token.
// Unknown and expired tokens both yield ErrTokenInvalid.
func (s *Sessions) ValidateRefresh(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", ErrTokenInvalid
	}

	token, err := s.tokens.GetByTokenHash(ctx, HashToken(raw))
	if err != nil {
		return "", err
	}
	if !token.ExpiresAt.After(s.now()) {
		return "", fmt.Errorf("%w: %w", ErrTokenInvalid, ErrTokenExpired)
	}
	return token.UserID, nil
}

// RevokeOne deletes a single refresh token. Unknown tokens are ignored so that
// logout is idempotent.
func (s *Sessions) RevokeOne(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return s.tokens.DeleteByTokenHash(ctx, HashToken(raw))
}

// RevokeAllForUser deletes every session of the user and reports how many were removed.
func (s *Sessions) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return s.tokens.DeleteAllForUser(ctx, userID)
}

// HasLiveSession reports whether the user still holds an unexpired refresh token.
func (s *Sessions) HasLiveSession(ctx context.Context, userID string) (bool, error) {
	_, live, err := s.tokens.LiveSessionRole(ctx, userID, s.now())
	return live, err
}

// CheckPrivileged confirms that an admin-tier access token is still backed by
// a live session and that the account still holds the role the token claims.
// It returns ErrSessionRevoked otherwise.
func (s *Sessions) CheckPrivileged(ctx context.Context, userID string, claimed Role) error {
	stored, live, err := s.tokens.LiveSessionRole(ctx, userID, s.now())
	if err != nil {
		return err
	}
	if !live || stored != claimed {
		return ErrSessionRevoked
	}
	return nil
}

// PurgeExpired removes expired rows. Correctness never depends on it.
func (s *Sessions) PurgeExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx)
}

// IsInvalid reports whether err is a refresh or access token rejection, as
// opposed to a storage failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrTokenInvalid)
}
