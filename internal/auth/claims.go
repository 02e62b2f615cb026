package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token lifetimes used when IssuerConfig leaves a field zero.
const (
	DefaultAccessTTL            = 30 * time.Minute
	DefaultRefreshTTL           = 90 * 24 * time.Hour
	DefaultPrivilegedRefreshTTL = 24 * time.Hour

	// refreshTokenBytes is the amount of randomness in an opaque refresh token.
	refreshTokenBytes = 64
)

// Claims is the payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// IssuerConfig is the immutable signing configuration handed to NewIssuer.
type IssuerConfig struct {
	Secret               string
	Issuer               string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	PrivilegedRefreshTTL time.Duration
}

// Issuer mints and verifies access tokens and decides refresh token lifetimes.
// It holds no mutable state and is safe for concurrent use.
type Issuer struct {
	secret []byte
	cfg    IssuerConfig
	now    func() time.Time
}

// NewIssuer validates cfg and returns an Issuer. An empty secret is fatal:
// callers are expected to abort startup on ErrMissingSecret.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.PrivilegedRefreshTTL <= 0 {
		cfg.PrivilegedRefreshTTL = DefaultPrivilegedRefreshTTL
	}
	return &Issuer{
		secret: []byte(cfg.Secret),
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.cfg.AccessTTL
}

// RefreshTTL returns the refresh token lifetime for a role at issuance time.
func (i *Issuer) RefreshTTL(role Role) time.Duration {
	if role.IsPrivileged() {
		return i.cfg.PrivilegedRefreshTTL
	}
	return i.cfg.RefreshTTL
}

// IssueAccess creates a signed HS256 access token for the user.
func (i *Issuer) IssueAccess(userID string, role Role) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrTokenInvalid)
	}
	if !role.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.AccessTTL)),
			ID:        uuid.NewString(),
		},
		UserID: userID,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// VerifyAccess checks signature, algorithm and expiry, and returns the claims.
// Every failure wraps ErrTokenInvalid; expiry additionally wraps ErrTokenExpired.
func (i *Issuer) VerifyAccess(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, ErrTokenExpired)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrTokenInvalid)
	}

	if !claims.Role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}

	return claims, nil
}

// GenerateRefreshToken creates a cryptographically random opaque refresh token
// (512 bits, hex encoded). The raw token goes to the client; only its hash is stored.
func GenerateRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
