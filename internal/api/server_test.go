package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/karaoke-core/internal/audit"
	"github.com/nerrad567/karaoke-core/internal/auth"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/config"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/database"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/logging"
	"github.com/nerrad567/karaoke-core/internal/social"
	"github.com/nerrad567/karaoke-core/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// testEnv is a fully wired API over a temp-file database.
type testEnv struct {
	srv   *Server
	svc   *auth.Service
	users *auth.SQLiteUserRepository
	db    *database.DB
}

func newTestEnv(t *testing.T, mutate ...func(*config.SecurityConfig)) *testEnv {
	t.Helper()

	db, err := database.Open(t.Context(), database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Migrate(t.Context(), migrations.FS)
	require.NoError(t, err)

	sec := config.SecurityConfig{
		JWT: config.JWTConfig{Secret: testSecret, Issuer: "karaoke-test", AccessTokenTTL: 30},
		AdminPlatform: config.AdminPlatformConfig{
			Header: "X-Client-Platform",
			Value:  "admin",
		},
	}
	for _, m := range mutate {
		m(&sec)
	}

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret:    sec.JWT.Secret,
		Issuer:    sec.JWT.Issuer,
		AccessTTL: sec.JWT.AccessTTL(),
	})
	require.NoError(t, err)

	users := auth.NewUserRepository(db.DB)
	tokens := auth.NewTokenRepository(db.DB)
	svc, err := auth.NewService(auth.ServiceDeps{
		Users:    users,
		Sessions: auth.NewSessions(tokens, issuer),
		Issuer:   issuer,
	})
	require.NoError(t, err)

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
	srv, err := New(Deps{
		Security: sec,
		Logger:   logger,
		Auth:     svc,
		Social:   social.NewService(social.NewSQLiteRepository(db.DB)),
		Audit:    audit.NewSQLiteRepository(db.DB),
		Accounts: users,
		Sessions: tokens,
		Checks:   map[string]HealthChecker{"database": db},
		Version:  "test",
	})
	require.NoError(t, err)

	return &testEnv{srv: srv, svc: svc, users: users, db: db}
}

// do sends a JSON request through the router.
func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// createUser inserts an account with password "pw123" directly.
func (e *testEnv) createUser(t *testing.T, username string, role auth.Role) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword("pw123")
	require.NoError(t, err)
	u := &auth.User{
		Username:     username,
		Email:        username + "@x.com",
		PasswordHash: hash,
		Role:         role,
	}
	require.NoError(t, e.users.Create(t.Context(), u))
	return u
}

// login returns the access and refresh tokens for username.
func (e *testEnv) login(t *testing.T, username string, admin bool) (string, string) {
	t.Helper()

	body := map[string]string{"identifier": username, "password": "pw123"}
	if admin {
		body["platform"] = "admin"
	}
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res auth.AuthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res.AccessToken, res.RefreshToken
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) Error {
	t.Helper()

	var e Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRequestID_Propagated(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil, "X-Request-ID", "req-abc")
	assert.Equal(t, "req-abc", rec.Header().Get("X-Request-ID"))
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}

	rec := env.do(t, http.MethodOptions, "/api/v1/auth/login", "", nil, "Origin", "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Client-Platform")

	rec = env.do(t, http.MethodOptions, "/api/v1/auth/login", "", nil, "Origin", "https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrCodeNotFound, decodeError(t, rec).Code)
}

type fakeRecorder struct {
	routes []string
}

func (f *fakeRecorder) WriteRequestMetric(_ string, route string, _ int, _ time.Duration) {
	f.routes = append(f.routes, route)
}

func TestLoggingMiddleware_RecordsRoutePattern(t *testing.T) {
	env := newTestEnv(t)
	rec := &fakeRecorder{}
	env.srv.requests = rec

	env.do(t, http.MethodGet, "/api/v1/users/usr-missing", "", nil)
	require.Len(t, rec.routes, 1)
	assert.Equal(t, "/api/v1/users/{id}", rec.routes[0])
}

func TestRecoveryMiddleware(t *testing.T) {
	env := newTestEnv(t)

	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrCodeInternal, decodeError(t, rec).Code)
}

func TestServer_StartClose(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.Host = "127.0.0.1"
	env.srv.cfg.Port = 0

	assert.Error(t, env.srv.HealthCheck(context.Background()))
	require.NoError(t, env.srv.Start(t.Context()))
	assert.NoError(t, env.srv.HealthCheck(context.Background()))
	assert.NoError(t, env.srv.Close())
}

func TestServer_ListenerUsesConfiguredTimeouts(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg = config.APIConfig{
		Host:     "127.0.0.1",
		Port:     9099,
		Timeouts: config.APITimeoutConfig{Read: 7, Write: 11, Idle: 90},
	}

	hs := env.srv.httpServer()
	assert.Equal(t, "127.0.0.1:9099", hs.Addr)
	assert.Equal(t, 7*time.Second, hs.ReadTimeout)
	assert.Equal(t, 7*time.Second, hs.ReadHeaderTimeout)
	assert.Equal(t, 11*time.Second, hs.WriteTimeout)
	assert.Equal(t, 90*time.Second, hs.IdleTimeout)
}
