package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/karaoke-core/internal/audit"
	"github.com/nerrad567/karaoke-core/internal/auth"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/config"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/logging"
	"github.com/nerrad567/karaoke-core/internal/social"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by infrastructure clients reported on /admin/metrics.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RequestRecorder receives one sample per HTTP request.
type RequestRecorder interface {
	WriteRequestMetric(method, route string, status int, elapsed time.Duration)
}

// AccountStats reports account counts for the metrics endpoint.
type AccountStats interface {
	CountByRole(ctx context.Context) (map[auth.Role]int, error)
}

// SessionStats reports live session counts for the metrics endpoint.
type SessionStats interface {
	CountActive(ctx context.Context) (int, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Auth     *auth.Service
	Social   *social.Service
	Audit    audit.Repository

	// Optional.
	Accounts AccountStats
	Sessions SessionStats
	Checks   map[string]HealthChecker
	Requests RequestRecorder
	Version  string
}

// Server is the HTTP API server.
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	auth      *auth.Service
	social    *social.Service
	auditRepo audit.Repository
	accounts  AccountStats
	sessions  SessionStats
	checks    map[string]HealthChecker
	requests  RequestRecorder
	limiter   *ipRateLimiter
	version   string
	startTime time.Time
	router    http.Handler
	server    *http.Server
	cancel    context.CancelFunc
}

// New creates an API server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Social == nil {
		return nil, fmt.Errorf("social service is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit repository is required")
	}

	s := &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		auth:      deps.Auth,
		social:    deps.Social,
		auditRepo: deps.Audit,
		accounts:  deps.Accounts,
		sessions:  deps.Sessions,
		checks:    deps.Checks,
		requests:  deps.Requests,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if deps.Security.RateLimit.Enabled {
		s.limiter = newIPRateLimiter(deps.Security.RateLimit.RequestsPerMinute, deps.Security.RateLimit.Burst)
	}
	s.router = s.buildRouter()

	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the HTTP listener in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.limiter != nil {
		go s.limiter.cleanupLoop(srvCtx)
	}

	s.server = s.httpServer()

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// httpServer builds the listener configuration from the api section.
func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}
}

// Close stops background work and shuts the listener down gracefully.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the listener has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
