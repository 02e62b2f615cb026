// Karaoke Core - account, session and authorisation service
//
// This is the main entry point for the karaoke core backend. It owns:
//   - Registration, login and guest accounts
//   - JWT access tokens and single-session refresh tokens
//   - Role-based administration (guest, user, admin, own)
//   - Profiles and friendships
//
// Optional MQTT and InfluxDB connections mirror account events to the
// event bus and to time-series storage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/karaoke-core/internal/api"
	"github.com/nerrad567/karaoke-core/internal/audit"
	"github.com/nerrad567/karaoke-core/internal/auth"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/config"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/database"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/logging"
	"github.com/nerrad567/karaoke-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/karaoke-core/internal/social"
	"github.com/nerrad567/karaoke-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// sessionPurgeInterval is how often expired refresh tokens are deleted.
const sessionPurgeInterval = time.Hour

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting karaoke core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	report, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete",
		"schema_version", report.Version,
		"applied", report.Applied,
	)

	userRepo := auth.NewUserRepository(db.DB)
	tokenRepo := auth.NewTokenRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret:               cfg.Security.JWT.Secret,
		Issuer:               cfg.Security.JWT.Issuer,
		AccessTTL:            cfg.Security.JWT.AccessTTL(),
		RefreshTTL:           cfg.Security.JWT.RefreshTTL(),
		PrivilegedRefreshTTL: cfg.Security.JWT.PrivilegedRefreshTTL(),
	})
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}
	sessions := auth.NewSessions(tokenRepo, issuer)

	// The recorder outlives request contexts and must drain before the
	// database closes, so it gets its own context.
	recorder := audit.NewRecorder(auditRepo, log.Logger)
	stopRecorder := startBackground(recorder.Run)
	defer func() {
		stopRecorder()
		log.Info("audit recorder stopped")
	}()

	checks := map[string]api.HealthChecker{"database": db}
	publishers := []auth.EventPublisher{recorder}

	// Connect to MQTT (if enabled)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("closing MQTT connection")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
		checks["mqtt"] = mqttClient

		// Registered after Close so queued events are flushed while still connected.
		sink := newMQTTEventSink(mqttClient, eventQueueSize, log)
		stopSink := startBackground(sink.Run)
		defer stopSink()
		publishers = append(publishers, sink)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (if enabled)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
		checks["influxdb"] = influxClient
		publishers = append(publishers, influxEventPublisher(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	authSvc, err := auth.NewService(auth.ServiceDeps{
		Users:    userRepo,
		Sessions: sessions,
		Issuer:   issuer,
		Events:   auth.MultiPublisher(publishers...),
		Logger:   log.With("component", "auth").Logger,
	})
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	if _, seedErr := auth.SeedOwner(ctx, userRepo, auth.SeedConfig{
		Username: cfg.Seed.OwnerUsername,
		Email:    cfg.Seed.OwnerEmail,
	}, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding owner account: %w", seedErr)
	}

	if mqttClient != nil {
		worker := newRevokeWorker(authSvc, commandQueueSize, log)
		stopWorker := startBackground(worker.Run)
		defer stopWorker()

		topic := mqtt.Topics{}.AuthRevokeCommand()
		if subErr := mqttClient.Subscribe(topic, mqttClient.QoS(), worker.Handle); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
		log.Info("listening for operator commands", "topic", topic)
	}

	purgeExpiredSessions(ctx, sessions, log)
	go purgeLoop(ctx, sessions, log)

	deps := api.Deps{
		Config:   cfg.API,
		Security: cfg.Security,
		Logger:   log,
		Auth:     authSvc,
		Social:   social.NewService(social.NewSQLiteRepository(db.DB)),
		Audit:    auditRepo,
		Accounts: userRepo,
		Sessions: tokenRepo,
		Checks:   checks,
		Version:  version,
	}
	if influxClient != nil {
		deps.Requests = influxClient
	}

	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Operator command worker, InfluxDB, MQTT event sink and MQTT (if enabled)
	// 3. Audit recorder drain
	// 4. Database

	log.Info("karaoke core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses KARAOKE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("KARAOKE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every registered infrastructure connection and returns
// the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// startBackground runs fn on its own goroutine with a context independent of
// the shutdown signal. The returned function cancels it and waits for fn to
// return, so deferred stops finish before the database closes.
func startBackground(fn func(ctx context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// sessionPurger deletes refresh tokens past their expiry.
type sessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func purgeExpiredSessions(ctx context.Context, p sessionPurger, log *logging.Logger) {
	n, err := p.PurgeExpired(ctx)
	if err != nil {
		log.Error("purging expired sessions", "error", err)
		return
	}
	if n > 0 {
		log.Info("expired sessions purged", "count", n)
	}
}

// purgeLoop runs purgeExpiredSessions every sessionPurgeInterval until ctx ends.
func purgeLoop(ctx context.Context, p sessionPurger, log *logging.Logger) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeExpiredSessions(ctx, p, log)
		}
	}
}
