package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/threatwatch/threatwatch/internal/api"
	"github.com/threatwatch/threatwatch/internal/audit"
	"github.com/threatwatch/threatwatch/internal/config"
	"github.com/threatwatch/threatwatch/internal/database"
	"github.com/threatwatch/threatwatch/internal/handlers"
	"github.com/threatwatch/threatwatch/internal/logging"
	"github.com/threatwatch/threatwatch/internal/metrics"
	"github.com/threatwatch/threatwatch/internal/middleware"
	"github.com/threatwatch/threatwatch/internal/ratelimit"
	"github.com/threatwatch/threatwatch/internal/services"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Debug("No .env file loaded", zap.Error(envErr))
	}
	logger.Info("Starting ThreatWatch",
		zap.String("version", handlers.Version),
		zap.String("environment", cfg.Environment),
		zap.String("jwt_secret_source", cfg.JWTSecretSource),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("ThreatWatch stopped with an error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func run(cfg *config.Config, log *zap.Logger) error {
	db, err := database.Connect(cfg.DatabaseURL, gormLogLevel(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warn("Failed to close database", zap.Error(err))
		}
	}()
	log.Info("Database connection established", zap.String("dialect", db.Dialector.Name()))

	if err := database.AutoMigrate(db); err != nil {
		return err
	}

	var adminHash string
	if cfg.AdminUsername != "" {
		adminHash, err = services.HashPassword(cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("failed to hash admin password: %w", err)
		}
	}
	if err := database.InitializeDefaults(db, cfg.AdminUsername, adminHash, log); err != nil {
		return err
	}

	m := metrics.New()
	hub := handlers.NewStreamHub(cfg.CORSAllowedOrigins, log)
	defer hub.Close()

	recorder := audit.NewRecorder(log, m, hub)
	closers := wireAuditSinks(cfg, recorder, log)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, c := range closers {
			c(ctx)
		}
	}()
	log.Info("Audit sinks configured", zap.Strings("sinks", recorder.Sinks()))

	engine := services.NewAlertEngine(db, recorder, log)
	events := services.NewEventService(db, engine, log)
	events.SetObserver(m)
	alerts := services.NewAlertService(db, recorder, log)
	accounts := services.NewAccountService(db, services.PasswordPolicy{MinLength: cfg.PasswordMinLength}, log)

	limiter, err := newLimiter(cfg, log)
	if err != nil {
		return err
	}

	jwtAuth := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		JWTSecret:  cfg.JWTSecret,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, accounts, log)

	rateLimit := middleware.NewRateLimitMiddleware(limiter, middleware.RateLimitConfig{
		AnonPerMinute: cfg.RateLimitAnonPerMinute,
		UserPerMinute: cfg.RateLimitUserPerMinute,
		SkipPaths:     []string{"/health", "/metrics"},
	}, m, log)

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Routes: []handlers.RouteRegistrar{
			handlers.NewHTTPHandler(db, m.Handler(), log),
			handlers.NewAuthHandler(accounts, jwtAuth, log),
			handlers.NewEventHandler(events, api.PageLimits{Default: cfg.EventPageSize, Max: cfg.EventMaxPageSize}, log),
			handlers.NewAlertHandler(alerts, api.PageLimits{Default: cfg.AlertPageSize, Max: cfg.AlertMaxPageSize}, log),
			handlers.NewAccountHandler(accounts, log),
			handlers.NewDemoHandler(events, log),
			handlers.NewDocsHandler(log),
			hub,
		},
		JWTAuth:        jwtAuth,
		RateLimit:      rateLimit,
		Metrics:        m,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		TrustedProxies: trustedProxies,
		Log:            log,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	log.Info("API ready",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.HTTPPort)),
		zap.String("docs", fmt.Sprintf("http://localhost:%d/api/docs", cfg.HTTPPort)),
	)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Received shutdown signal, cleaning up")
	// websocket connections are hijacked, so Shutdown does not wait for them
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown timed out", zap.Error(err))
		_ = httpServer.Close()
	}
	return nil
}

// wireAuditSinks adds the optional network sinks behind async queues and
// returns their shutdown functions
func wireAuditSinks(cfg *config.Config, recorder *audit.Recorder, log *zap.Logger) []func(context.Context) {
	var closers []func(context.Context)

	if cfg.SlackEnabled() {
		slackSink := audit.NewAsyncSink(
			audit.NewSlackSink(audit.NewSlackClient(cfg.SlackBotToken, ""), cfg.SlackAlertsChannel),
			0, log.Named("audit.slack"))
		recorder.Add(slackSink)
		closers = append(closers, func(ctx context.Context) {
			if err := slackSink.Close(ctx); err != nil {
				log.Warn("Slack audit queue not drained", zap.Error(err))
			}
		})
	}

	if cfg.KafkaEnabled() {
		writer, err := audit.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Warn("Kafka audit sink disabled", zap.Error(err))
			return closers
		}
		kafkaSink := audit.NewKafkaSink(writer, cfg.KafkaTopic)
		async := audit.NewAsyncSink(kafkaSink, 0, log.Named("audit.kafka"))
		recorder.Add(async)
		closers = append(closers, func(ctx context.Context) {
			if err := async.Close(ctx); err != nil {
				log.Warn("Kafka audit queue not drained", zap.Error(err))
			}
			if err := kafkaSink.Close(); err != nil {
				log.Warn("Failed to close Kafka writer", zap.Error(err))
			}
		})
	}
	return closers
}

// newLimiter shares counters through Redis when REDIS_URL is set and keeps
// them in process otherwise
func newLimiter(cfg *config.Config, log *zap.Logger) (ratelimit.Limiter, error) {
	if cfg.RedisURL == "" {
		log.Info("Rate limiting with in-memory buckets")
		return ratelimit.NewMemoryLimiter(), nil
	}

	client, err := ratelimit.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.NewRedisLimiter(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := limiter.Ping(ctx); err != nil {
		// requests fail open when Redis is down, so startup does not block on it
		log.Warn("Redis unreachable, rate limiting will fail open until it recovers", zap.Error(err))
	} else {
		log.Info("Rate limiting with Redis", zap.String("addr", client.Options().Addr))
	}
	return limiter, nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch logging.ParseLevel(level).String() {
	case "debug":
		return gormlogger.Info
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Warn
	}
}
