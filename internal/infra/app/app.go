package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/config"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/database"
	kafkainfra "github.com/hoale240803/kaopiz-sub000/internal/infra/kafka"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/logger"
	redisinfra "github.com/hoale240803/kaopiz-sub000/internal/infra/redis"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/security"
	"github.com/hoale240803/kaopiz-sub000/internal/infra/telemetry"
	"github.com/hoale240803/kaopiz-sub000/internal/repository/memory"
	postgresrepo "github.com/hoale240803/kaopiz-sub000/internal/repository/postgres"
	redisrepo "github.com/hoale240803/kaopiz-sub000/internal/repository/redis"
	"github.com/hoale240803/kaopiz-sub000/internal/transport/http/routes"
	"github.com/hoale240803/kaopiz-sub000/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

type Application struct {
	cfg          *config.AppConfig
	engine       *gin.Engine
	logger       *zap.Logger
	pool         *pgxpool.Pool
	redis        *redisinfra.Client
	producer     *kafkainfra.Producer
	tracer       *telemetry.TracerProvider
	audit        *usecase.AuditDispatcher
	housekeeping *usecase.HousekeepingService
}

func New(ctx context.Context, cfg *config.AppConfig) (app *Application, err error) {
	log, err := logger.New(cfg.App.Env, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app = &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			app.release()
		}
	}()

	app.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	metrics := telemetry.NewProvider()

	app.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	repos := postgresrepo.NewRepositories(app.pool)

	if cfg.RateLimit.Backend == config.BackendRedis || cfg.Revocation.Backend == config.BackendRedis {
		app.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
	}

	var rateLimitStore port.RateLimitStore = memory.NewRateLimitStore()
	if cfg.RateLimit.Backend == config.BackendRedis {
		rateLimitStore = redisrepo.NewRateLimitRepository(app.redis.Client(), redisrepo.SlidingWindowConfig{
			KeyPrefix: cfg.Redis.RateLimitPrefix,
			TTL:       2 * cfg.RateLimit.LoginWindow(),
		})
	}

	var registry port.RevocationRegistry = security.NewJTIDenylist(security.JTIDenylistOptions{
		MaxEntries: cfg.Revocation.MaxEntries,
	})
	if cfg.Revocation.Backend == config.BackendRedis {
		registry = redisrepo.NewRevocationRepository(app.redis.Client(), cfg.Redis.RevokedPrefix)
	}

	log.Info("storage backends selected",
		zap.String("rate_limit", cfg.RateLimit.Backend),
		zap.String("revocation", cfg.Revocation.Backend),
	)

	keyProvider, err := security.NewKeyProvider(cfg.App.Env, cfg.JWT.KeyDirectory, cfg.JWT.KeyID)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	jwtManager := security.NewJWTManager(keyProvider)

	keyID := cfg.JWT.KeyID
	if named, ok := keyProvider.(interface{ SigningKeyID() string }); ok && named.SigningKeyID() != "" {
		keyID = named.SigningKeyID()
	}
	tokenIssuer, err := security.NewTokenIssuer(jwtManager, security.TokenIssuerConfig{
		KeyID:    keyID,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.Auth.AccessTokenTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	app.audit = usecase.NewAuditDispatcher(app.auditSink(metrics), cfg.Audit, log)

	tokens := usecase.NewTokenService(tokenIssuer, registry, metrics, log)
	refreshTokens := usecase.NewRefreshTokenService(repos.RefreshTokens, cfg.Auth, log)
	limiter := usecase.NewLoginRateLimiter(rateLimitStore, cfg.RateLimit, log)
	verifiers := usecase.NewCredentialVerifiers(hasher, repos.Partnerships, usecase.CredentialRulesFromConfig(cfg.Auth), log)

	authService := usecase.NewAuthService(usecase.AuthServiceDeps{
		Principals:    repos.Principals,
		Verifiers:     verifiers,
		Tokens:        tokens,
		RefreshTokens: refreshTokens,
		RateLimiter:   limiter,
		Hasher:        hasher,
		Audit:         app.audit,
		Metrics:       metrics,
	}, cfg.Auth, log)

	app.housekeeping = usecase.NewHousekeepingService(refreshTokens, tokens, limiter, cfg.Housekeeping.Interval, log)

	deps := routes.Dependencies{
		Config:   cfg,
		Logger:   log,
		Auth:     authService,
		KeySet:   jwtManager,
		Registry: metrics.Registry(),
		Database: app.pool,
	}
	if app.redis != nil {
		deps.Cache = app.redis
	}
	app.engine = routes.Register(deps)

	return app, nil
}

// auditSink publishes to Kafka when enabled and falls back to structured logs otherwise.
func (a *Application) auditSink(metrics *telemetry.Provider) port.AuditSink {
	if !a.cfg.Kafka.Enabled || len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka audit publishing disabled, logging audit events")
		return kafkainfra.NewLogAuditSink(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, logging audit events", zap.Error(err))
		return kafkainfra.NewLogAuditSink(a.logger)
	}
	a.producer = producer
	go metrics.CountAuditFailures(producer.Errors())
	return kafkainfra.NewAuditPublisher(producer, a.cfg.App, a.logger)
}

func (a *Application) Run(ctx context.Context) error {
	defer a.release()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.housekeeping.Start()

	a.logger.Info("starting auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// release stops background work first so in-flight audit events reach the sink
// before the producer and connections close.
func (a *Application) release() {
	if a.housekeeping != nil {
		a.housekeeping.Stop()
	}
	if a.audit != nil {
		a.audit.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
}
