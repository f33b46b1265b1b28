package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	initLogger(cfg)

	tp, err := initTracer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracer")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error shutting down tracer")
		}
	}()

	mp, err := initMetrics(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics")
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error shutting down meter")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := initDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer dbPool.Close()

	if err := ApplySchema(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}

	// Initialize dependencies
	tracer := tp.Tracer(cfg.ServiceName)
	meter := mp.Meter(cfg.ServiceName)
	credentials := StaticCredentialProvider{Token: cfg.SystemToken}

	inventory := NewInventoryClient(cfg.InventoryURL, cfg.InventoryTimeout, credentials)
	compensator, err := NewCompensator(cfg, inventory, credentials)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize compensation")
	}
	coordinator, err := NewReservationCoordinator(inventory, compensator, cfg.ReservationTimeout, tracer, meter)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize coordinator")
	}

	repository := NewOrderRepository(dbPool)
	useCase, err := NewOrderUseCase(repository, coordinator, ContextBuyerResolver{}, meter)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize use case")
	}

	var idempotency IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		idempotency = NewRedisIdempotencyStore(rdb, cfg.ServiceName, cfg.Redis.IdempotencyTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("✅ Idempotency keys enabled")
	}

	handler := NewOrderHandler(useCase, idempotency, tracer)
	r := newRouter(cfg, handler)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("compensation", cfg.Compensation).Msg("🚀 Orders Service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("🛑 Shutting down orders service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down server")
	}
}

func newRouter(cfg Config, handler *OrderHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(RequestLogger())
	r.Use(BuyerIdentity())

	r.GET("/health", handler.HealthCheck)

	orders := r.Group("/api/orders")
	orders.POST("", handler.CreateOrder)
	orders.GET("/:id", handler.GetOrder)
	orders.PATCH("/:id/status", handler.UpdateStatus)

	return r
}

func initDB(ctx context.Context, dbCfg DatabaseConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Configure connection pool
	config.MaxConns = dbCfg.MaxConns
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			log.Info().Msg("✅ Connected to orders database with connection pool")
			return pool, nil
		}
		log.Info().Msgf("⏳ Waiting for database... (%d/30)", i+1)
		time.Sleep(1 * time.Second)
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after 30 attempts")
}
