package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/parking-session-engine/internal/cache"
	"github.com/fairyhunter13/parking-session-engine/internal/config"
	"github.com/fairyhunter13/parking-session-engine/internal/handler"
	"github.com/fairyhunter13/parking-session-engine/internal/metrics"
	"github.com/fairyhunter13/parking-session-engine/internal/repository"
	"github.com/fairyhunter13/parking-session-engine/internal/service"
	"github.com/fairyhunter13/parking-session-engine/internal/validator"
	"github.com/fairyhunter13/parking-session-engine/migrations"
	"github.com/fairyhunter13/parking-session-engine/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	initLogger(cfg)

	ctx := context.Background()

	// Load already validated the rate.
	defaultRate, _ := cfg.Parking.DefaultRate()

	opts := database.Options{DSN: cfg.DB.DSN(), MaxRetries: cfg.DB.MaxRetries}
	if cfg.DB.AutoMigrate {
		opts.Migrate = func(ctx context.Context, pool *pgxpool.Pool) error {
			return migrations.Apply(ctx, pool)
		}
	}
	pool, err := database.Connect(ctx, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// The open ticket cache is optional; without it every lookup hits Postgres.
	var (
		redisClient *redis.Client
		ticketCache *cache.OpenTicketStore
	)
	if cfg.Redis.Enabled() {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, running without open ticket cache")
		} else {
			ticketCache = cache.NewOpenTicketStore(redisClient, cfg.Redis.TTL)
			log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.TTL).Msg("open ticket cache enabled")
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      "Parking Session Engine",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    64 * 1024,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())

	validate := validator.New()
	m := metrics.New(prometheus.DefaultRegisterer)

	ledgerOpts := service.LedgerOptions{DefaultRate: defaultRate, Metrics: m}
	if ticketCache != nil {
		ledgerOpts.Cache = ticketCache
	}

	ticketRepo := repository.NewTicketRepository(pool)
	programRepo := repository.NewDiscountProgramRepository(pool)
	ledgerService := service.NewLedgerService(pool, ticketRepo, programRepo, ledgerOpts)
	ticketHandler := handler.NewTicketHandler(ledgerService, validate)
	programHandler := handler.NewDiscountProgramHandler(ledgerService, validate)

	var healthHandler *handler.HealthHandler
	if ticketCache != nil {
		healthHandler = handler.NewHealthHandler(pool, ticketCache)
	} else {
		healthHandler = handler.NewHealthHandler(pool, nil)
	}
	app.Get("/health", healthHandler.Check)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Post("/estacionamento/entrada", ticketHandler.OpenTicket)
	api.Get("/estacionamento/por-placa", ticketHandler.GetOpenTicket)
	api.Get("/estacionamento/:id/resumo", ticketHandler.PreviewFee)
	api.Patch("/estacionamento/:id/saida", ticketHandler.CloseTicket)
	api.Get("/convenios", programHandler.ListDiscountPrograms)

	go func() {
		log.Info().
			Str("port", cfg.Server.Port).
			Str("default_rate", defaultRate.String()).
			Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// In-flight closes must commit before the pool goes away.
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis client")
		}
	}

	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("server stopped")
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
