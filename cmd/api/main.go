package main

import (
	"context"
	"fmt"
	"io"
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fairyhunter13/storefront-cart/internal/config"
	"github.com/fairyhunter13/storefront-cart/internal/handler"
	"github.com/fairyhunter13/storefront-cart/internal/middleware"
	"github.com/fairyhunter13/storefront-cart/internal/queue"
	"github.com/fairyhunter13/storefront-cart/internal/repository"
	"github.com/fairyhunter13/storefront-cart/internal/service"
	"github.com/fairyhunter13/storefront-cart/internal/store"
	"github.com/fairyhunter13/storefront-cart/internal/validator"
	"github.com/fairyhunter13/storefront-cart/pkg/cache"
	"github.com/fairyhunter13/storefront-cart/pkg/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	initLogger(cfg)

	ctx := context.Background()

	// The coupon catalogue always lives in postgres, whatever STORE_BACKEND says.
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to apply database schema")
	}

	st, closeStore, err := openStore(ctx, cfg, pool)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open state store")
	}
	log.Info().Str("backend", cfg.Store.Backend).Msg("state store ready")

	rabbit, err := amqp.Dial(cfg.Rabbit.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	ch, err := rabbit.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open rabbitmq channel")
	}
	publisher, err := queue.NewRabbitPublisher(queue.AMQPChannel{Channel: ch}, cfg.Rabbit.Exchange, cfg.Rabbit.RoutingKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up order publisher")
	}

	// Params and headers end up in long-lived session state, so request strings must not be reused.
	app := fiber.New(fiber.Config{
		AppName:      "Storefront Cart",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		Immutable:    true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(middleware.Metrics())
	app.Use(middleware.Visitor())

	validate := validator.New()

	couponRepo := repository.NewCouponRepository(pool)
	claimRepo := repository.NewClaimRepository(pool)
	couponService := service.NewCouponService(pool, couponRepo, claimRepo)
	cartService := service.NewCartService(st, couponService, publisher, service.CartOptions{
		KeyPrefix:   cfg.Store.KeyPrefix,
		MaxQuantity: cfg.Cart.MaxQuantity,
		DefaultSize: cfg.Cart.DefaultSize,
		Currency:    cfg.Cart.Currency,
		RecentLimit: cfg.Cart.RecentLimit,
		IdleTimeout: cfg.Cart.SessionIdleTimeout,
	})
	evictorCtx, stopEvictor := context.WithCancel(ctx)
	evictorDone := make(chan struct{})
	go func() {
		defer close(evictorDone)
		cartService.RunEvictor(evictorCtx, cfg.Cart.SessionSweepInterval)
	}()

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	handler.Register(app, handler.Handlers{
		Cart:   handler.NewCartHandler(cartService, validate),
		Shelf:  handler.NewShelfHandler(cartService),
		Coupon: handler.NewCouponHandler(couponService, validate),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": pool,
			"store":    st,
		}),
	})

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
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

	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	stopEvictor()
	<-evictorDone

	// Dependencies close AFTER server shutdown, even if shutdown timed out.
	if err := ch.Close(); err != nil {
		log.Error().Err(err).Msg("error closing rabbitmq channel")
	}
	if err := rabbit.Close(); err != nil {
		log.Error().Err(err).Msg("error closing rabbitmq connection")
	}
	if err := closeStore(); err != nil {
		log.Error().Err(err).Msg("error closing state store")
	}
	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("server stopped")
}

// openStore builds the state store selected by STORE_BACKEND. The returned
// func releases any connection the store owns.
func openStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (store.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		return store.NewPostgres(pool), noop, nil
	case config.BackendRedis:
		rdb, err := cache.NewClient(ctx, cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, 5)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedis(rdb), rdb.Close, nil
	case config.BackendSQLite:
		s, err := store.NewSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendMemory:
		return store.NewMemory(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// initLogger configures zerolog based on the application configuration.
func initLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Log.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	if cfg.Log.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rotated)
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
