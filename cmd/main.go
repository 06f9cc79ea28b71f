package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/cart"
	"github.com/fjod/go_cart/storefront-cart/internal/catalog"
	"github.com/fjod/go_cart/storefront-cart/internal/config"
	h "github.com/fjod/go_cart/storefront-cart/internal/http"
	"github.com/fjod/go_cart/storefront-cart/internal/money"
	"github.com/fjod/go_cart/storefront-cart/internal/poller"
	"github.com/fjod/go_cart/storefront-cart/internal/reconcile"
	"github.com/fjod/go_cart/storefront-cart/internal/storage"
	"github.com/fjod/go_cart/storefront-cart/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})

	feeRate, err := money.RateToBasisPoints(cfg.PaymentFeeRate)
	if err != nil {
		log.Fatal().Err(err).Str("rate", cfg.PaymentFeeRate).Msg("invalid PAYMENT_FEE_RATE")
	}
	policy, err := reconcile.ParsePolicy(cfg.Reconcile.Policy)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ENFORCEMENT_POLICY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStorage, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open storage")
	}
	defer closeStorage()

	registry := cart.NewRegistry(st, log)
	go registry.RunEviction(ctx, cfg.Storage.IdleTimeout)
	catalogClient := catalog.NewHTTPClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout, log)
	reconciler := reconcile.New(catalogClient, policy, log, reconcile.WithConcurrency(cfg.Reconcile.Concurrency))

	scheduler := reconcile.NewScheduler(reconciler, registry, cfg.Reconcile.Interval, log)
	go scheduler.Run(ctx)

	if cfg.Kafka.Enabled() {
		p := poller.NewPoller(registry, log, cfg.Kafka.Topic, cfg.Kafka.GroupID, cfg.Kafka.Brokers...)
		defer p.Close()
		go p.Run(ctx)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("checkout poller started")
	}

	cartHandler := h.NewCartHandler(registry, reconciler, feeRate, requestTimeout, log,
		h.WithDefaultLocale(cfg.App.DefaultLocale))
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      h.NewRouter(cartHandler, requestTimeout, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("storage", cfg.Storage.Driver).
			Str("policy", policy.Name()).
			Msg("storefront cart starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down storefront cart...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("storefront cart stopped")
}

// openStorage connects the configured backend and returns its cleanup.
func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Storage, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis ping succeeded")
		return storage.NewRedisStorage(client, cfg.Storage.CartTTL), func() { _ = client.Close() }, nil

	case config.StorageMongo:
		db, err := storage.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.DBName)
		if err != nil {
			return nil, nil, err
		}
		mongoStorage := storage.NewMongoStorage(db, cfg.Storage.CartTTL)
		if err := mongoStorage.CreateIndexes(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to create mongo indexes")
		}
		log.Info().Str("db", cfg.Mongo.DBName).Msg("connected to MongoDB")
		return mongoStorage, func() { _ = db.Client().Disconnect(context.Background()) }, nil

	case config.StoragePostgres:
		cred := &storage.Credentials{
			Host:         cfg.DB.Host,
			Port:         cfg.DB.Port,
			User:         cfg.DB.User,
			Password:     cfg.DB.Password,
			DBName:       cfg.DB.Name,
			MaxOpenConns: cfg.DB.MaxOpenConns,
		}
		pg, err := storage.NewPostgresStorage(ctx, cred)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.RunMigrations(filepath.Join(cfg.DB.MigrationsPath, "postgres")); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		log.Info().Str("host", cfg.DB.Host).Str("db", cfg.DB.Name).Msg("connected to Postgres")
		return pg, func() { _ = pg.Close() }, nil

	case config.StorageSQLite:
		lite, err := storage.NewSQLiteStorage(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := lite.RunMigrations(filepath.Join(cfg.DB.MigrationsPath, "sqlite")); err != nil {
			_ = lite.Close()
			return nil, nil, err
		}
		log.Info().Str("path", cfg.SQLite.Path).Msg("opened SQLite cart database")
		return lite, func() { _ = lite.Close() }, nil

	default:
		log.Warn().Msg("using in-memory cart storage; carts are lost on restart")
		return storage.NewMemoryStorage(), func() {}, nil
	}
}
