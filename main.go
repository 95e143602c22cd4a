package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-account/account"
	"go-account/config"
	"go-account/handler"
	"go-account/lock"
	"go-account/store"
	"go-account/store/postgres"
	"go-account/transaction"
)

func main() {
	cfg := config.LoadConfig(nil)

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer closeRepo()

	locker, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("lock backend unavailable", zap.Error(err))
	}
	defer closeLocker()

	accounts := account.NewService(repo, locker, logger, account.WithLockTimeout(cfg.LockTimeout))
	engine := transaction.NewEngine(repo, locker, logger, transaction.WithLockTimeout(cfg.LockTimeout))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	// gin.Default() adds the Logger and Recovery middleware
	r := gin.Default()
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	handler.New(accounts, engine, logger).Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("env", cfg.Env), zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	logger.Info("server exited")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// openRepository picks Postgres when DATABASE_URL is set and the in-memory
// store otherwise
func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewStore(), func() {}, nil
	}

	if err := postgres.Migrate(cfg.DatabaseURL, logger.Named("migrate")); err != nil {
		return nil, nil, err
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to postgres")

	return postgres.NewRepository(pool), func() {
		pool.Close()
		logger.Info("database connection closed")
	}, nil
}

// openLocker picks the RedLock locker when REDIS_ADDR is set so several
// instances can share account locks
func openLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (lock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return lock.NewKeyedMutex(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	locker, err := lock.NewRedisLocker(client, lock.DefaultRedisOptions(), logger.Named("lock"))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("using redis account locks", zap.String("addr", cfg.RedisAddr))

	return locker, func() { _ = client.Close() }, nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}
