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

	"go.uber.org/zap"

	"poslot/backend/internal/allocator"
	"poslot/backend/internal/cache"
	"poslot/backend/internal/catalog"
	"poslot/backend/internal/config"
	"poslot/backend/internal/httpapi"
	"poslot/backend/internal/logging"
	"poslot/backend/internal/service"
	"poslot/backend/internal/store"
	"poslot/backend/internal/store/memory"
	pgstore "poslot/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, syncLogs, err := logging.New(cfg.LogLevel, cfg.Debug, cfg.LogFile)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer syncLogs()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", zap.Error(err))
			}
		}
	}()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		applied, err := pg.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		repo = pg
		logger.Info("repository: postgres", zap.Ints("migrations_applied", applied))
	} else {
		repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory")
	}

	productCache := cache.ProductCache(cache.NoopProductCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisProductCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			productCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("cache: noop")
	}

	alloc := allocator.New(repo, logger,
		allocator.WithMaxAttempts(cfg.AllocatorMaxAttempts),
		allocator.WithTimeout(cfg.PersistenceTimeout),
	)
	products := catalog.New(repo, productCache, cfg.ProductCacheTTL, logger)
	svc := service.New(repo, alloc, products, logger,
		service.WithMaxAttempts(cfg.AllocatorMaxAttempts),
		service.WithTimeout(cfg.PersistenceTimeout),
	)
	auth, err := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL, repo, logger)
	if err != nil {
		return err
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("poslot backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err, ok := <-serveErr:
		if ok {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && cfg.DatabaseURL != "" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin when DATABASE_URL is set")
	}
	return nil
}
