package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"invoicepos/internal/cache"
	"invoicepos/internal/config"
	"invoicepos/internal/draft"
	"invoicepos/internal/httpapi"
	"invoicepos/internal/logger"
	"invoicepos/internal/lookup"
	"invoicepos/internal/metrics"
	"invoicepos/internal/service"
	"invoicepos/internal/store"
	"invoicepos/internal/store/memory"
	pgstore "invoicepos/internal/store/postgres"
	"invoicepos/internal/xid"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	if err := xid.Init(cfg.SnowflakeNode); err != nil {
		log.Fatal("id generator", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal("apply schema", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	var (
		snapshots   draft.SnapshotStore = cache.NewMemorySnapshotStore()
		lookupCache cache.LookupCache   = cache.NoopLookupCache{}
	)
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.DraftFreshness)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, drafts will not survive a restart", zap.Error(err))
			_ = redisCache.Close()
		} else {
			snapshots = redisCache
			lookupCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: in-memory snapshots, no lookup cache")
	}

	m := metrics.New()
	finder := lookup.NewEngine(lookupCache, time.Duration(cfg.LookupCacheTTLSeconds)*time.Second)
	svc := service.New(repo, finder, snapshots, service.Config{
		DefaultStoreID:  cfg.StoreID,
		FreshnessWindow: cfg.DraftFreshness,
		Tolerance:       cfg.PaymentTolerance,
		CurrencySymbol:  cfg.CurrencySymbol,
		Logger:          log,
		Metrics:         m,
	})
	auth, err := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, log)
	if err != nil {
		log.Fatal("auth manager", zap.Error(err))
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, m.Handler(), log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("invoice backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

var placeholderSecrets = []string{"change-me", "changeme", "secret", "dev-change-me"}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	lowered := strings.ToLower(cfg.AuthSecret)
	for _, placeholder := range placeholderSecrets {
		if strings.Contains(lowered, placeholder) {
			return fmt.Errorf("AUTH_SECRET looks like a placeholder")
		}
	}
	if strings.TrimSpace(cfg.AllowedOrigin) == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin, not *")
	}
	return nil
}
