package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"loja/backend/internal/backup"
	"loja/backend/internal/cache"
	"loja/backend/internal/config"
	"loja/backend/internal/httpapi"
	"loja/backend/internal/logger"
	"loja/backend/internal/scheduler"
	"loja/backend/internal/service"
	"loja/backend/internal/store"
	"loja/backend/internal/store/memory"
	pgstore "loja/backend/internal/store/postgres"
	"loja/backend/internal/upload"
)

func runServe(parent context.Context, envFile string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, log, err := bootstrap(envFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	repo, closeRepo, err := openRepository(startCtx, cfg, log, true)
	if err != nil {
		return err
	}
	defer closeRepo()

	sessionTTL := time.Duration(cfg.SessionTTLMinutes) * time.Minute
	carts, closeCarts := openCartStore(startCtx, cfg, sessionTTL, log)
	defer closeCarts()

	svc := service.New(repo, carts, log, service.Options{LegacyRentalFinish: cfg.LegacyRentalFinish()})
	if cfg.LegacyRentalFinish() {
		log.Warn("rental finish policy is legacy: finishing a rental twice restores stock twice")
	}

	auth := httpapi.NewAuthManager(startCtx, cfg.AuthSecret, sessionTTL, repo)
	created, err := auth.EnsureAdmin(startCtx, cfg.SeedAdminPassword)
	switch {
	case created:
		log.Info("seeded admin account", zap.String("username", "admin"))
	case err != nil && cfg.SeedAdminPassword == "":
		log.Warn("no admin account exists; set SEED_ADMIN_PASSWORD or run `loja user add` to create one")
	case err != nil:
		return fmt.Errorf("seed admin: %w", err)
	}

	productPhotos, err := upload.NewLocalStorage(filepath.Join(cfg.UploadDir, "products"))
	if err != nil {
		return err
	}
	customerPhotos, err := upload.NewLocalStorage(filepath.Join(cfg.UploadDir, "customers"))
	if err != nil {
		return err
	}
	backups := backup.NewManager(cfg.BackupDir, repo, log)

	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		Backups:        backups,
		ProductPhotos:  productPhotos,
		CustomerPhotos: customerPhotos,
		Logger:         log,
		SecureCookies:  strings.HasPrefix(cfg.AllowedOrigin, "https://"),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown error", zap.Error(err))
		}
		return nil
	})

	if cfg.BackupCron != "" {
		sched, err := scheduler.New(cfg.BackupCron, backups, log)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return sched.Run(groupCtx)
		})
	}

	err = group.Wait()
	log.Info("server stopped")
	return err
}

// bootstrap loads configuration and installs the process logger.
func bootstrap(envFile string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(logger.Options{Mode: cfg.LogMode, File: cfg.LogFile})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}

// openRepository connects to postgres when DATABASE_URL is set and applies pending
// migrations. Without a URL it falls back to the in-memory store when allowMemory is true.
func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger, allowMemory bool) (store.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		if !allowMemory {
			return nil, nil, errors.New("DATABASE_URL must be set for this command")
		}
		log.Info("repository: in-memory")
		return memory.New(), func() {}, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	log.Info("repository: postgres")
	return pg, func() {
		if err := pg.Close(); err != nil {
			log.Warn("close postgres", zap.Error(err))
		}
	}, nil
}

func openCartStore(ctx context.Context, cfg config.Config, ttl time.Duration, log *zap.Logger) (cache.CartStore, func()) {
	if cfg.RedisAddr == "" {
		log.Info("carts: in-memory")
		return cache.NewMemoryCartStore(ttl), func() {}
	}
	redisCarts := cache.NewRedisCartStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ttl)
	if err := redisCarts.Ping(ctx); err != nil {
		log.Warn("redis unavailable, keeping carts in memory", zap.Error(err))
		_ = redisCarts.Close()
		return cache.NewMemoryCartStore(ttl), func() {}
	}
	log.Info("carts: redis", zap.String("addr", cfg.RedisAddr))
	return redisCarts, func() { _ = redisCarts.Close() }
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.SeedAdminPassword == "" {
		return nil
	}
	if len(cfg.SeedAdminPassword) < 8 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 8 characters")
	}
	if err := validatePasswordStrength(cfg.SeedAdminPassword); err != nil {
		return fmt.Errorf("SEED_ADMIN_PASSWORD is too weak: %w", err)
	}
	return nil
}

// validatePasswordStrength rejects passwords that repeat one character,
// walk a straight run such as "12345678", or appear on a short list of common choices.
func validatePasswordStrength(password string) error {
	known := map[string]bool{
		"password": true, "password1": true, "12345678": true, "123456789": true,
		"qwertyui": true, "qwerty123": true, "admin123": true, "admin1234": true,
		"iloveyou": true, "11111111": true, "abc12345": true,
	}
	if known[strings.ToLower(password)] {
		return fmt.Errorf("common password not allowed")
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("repeated-character password not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(password); i++ {
		diff := int(password[i]) - int(password[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential password not allowed")
	}

	return nil
}
