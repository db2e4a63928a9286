package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"inventario/backend/internal/bootstrap"
	"inventario/backend/internal/cache"
	"inventario/backend/internal/config"
	"inventario/backend/internal/httpapi"
	"inventario/backend/internal/logging"
	"inventario/backend/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	backend, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("open repository: %v", err)
	}
	closers := []func() error{backend.Close}
	logger.WithField("repository", backend.Name).Info("repository ready")

	idempotency := cache.IdempotencyStore(cache.NoopIdempotencyStore{})
	if cfg.RedisAddr != "" {
		redisStore := cache.NewRedisIdempotencyStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisStore.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, idempotency keys disabled")
			_ = redisStore.Close()
		} else {
			idempotency = redisStore
			closers = append(closers, redisStore.Close)
			logger.Info("idempotency: redis")
		}
	} else {
		logger.Info("idempotency: noop")
	}

	svc := service.New(backend.Repo, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute,
		httpapi.Account{Username: cfg.AdminUsername, Password: cfg.AdminPassword, Role: httpapi.RoleAdmin},
		httpapi.Account{Username: cfg.ClerkUsername, Password: cfg.ClerkPassword, Role: httpapi.RoleClerk},
	)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin,
		httpapi.WithLogger(logger),
		httpapi.WithHealthCheck(backend),
		httpapi.WithIdempotency(idempotency, time.Duration(cfg.IdempotencyTTLSeconds)*time.Second),
	)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("inventory backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if err := validatePassword("ADMIN_PASSWORD", cfg.AdminPassword); err != nil {
		return err
	}
	if err := validatePassword("CLERK_PASSWORD", cfg.ClerkPassword); err != nil {
		return err
	}
	if cfg.AdminUsername == cfg.ClerkUsername {
		return fmt.Errorf("ADMIN_USERNAME and CLERK_USERNAME must differ")
	}
	if _, err := bootstrap.MigrationVariant(cfg); err != nil {
		return err
	}
	return nil
}

// validatePassword rejects short passwords and ones from a known-weak list.
// Bcrypt hashes are accepted as they are.
func validatePassword(key, password string) error {
	if len(password) < 10 {
		return fmt.Errorf("%s must be set and at least 10 characters", key)
	}
	known := map[string]bool{
		"password12": true, "1234567890": true, "admin12345": true,
		"changeme123": true, "qwertyuiop": true, "0000000000": true,
	}
	if known[password] {
		return fmt.Errorf("%s is too weak: common password not allowed", key)
	}

	// Reject single repeated characters.
	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("%s is too weak: repeated character not allowed", key)
	}
	return nil
}
