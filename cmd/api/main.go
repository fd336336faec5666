package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/punchamoorthee/hostelpay/internal/api"
	"github.com/punchamoorthee/hostelpay/internal/auth"
	"github.com/punchamoorthee/hostelpay/internal/clock"
	"github.com/punchamoorthee/hostelpay/internal/config"
	"github.com/punchamoorthee/hostelpay/internal/provider"
	"github.com/punchamoorthee/hostelpay/internal/service"
	"github.com/punchamoorthee/hostelpay/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger config depends on cfg, so this one goes through a bootstrap logger.
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := store.Connect(ctx, cfg.DBSource)
	if err != nil {
		logger.Fatal("Unable to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	clk := clock.RealClock{}

	// Initialize Layers
	ledgerStore := store.NewLedgerStore(dbPool, clk)
	if err := ledgerStore.Migrate(ctx); err != nil {
		logger.Fatal("migrate schema", zap.Error(err))
	}
	if err := ensureAdmin(ctx, ledgerStore, cfg, logger); err != nil {
		logger.Fatal("seed admin account", zap.Error(err))
	}

	var tokenCache provider.TokenCache = provider.NewMemoryTokenCache(clk)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Unable to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		tokenCache = provider.NewRedisTokenCache(rdb, "", clk)
		logger.Info("provider credential cache backed by redis", zap.String("addr", cfg.RedisAddr))
	}

	providerClient := provider.NewClient(provider.Config{
		BaseURL:      cfg.ProviderBaseURL,
		ClientID:     cfg.ProviderClientID,
		ClientSecret: cfg.ProviderClientSecret,
		Timeout:      cfg.ProviderTimeout,
	}, tokenCache, clk, logger.Named("provider"))

	rechargeService := service.NewRechargeService(providerClient, ledgerStore, clk, logger.Named("recharge"))
	signer := auth.NewJWTSigner(cfg.JWTSecret, auth.SessionTTL)
	login := auth.NewLoginService(ledgerStore, signer, clk)

	handler := api.NewHandler(rechargeService, ledgerStore, login, logger.Named("http"), cfg.PublicBaseURL)
	router := api.NewRouter(handler, auth.NewJWTVerifier(cfg.JWTSecret))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", zap.Error(err))
		}
	}()

	logger.Info("Server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func ensureAdmin(ctx context.Context, s *store.LedgerStore, cfg *config.Config, logger *zap.Logger) error {
	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	created, err := s.EnsureAdmin(ctx, cfg.AdminUsername, hash)
	if err != nil {
		return err
	}
	if created {
		logger.Info("created admin account", zap.String("username", cfg.AdminUsername))
	}
	return nil
}
