package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/httpapi"
	"gatehouse.dev/internal/mail"
	"gatehouse.dev/internal/migrate"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/settings"
	"gatehouse.dev/internal/store/memory"
	"gatehouse.dev/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is everything the services need from a store.
type backend interface {
	auth.CredentialStore
	auth.GrantStore
	auth.RBACStore
	audit.Store
	settings.Store
	Ping(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("gatehouse_api_failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: obs.ParseLevel(cfg.LogLevel)}))
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hasher := auth.NewArgon2Hasher(cfg.Argon2)

	// Without SMTP settings, reset mail goes to the log. The code itself is
	// logged only in development mode.
	logMailer := mail.NewLogMailer(logger)

	var store backend
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		memStore := memory.New()
		if _, err := migrate.Seed(ctx, memStore, hasher, cfg.Seed); err != nil {
			return fmt.Errorf("seed memory store: %w", err)
		}
		logger.Warn("using in-memory store; data is lost on restart")
		logMailer.IncludeCode = true
		store = memStore
	}

	settingsSvc, err := settings.NewService(store)
	if err != nil {
		return err
	}

	authSvc, err := auth.NewService(store, store, cfg.JWTSecret,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithResetCodeTTL(cfg.ResetCodeTTL),
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithAppName(cfg.AppName),
		auth.WithHasher(hasher),
		auth.WithMailer(mail.NewSMTPMailer(settingsSvc, logMailer)),
	)
	if err != nil {
		return err
	}
	rbac, err := auth.NewRBACService(store, hasher)
	if err != nil {
		return err
	}
	logs, err := audit.NewService(store)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Services{
		Auth:     authSvc,
		RBAC:     rbac,
		Logs:     logs,
		Settings: settingsSvc,
		Recorder: audit.NewRecorder(store, authSvc.Resolver()),
	}, store, httpapi.Options{
		Version:        version,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		TrustProxy:     cfg.TrustProxy,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewGRPCServer(store)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go health.Watch(ctx, 10*time.Second)

	errc := make(chan error, 2)
	go func() {
		logger.Info("http_listen", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc_listen", "addr", grpcLis.Addr().String())
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- fmt.Errorf("grpc: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting_down")
	case err = <-errc:
		logger.Error("server_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http_shutdown", "error", serr)
	}
	grpcSrv.GracefulStop()
	logger.Info("stopped")
	return err
}
