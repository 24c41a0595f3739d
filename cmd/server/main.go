package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketplace/internal/api"
	"marketplace/internal/auth"
	"marketplace/internal/clock"
	"marketplace/internal/config"
	"marketplace/internal/db"
	"marketplace/internal/devices"
	"marketplace/internal/email"
	"marketplace/internal/metrics"
	"marketplace/internal/models"
	"marketplace/internal/moderation"
	"marketplace/internal/negotiation"
	"marketplace/internal/notify"
	"marketplace/internal/scheduler"
	"marketplace/internal/session"
	"marketplace/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
	logger := slog.Default()

	slog.Info("starting server", "name", cfg.Server.Name)

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	clk := clock.Real()
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	accounts := db.NewAccountRepository(database)
	admins := db.NewAdminRepository(database)
	deviceRepo := db.NewDeviceRepository(database)

	if err := bootstrapAdmin(context.Background(), cfg.Admin, admins, hasher, clk); err != nil {
		slog.Error("failed to bootstrap admin", "error", err)
		os.Exit(1)
	}

	var sink notify.Sink = notify.LogSink{Logger: logger}
	if cfg.Email.SMTP.Enabled() {
		sink = email.NewSMTPService(
			cfg.Email.SMTP.Host,
			cfg.Email.SMTP.Port,
			cfg.Email.SMTP.Username,
			cfg.Email.SMTP.Password,
			cfg.Email.SMTP.From,
			cfg.Server.BaseURL,
		)
		slog.Info("email configured", "host", cfg.Email.SMTP.Host, "port", cfg.Email.SMTP.Port)
	} else {
		slog.Warn("smtp not configured, notifications are only logged")
	}
	dispatcher := notify.NewDispatcher(sink, logger)

	registry := devices.NewRegistry(deviceRepo, cfg.Security.MaxTrustedDevices, cfg.Security.TrustedDeviceTTL, dispatcher, logger)
	sessions := session.NewService(session.Deps{
		Accounts:         accounts,
		Admins:           admins,
		Hasher:           hasher,
		Tokens:           auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, clk),
		Ledger:           auth.NewLedger(accounts, cfg.Security.MaxFailedAttempts, cfg.Security.LockDuration, dispatcher, logger),
		Devices:          registry,
		Notifier:         dispatcher,
		Clock:            clk,
		VerificationTTL:  cfg.Security.VerificationTokenTTL,
		PasswordResetTTL: cfg.Security.PasswordResetTTL,
		Logger:           logger,
	})

	hub := ws.NewHub(logger)
	go hub.Run()

	engine := negotiation.NewEngine(negotiation.NewSQLStore(database), clk, hub, cfg.Negotiation.DefaultValidityHours, logger)

	tasks := scheduler.New(clk, logger,
		scheduler.Task{Name: "offer_expiry", Interval: cfg.Negotiation.SweepInterval, Run: engine.SweepExpired},
		scheduler.Task{
			Name:     "device_expiry",
			Interval: cfg.Negotiation.DeviceSweepInterval,
			Run: func(ctx context.Context) (int64, error) {
				return deviceRepo.DeactivateExpired(ctx, clk.Now())
			},
		},
	)
	tasks.Start(context.Background())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	server, err := api.NewServer(api.Deps{
		Config:     cfg,
		DB:         database,
		Sessions:   sessions,
		Moderation: moderation.NewService(accounts, registry, clk, logger),
		Engine:     engine,
		Hub:        hub,
		Clock:      clk,
		Logger:     logger,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")

	tasks.Stop()

	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// bootstrapAdmin creates the configured administrator when none exists yet.
func bootstrapAdmin(ctx context.Context, cfg config.AdminConfig, admins *db.AdminRepository, hasher auth.PasswordHasher, clk clock.Clock) error {
	if cfg.Username == "" {
		return nil
	}
	n, err := admins.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	hash, err := hasher.Hash(cfg.Password)
	if err != nil {
		return err
	}
	admin := &models.Admin{
		Username:     cfg.Username,
		Email:        cfg.Email,
		FullName:     "Administrator",
		PasswordHash: hash,
		Enabled:      true,
		CreatedAt:    clk.Now(),
	}
	if err := admins.Create(ctx, admin); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("creating admin: %w", err)
	}
	slog.Info("admin account created", "username", admin.Username)
	return nil
}
