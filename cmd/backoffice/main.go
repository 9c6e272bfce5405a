// Package main is the entry point for the standalone Brokerbot back-office
// server. It shares the ledger with cmd/server through postgres, so it refuses
// to start on the memory or bolt backends.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/brokerbot/internal/app"
	"github.com/evetabi/brokerbot/internal/backoffice"
	"github.com/evetabi/brokerbot/internal/config"
	"github.com/evetabi/brokerbot/internal/service"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting brokerbot backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	if cfg.Ledger.Backend != "postgres" {
		logger.Error("standalone backoffice needs LEDGER_BACKEND=postgres", "backend", cfg.Ledger.Backend)
		os.Exit(1)
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Ledger ────────────────────────────────────────────────────────────────
	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	// ── Router ────────────────────────────────────────────────────────────────
	authSvc := service.NewAuthService(cfg.JWT.Secret, cfg.JWT.AccessTTL, rt.MM.Settings().Authority, cfg.Admin.PasswordHash)
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc: authSvc,
		MM:      rt.MM,
		Trades:  rt.Trades,
		Hub:     nil, // backoffice does not directly serve WS
		Cfg:     cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}
	logger.Info("backoffice server stopped cleanly")
}
