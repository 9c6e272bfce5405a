// Package main is the entry point for the Brokerbot market maker server.
// It wires together the ledger, market maker and WebSocket hub and serves the
// public API and the back-office API from one process.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/api"
	"github.com/evetabi/brokerbot/internal/app"
	"github.com/evetabi/brokerbot/internal/backoffice"
	"github.com/evetabi/brokerbot/internal/config"
	"github.com/evetabi/brokerbot/internal/paymenthub"
	"github.com/evetabi/brokerbot/internal/scheduler"
	"github.com/evetabi/brokerbot/internal/service"
	"github.com/evetabi/brokerbot/internal/ws"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting brokerbot server",
		"env", cfg.Server.Env, "port", cfg.Server.Port, "ledger", cfg.Ledger.Backend)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Ledger, market maker, audit log ────────────────────────────────────
	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	// ── 4. Services ───────────────────────────────────────────────────────────
	settings := rt.MM.Settings()
	authSvc := service.NewAuthService(cfg.JWT.Secret, cfg.JWT.AccessTTL, settings.Authority, cfg.Admin.PasswordHash)
	walletSvc := service.NewWalletService(rt.Book, logger)

	var payHub *paymenthub.Hub
	if settings.PaymentRouter != (common.Address{}) {
		payHub = paymenthub.New(settings.PaymentRouter, rt.Book, logger)
		logger.Info("payment router enabled", "address", settings.PaymentRouter.Hex())
	}

	// ── 5. WebSocket Hub ──────────────────────────────────────────────────────
	hub := ws.NewHub([]byte(cfg.JWT.Secret), cfg.Server.AllowedOrigins, logger)
	rt.MM.SetBroadcaster(hub)
	go hub.Run(ctx)
	logger.Info("websocket hub started")

	// ── 6. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(rt.MM, hub, cfg.Broadcast.QuoteInterval, logger)
	sched.Start(ctx)

	// ── 7. HTTP Routers ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:   authSvc,
		MM:        rt.MM,
		WalletSvc: walletSvc,
		PayHub:    payHub,
		Trades:    rt.Trades,
		Hub:       hub,
		Cfg:       cfg,
	})
	adminRouter := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc: authSvc,
		MM:      rt.MM,
		Trades:  rt.Trades,
		Hub:     hub,
		Cfg:     cfg,
	})

	servers := []*http.Server{
		{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		{
			Addr:         ":" + cfg.Server.BackofficePort,
			Handler:      adminRouter,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	// ── 8. Start servers ──────────────────────────────────────────────────────
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", "addr", srv.Addr, "err", err)
				stop() // trigger graceful shutdown
			}
		}(srv)
	}

	// ── 9. Graceful shutdown ──────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "addr", srv.Addr, "err", err)
		}
	}
	logger.Info("server stopped cleanly")
}
