// Package scheduler runs the background goroutines of the market maker
// server. Today that is the quote broadcast loop, which pushes the current
// quote and reserves to WS clients on a fixed tick.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/ws"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dependencies
// ──────────────────────────────────────────────────────────────────────────────

// QuoteBroadcaster defines the broadcast operations the Scheduler needs from
// the WebSocket hub.
type QuoteBroadcaster interface {
	BroadcastQuote(msg ws.QuoteMessage)
	ConnectedCount() int
}

// QuoteSource is implemented by service.MarketMaker.
type QuoteSource interface {
	Summary(ctx context.Context) (domain.MarketSummary, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler runs the background loops. Call Start(ctx) once from main();
// cancel the context to shut it down.
type Scheduler struct {
	source   QuoteSource
	hub      QuoteBroadcaster
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler creates a Scheduler ticking every interval.
func NewScheduler(source QuoteSource, hub QuoteBroadcaster, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:   source,
		hub:      hub,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the background goroutines. It returns immediately; all loops
// run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.quoteBroadcastLoop(ctx)
	s.logger.Info("scheduler started", "quote_interval", s.interval)
}

// ──────────────────────────────────────────────────────────────────────────────
// quoteBroadcastLoop
// ──────────────────────────────────────────────────────────────────────────────

// quoteBroadcastLoop pushes a QuoteMessage every interval while at least one
// client is connected.
func (s *Scheduler) quoteBroadcastLoop(ctx context.Context) {
	defer s.recoverAndLog("quoteBroadcastLoop")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("quoteBroadcastLoop: shutting down")
			return
		case <-ticker.C:
			s.BroadcastQuote(ctx)
		}
	}
}

// BroadcastQuote is the body of quoteBroadcastLoop. It reports whether a
// message was sent.
func (s *Scheduler) BroadcastQuote(ctx context.Context) bool {
	if s.hub == nil || s.hub.ConnectedCount() == 0 {
		return false
	}
	sum, err := s.source.Summary(ctx)
	if err != nil {
		s.logger.Warn("quoteBroadcastLoop: summary failed", "err", err)
		return false
	}
	s.hub.BroadcastQuote(ws.NewQuoteMessage(sum, s.now()))
	return true
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected panics
// and log them.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
