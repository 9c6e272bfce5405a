// Package app assembles the ledger, market maker and audit log from Config.
// It is shared by the server and backoffice binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/config"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/ledger"
	"github.com/evetabi/brokerbot/internal/repository"
	"github.com/evetabi/brokerbot/internal/service"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// TradeLog is the audit log: written by the market maker, read by the API.
type TradeLog interface {
	service.TradeRecorder
	List(ctx context.Context, f repository.TradeFilter) ([]domain.Trade, int, error)
}

// Runtime holds the long-lived components built from Config.
type Runtime struct {
	Book   ledger.Book
	DB     *sqlx.DB // nil unless the postgres backend is selected
	MM     *service.MarketMaker
	Trades TradeLog
}

// Close waits for pending audit log writes, then releases the ledger and
// the database.
func (r *Runtime) Close() error {
	if r.MM != nil {
		r.MM.Wait()
	}
	return r.Book.Close()
}

// Settings converts the environment config into market maker settings.
func Settings(c config.MarketMakerConfig) service.Settings {
	s := service.Settings{
		Address:        common.HexToAddress(c.Address),
		ShareToken:     common.HexToAddress(c.ShareToken),
		PaymentToken:   common.HexToAddress(c.PaymentToken),
		Authority:      common.HexToAddress(c.Authority),
		Price:          c.Price,
		Increment:      c.Increment,
		BuyingEnabled:  c.BuyingEnabled,
		SellingEnabled: c.SellingEnabled,
	}
	if c.PaymentRouter != "" {
		s.PaymentRouter = common.HexToAddress(c.PaymentRouter)
	}
	return s
}

// Open builds the Runtime. The caller owns it and must Close it.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{}

	// ── 1. Ledger ─────────────────────────────────────────────────────────────
	switch cfg.Ledger.Backend {
	case "memory":
		rt.Book = ledger.NewMemoryBook()
		rt.Trades = repository.NewMemoryTradeLog(0)
	case "bolt":
		book, err := ledger.OpenBoltBook(cfg.Ledger.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("app.Open: %w", err)
		}
		rt.Book = book
		rt.Trades = repository.NewMemoryTradeLog(0)
	case "postgres":
		db, err := connectDB(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("app.Open: %w", err)
		}
		if err := runMigrations(db, cfg.DB.MigrationsDir, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("app.Open: %w", err)
		}
		rt.DB = db
		rt.Book = ledger.NewPostgresBook(db)
		rt.Trades = repository.NewTradeRepository(db)
	default:
		return nil, fmt.Errorf("app.Open: unknown ledger backend %q", cfg.Ledger.Backend)
	}
	logger.Info("ledger opened", "backend", cfg.Ledger.Backend)

	// ── 2. Market maker ───────────────────────────────────────────────────────
	mm, err := service.NewMarketMaker(ctx, rt.Book, Settings(cfg.MarketMaker), logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("app.Open: %w", err)
	}
	mm.SetRecorder(rt.Trades)
	rt.MM = mm

	// ── 3. Seed reserves ──────────────────────────────────────────────────────
	if err := seedReserves(ctx, rt, cfg.MarketMaker); err != nil {
		rt.Close()
		return nil, fmt.Errorf("app.Open: %w", err)
	}
	return rt, nil
}

// connectDB opens and pings the postgres pool.
func connectDB(c config.DBConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	return db, nil
}

// seedReserves mints the configured seed amounts when the market maker holds
// nothing yet, so a fresh dev ledger can trade immediately.
func seedReserves(ctx context.Context, rt *Runtime, c config.MarketMakerConfig) error {
	if !c.SeedShares.IsPositive() && !c.SeedPayment.IsPositive() {
		return nil
	}
	shares, payment, err := rt.MM.Balances(ctx, rt.MM.Address())
	if err != nil {
		return err
	}
	if !shares.IsZero() || !payment.IsZero() {
		return nil
	}

	s := rt.MM.Settings()
	return rt.Book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		if c.SeedShares.IsPositive() {
			if err := ledger.NewToken(s.ShareToken).Mint(tx, s.Address, c.SeedShares); err != nil {
				return fmt.Errorf("seed shares: %w", err)
			}
		}
		if c.SeedPayment.IsPositive() {
			if err := ledger.NewToken(s.PaymentToken).Mint(tx, s.Address, c.SeedPayment); err != nil {
				return fmt.Errorf("seed payment: %w", err)
			}
		}
		return nil
	})
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		logger.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
