package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// TradeFilter narrows a trade listing. Zero values mean "any".
type TradeFilter struct {
	Counterparty common.Address
	Direction    domain.Direction
	Limit        int
	Offset       int
}

func (f TradeFilter) matches(t domain.Trade) bool {
	if f.Counterparty != (common.Address{}) && t.Counterparty != f.Counterparty {
		return false
	}
	if f.Direction != "" && t.Direction != f.Direction {
		return false
	}
	return true
}

// tradeRow is the SQL shape of a domain.Trade; addresses are stored as hex.
type tradeRow struct {
	ID           uuid.UUID       `db:"id"`
	Direction    string          `db:"direction"`
	Counterparty string          `db:"counterparty"`
	Shares       decimal.Decimal `db:"shares"`
	Payment      decimal.Decimal `db:"payment"`
	PriceAfter   decimal.Decimal `db:"price_after"`
	Ref          []byte          `db:"ref"`
	ExecutedAt   time.Time       `db:"executed_at"`
}

func toRow(t domain.Trade) tradeRow {
	return tradeRow{
		ID:           t.ID,
		Direction:    string(t.Direction),
		Counterparty: t.Counterparty.Hex(),
		Shares:       t.Shares,
		Payment:      t.Payment,
		PriceAfter:   t.PriceAfter,
		Ref:          t.Ref,
		ExecutedAt:   t.ExecutedAt,
	}
}

func (r tradeRow) toDomain() domain.Trade {
	return domain.Trade{
		ID:           r.ID,
		Direction:    domain.Direction(r.Direction),
		Counterparty: common.HexToAddress(r.Counterparty),
		Shares:       r.Shares,
		Payment:      r.Payment,
		PriceAfter:   r.PriceAfter,
		Ref:          r.Ref,
		ExecutedAt:   r.ExecutedAt,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// TradeRepository (PostgreSQL)
// ──────────────────────────────────────────────────────────────────────────────

// TradeRepository is the PostgreSQL trade audit log.
type TradeRepository struct {
	db *sqlx.DB
}

// NewTradeRepository creates a new TradeRepository.
func NewTradeRepository(db *sqlx.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Record inserts a batch of trades in one transaction. Re-recording a trade
// id is a no-op.
func (r *TradeRepository) Record(ctx context.Context, trades []domain.Trade) (err error) {
	if len(trades) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("trade_repo.Record: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO trades
			(id, direction, counterparty, shares, payment, price_after, ref, executed_at)
		VALUES
			(:id, :direction, :counterparty, :shares, :payment, :price_after, :ref, :executed_at)
		ON CONFLICT (id) DO NOTHING`
	for _, t := range trades {
		if _, err = tx.NamedExecContext(ctx, query, toRow(t)); err != nil {
			return fmt.Errorf("trade_repo.Record: insert %s: %w", t.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("trade_repo.Record: commit: %w", err)
	}
	return nil
}

// List returns trades newest first together with the total matching count.
func (r *TradeRepository) List(ctx context.Context, f TradeFilter) ([]domain.Trade, int, error) {
	where := `WHERE ($1::text = '' OR counterparty = $1) AND ($2::text = '' OR direction = $2)`
	counterparty := ""
	if f.Counterparty != (common.Address{}) {
		counterparty = f.Counterparty.Hex()
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM trades `+where,
		counterparty, string(f.Direction)); err != nil {
		return nil, 0, fmt.Errorf("trade_repo.List count: %w", err)
	}

	var rows []tradeRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM trades `+where+` ORDER BY executed_at DESC LIMIT NULLIF($3, 0) OFFSET $4`,
		counterparty, string(f.Direction), f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("trade_repo.List: %w", err)
	}
	trades := make([]domain.Trade, len(rows))
	for i, row := range rows {
		trades[i] = row.toDomain()
	}
	return trades, total, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// MemoryTradeLog
// ──────────────────────────────────────────────────────────────────────────────

// MemoryTradeLog keeps the most recent trades in process. Used with the
// memory and bolt ledger backends, where no SQL database is configured.
type MemoryTradeLog struct {
	mu       sync.RWMutex
	capacity int
	trades   []domain.Trade // oldest first
}

// NewMemoryTradeLog keeps at most capacity trades.
func NewMemoryTradeLog(capacity int) *MemoryTradeLog {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &MemoryTradeLog{capacity: capacity}
}

// Record appends trades, evicting the oldest beyond capacity.
func (l *MemoryTradeLog) Record(_ context.Context, trades []domain.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, trades...)
	if over := len(l.trades) - l.capacity; over > 0 {
		l.trades = append([]domain.Trade(nil), l.trades[over:]...)
	}
	return nil
}

// List returns trades newest first together with the total matching count.
func (l *MemoryTradeLog) List(_ context.Context, f TradeFilter) ([]domain.Trade, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []domain.Trade
	for i := len(l.trades) - 1; i >= 0; i-- {
		if f.matches(l.trades[i]) {
			matched = append(matched, l.trades[i])
		}
	}
	total := len(matched)
	if f.Offset >= total {
		return []domain.Trade{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}
