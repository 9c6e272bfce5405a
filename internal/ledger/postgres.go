package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// writerLockKey is the advisory lock id every PostgresBook writer takes
// before touching ledger rows.
const writerLockKey = 0x62726b62 // "brkb"

// PostgresBook stores the ledger in the ledger_balances, ledger_allowances
// and ledger_state tables (see migrations/001_init.sql).
type PostgresBook struct {
	db *sqlx.DB
}

// Compile-time interface check.
var _ Book = (*PostgresBook)(nil)

// NewPostgresBook wraps an open connection pool.
func NewPostgresBook(db *sqlx.DB) *PostgresBook {
	return &PostgresBook{db: db}
}

// DB exposes the pool so the trade audit log can share it.
func (b *PostgresBook) DB() *sqlx.DB { return b.db }

// Close closes the connection pool.
func (b *PostgresBook) Close() error { return b.db.Close() }

// View runs fn in a read-only snapshot transaction.
func (b *PostgresBook) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if ctx.Value(updateKey{b}) != nil {
		return fmt.Errorf("postgres view: %w", ErrNestedUpdate)
	}
	tx, err := b.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("postgres view: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(ctx, &pgTx{ctx: ctx, tx: tx, readOnly: true})
}

// Update runs fn in a read-write transaction. Writers are serialised on a
// transaction-scoped advisory lock; balance rows are additionally read
// FOR UPDATE.
func (b *PostgresBook) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	ctx, err = markUpdate(ctx, b)
	if err != nil {
		return fmt.Errorf("postgres update: %w", err)
	}

	// ── 1. Begin transaction ─────────────────────────────────────────────────
	sqlTx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres update: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	// ── 2. Serialise writers ─────────────────────────────────────────────────
	if _, err = sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, writerLockKey); err != nil {
		return fmt.Errorf("postgres update: writer lock: %w", err)
	}

	// ── 3. Run the unit of work ──────────────────────────────────────────────
	tx := &pgTx{ctx: ctx, tx: sqlTx}
	if err = fn(ctx, tx); err != nil {
		return err
	}

	// ── 4. Commit, then hooks ────────────────────────────────────────────────
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("postgres update: commit: %w", err)
	}
	tx.hooks.run()
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// pgTx
// ──────────────────────────────────────────────────────────────────────────────

type pgTx struct {
	ctx      context.Context
	tx       *sqlx.Tx
	readOnly bool
	hooks    hooks
}

func (t *pgTx) lockClause() string {
	if t.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

func (t *pgTx) Balance(token, holder common.Address) (decimal.Decimal, error) {
	var amt decimal.Decimal
	err := t.tx.GetContext(t.ctx, &amt,
		`SELECT amount FROM ledger_balances WHERE token = $1 AND holder = $2`+t.lockClause(),
		token.Hex(), holder.Hex())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("postgres.Balance: %w", err)
	}
	return amt, nil
}

func (t *pgTx) Allowance(token, owner, spender common.Address) (decimal.Decimal, error) {
	var amt decimal.Decimal
	err := t.tx.GetContext(t.ctx, &amt,
		`SELECT amount FROM ledger_allowances WHERE token = $1 AND owner = $2 AND spender = $3`+t.lockClause(),
		token.Hex(), owner.Hex(), spender.Hex())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("postgres.Allowance: %w", err)
	}
	return amt, nil
}

func (t *pgTx) SetAllowance(token, owner, spender common.Address, amount decimal.Decimal) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if err := checkNonNegative(amount); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO ledger_allowances (token, owner, spender, amount, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (token, owner, spender)
		DO UPDATE SET amount = EXCLUDED.amount, updated_at = now()`,
		token.Hex(), owner.Hex(), spender.Hex(), amount)
	if err != nil {
		return fmt.Errorf("postgres.SetAllowance: %w", err)
	}
	return nil
}

func (t *pgTx) credit(token, holder common.Address, amount decimal.Decimal) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO ledger_balances (token, holder, amount, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (token, holder)
		DO UPDATE SET amount = ledger_balances.amount + EXCLUDED.amount, updated_at = now()`,
		token.Hex(), holder.Hex(), amount)
	if err != nil {
		return fmt.Errorf("postgres.credit: %w", err)
	}
	return nil
}

func (t *pgTx) Move(token, from, to common.Address, amount decimal.Decimal) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if err := checkNonNegative(amount); err != nil {
		return err
	}
	fromBal, err := t.Balance(token, from)
	if err != nil {
		return err
	}
	if fromBal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	if amount.IsZero() {
		return nil
	}
	_, err = t.tx.ExecContext(t.ctx,
		`UPDATE ledger_balances SET amount = amount - $1, updated_at = now() WHERE token = $2 AND holder = $3`,
		amount, token.Hex(), from.Hex())
	if err != nil {
		return fmt.Errorf("postgres.Move debit: %w", err)
	}
	return t.credit(token, to, amount)
}

func (t *pgTx) Mint(token, holder common.Address, amount decimal.Decimal) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if err := checkNonNegative(amount); err != nil {
		return err
	}
	return t.credit(token, holder, amount)
}

func (t *pgTx) Get(key string) ([]byte, error) {
	var v []byte
	err := t.tx.GetContext(t.ctx, &v, `SELECT value FROM ledger_state WHERE key = $1`+t.lockClause(), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres.Get %q: %w", key, err)
	}
	return v, nil
}

func (t *pgTx) Put(key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO ledger_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("postgres.Put %q: %w", key, err)
	}
	return nil
}

func (t *pgTx) AfterCommit(fn func()) {
	if t.readOnly {
		return
	}
	t.hooks.add(fn)
}
