// Package ledger holds token balances, allowances and the market maker state
// behind a transactional Book. Every entry point of the engine runs inside one
// Book.Update call, so a failure anywhere leaves balances untouched.
package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a holder cannot cover a move.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInsufficientAllowance is returned when a spender exceeds its approval.
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")

	// ErrNestedUpdate is returned when Update is called from inside another
	// Update on the same Book.
	ErrNestedUpdate = errors.New("ledger: nested update")

	// ErrReadOnly is returned when a View transaction attempts a write.
	ErrReadOnly = errors.New("ledger: read-only transaction")

	// ErrNegativeAmount is returned for a negative move, mint or approval.
	ErrNegativeAmount = errors.New("ledger: negative amount")
)

// Tx is a unit of work over balances, allowances and keyed state.
// Writes become visible to other transactions only after commit.
type Tx interface {
	Balance(token, holder common.Address) (decimal.Decimal, error)
	Allowance(token, owner, spender common.Address) (decimal.Decimal, error)
	SetAllowance(token, owner, spender common.Address, amount decimal.Decimal) error

	// Move transfers amount of token from one holder to another.
	Move(token, from, to common.Address, amount decimal.Decimal) error

	// Mint credits new supply to holder.
	Mint(token, holder common.Address, amount decimal.Decimal) error

	// Get returns nil, nil for an unknown key.
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error

	// AfterCommit registers fn to run once the transaction has committed.
	// Hooks are dropped on rollback.
	AfterCommit(fn func())
}

// Book opens transactions.
type Book interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Update runs fn in a read-write transaction, committing iff fn returns
	// nil. fn receives a context marked as inside this Book's Update; passing
	// it on lets nested Update calls fail fast with ErrNestedUpdate instead of
	// deadlocking.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// ──────────────────────────────────────────────────────────────────────────────
// Nested update detection
// ──────────────────────────────────────────────────────────────────────────────

type updateKey struct{ book Book }

// markUpdate returns ctx tagged as running inside an Update of b, or
// ErrNestedUpdate if it already is.
func markUpdate(ctx context.Context, b Book) (context.Context, error) {
	if ctx.Value(updateKey{b}) != nil {
		return ctx, ErrNestedUpdate
	}
	return context.WithValue(ctx, updateKey{b}, true), nil
}

// hooks collects AfterCommit callbacks for one transaction.
type hooks []func()

func (h *hooks) add(fn func()) { *h = append(*h, fn) }

func (h hooks) run() {
	for _, fn := range h {
		fn()
	}
}

func checkNonNegative(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}
