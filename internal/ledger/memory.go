package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type balanceKey struct {
	token, holder common.Address
}

type allowanceKey struct {
	token, owner, spender common.Address
}

// memoryData is the committed content of a MemoryBook.
type memoryData struct {
	balances   map[balanceKey]decimal.Decimal
	allowances map[allowanceKey]decimal.Decimal
	state      map[string][]byte
}

// MemoryBook is an in-process Book. Writers are serialised by a mutex and
// stage their changes in an overlay that is applied on commit.
type MemoryBook struct {
	mu   sync.RWMutex
	data memoryData
}

// Compile-time interface check.
var _ Book = (*MemoryBook)(nil)

// NewMemoryBook returns an empty MemoryBook.
func NewMemoryBook() *MemoryBook {
	return &MemoryBook{data: memoryData{
		balances:   make(map[balanceKey]decimal.Decimal),
		allowances: make(map[allowanceKey]decimal.Decimal),
		state:      make(map[string][]byte),
	}}
}

// View runs fn against the committed data.
func (b *MemoryBook) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if ctx.Value(updateKey{b}) != nil {
		// Reads from inside an Update of this book already hold the lock.
		return fmt.Errorf("memory view: %w", ErrNestedUpdate)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fn(ctx, &memoryTx{base: &b.data, readOnly: true})
}

// Update runs fn with exclusive access and applies its writes iff fn succeeds.
func (b *MemoryBook) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, err := markUpdate(ctx, b)
	if err != nil {
		return fmt.Errorf("memory update: %w", err)
	}

	tx := newMemoryTx(&b.data)
	if err := b.commit(ctx, tx, fn); err != nil {
		return err
	}
	tx.hooks.run()
	return nil
}

func (b *MemoryBook) commit(ctx context.Context, tx *memoryTx, fn func(ctx context.Context, tx Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

// Close is a no-op.
func (b *MemoryBook) Close() error { return nil }

// ──────────────────────────────────────────────────────────────────────────────
// memoryTx
// ──────────────────────────────────────────────────────────────────────────────

type memoryTx struct {
	base     *memoryData
	pending  memoryData
	readOnly bool
	hooks    hooks
}

func newMemoryTx(base *memoryData) *memoryTx {
	return &memoryTx{
		base: base,
		pending: memoryData{
			balances:   make(map[balanceKey]decimal.Decimal),
			allowances: make(map[allowanceKey]decimal.Decimal),
			state:      make(map[string][]byte),
		},
	}
}

func (t *memoryTx) apply() {
	for k, v := range t.pending.balances {
		t.base.balances[k] = v
	}
	for k, v := range t.pending.allowances {
		t.base.allowances[k] = v
	}
	for k, v := range t.pending.state {
		t.base.state[k] = v
	}
}

func (t *memoryTx) Balance(token, holder common.Address) (decimal.Decimal, error) {
	k := balanceKey{token, holder}
	if v, ok := t.pending.balances[k]; ok {
		return v, nil
	}
	return t.base.balances[k], nil
}

func (t *memoryTx) Allowance(token, owner, spender common.Address) (decimal.Decimal, error) {
	k := allowanceKey{token, owner, spender}
	if v, ok := t.pending.allowances[k]; ok {
		return v, nil
	}
	return t.base.allowances[k], nil
}

func (t *memoryTx) SetAllowance(token, owner, spender common.Address, amount decimal.Decimal) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if err := checkNonNegative(amount); err != nil {
		return err
	}
	t.pending.allowances[allowanceKey{token, owner, spender}] = amount
	return nil
}

func (t *memoryTx) Move(token, from, to common.Address, amount decimal.Decimal) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if err := checkNonNegative(amount); err != nil {
		return err
	}
	fromBal, _ := t.Balance(token, from)
	if fromBal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	t.pending.balances[balanceKey{token, from}] = fromBal.Sub(amount)
	toBal, _ := t.Balance(token, to)
	t.pending.balances[balanceKey{token, to}] = toBal.Add(amount)
	return nil
}

func (t *memoryTx) Mint(token, holder common.Address, amount decimal.Decimal) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if err := checkNonNegative(amount); err != nil {
		return err
	}
	bal, _ := t.Balance(token, holder)
	t.pending.balances[balanceKey{token, holder}] = bal.Add(amount)
	return nil
}

func (t *memoryTx) Get(key string) ([]byte, error) {
	if v, ok := t.pending.state[key]; ok {
		return append([]byte(nil), v...), nil
	}
	if v, ok := t.base.state[key]; ok {
		return append([]byte(nil), v...), nil
	}
	return nil, nil
}

func (t *memoryTx) Put(key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.pending.state[key] = append([]byte(nil), value...)
	return nil
}

func (t *memoryTx) AfterCommit(fn func()) {
	if t.readOnly {
		return
	}
	t.hooks.add(fn)
}
