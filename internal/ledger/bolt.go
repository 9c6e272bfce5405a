package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

var (
	bucketBalances   = []byte("balances")
	bucketAllowances = []byte("allowances")
	bucketState      = []byte("state")
)

// BoltBook persists the ledger in a bbolt database. bbolt allows a single
// writer at a time, which gives Update its serialisation.
type BoltBook struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Book = (*BoltBook)(nil)

// OpenBoltBook opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltBook(dbPath string) (*BoltBook, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBalances, bucketAllowances, bucketState} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltbook: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: create buckets: %w", err)
	}

	return &BoltBook{db: db}, nil
}

// Close closes the underlying database.
func (b *BoltBook) Close() error { return b.db.Close() }

// View runs fn in a bbolt read transaction.
func (b *BoltBook) View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if ctx.Value(updateKey{b}) != nil {
		return fmt.Errorf("bolt view: %w", ErrNestedUpdate)
	}
	return b.db.View(func(btx *bbolt.Tx) error {
		return fn(ctx, &boltTx{tx: btx})
	})
}

// Update runs fn in a bbolt write transaction.
func (b *BoltBook) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	ctx, err := markUpdate(ctx, b)
	if err != nil {
		return fmt.Errorf("bolt update: %w", err)
	}
	tx := &boltTx{}
	err = b.db.Update(func(btx *bbolt.Tx) error {
		tx.tx = btx
		return fn(ctx, tx)
	})
	if err != nil {
		return err
	}
	tx.hooks.run()
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// boltTx
// ──────────────────────────────────────────────────────────────────────────────

type boltTx struct {
	tx    *bbolt.Tx
	hooks hooks
}

func balanceBoltKey(token, holder common.Address) []byte {
	k := make([]byte, 0, 2*common.AddressLength)
	k = append(k, token.Bytes()...)
	return append(k, holder.Bytes()...)
}

func allowanceBoltKey(token, owner, spender common.Address) []byte {
	k := make([]byte, 0, 3*common.AddressLength)
	k = append(k, token.Bytes()...)
	k = append(k, owner.Bytes()...)
	return append(k, spender.Bytes()...)
}

func getAmount(b *bbolt.Bucket, key []byte) (decimal.Decimal, error) {
	raw := b.Get(key)
	if raw == nil {
		return decimal.Zero, nil
	}
	amt, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("boltbook: decode amount: %w", err)
	}
	return amt, nil
}

func putAmount(b *bbolt.Bucket, key []byte, amt decimal.Decimal) error {
	if err := b.Put(key, []byte(amt.String())); err != nil {
		return fmt.Errorf("boltbook: put amount: %w", err)
	}
	return nil
}

func (t *boltTx) writable() error {
	if !t.tx.Writable() {
		return ErrReadOnly
	}
	return nil
}

func (t *boltTx) Balance(token, holder common.Address) (decimal.Decimal, error) {
	return getAmount(t.tx.Bucket(bucketBalances), balanceBoltKey(token, holder))
}

func (t *boltTx) Allowance(token, owner, spender common.Address) (decimal.Decimal, error) {
	return getAmount(t.tx.Bucket(bucketAllowances), allowanceBoltKey(token, owner, spender))
}

func (t *boltTx) SetAllowance(token, owner, spender common.Address, amount decimal.Decimal) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := checkNonNegative(amount); err != nil {
		return err
	}
	return putAmount(t.tx.Bucket(bucketAllowances), allowanceBoltKey(token, owner, spender), amount)
}

func (t *boltTx) Move(token, from, to common.Address, amount decimal.Decimal) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := checkNonNegative(amount); err != nil {
		return err
	}
	bucket := t.tx.Bucket(bucketBalances)
	fromKey := balanceBoltKey(token, from)
	fromBal, err := getAmount(bucket, fromKey)
	if err != nil {
		return err
	}
	if fromBal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	if err := putAmount(bucket, fromKey, fromBal.Sub(amount)); err != nil {
		return err
	}
	toKey := balanceBoltKey(token, to)
	toBal, err := getAmount(bucket, toKey)
	if err != nil {
		return err
	}
	return putAmount(bucket, toKey, toBal.Add(amount))
}

func (t *boltTx) Mint(token, holder common.Address, amount decimal.Decimal) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := checkNonNegative(amount); err != nil {
		return err
	}
	bucket := t.tx.Bucket(bucketBalances)
	key := balanceBoltKey(token, holder)
	bal, err := getAmount(bucket, key)
	if err != nil {
		return err
	}
	return putAmount(bucket, key, bal.Add(amount))
}

func (t *boltTx) Get(key string) ([]byte, error) {
	v := t.tx.Bucket(bucketState).Get([]byte(key))
	if v == nil {
		return nil, nil
	}
	// bbolt values are only valid for the life of the transaction.
	return append([]byte(nil), v...), nil
}

func (t *boltTx) Put(key string, value []byte) error {
	if err := t.writable(); err != nil {
		return err
	}
	if err := t.tx.Bucket(bucketState).Put([]byte(key), value); err != nil {
		return fmt.Errorf("boltbook: put state %q: %w", key, err)
	}
	return nil
}

func (t *boltTx) AfterCommit(fn func()) {
	if t.tx.Writable() {
		t.hooks.add(fn)
	}
}
