package paymenthub_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/ledger"
	"github.com/evetabi/brokerbot/internal/paymenthub"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hubAddr = common.HexToAddress("0x0000000000000000000000000000000000007007")
	token   = common.HexToAddress("0x000000000000000000000000000000000000c4f0")
	payer   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	shop    = common.HexToAddress("0x0000000000000000000000000000000000005409")
)

// recorder is a Receiver that remembers the last notification.
type recorder struct {
	reject error
	got    []domain.Notification
}

func (r *recorder) Address() common.Address { return shop }

func (r *recorder) OnTokenTransfer(_ context.Context, _ ledger.Tx, n domain.Notification) error {
	r.got = append(r.got, n)
	return r.reject
}

func setup(t *testing.T) (*paymenthub.Hub, ledger.Book) {
	t.Helper()
	book := ledger.NewMemoryBook()
	require.NoError(t, book.Update(context.Background(), func(_ context.Context, tx ledger.Tx) error {
		return ledger.NewToken(token).Mint(tx, payer, decimal.NewFromInt(1000))
	}))
	return paymenthub.New(hubAddr, book, nil), book
}

func balance(t *testing.T, book ledger.Book, holder common.Address) decimal.Decimal {
	t.Helper()
	var bal decimal.Decimal
	require.NoError(t, book.View(context.Background(), func(_ context.Context, tx ledger.Tx) error {
		var err error
		bal, err = ledger.NewToken(token).BalanceOf(tx, holder)
		return err
	}))
	return bal
}

func TestPayAndNotify_MovesAndNotifies(t *testing.T) {
	hub, book := setup(t)
	ctx := context.Background()
	require.NoError(t, hub.Approve(ctx, payer, token, decimal.NewFromInt(400)))

	rcv := &recorder{}
	require.NoError(t, hub.PayAndNotify(ctx, payer, token, rcv, decimal.NewFromInt(250), []byte("order-7")))

	assert.True(t, balance(t, book, shop).Equal(decimal.NewFromInt(250)))
	assert.True(t, balance(t, book, payer).Equal(decimal.NewFromInt(750)))
	require.Len(t, rcv.got, 1)
	assert.Equal(t, hubAddr, rcv.got[0].Caller)
	assert.Equal(t, payer, rcv.got[0].From)
	assert.Equal(t, []byte("order-7"), rcv.got[0].Data)
}

func TestPayAndNotify_RejectionUndoesPayment(t *testing.T) {
	hub, book := setup(t)
	ctx := context.Background()
	require.NoError(t, hub.Approve(ctx, payer, token, decimal.NewFromInt(400)))

	boom := errors.New("closed")
	err := hub.PayAndNotify(ctx, payer, token, &recorder{reject: boom}, decimal.NewFromInt(250), nil)
	require.ErrorIs(t, err, boom)

	assert.True(t, balance(t, book, shop).IsZero())
	assert.True(t, balance(t, book, payer).Equal(decimal.NewFromInt(1000)))
}

func TestPayAndNotify_NeedsAllowance(t *testing.T) {
	hub, _ := setup(t)
	rcv := &recorder{}
	err := hub.PayAndNotify(context.Background(), payer, token, rcv, decimal.NewFromInt(1), nil)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
	assert.Empty(t, rcv.got, "no notification without payment")
}
