package service_test

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/ledger"
	"github.com/evetabi/brokerbot/internal/paymenthub"
	"github.com/evetabi/brokerbot/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	mmAddr       = common.HexToAddress("0x000000000000000000000000000000000000b07b")
	shareToken   = common.HexToAddress("0x0000000000000000000000000000000000005a4e")
	paymentToken = common.HexToAddress("0x000000000000000000000000000000000000c4f0")
	authority    = common.HexToAddress("0x000000000000000000000000000000000000a07b")
	routerAddr   = common.HexToAddress("0x0000000000000000000000000000000000007007")
	alice        = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	mallory      = common.HexToAddress("0x000000000000000000000000000000000000bad0")
)

func amt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeBroadcaster struct {
	mu       sync.Mutex
	trades   []domain.Trade
	settings []domain.SettingsChange
}

func (f *fakeBroadcaster) BroadcastTrade(t domain.Trade) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, t)
}

func (f *fakeBroadcaster) BroadcastSettings(c domain.SettingsChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = append(f.settings, c)
}

func (f *fakeBroadcaster) tradeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trades)
}

// ── Fixture ───────────────────────────────────────────────────────────────────

type fixture struct {
	book ledger.Book
	mm   *service.MarketMaker
	hub  *paymenthub.Hub
	bc   *fakeBroadcaster
}

func settings(price, increment int64) service.Settings {
	return service.Settings{
		Address:        mmAddr,
		ShareToken:     shareToken,
		PaymentToken:   paymentToken,
		Authority:      authority,
		PaymentRouter:  routerAddr,
		Price:          amt(price),
		Increment:      amt(increment),
		BuyingEnabled:  true,
		SellingEnabled: true,
	}
}

func newFixtureOn(t *testing.T, book ledger.Book, price, increment int64) *fixture {
	t.Helper()
	mm, err := service.NewMarketMaker(context.Background(), book, settings(price, increment), nil)
	require.NoError(t, err)
	bc := &fakeBroadcaster{}
	mm.SetBroadcaster(bc)
	return &fixture{book: book, mm: mm, hub: paymenthub.New(routerAddr, book, nil), bc: bc}
}

// newFixture returns a market maker holding 1000 shares and 1_000_000
// payment units.
func newFixture(t *testing.T, price, increment int64) *fixture {
	t.Helper()
	f := newFixtureOn(t, ledger.NewMemoryBook(), price, increment)
	f.mint(t, shareToken, mmAddr, 1000)
	f.mint(t, paymentToken, mmAddr, 1_000_000)
	return f
}

func (f *fixture) mint(t *testing.T, token, holder common.Address, v int64) {
	t.Helper()
	require.NoError(t, f.book.Update(context.Background(), func(_ context.Context, tx ledger.Tx) error {
		return ledger.NewToken(token).Mint(tx, holder, amt(v))
	}))
}

func (f *fixture) balance(t *testing.T, token, holder common.Address) decimal.Decimal {
	t.Helper()
	var bal decimal.Decimal
	require.NoError(t, f.book.View(context.Background(), func(_ context.Context, tx ledger.Tx) error {
		var err error
		bal, err = ledger.NewToken(token).BalanceOf(tx, holder)
		return err
	}))
	return bal
}

func (f *fixture) transferAndCall(t *testing.T, token, from common.Address, v int64, data []byte) error {
	t.Helper()
	return f.book.Update(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		return ledger.NewToken(token).TransferAndCall(ctx, tx, from, f.mm, amt(v), data)
	})
}

func (f *fixture) quote(t *testing.T) decimal.Decimal {
	t.Helper()
	q, err := f.mm.Quote(context.Background())
	require.NoError(t, err)
	return q
}

func assertEq(t *testing.T, want int64, got decimal.Decimal, msg ...string) {
	t.Helper()
	assert.Truef(t, got.Equal(amt(want)), "want %d, got %s %v", want, got, msg)
}

// ── Buy notifications ─────────────────────────────────────────────────────────

func TestBuyNotification_ViaRouterRefundsRemainder(t *testing.T) {
	f := newFixture(t, 100, 10)
	ctx := context.Background()
	f.mint(t, paymentToken, alice, 1000)
	require.NoError(t, f.hub.Approve(ctx, alice, paymentToken, amt(1000)))

	// 3 shares cost 100 + 110 + 120 = 330; a 4th would need 130 more.
	require.NoError(t, f.hub.PayAndNotify(ctx, alice, paymentToken, f.mm, amt(400), []byte("order-1")))

	assertEq(t, 3, f.balance(t, shareToken, alice))
	assertEq(t, 1000-330, f.balance(t, paymentToken, alice))
	assertEq(t, 997, f.balance(t, shareToken, mmAddr))
	assertEq(t, 1_000_330, f.balance(t, paymentToken, mmAddr))
	assertEq(t, 130, f.quote(t), "quote moves by n*increment")

	require.Equal(t, 1, f.bc.tradeCount())
	tr := f.bc.trades[0]
	assert.Equal(t, domain.DirectionBuy, tr.Direction)
	assert.Equal(t, alice, tr.Counterparty)
	assertEq(t, 3, tr.Shares)
	assertEq(t, 330, tr.Payment)
	assert.Equal(t, []byte("order-1"), tr.Ref)
}

func TestBuyNotification_ViaTokenCallback(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.mint(t, paymentToken, alice, 500)

	require.NoError(t, f.transferAndCall(t, paymentToken, alice, 500, nil))

	assertEq(t, 5, f.balance(t, shareToken, alice))
	assertEq(t, 0, f.balance(t, paymentToken, alice))
	assertEq(t, 100, f.quote(t))
}

func TestBuyNotification_TooSmallForOneShareIsRefunded(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.mint(t, paymentToken, alice, 99)

	require.NoError(t, f.transferAndCall(t, paymentToken, alice, 99, nil))

	assertEq(t, 0, f.balance(t, shareToken, alice))
	assertEq(t, 99, f.balance(t, paymentToken, alice))
	assert.Zero(t, f.bc.tradeCount(), "no trade event when no share changes hands")
}

func TestBuyNotification_InsufficientShareReserve(t *testing.T) {
	f := newFixture(t, 1, 0)
	f.mint(t, paymentToken, alice, 5000)

	err := f.transferAndCall(t, paymentToken, alice, 5000, nil)
	require.ErrorIs(t, err, domain.ErrInsufficientShareReserve)

	assertEq(t, 5000, f.balance(t, paymentToken, alice), "incoming payment rolled back")
	assertEq(t, 1000, f.balance(t, shareToken, mmAddr))
	assertEq(t, 1, f.quote(t))
}

// ── Sell notifications ────────────────────────────────────────────────────────

func TestSellNotification_PaysStepDownPrice(t *testing.T) {
	f := newFixture(t, 100, 10)
	f.mint(t, shareToken, bob, 2)

	require.NoError(t, f.transferAndCall(t, shareToken, bob, 2, []byte("s")))

	// 90 + 80
	assertEq(t, 170, f.balance(t, paymentToken, bob))
	assertEq(t, 1002, f.balance(t, shareToken, mmAddr))
	assertEq(t, 80, f.quote(t))
	require.Equal(t, 1, f.bc.tradeCount())
	assert.Equal(t, domain.DirectionSell, f.bc.trades[0].Direction)
}

func TestSellNotification_InsufficientPaymentReserve(t *testing.T) {
	f := newFixtureOn(t, ledger.NewMemoryBook(), 100, 0)
	f.mint(t, paymentToken, mmAddr, 150)
	f.mint(t, shareToken, bob, 2)

	err := f.transferAndCall(t, shareToken, bob, 2, nil)
	require.ErrorIs(t, err, domain.ErrInsufficientPaymentReserve)

	assertEq(t, 2, f.balance(t, shareToken, bob))
	assertEq(t, 150, f.balance(t, paymentToken, mmAddr))
}

func TestSellNotification_NegativeQuote(t *testing.T) {
	f := newFixture(t, 100, 10)
	f.mint(t, shareToken, bob, 11)

	err := f.transferAndCall(t, shareToken, bob, 11, nil)
	require.ErrorIs(t, err, domain.ErrNegativeQuote)
	assertEq(t, 11, f.balance(t, shareToken, bob))
}

// ── Trust and classification ──────────────────────────────────────────────────

func TestNotification_UntrustedCallerRejected(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.mint(t, paymentToken, alice, 100)

	err := f.book.Update(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		if err := ledger.NewToken(paymentToken).Transfer(tx, alice, mmAddr, amt(100)); err != nil {
			return err
		}
		return f.mm.OnTokenTransfer(ctx, tx, domain.Notification{
			Caller: mallory, Token: paymentToken, From: alice, Amount: amt(100),
		})
	})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assertEq(t, 100, f.balance(t, paymentToken, alice))
	assertEq(t, 0, f.balance(t, shareToken, alice))
}

func TestNotification_RouterClearedStopsTrusting(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()
	f.mint(t, paymentToken, alice, 100)
	require.NoError(t, f.hub.Approve(ctx, alice, paymentToken, amt(100)))
	require.NoError(t, f.mm.SetPaymentRouter(ctx, authority, common.Address{}))

	err := f.hub.PayAndNotify(ctx, alice, paymentToken, f.mm, amt(100), nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assertEq(t, 100, f.balance(t, paymentToken, alice))
}

func TestNotification_UnsupportedToken(t *testing.T) {
	f := newFixture(t, 100, 0)
	other := common.HexToAddress("0x0000000000000000000000000000000000000777")
	f.mint(t, other, alice, 10)

	err := f.transferAndCall(t, other, alice, 10, nil)
	require.ErrorIs(t, err, domain.ErrUnsupportedToken)
	assertEq(t, 10, f.balance(t, other, alice))
}

// ── Gate ──────────────────────────────────────────────────────────────────────

func TestGate_BuyDisabledSellAllowed(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()
	require.NoError(t, f.mm.SetEnabled(ctx, authority, false, true))
	f.mint(t, paymentToken, alice, 300)
	f.mint(t, shareToken, bob, 1)

	err := f.transferAndCall(t, paymentToken, alice, 300, nil)
	require.ErrorIs(t, err, domain.ErrTradingDisabled)
	dir, ok := domain.TradingDisabledDirection(err)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionBuy, dir)
	assert.Contains(t, err.Error(), "buying disabled")
	assertEq(t, 1000, f.balance(t, shareToken, mmAddr), "reserves unchanged")
	assertEq(t, 1_000_000, f.balance(t, paymentToken, mmAddr))

	require.NoError(t, f.transferAndCall(t, shareToken, bob, 1, nil))
	assertEq(t, 100, f.balance(t, paymentToken, bob))
}

func TestGate_SellDisabled(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()
	require.NoError(t, f.mm.SetEnabled(ctx, authority, true, false))
	f.mint(t, shareToken, bob, 1)

	err := f.transferAndCall(t, shareToken, bob, 1, nil)
	dir, ok := domain.TradingDisabledDirection(err)
	require.True(t, ok)
	assert.Equal(t, domain.DirectionSell, dir)
	assertEq(t, 1, f.balance(t, shareToken, bob))
	assertEq(t, 1_000_000, f.balance(t, paymentToken, mmAddr))
}

func TestGate_States(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()
	cases := []struct {
		buy, sell bool
		want      domain.GateState
	}{
		{false, false, domain.GateClosed},
		{true, false, domain.GateBuyOnly},
		{false, true, domain.GateSellOnly},
		{true, true, domain.GateOpen},
	}
	for _, tc := range cases {
		require.NoError(t, f.mm.SetEnabled(ctx, authority, tc.buy, tc.sell))
		st, err := f.mm.State(ctx)
		require.NoError(t, err)
		assert.Equal(t, tc.want, st.State())
	}
	assert.Len(t, f.bc.settings, len(cases))
	assert.Equal(t, "enabled", f.bc.settings[0].Field)
}

// ── Distribute ────────────────────────────────────────────────────────────────

func TestDistribute_DuplicatesAccumulate(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()

	trades, err := f.mm.Distribute(ctx, authority,
		[]common.Address{alice, alice, bob},
		[]decimal.Decimal{amt(50), amt(20), amt(10)},
		[][]byte{nil, nil, nil})
	require.NoError(t, err)
	require.Len(t, trades, 3)

	assertEq(t, 70, f.balance(t, shareToken, alice))
	assertEq(t, 10, f.balance(t, shareToken, bob))
	assertEq(t, 1000-80, f.balance(t, shareToken, mmAddr))
	assertEq(t, 1_000_000, f.balance(t, paymentToken, mmAddr), "no payment moves")
	for _, tr := range trades {
		assert.Equal(t, domain.DirectionDistribution, tr.Direction)
		assert.True(t, tr.Payment.IsZero())
	}
}

func TestDistribute_MovesQuote(t *testing.T) {
	f := newFixture(t, 100, 2)
	_, err := f.mm.Distribute(context.Background(), authority,
		[]common.Address{alice, bob}, []decimal.Decimal{amt(5), amt(10)}, [][]byte{nil, nil})
	require.NoError(t, err)
	assertEq(t, 130, f.quote(t))
}

func TestDistribute_LengthMismatch(t *testing.T) {
	f := newFixture(t, 100, 0)

	_, err := f.mm.Distribute(context.Background(), authority,
		[]common.Address{alice, bob}, []decimal.Decimal{amt(1)}, [][]byte{nil, nil})
	require.ErrorIs(t, err, domain.ErrLengthMismatch)
	assertEq(t, 0, f.balance(t, shareToken, alice))
	assertEq(t, 1000, f.balance(t, shareToken, mmAddr))
}

func TestDistribute_SelfRecipientRejected(t *testing.T) {
	f := newFixture(t, 100, 10)
	ctx := context.Background()
	before := f.balance(t, shareToken, mmAddr)

	_, err := f.mm.Distribute(ctx, authority,
		[]common.Address{alice, mmAddr}, []decimal.Decimal{amt(1), amt(50)}, [][]byte{nil, nil})
	require.ErrorIs(t, err, domain.ErrInvalidRecipient)

	assert.True(t, f.balance(t, shareToken, mmAddr).Equal(before))
	assert.True(t, f.balance(t, shareToken, alice).IsZero())
	assertEq(t, 100, f.quote(t))
	assert.Zero(t, f.bc.tradeCount())
}

func TestDistribute_InsufficientReserveMovesNothing(t *testing.T) {
	f := newFixture(t, 100, 0)

	_, err := f.mm.Distribute(context.Background(), authority,
		[]common.Address{alice, bob}, []decimal.Decimal{amt(600), amt(600)}, [][]byte{nil, nil})
	require.ErrorIs(t, err, domain.ErrInsufficientShareReserve)
	assertEq(t, 0, f.balance(t, shareToken, alice))
	assertEq(t, 1000, f.balance(t, shareToken, mmAddr))
	assert.Zero(t, f.bc.tradeCount())
}

// ── Authority ─────────────────────────────────────────────────────────────────

func TestAuthorityOnlyEntryPoints(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()

	require.ErrorIs(t, f.mm.SetPrice(ctx, mallory, amt(1), amt(0)), domain.ErrUnauthorized)
	require.ErrorIs(t, f.mm.SetEnabled(ctx, mallory, false, false), domain.ErrUnauthorized)
	require.ErrorIs(t, f.mm.SetPaymentRouter(ctx, mallory, mallory), domain.ErrUnauthorized)
	require.ErrorIs(t, f.mm.Withdraw(ctx, mallory, paymentToken, mallory, amt(1)), domain.ErrUnauthorized)
	_, err := f.mm.Distribute(ctx, mallory, []common.Address{mallory}, []decimal.Decimal{amt(1)}, [][]byte{nil})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	st, err := f.mm.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.GateOpen, st.State())
	assertEq(t, 100, st.Price)
	assert.Empty(t, f.bc.settings)
}

func TestSetPrice(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()

	require.NoError(t, f.mm.SetPrice(ctx, authority, amt(250), amt(-3)))
	st, err := f.mm.State(ctx)
	require.NoError(t, err)
	assertEq(t, 250, st.Price)
	assertEq(t, -3, st.Increment)
	require.Len(t, f.bc.settings, 1)
	assert.Equal(t, "price", f.bc.settings[0].Field)
	assert.Equal(t, authority, f.bc.settings[0].ChangedBy)

	require.ErrorIs(t, f.mm.SetPrice(ctx, authority, amt(-1), amt(0)), domain.ErrInvalidPrice)
	assertEq(t, 250, f.quote(t))
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()

	require.NoError(t, f.mm.Withdraw(ctx, authority, paymentToken, authority, amt(400)))
	assertEq(t, 400, f.balance(t, paymentToken, authority))
	assertEq(t, 1_000_000-400, f.balance(t, paymentToken, mmAddr))

	err := f.mm.Withdraw(ctx, authority, paymentToken, authority, amt(2_000_000))
	require.ErrorIs(t, err, domain.ErrInsufficientPaymentReserve)
	assertEq(t, 1_000_000-400, f.balance(t, paymentToken, mmAddr))
}

func TestWithdraw_ShareReserveStaysPut(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()
	before := f.balance(t, shareToken, mmAddr)

	err := f.mm.Withdraw(ctx, authority, shareToken, authority, amt(300))
	require.ErrorIs(t, err, domain.ErrUnsupportedToken)
	assert.True(t, f.balance(t, shareToken, mmAddr).Equal(before))
	assert.Zero(t, f.bc.tradeCount())

	err = f.mm.Withdraw(ctx, authority, paymentToken, mmAddr, amt(1))
	require.ErrorIs(t, err, domain.ErrInvalidRecipient)
}

// ── Direct trades ─────────────────────────────────────────────────────────────

func TestDirectBuyPullsOnlyCost(t *testing.T) {
	f := newFixture(t, 100, 10)
	ctx := context.Background()
	f.mint(t, paymentToken, alice, 1000)
	require.NoError(t, f.book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		return ledger.NewToken(paymentToken).Approve(tx, alice, mmAddr, amt(400))
	}))

	exec, err := f.mm.Buy(ctx, alice, amt(400), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), exec.Shares)
	assertEq(t, 330, exec.Payment)
	require.NotNil(t, exec.Trade)

	assertEq(t, 670, f.balance(t, paymentToken, alice))
	assertEq(t, 3, f.balance(t, shareToken, alice))
}

func TestDirectBuyWithoutAllowance(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.mint(t, paymentToken, alice, 1000)

	_, err := f.mm.Buy(context.Background(), alice, amt(400), nil)
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)
	assertEq(t, 1000, f.balance(t, paymentToken, alice))
	assertEq(t, 1000, f.balance(t, shareToken, mmAddr))
}

func TestDirectSell(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()
	f.mint(t, shareToken, bob, 4)
	require.NoError(t, f.book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		return ledger.NewToken(shareToken).Approve(tx, bob, mmAddr, amt(4))
	}))

	exec, err := f.mm.Sell(ctx, bob, amt(4), []byte("ref"))
	require.NoError(t, err)
	assertEq(t, 400, exec.Payment)
	assertEq(t, 400, f.balance(t, paymentToken, bob))
	assertEq(t, 0, f.balance(t, shareToken, bob))
}

func TestDirectTradesRespectGate(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()
	require.NoError(t, f.mm.SetEnabled(ctx, authority, false, false))

	_, err := f.mm.Buy(ctx, alice, amt(100), nil)
	require.ErrorIs(t, err, domain.ErrTradingDisabled)
	_, err = f.mm.Sell(ctx, bob, amt(1), nil)
	require.ErrorIs(t, err, domain.ErrTradingDisabled)
}

// ── Queries ───────────────────────────────────────────────────────────────────

func TestQueries(t *testing.T) {
	f := newFixture(t, 100, 10)
	ctx := context.Background()

	cost, err := f.mm.BuyCost(ctx, 2)
	require.NoError(t, err)
	assertEq(t, 210, cost)

	proceeds, err := f.mm.SellCost(ctx, 2)
	require.NoError(t, err)
	assertEq(t, 170, proceeds)

	n, err := f.mm.SharesForPayment(ctx, amt(210))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	sum, err := f.mm.Summary(ctx)
	require.NoError(t, err)
	assertEq(t, 1000, sum.ShareReserve)
	assertEq(t, 1_000_000, sum.PaymentReserve)
	assert.Equal(t, domain.GateOpen, sum.Gate)
}

// ── Persistence and concurrency ───────────────────────────────────────────────

func TestStateSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mm.db")
	ctx := context.Background()

	book, err := ledger.OpenBoltBook(path)
	require.NoError(t, err)
	f := newFixtureOn(t, book, 100, 5)
	require.NoError(t, f.mm.SetPrice(ctx, authority, amt(777), amt(5)))
	require.NoError(t, book.Close())

	book, err = ledger.OpenBoltBook(path)
	require.NoError(t, err)
	t.Cleanup(func() { book.Close() })
	f = newFixtureOn(t, book, 100, 5)
	assertEq(t, 777, f.quote(t), "persisted state wins over construction settings")
}

// slowRecorder records after a delay, like a remote audit database.
type slowRecorder struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (r *slowRecorder) Record(_ context.Context, trades []domain.Trade) error {
	time.Sleep(50 * time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trades...)
	return nil
}

func (r *slowRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

func TestWaitDrainsAuditWrites(t *testing.T) {
	f := newFixture(t, 100, 10)
	rec := &slowRecorder{}
	f.mm.SetRecorder(rec)
	f.mint(t, paymentToken, alice, 1000)
	f.mint(t, shareToken, bob, 2)

	require.NoError(t, f.transferAndCall(t, paymentToken, alice, 400, nil))
	require.NoError(t, f.transferAndCall(t, shareToken, bob, 2, nil))

	f.mm.Wait()
	assert.Equal(t, 2, rec.count(), "every committed trade reaches the log before Wait returns")
}

func TestConcurrentBuysSerialise(t *testing.T) {
	const workers = 40
	f := newFixture(t, 100, 1)
	ctx := context.Background()
	for i := 0; i < workers; i++ {
		buyer := common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		f.mint(t, paymentToken, buyer, 10_000)
		require.NoError(t, f.hub.Approve(ctx, buyer, paymentToken, amt(10_000)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buyer := common.BigToAddress(big.NewInt(int64(0x1000 + i)))
			errs <- f.hub.PayAndNotify(ctx, buyer, paymentToken, f.mm, amt(500), nil)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	sold := decimal.NewFromInt(1000).Sub(f.balance(t, shareToken, mmAddr))
	assert.True(t, f.quote(t).Equal(amt(100).Add(sold)), "quote %s after %s shares", f.quote(t), sold)
	assert.Equal(t, workers, f.bc.tradeCount())
}
