package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/ledger"
	"github.com/shopspring/decimal"
)

// stateKey is where the MarketState lives in the ledger store.
const stateKey = "marketmaker/state"

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into MarketMaker to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// Broadcaster is the minimal interface MarketMaker needs from the WS hub.
// Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastTrade(trade domain.Trade)
	BroadcastSettings(change domain.SettingsChange)
}

// TradeRecorder persists committed trades to the audit log.
// Implemented by repository.TradeRepository.
type TradeRecorder interface {
	Record(ctx context.Context, trades []domain.Trade) error
}

// ──────────────────────────────────────────────────────────────────────────────
// Settings
// ──────────────────────────────────────────────────────────────────────────────

// Settings is the construction config of a MarketMaker. Price, increment,
// flags and router are only the initial values: once state exists in the
// ledger store it wins.
type Settings struct {
	Address        common.Address // the market maker's own ledger account
	ShareToken     common.Address
	PaymentToken   common.Address
	Authority      common.Address
	PaymentRouter  common.Address // zero disables router notifications
	Price          decimal.Decimal
	Increment      decimal.Decimal
	BuyingEnabled  bool
	SellingEnabled bool
}

// Validate checks that the addresses are set and the price model is valid.
func (s Settings) Validate() error {
	var errs []error
	if s.Address == (common.Address{}) {
		errs = append(errs, errors.New("market maker address is required"))
	}
	if s.ShareToken == (common.Address{}) {
		errs = append(errs, errors.New("share token is required"))
	}
	if s.PaymentToken == (common.Address{}) {
		errs = append(errs, errors.New("payment token is required"))
	}
	if s.ShareToken == s.PaymentToken {
		errs = append(errs, errors.New("share token and payment token must differ"))
	}
	if s.Authority == (common.Address{}) {
		errs = append(errs, errors.New("authority is required"))
	}
	if _, err := domain.NewPriceModel(s.Price, s.Increment); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketMaker
// ──────────────────────────────────────────────────────────────────────────────

// MarketMaker quotes and settles trades of the share token against the
// payment token. Every entry point runs in a single ledger.Book.Update.
type MarketMaker struct {
	cfg         Settings
	book        ledger.Book
	shares      ledger.Token
	payment     ledger.Token
	log         *slog.Logger
	now         func() time.Time
	broadcaster Broadcaster   // injected after WS Hub is built
	recorder    TradeRecorder // nil unless an audit log is configured
	pending     sync.WaitGroup // audit log writes in flight
}

// NewMarketMaker validates cfg and writes the initial state into book unless
// a previous run already left one there.
func NewMarketMaker(ctx context.Context, book ledger.Book, cfg Settings, logger *slog.Logger) (*MarketMaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("marketmaker.New: settings: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &MarketMaker{
		cfg:     cfg,
		book:    book,
		shares:  ledger.NewToken(cfg.ShareToken),
		payment: ledger.NewToken(cfg.PaymentToken),
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := m.initState(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (m *MarketMaker) SetBroadcaster(b Broadcaster) { m.broadcaster = b }

// SetRecorder injects the trade audit log.
func (m *MarketMaker) SetRecorder(r TradeRecorder) { m.recorder = r }

// Address returns the ledger account holding the reserves.
func (m *MarketMaker) Address() common.Address { return m.cfg.Address }

// Wait blocks until every audit log write started so far has finished.
// Call it before closing the recorder's storage.
func (m *MarketMaker) Wait() { m.pending.Wait() }

// Settings returns the construction config.
func (m *MarketMaker) Settings() Settings { return m.cfg }

func (m *MarketMaker) initState(ctx context.Context) error {
	return m.book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		raw, err := tx.Get(stateKey)
		if err != nil {
			return fmt.Errorf("marketmaker.New: read state: %w", err)
		}
		if raw != nil {
			st, err := decodeState(raw)
			if err != nil {
				return fmt.Errorf("marketmaker.New: %w", err)
			}
			tx.AfterCommit(func() {
				m.log.Info("[mm] resuming persisted state",
					"price", st.Price, "increment", st.Increment, "gate", st.State())
			})
			return nil
		}
		st := domain.MarketState{
			PriceModel:    domain.PriceModel{Price: m.cfg.Price, Increment: m.cfg.Increment},
			TradeGate:     domain.TradeGate{BuyingEnabled: m.cfg.BuyingEnabled, SellingEnabled: m.cfg.SellingEnabled},
			PaymentRouter: m.cfg.PaymentRouter,
			UpdatedAt:     m.now(),
		}
		if err := saveState(tx, st); err != nil {
			return fmt.Errorf("marketmaker.New: %w", err)
		}
		tx.AfterCommit(func() {
			m.log.Info("[mm] state initialised",
				"price", st.Price, "increment", st.Increment, "gate", st.State())
		})
		return nil
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// State persistence
// ──────────────────────────────────────────────────────────────────────────────

func decodeState(raw []byte) (domain.MarketState, error) {
	var st domain.MarketState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.MarketState{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

func loadState(tx ledger.Tx) (domain.MarketState, error) {
	raw, err := tx.Get(stateKey)
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("read state: %w", err)
	}
	if raw == nil {
		return domain.MarketState{}, domain.ErrStateNotFound
	}
	return decodeState(raw)
}

func saveState(tx ledger.Tx, st domain.MarketState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := tx.Put(stateKey, raw); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reentrancy guard
// ──────────────────────────────────────────────────────────────────────────────

type tradeKey struct{ mm *MarketMaker }

// enter marks ctx as running a trade on m, failing if it already is. It only
// catches entries made with a context that already carries the mark, such as
// one handed down from an enclosing Buy, Sell or Distribute. Nested writes
// through the Book fail separately with ledger.ErrNestedUpdate.
func (m *MarketMaker) enter(ctx context.Context) (context.Context, error) {
	if ctx.Value(tradeKey{m}) != nil {
		return ctx, domain.ErrReentrantCall
	}
	return context.WithValue(ctx, tradeKey{m}, true), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

// State returns the current market state.
func (m *MarketMaker) State(ctx context.Context) (domain.MarketState, error) {
	var st domain.MarketState
	err := m.book.View(ctx, func(_ context.Context, tx ledger.Tx) error {
		var err error
		st, err = loadState(tx)
		return err
	})
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("marketmaker.State: %w", err)
	}
	return st, nil
}

// Summary returns the state together with the current reserves.
func (m *MarketMaker) Summary(ctx context.Context) (domain.MarketSummary, error) {
	var sum domain.MarketSummary
	err := m.book.View(ctx, func(_ context.Context, tx ledger.Tx) error {
		st, err := loadState(tx)
		if err != nil {
			return err
		}
		shareReserve, err := m.shares.BalanceOf(tx, m.cfg.Address)
		if err != nil {
			return err
		}
		paymentReserve, err := m.payment.BalanceOf(tx, m.cfg.Address)
		if err != nil {
			return err
		}
		sum = st.ToSummary(shareReserve, paymentReserve)
		return nil
	})
	if err != nil {
		return domain.MarketSummary{}, fmt.Errorf("marketmaker.Summary: %w", err)
	}
	return sum, nil
}

// Balances returns holder's share and payment token balances.
func (m *MarketMaker) Balances(ctx context.Context, holder common.Address) (shares, payment decimal.Decimal, err error) {
	err = m.book.View(ctx, func(_ context.Context, tx ledger.Tx) error {
		if shares, err = m.shares.BalanceOf(tx, holder); err != nil {
			return err
		}
		payment, err = m.payment.BalanceOf(tx, holder)
		return err
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("marketmaker.Balances: %w", err)
	}
	return shares, payment, nil
}

// Quote returns the price of the next single share.
func (m *MarketMaker) Quote(ctx context.Context) (decimal.Decimal, error) {
	st, err := m.State(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return st.Quote(), nil
}

// BuyCost returns what buying n shares would cost right now.
func (m *MarketMaker) BuyCost(ctx context.Context, n uint64) (decimal.Decimal, error) {
	st, err := m.State(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return st.BuyCost(n)
}

// SellCost returns what selling n shares would pay right now.
func (m *MarketMaker) SellCost(ctx context.Context, n uint64) (decimal.Decimal, error) {
	st, err := m.State(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return st.SellCost(n)
}

// SharesForPayment returns how many shares amount buys right now.
func (m *MarketMaker) SharesForPayment(ctx context.Context, amount decimal.Decimal) (uint64, error) {
	st, err := m.State(ctx)
	if err != nil {
		return 0, err
	}
	return st.SharesForPayment(amount)
}

// ──────────────────────────────────────────────────────────────────────────────
// Authority operations
// ──────────────────────────────────────────────────────────────────────────────

func (m *MarketMaker) requireAuthority(caller common.Address) error {
	if caller != m.cfg.Authority {
		return fmt.Errorf("%w: %s is not the authority", domain.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// updateSettings runs mutate on the stored state and emits a settings event
// after commit.
func (m *MarketMaker) updateSettings(ctx context.Context, op string, caller common.Address, field string, mutate func(*domain.MarketState) error) error {
	if err := m.requireAuthority(caller); err != nil {
		return fmt.Errorf("marketmaker.%s: %w", op, err)
	}
	err := m.book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		st, err := loadState(tx)
		if err != nil {
			return err
		}
		if err := mutate(&st); err != nil {
			return err
		}
		st.UpdatedAt = m.now()
		if err := saveState(tx, st); err != nil {
			return err
		}
		change := domain.SettingsChange{Field: field, State: st, ChangedBy: caller, ChangedAt: st.UpdatedAt}
		tx.AfterCommit(func() { m.publishSettings(change) })
		return nil
	})
	if err != nil {
		return fmt.Errorf("marketmaker.%s: %w", op, err)
	}
	return nil
}

// SetPrice replaces the base price and increment.
func (m *MarketMaker) SetPrice(ctx context.Context, caller common.Address, price, increment decimal.Decimal) error {
	model, err := domain.NewPriceModel(price, increment)
	if err != nil {
		return fmt.Errorf("marketmaker.SetPrice: %w", err)
	}
	return m.updateSettings(ctx, "SetPrice", caller, "price", func(st *domain.MarketState) error {
		st.PriceModel = model
		return nil
	})
}

// SetEnabled overwrites both trade flags.
func (m *MarketMaker) SetEnabled(ctx context.Context, caller common.Address, buying, selling bool) error {
	return m.updateSettings(ctx, "SetEnabled", caller, "enabled", func(st *domain.MarketState) error {
		st.TradeGate = domain.TradeGate{BuyingEnabled: buying, SellingEnabled: selling}
		return nil
	})
}

// SetPaymentRouter replaces the trusted router. The zero address disables
// router notifications.
func (m *MarketMaker) SetPaymentRouter(ctx context.Context, caller, router common.Address) error {
	return m.updateSettings(ctx, "SetPaymentRouter", caller, "router", func(st *domain.MarketState) error {
		st.PaymentRouter = router
		return nil
	})
}

// Withdraw moves amount of token out of the reserves to the given account.
// The share reserve only leaves through trades and Distribute, so the share
// token is refused.
func (m *MarketMaker) Withdraw(ctx context.Context, caller, token, to common.Address, amount decimal.Decimal) error {
	if err := m.requireAuthority(caller); err != nil {
		return fmt.Errorf("marketmaker.Withdraw: %w", err)
	}
	if token == m.cfg.ShareToken {
		return fmt.Errorf("marketmaker.Withdraw: %w: share reserve is moved by Distribute", domain.ErrUnsupportedToken)
	}
	if to == m.cfg.Address {
		return fmt.Errorf("marketmaker.Withdraw: %w: %s is the market maker", domain.ErrInvalidRecipient, to.Hex())
	}
	if err := domain.ValidateAmount("withdrawal", amount); err != nil {
		return fmt.Errorf("marketmaker.Withdraw: %w", err)
	}
	err := m.book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		reserve, err := ledger.NewToken(token).BalanceOf(tx, m.cfg.Address)
		if err != nil {
			return err
		}
		if reserve.LessThan(amount) {
			return fmt.Errorf("%w: holds %s of %s, withdrawal needs %s",
				domain.ErrInsufficientPaymentReserve, reserve, token.Hex(), amount)
		}
		if err := ledger.NewToken(token).Transfer(tx, m.cfg.Address, to, amount); err != nil {
			return err
		}
		tx.AfterCommit(func() {
			m.log.Info("[mm] reserve withdrawn", "token", token.Hex(), "to", to.Hex(), "amount", amount)
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("marketmaker.Withdraw: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Event publication
// ──────────────────────────────────────────────────────────────────────────────

func (m *MarketMaker) publishSettings(change domain.SettingsChange) {
	m.log.Info("[mm] settings changed",
		"field", change.Field,
		"price", change.State.Price,
		"increment", change.State.Increment,
		"gate", change.State.State(),
		"router", change.State.PaymentRouter.Hex(),
	)
	if m.broadcaster != nil {
		m.broadcaster.BroadcastSettings(change)
	}
}

// publishTrades registers the post-commit fan-out of trades on tx.
func (m *MarketMaker) publishTrades(tx ledger.Tx, trades ...domain.Trade) {
	if len(trades) == 0 {
		return
	}
	tx.AfterCommit(func() {
		for _, t := range trades {
			m.log.Info("[mm] trade executed",
				"id", t.ID,
				"direction", t.Direction,
				"counterparty", t.Counterparty.Hex(),
				"shares", t.Shares,
				"payment", t.Payment,
				"price_after", t.PriceAfter,
			)
			if m.broadcaster != nil {
				m.broadcaster.BroadcastTrade(t)
			}
		}
		if m.recorder != nil {
			m.pending.Add(1)
			go func() {
				defer m.pending.Done()
				m.recordAsync(trades)
			}()
		}
	})
}

// recordAsync writes trades to the audit log. Errors are logged; the trade
// itself has already committed.
func (m *MarketMaker) recordAsync(trades []domain.Trade) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.recorder.Record(ctx, trades); err != nil {
		m.log.Error("[mm] audit log write failed", "trades", len(trades), "error", err)
	}
}
