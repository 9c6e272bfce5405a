package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Execution is the outcome of one trade entry point.
type Execution struct {
	Shares  uint64          `json:"shares"`
	Payment decimal.Decimal `json:"payment"` // paid by the buyer or paid out to the seller
	Refund  decimal.Decimal `json:"refund"`  // unspent payment returned to the buyer
	Trade   *domain.Trade   `json:"trade,omitempty"`
}

func (m *MarketMaker) newTrade(dir domain.Direction, counterparty common.Address, shares, payment, priceAfter decimal.Decimal, ref []byte) domain.Trade {
	return domain.Trade{
		ID:           uuid.New(),
		Direction:    dir,
		Counterparty: counterparty,
		Shares:       shares,
		Payment:      payment,
		PriceAfter:   priceAfter,
		Ref:          append([]byte(nil), ref...),
		ExecutedAt:   m.now(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Core execution
// ──────────────────────────────────────────────────────────────────────────────

// executeBuy settles a buy for payment that the market maker already holds.
// The unspent remainder is left with the market maker; callers decide what
// to do with it. When payment buys no share nothing changes.
func (m *MarketMaker) executeBuy(tx ledger.Tx, st *domain.MarketState, buyer common.Address, payment decimal.Decimal, ref []byte) (Execution, error) {
	// ── 1. Quantity ──────────────────────────────────────────────────────────
	n, err := st.SharesForPayment(payment)
	if err != nil {
		return Execution{}, err
	}
	if n == 0 {
		return Execution{Payment: decimal.Zero, Refund: decimal.Zero}, nil
	}
	cost, err := st.BuyCost(n)
	if err != nil {
		return Execution{}, err
	}
	next, err := st.PriceAfterBuy(n)
	if err != nil {
		return Execution{}, err
	}

	// ── 2. Reserve check ─────────────────────────────────────────────────────
	shares := domain.Shares(n)
	reserve, err := m.shares.BalanceOf(tx, m.cfg.Address)
	if err != nil {
		return Execution{}, err
	}
	if reserve.LessThan(shares) {
		return Execution{}, fmt.Errorf("%w: holds %s, buy needs %s", domain.ErrInsufficientShareReserve, reserve, shares)
	}

	// ── 3. State before transfer ─────────────────────────────────────────────
	st.Price = next
	st.UpdatedAt = m.now()
	if err := saveState(tx, *st); err != nil {
		return Execution{}, err
	}

	// ── 4. Deliver shares ────────────────────────────────────────────────────
	if err := m.shares.Transfer(tx, m.cfg.Address, buyer, shares); err != nil {
		return Execution{}, err
	}

	trade := m.newTrade(domain.DirectionBuy, buyer, shares, cost, next, ref)
	return Execution{Shares: n, Payment: cost, Refund: decimal.Zero, Trade: &trade}, nil
}

// executeSell settles a sell of n shares the market maker already holds.
func (m *MarketMaker) executeSell(tx ledger.Tx, st *domain.MarketState, seller common.Address, n uint64, ref []byte) (Execution, error) {
	if n == 0 {
		return Execution{Payment: decimal.Zero, Refund: decimal.Zero}, nil
	}

	// ── 1. Price the sell ────────────────────────────────────────────────────
	proceeds, err := st.SellCost(n)
	if err != nil {
		return Execution{}, err
	}
	next, err := st.PriceAfterSell(n)
	if err != nil {
		return Execution{}, err
	}

	// ── 2. Reserve check ─────────────────────────────────────────────────────
	reserve, err := m.payment.BalanceOf(tx, m.cfg.Address)
	if err != nil {
		return Execution{}, err
	}
	if reserve.LessThan(proceeds) {
		return Execution{}, fmt.Errorf("%w: holds %s, sell pays %s", domain.ErrInsufficientPaymentReserve, reserve, proceeds)
	}

	// ── 3. State before transfer ─────────────────────────────────────────────
	st.Price = next
	st.UpdatedAt = m.now()
	if err := saveState(tx, *st); err != nil {
		return Execution{}, err
	}

	// ── 4. Pay the seller ────────────────────────────────────────────────────
	if err := m.payment.Transfer(tx, m.cfg.Address, seller, proceeds); err != nil {
		return Execution{}, err
	}

	trade := m.newTrade(domain.DirectionSell, seller, domain.Shares(n), proceeds, next, ref)
	return Execution{Shares: n, Payment: proceeds, Refund: decimal.Zero, Trade: &trade}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Direct trades
// ──────────────────────────────────────────────────────────────────────────────

// Buy spends up to payment of the buyer's payment token on shares. The market
// maker pulls only the cost of the shares, so the buyer must have approved
// at least that much to the market maker's address.
func (m *MarketMaker) Buy(ctx context.Context, buyer common.Address, payment decimal.Decimal, ref []byte) (Execution, error) {
	ctx, err := m.enter(ctx)
	if err != nil {
		return Execution{}, fmt.Errorf("marketmaker.Buy: %w", err)
	}
	if err := domain.ValidateAmount("payment", payment); err != nil {
		return Execution{}, fmt.Errorf("marketmaker.Buy: %w", err)
	}

	var exec Execution
	err = m.book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		st, err := loadState(tx)
		if err != nil {
			return err
		}
		if err := st.AssertBuyAllowed(); err != nil {
			return err
		}

		n, err := st.SharesForPayment(payment)
		if err != nil {
			return err
		}
		cost, err := st.BuyCost(n)
		if err != nil {
			return err
		}
		if cost.IsPositive() {
			if err := m.payment.TransferFrom(tx, m.cfg.Address, buyer, m.cfg.Address, cost); err != nil {
				return fmt.Errorf("collect payment: %w", err)
			}
		}

		exec, err = m.executeBuy(tx, &st, buyer, cost, ref)
		if err != nil {
			return err
		}
		if exec.Trade != nil {
			m.publishTrades(tx, *exec.Trade)
		}
		return nil
	})
	if err != nil {
		return Execution{}, fmt.Errorf("marketmaker.Buy: %w", err)
	}
	return exec, nil
}

// Sell pulls shares from the seller against an allowance and pays out the
// sell price.
func (m *MarketMaker) Sell(ctx context.Context, seller common.Address, shares decimal.Decimal, ref []byte) (Execution, error) {
	ctx, err := m.enter(ctx)
	if err != nil {
		return Execution{}, fmt.Errorf("marketmaker.Sell: %w", err)
	}
	n, err := domain.ShareCount(shares)
	if err != nil {
		return Execution{}, fmt.Errorf("marketmaker.Sell: %w", err)
	}

	var exec Execution
	err = m.book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		st, err := loadState(tx)
		if err != nil {
			return err
		}
		if err := st.AssertSellAllowed(); err != nil {
			return err
		}
		if n > 0 {
			if err := m.shares.TransferFrom(tx, m.cfg.Address, seller, m.cfg.Address, shares); err != nil {
				return fmt.Errorf("collect shares: %w", err)
			}
		}

		exec, err = m.executeSell(tx, &st, seller, n, ref)
		if err != nil {
			return err
		}
		if exec.Trade != nil {
			m.publishTrades(tx, *exec.Trade)
		}
		return nil
	})
	if err != nil {
		return Execution{}, fmt.Errorf("marketmaker.Sell: %w", err)
	}
	return exec, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Distribute
// ──────────────────────────────────────────────────────────────────────────────

// Distribute hands out shares from the reserve without payment. The batch is
// all-or-nothing; repeated recipients accumulate. Each entry moves the quote
// up as a buy of the same size would.
func (m *MarketMaker) Distribute(ctx context.Context, caller common.Address, recipients []common.Address, amounts []decimal.Decimal, refs [][]byte) ([]domain.Trade, error) {
	if err := m.requireAuthority(caller); err != nil {
		return nil, fmt.Errorf("marketmaker.Distribute: %w", err)
	}
	if len(recipients) != len(amounts) || len(recipients) != len(refs) {
		return nil, fmt.Errorf("marketmaker.Distribute: %w: %d recipients, %d amounts, %d refs",
			domain.ErrLengthMismatch, len(recipients), len(amounts), len(refs))
	}
	for i, to := range recipients {
		if to == m.cfg.Address {
			return nil, fmt.Errorf("marketmaker.Distribute: entry %d: %w: %s is the market maker",
				i, domain.ErrInvalidRecipient, to.Hex())
		}
	}
	ctx, err := m.enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("marketmaker.Distribute: %w", err)
	}

	counts := make([]uint64, len(amounts))
	total := decimal.Zero
	for i, a := range amounts {
		if counts[i], err = domain.ShareCount(a); err != nil {
			return nil, fmt.Errorf("marketmaker.Distribute: entry %d: %w", i, err)
		}
		total = total.Add(a)
	}
	if err := domain.ValidateAmount("distribution total", total); err != nil {
		return nil, fmt.Errorf("marketmaker.Distribute: %w", err)
	}

	var trades []domain.Trade
	err = m.book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		st, err := loadState(tx)
		if err != nil {
			return err
		}

		// ── 1. Reserve pre-check against the whole batch ─────────────────────
		reserve, err := m.shares.BalanceOf(tx, m.cfg.Address)
		if err != nil {
			return err
		}
		if reserve.LessThan(total) {
			return fmt.Errorf("%w: holds %s, distribution needs %s", domain.ErrInsufficientShareReserve, reserve, total)
		}

		// ── 2. Price path ────────────────────────────────────────────────────
		trades = make([]domain.Trade, 0, len(recipients))
		for i, to := range recipients {
			next, err := st.PriceAfterBuy(counts[i])
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			st.Price = next
			trades = append(trades, m.newTrade(domain.DirectionDistribution, to, amounts[i], decimal.Zero, next, refs[i]))
		}
		st.UpdatedAt = m.now()
		if err := saveState(tx, st); err != nil {
			return err
		}

		// ── 3. Transfers in order ────────────────────────────────────────────
		for i, to := range recipients {
			if err := m.shares.Transfer(tx, m.cfg.Address, to, amounts[i]); err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
		}

		m.publishTrades(tx, trades...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("marketmaker.Distribute: %w", err)
	}
	return trades, nil
}
