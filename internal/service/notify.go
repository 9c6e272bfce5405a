package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/ledger"
)

// Compile-time interface check.
var _ ledger.Receiver = (*MarketMaker)(nil)

// classify maps the token of a notification to its trade direction.
func (m *MarketMaker) classify(n domain.Notification) (domain.NotificationKind, error) {
	switch n.Token {
	case m.cfg.PaymentToken:
		return domain.BuyNotification, nil
	case m.cfg.ShareToken:
		return domain.SellNotification, nil
	default:
		return 0, fmt.Errorf("%w: %s", domain.ErrUnsupportedToken, n.Token.Hex())
	}
}

// trusted reports whether n was relayed by the configured router or by the
// token contract that moved the value.
func trusted(st domain.MarketState, n domain.Notification) bool {
	if n.Caller == n.Token {
		return true
	}
	return st.PaymentRouter != (common.Address{}) && n.Caller == st.PaymentRouter
}

// OnTokenTransfer settles value that has already been credited to the market
// maker inside tx. Any error aborts tx, which undoes the incoming transfer.
//
// Payment token in buys shares for the sender and refunds what the shares
// did not cost. Share token in pays the sell price to the sender. Data is
// kept as the trade ref.
func (m *MarketMaker) OnTokenTransfer(ctx context.Context, tx ledger.Tx, n domain.Notification) error {
	// tx is already open, so the marked context has nowhere to go
	if _, err := m.enter(ctx); err != nil {
		return fmt.Errorf("marketmaker.OnTokenTransfer: %w", err)
	}

	st, err := loadState(tx)
	if err != nil {
		return fmt.Errorf("marketmaker.OnTokenTransfer: %w", err)
	}
	if !trusted(st, n) {
		return fmt.Errorf("marketmaker.OnTokenTransfer: %w: caller %s", domain.ErrUnauthorized, n.Caller.Hex())
	}
	kind, err := m.classify(n)
	if err != nil {
		return fmt.Errorf("marketmaker.OnTokenTransfer: %w", err)
	}

	var exec Execution
	switch kind {
	case domain.BuyNotification:
		exec, err = m.settleBuyNotification(tx, &st, n)
	case domain.SellNotification:
		exec, err = m.settleSellNotification(tx, &st, n)
	}
	if err != nil {
		return fmt.Errorf("marketmaker.OnTokenTransfer: %s: %w", kind, err)
	}
	if exec.Trade != nil {
		m.publishTrades(tx, *exec.Trade)
	}
	return nil
}

func (m *MarketMaker) settleBuyNotification(tx ledger.Tx, st *domain.MarketState, n domain.Notification) (Execution, error) {
	if err := st.AssertBuyAllowed(); err != nil {
		return Execution{}, err
	}
	if err := domain.ValidateAmount("payment", n.Amount); err != nil {
		return Execution{}, err
	}

	exec, err := m.executeBuy(tx, st, n.From, n.Amount, n.Data)
	if err != nil {
		return Execution{}, err
	}

	refund := n.Amount.Sub(exec.Payment)
	if refund.IsPositive() {
		if err := m.payment.Transfer(tx, m.cfg.Address, n.From, refund); err != nil {
			return Execution{}, fmt.Errorf("refund: %w", err)
		}
	}
	exec.Refund = refund
	return exec, nil
}

func (m *MarketMaker) settleSellNotification(tx ledger.Tx, st *domain.MarketState, n domain.Notification) (Execution, error) {
	if err := st.AssertSellAllowed(); err != nil {
		return Execution{}, err
	}
	count, err := domain.ShareCount(n.Amount)
	if err != nil {
		return Execution{}, err
	}
	return m.executeSell(tx, st, n.From, count, n.Data)
}
