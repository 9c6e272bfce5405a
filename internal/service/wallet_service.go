package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/ledger"
	"github.com/shopspring/decimal"
)

// WalletService exposes the token operations a trader performs on their own
// account: allowances, plain transfers and transfers that notify a receiver.
type WalletService struct {
	book ledger.Book
	log  *slog.Logger
}

// NewWalletService creates a WalletService over book.
func NewWalletService(book ledger.Book, logger *slog.Logger) *WalletService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletService{book: book, log: logger}
}

// Approve sets what spender may move out of owner's token balance.
func (s *WalletService) Approve(ctx context.Context, owner, token, spender common.Address, amount decimal.Decimal) error {
	err := s.book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		return ledger.NewToken(token).Approve(tx, owner, spender, amount)
	})
	if err != nil {
		return fmt.Errorf("wallet_service.Approve: %w", err)
	}
	return nil
}

// Allowance returns what spender may still move on behalf of owner.
func (s *WalletService) Allowance(ctx context.Context, token, owner, spender common.Address) (decimal.Decimal, error) {
	var allowed decimal.Decimal
	err := s.book.View(ctx, func(_ context.Context, tx ledger.Tx) error {
		var err error
		allowed, err = ledger.NewToken(token).Allowance(tx, owner, spender)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet_service.Allowance: %w", err)
	}
	return allowed, nil
}

// Balance returns holder's balance of token.
func (s *WalletService) Balance(ctx context.Context, token, holder common.Address) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := s.book.View(ctx, func(_ context.Context, tx ledger.Tx) error {
		var err error
		bal, err = ledger.NewToken(token).BalanceOf(tx, holder)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet_service.Balance: %w", err)
	}
	return bal, nil
}

// Transfer moves amount of token between two accounts.
func (s *WalletService) Transfer(ctx context.Context, from, to, token common.Address, amount decimal.Decimal) error {
	err := s.book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		return ledger.NewToken(token).Transfer(tx, from, to, amount)
	})
	if err != nil {
		return fmt.Errorf("wallet_service.Transfer: %w", err)
	}
	return nil
}

// TransferAndCall moves amount of token to the receiver and runs its
// callback in the same transaction. A rejected callback undoes the transfer.
func (s *WalletService) TransferAndCall(ctx context.Context, from, token common.Address, to ledger.Receiver, amount decimal.Decimal, data []byte) error {
	err := s.book.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return ledger.NewToken(token).TransferAndCall(ctx, tx, from, to, amount, data)
	})
	if err != nil {
		s.log.Warn("[wallet] transfer and call rejected",
			"from", from.Hex(), "token", token.Hex(), "to", to.Address().Hex(), "amount", amount, "error", err)
		return fmt.Errorf("wallet_service.TransferAndCall: %w", err)
	}
	return nil
}
