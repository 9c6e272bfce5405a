// Package paymenthub is a trusted payment router. It pulls payment from a
// payer against an allowance and notifies the recipient in the same ledger
// transaction, so a rejected notification undoes the payment.
package paymenthub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/ledger"
	"github.com/shopspring/decimal"
)

// Hub routes payments to Receivers.
type Hub struct {
	address common.Address
	book    ledger.Book
	log     *slog.Logger
}

// New returns a Hub acting as the ledger account address.
func New(address common.Address, book ledger.Book, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{address: address, book: book, log: logger}
}

// Address is the account payers approve and receivers trust.
func (h *Hub) Address() common.Address { return h.address }

// Approve lets the hub spend up to amount of owner's token.
func (h *Hub) Approve(ctx context.Context, owner, token common.Address, amount decimal.Decimal) error {
	err := h.book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		return ledger.NewToken(token).Approve(tx, owner, h.address, amount)
	})
	if err != nil {
		return fmt.Errorf("paymenthub.Approve: %w", err)
	}
	return nil
}

// PayAndNotify moves amount of token from payer to the recipient and then
// calls the recipient's OnTokenTransfer with the hub as caller.
func (h *Hub) PayAndNotify(ctx context.Context, payer, token common.Address, recipient ledger.Receiver, amount decimal.Decimal, data []byte) error {
	err := h.book.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		// ── 1. Pull payment ──────────────────────────────────────────────────
		if err := ledger.NewToken(token).TransferFrom(tx, h.address, payer, recipient.Address(), amount); err != nil {
			return err
		}

		// ── 2. Notify recipient ──────────────────────────────────────────────
		return recipient.OnTokenTransfer(ctx, tx, domain.Notification{
			Caller: h.address,
			Token:  token,
			From:   payer,
			Amount: amount,
			Data:   data,
		})
	})
	if err != nil {
		h.log.Warn("[hub] payment rejected",
			"payer", payer.Hex(), "token", token.Hex(), "recipient", recipient.Address().Hex(),
			"amount", amount, "error", err)
		return fmt.Errorf("paymenthub.PayAndNotify: %w", err)
	}
	h.log.Info("[hub] payment routed",
		"payer", payer.Hex(), "token", token.Hex(), "recipient", recipient.Address().Hex(), "amount", amount)
	return nil
}
