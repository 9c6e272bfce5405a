package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/shopspring/decimal"
)

// Receiver is an account that wants to be told when value arrives through
// TransferAndCall. The callback runs inside the transaction that moved the
// value; returning an error rolls the transfer back.
type Receiver interface {
	Address() common.Address
	OnTokenTransfer(ctx context.Context, tx Tx, n domain.Notification) error
}

// Token is a handle on one token contract's balances inside a Tx.
type Token struct {
	Address common.Address
}

// NewToken returns a handle for the token at addr.
func NewToken(addr common.Address) Token {
	return Token{Address: addr}
}

// BalanceOf returns holder's balance.
func (t Token) BalanceOf(tx Tx, holder common.Address) (decimal.Decimal, error) {
	return tx.Balance(t.Address, holder)
}

// Transfer moves amount from one holder to another.
func (t Token) Transfer(tx Tx, from, to common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount("transfer amount", amount); err != nil {
		return err
	}
	if err := tx.Move(t.Address, from, to, amount); err != nil {
		return fmt.Errorf("token %s: transfer: %w", t.Address.Hex(), err)
	}
	return nil
}

// Approve sets the amount spender may move out of owner's balance.
func (t Token) Approve(tx Tx, owner, spender common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount("allowance", amount); err != nil {
		return err
	}
	return tx.SetAllowance(t.Address, owner, spender, amount)
}

// Allowance returns what spender may still move on behalf of owner.
func (t Token) Allowance(tx Tx, owner, spender common.Address) (decimal.Decimal, error) {
	return tx.Allowance(t.Address, owner, spender)
}

// TransferFrom moves amount out of from's balance on behalf of spender,
// consuming allowance. A maximal allowance is never decremented.
func (t Token) TransferFrom(tx Tx, spender, from, to common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount("transfer amount", amount); err != nil {
		return err
	}
	if spender != from {
		allowed, err := tx.Allowance(t.Address, from, spender)
		if err != nil {
			return fmt.Errorf("token %s: read allowance: %w", t.Address.Hex(), err)
		}
		if allowed.LessThan(amount) {
			return fmt.Errorf("%w: %s may move %s of %s, needs %s",
				ErrInsufficientAllowance, spender.Hex(), allowed, from.Hex(), amount)
		}
		if !allowed.Equal(domain.MaxAmount()) {
			if err := tx.SetAllowance(t.Address, from, spender, allowed.Sub(amount)); err != nil {
				return fmt.Errorf("token %s: consume allowance: %w", t.Address.Hex(), err)
			}
		}
	}
	if err := tx.Move(t.Address, from, to, amount); err != nil {
		return fmt.Errorf("token %s: transfer from: %w", t.Address.Hex(), err)
	}
	return nil
}

// TransferAndCall moves amount to the receiver and then invokes its
// OnTokenTransfer with this token as caller.
func (t Token) TransferAndCall(ctx context.Context, tx Tx, from common.Address, to Receiver, amount decimal.Decimal, data []byte) error {
	if err := t.Transfer(tx, from, to.Address(), amount); err != nil {
		return err
	}
	return to.OnTokenTransfer(ctx, tx, domain.Notification{
		Caller: t.Address,
		Token:  t.Address,
		From:   from,
		Amount: amount,
		Data:   data,
	})
}

// Mint credits new supply to holder. Used to fund accounts outside the
// market maker.
func (t Token) Mint(tx Tx, holder common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount("mint amount", amount); err != nil {
		return err
	}
	bal, err := tx.Balance(t.Address, holder)
	if err != nil {
		return err
	}
	if err := domain.ValidateAmount("balance after mint", bal.Add(amount)); err != nil {
		return err
	}
	return tx.Mint(t.Address, holder, amount)
}
