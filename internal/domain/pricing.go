package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// PriceModel
// ──────────────────────────────────────────────────────────────────────────────

// PriceModel is the linear price-impact curve of the market maker.
//
// Price is the cost of the next single share bought. Every further share in
// the same buy costs Increment more; a sell starts one Increment below Price
// and steps down by Increment per share:
//
//	BuyCost(n)  = n·P + d·n(n-1)/2
//	SellCost(n) = n·P − d·n(n+1)/2
//
// All values are whole smallest-unit amounts. Increment may be negative.
type PriceModel struct {
	Price     decimal.Decimal `json:"price"`
	Increment decimal.Decimal `json:"increment"`
}

// NewPriceModel validates and returns a PriceModel.
func NewPriceModel(price, increment decimal.Decimal) (PriceModel, error) {
	m := PriceModel{Price: price, Increment: increment}
	if err := m.Validate(); err != nil {
		return PriceModel{}, err
	}
	return m, nil
}

// Validate checks that Price is a whole number in [0, 2^256-1] and Increment a
// whole number whose magnitude fits the same range.
func (m PriceModel) Validate() error {
	if m.Price.IsNegative() || !m.Price.IsInteger() {
		return fmt.Errorf("%w: price must be a non-negative whole number, got %s", ErrInvalidPrice, m.Price)
	}
	if !m.Increment.IsInteger() {
		return fmt.Errorf("%w: increment must be a whole number, got %s", ErrInvalidPrice, m.Increment)
	}
	if toBig(m.Price).Cmp(maxUint256) > 0 {
		return overflowf("price %s exceeds 2^256-1", m.Price)
	}
	if new(big.Int).Abs(toBig(m.Increment)).Cmp(maxUint256) > 0 {
		return overflowf("increment %s exceeds 2^256-1", m.Increment)
	}
	return nil
}

// Quote returns the price of the next single share.
func (m PriceModel) Quote() decimal.Decimal {
	return m.Price
}

// BuyCost returns the payment needed to buy n shares from the market maker.
// Fails with ErrNegativeQuote when a negative increment would push the price
// below zero within the trade.
func (m PriceModel) BuyCost(n uint64) (decimal.Decimal, error) {
	if n == 0 {
		return decimal.Zero, nil
	}
	p, d, bn := toBig(m.Price), toBig(m.Increment), new(big.Int).SetUint64(n)
	if _, err := m.PriceAfterBuy(n); err != nil {
		return decimal.Zero, err
	}
	return fromBig("buy cost", buyCost(p, d, bn))
}

// SellCost returns the payment the market maker pays for n shares. Fails with
// ErrNegativeQuote when the price would drop below zero within the trade.
func (m PriceModel) SellCost(n uint64) (decimal.Decimal, error) {
	if n == 0 {
		return decimal.Zero, nil
	}
	p, d, bn := toBig(m.Price), toBig(m.Increment), new(big.Int).SetUint64(n)
	if _, err := m.PriceAfterSell(n); err != nil {
		return decimal.Zero, err
	}
	// n·P − d·n(n+1)/2
	tri := new(big.Int).Mul(bn, new(big.Int).Add(bn, big.NewInt(1)))
	tri.Rsh(tri, 1)
	cost := new(big.Int).Mul(bn, p)
	cost.Sub(cost, tri.Mul(tri, d))
	return fromBig("sell cost", cost)
}

// PriceAfterBuy returns the quote once n shares have been bought.
func (m PriceModel) PriceAfterBuy(n uint64) (decimal.Decimal, error) {
	next := new(big.Int).Mul(toBig(m.Increment), new(big.Int).SetUint64(n))
	next.Add(next, toBig(m.Price))
	return fromBig(fmt.Sprintf("price after buying %d shares", n), next)
}

// PriceAfterSell returns the quote once n shares have been sold.
func (m PriceModel) PriceAfterSell(n uint64) (decimal.Decimal, error) {
	next := new(big.Int).Mul(toBig(m.Increment), new(big.Int).SetUint64(n))
	next.Sub(toBig(m.Price), next)
	return fromBig(fmt.Sprintf("price after selling %d shares", n), next)
}

// SharesForPayment returns the largest n with BuyCost(n) <= amount.
//
// The closed form solves d·n² + (2P − d)·n − 2A = 0 with an exact integer
// square root; the floor is then corrected by stepping so that
// SharesForPayment(BuyCost(n)) == n holds for every n.
func (m PriceModel) SharesForPayment(amount decimal.Decimal) (uint64, error) {
	if err := ValidateAmount("payment", amount); err != nil {
		return 0, err
	}
	if amount.IsZero() {
		return 0, nil
	}
	p, d, a := toBig(m.Price), toBig(m.Increment), toBig(amount)
	if p.Sign() == 0 {
		return 0, fmt.Errorf("%w: cannot price a payment of %s at zero", ErrInvalidPrice, amount)
	}

	var n *big.Int
	switch d.Sign() {
	case 0:
		n = new(big.Int).Quo(a, p)
	case 1:
		n = positiveRoot(p, d, a)
	default:
		n = concaveRoot(p, d, a)
	}

	if !n.IsUint64() {
		return 0, overflowf("share count for payment %s exceeds uint64", amount)
	}
	return n.Uint64(), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Integer helpers
// ──────────────────────────────────────────────────────────────────────────────

// buyCost evaluates n·P + d·n(n-1)/2 without range checks.
func buyCost(p, d, n *big.Int) *big.Int {
	if n.Sign() == 0 {
		return new(big.Int)
	}
	tri := new(big.Int).Mul(n, new(big.Int).Sub(n, big.NewInt(1)))
	tri.Rsh(tri, 1)
	cost := new(big.Int).Mul(n, p)
	return cost.Add(cost, tri.Mul(tri, d))
}

// positiveRoot handles d > 0, where the cost curve is strictly increasing.
func positiveRoot(p, d, a *big.Int) *big.Int {
	// b = 2P − d, disc = b² + 8dA
	b := new(big.Int).Sub(new(big.Int).Lsh(p, 1), d)
	disc := new(big.Int).Mul(b, b)
	disc.Add(disc, new(big.Int).Mul(new(big.Int).Lsh(d, 3), a))

	num := new(big.Int).Sqrt(disc)
	num.Sub(num, b)
	n := new(big.Int)
	if num.Sign() > 0 {
		n.Div(num, new(big.Int).Lsh(d, 1))
	}
	return settle(p, d, a, n, nil)
}

// concaveRoot handles d < 0. The curve rises until the price reaches zero, so
// the answer is capped at floor(P/|d|) shares.
func concaveRoot(p, d, a *big.Int) *big.Int {
	e := new(big.Int).Neg(d)
	limit := new(big.Int).Quo(p, e)
	if buyCost(p, d, limit).Cmp(a) <= 0 {
		return limit
	}

	// Smaller root of e·n² − (2P + e)·n + 2A = 0.
	b := new(big.Int).Add(new(big.Int).Lsh(p, 1), e)
	disc := new(big.Int).Mul(b, b)
	disc.Sub(disc, new(big.Int).Mul(new(big.Int).Lsh(e, 3), a))
	if disc.Sign() < 0 {
		return settle(p, d, a, new(big.Int).Set(limit), limit)
	}
	num := new(big.Int).Sub(b, new(big.Int).Sqrt(disc))
	n := new(big.Int)
	if num.Sign() > 0 {
		n.Div(num, new(big.Int).Lsh(e, 1))
	}
	if n.Cmp(limit) > 0 {
		n.Set(limit)
	}
	return settle(p, d, a, n, limit)
}

// settle moves an estimate n to the largest value with buyCost(n) <= a,
// never exceeding limit when limit is non-nil.
func settle(p, d, a, n, limit *big.Int) *big.Int {
	one := big.NewInt(1)
	for n.Sign() > 0 && buyCost(p, d, n).Cmp(a) > 0 {
		n.Sub(n, one)
	}
	for {
		next := new(big.Int).Add(n, one)
		if limit != nil && next.Cmp(limit) > 0 {
			return n
		}
		if buyCost(p, d, next).Cmp(a) > 0 {
			return n
		}
		n = next
	}
}
