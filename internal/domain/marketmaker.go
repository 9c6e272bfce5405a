// Package domain defines the core entities, pricing arithmetic and errors of
// the tokenized-equity market maker.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// MarketState
// ──────────────────────────────────────────────────────────────────────────────

// MarketState is the mutable part of the market maker. It is stored in the
// ledger next to the balances so that a trade and its price move commit
// together.
type MarketState struct {
	PriceModel
	TradeGate
	PaymentRouter common.Address `json:"payment_router"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Notification
// ──────────────────────────────────────────────────────────────────────────────

// NotificationKind is the tagged direction of an incoming transfer callback.
type NotificationKind int

const (
	BuyNotification  NotificationKind = iota + 1 // payment token arrived
	SellNotification                             // share token arrived
)

func (k NotificationKind) String() string {
	switch k {
	case BuyNotification:
		return "buy"
	case SellNotification:
		return "sell"
	default:
		return "unknown"
	}
}

// Notification describes value that has already arrived at the market maker
// together with the callback that reported it.
type Notification struct {
	Caller common.Address  // router or token contract invoking the callback
	Token  common.Address  // which token moved
	From   common.Address  // original owner of the value
	Amount decimal.Decimal // amount received
	Data   []byte          // opaque routing payload, stored as trade ref
}

// ──────────────────────────────────────────────────────────────────────────────
// Trade
// ──────────────────────────────────────────────────────────────────────────────

// Trade records one settled movement. Payment is zero for distributions.
type Trade struct {
	ID           uuid.UUID       `json:"id"            db:"id"`
	Direction    Direction       `json:"direction"     db:"direction"`
	Counterparty common.Address  `json:"counterparty"  db:"counterparty"`
	Shares       decimal.Decimal `json:"shares"        db:"shares"`
	Payment      decimal.Decimal `json:"payment"       db:"payment"`
	PriceAfter   decimal.Decimal `json:"price_after"   db:"price_after"`
	Ref          []byte          `json:"ref"           db:"ref"`
	ExecutedAt   time.Time       `json:"executed_at"   db:"executed_at"`
}

// SettingsChange is emitted after every successful administrative call.
type SettingsChange struct {
	Field     string         `json:"field"` // "price" | "enabled" | "router"
	State     MarketState    `json:"state"`
	ChangedBy common.Address `json:"changed_by"`
	ChangedAt time.Time      `json:"changed_at"`
}

// MarketSummary is a read-only view for quote endpoints and broadcasts.
type MarketSummary struct {
	Price          decimal.Decimal `json:"price"`
	Increment      decimal.Decimal `json:"increment"`
	Gate           GateState       `json:"gate"`
	BuyingEnabled  bool            `json:"buying_enabled"`
	SellingEnabled bool            `json:"selling_enabled"`
	ShareReserve   decimal.Decimal `json:"share_reserve"`
	PaymentReserve decimal.Decimal `json:"payment_reserve"`
}

// ToSummary builds a MarketSummary from the state and current reserves.
func (s MarketState) ToSummary(shareReserve, paymentReserve decimal.Decimal) MarketSummary {
	return MarketSummary{
		Price:          s.Price,
		Increment:      s.Increment,
		Gate:           s.State(),
		BuyingEnabled:  s.BuyingEnabled,
		SellingEnabled: s.SellingEnabled,
		ShareReserve:   shareReserve,
		PaymentReserve: paymentReserve,
	}
}
