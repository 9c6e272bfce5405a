// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs broadcast to connected clients.
package ws

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeQuote    MsgType = "quote"
	MsgTypeTrade    MsgType = "trade"
	MsgTypeSettings MsgType = "settings"
	MsgTypeError    MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// QuoteMessage: sent on every scheduler tick.
// ──────────────────────────────────────────────────────────────────────────────

// QuoteMessage carries the current quote, gate and reserves.
type QuoteMessage struct {
	Type           MsgType          `json:"type"`
	Price          decimal.Decimal  `json:"price"`
	Increment      decimal.Decimal  `json:"increment"`
	SellPrice      *decimal.Decimal `json:"sell_price"` // nil when one share cannot be sold
	Gate           domain.GateState `json:"gate"`
	ShareReserve   decimal.Decimal  `json:"share_reserve"`
	PaymentReserve decimal.Decimal  `json:"payment_reserve"`
	Clients        int              `json:"clients"`
	Timestamp      time.Time        `json:"timestamp"`
}

// NewQuoteMessage builds a QuoteMessage from a market summary.
func NewQuoteMessage(sum domain.MarketSummary, now time.Time) QuoteMessage {
	msg := QuoteMessage{
		Type:           MsgTypeQuote,
		Price:          sum.Price,
		Increment:      sum.Increment,
		Gate:           sum.Gate,
		ShareReserve:   sum.ShareReserve,
		PaymentReserve: sum.PaymentReserve,
		Timestamp:      now,
	}
	model := domain.PriceModel{Price: sum.Price, Increment: sum.Increment}
	if sell, err := model.SellCost(1); err == nil {
		msg.SellPrice = &sell
	}
	return msg
}

// ──────────────────────────────────────────────────────────────────────────────
// TradeMessage: broadcast after every committed trade.
// ──────────────────────────────────────────────────────────────────────────────

// TradeMessage notifies all clients that the quote has moved.
type TradeMessage struct {
	Type         MsgType          `json:"type"`
	TradeID      uuid.UUID        `json:"trade_id"`
	Direction    domain.Direction `json:"direction"`
	Counterparty common.Address   `json:"counterparty"`
	Shares       decimal.Decimal  `json:"shares"`
	Payment      decimal.Decimal  `json:"payment"`
	PriceAfter   decimal.Decimal  `json:"price_after"`
	Ref          []byte           `json:"ref,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// SettingsMessage: broadcast after an authority call.
// ──────────────────────────────────────────────────────────────────────────────

// SettingsMessage carries the full state after a settings change.
type SettingsMessage struct {
	Type           MsgType          `json:"type"`
	Field          string           `json:"field"`
	Price          decimal.Decimal  `json:"price"`
	Increment      decimal.Decimal  `json:"increment"`
	Gate           domain.GateState `json:"gate"`
	BuyingEnabled  bool             `json:"buying_enabled"`
	SellingEnabled bool             `json:"selling_enabled"`
	PaymentRouter  common.Address   `json:"payment_router"`
	ChangedBy      common.Address   `json:"changed_by"`
	Timestamp      time.Time        `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage: sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
