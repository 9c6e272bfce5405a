package domain

// Direction is the side of a trade seen from the counterparty.
type Direction string

const (
	DirectionBuy          Direction = "buy"          // counterparty receives shares, pays payment token
	DirectionSell         Direction = "sell"         // counterparty delivers shares, receives payment token
	DirectionDistribution Direction = "distribution" // authority allocation, no payment
)

// GateState is the configuration derived from the two trade flags.
type GateState string

const (
	GateClosed   GateState = "closed"
	GateBuyOnly  GateState = "buy_only"
	GateSellOnly GateState = "sell_only"
	GateOpen     GateState = "open"
)

// TradeGate holds the independent buying/selling switches.
type TradeGate struct {
	BuyingEnabled  bool `json:"buying_enabled"`
	SellingEnabled bool `json:"selling_enabled"`
}

// State maps the flags onto one of the four gate configurations.
func (g TradeGate) State() GateState {
	switch {
	case g.BuyingEnabled && g.SellingEnabled:
		return GateOpen
	case g.BuyingEnabled:
		return GateBuyOnly
	case g.SellingEnabled:
		return GateSellOnly
	default:
		return GateClosed
	}
}

// AssertBuyAllowed fails with a *TradingDisabledError when buying is off.
func (g TradeGate) AssertBuyAllowed() error {
	if !g.BuyingEnabled {
		return &TradingDisabledError{Direction: DirectionBuy}
	}
	return nil
}

// AssertSellAllowed fails with a *TradingDisabledError when selling is off.
func (g TradeGate) AssertSellAllowed() error {
	if !g.SellingEnabled {
		return &TradingDisabledError{Direction: DirectionSell}
	}
	return nil
}
