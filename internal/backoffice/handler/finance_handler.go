package handler

import (
	"net/http"

	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// FinanceHandler serves the trade audit endpoints.
type FinanceHandler struct {
	trades TradeLister
}

// NewFinanceHandler creates a FinanceHandler.
func NewFinanceHandler(trades TradeLister) *FinanceHandler {
	return &FinanceHandler{trades: trades}
}

// Trades godoc
// GET /admin/trades?counterparty=0x..&direction=buy&page=1&limit=50
func (h *FinanceHandler) Trades(c *gin.Context) {
	page, limit := adminPagination(c)

	f := repository.TradeFilter{
		Direction: domain.Direction(c.Query("direction")),
		Limit:     limit,
		Offset:    (page - 1) * limit,
	}
	if cp := c.Query("counterparty"); cp != "" {
		addr, ok := parseAddress(cp)
		if !ok {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "counterparty must be a hex address")
			return
		}
		f.Counterparty = addr
	}

	trades, total, err := h.trades.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondList(c, trades, total, page, limit)
}

// directionTotals aggregates one direction of the trade log.
type directionTotals struct {
	Count   int             `json:"count"`
	Shares  decimal.Decimal `json:"shares"`
	Payment decimal.Decimal `json:"payment"`
}

// Report godoc
// GET /admin/trades/report
//
// Totals per direction over every recorded trade; net_payment is what the
// reserve gained from buys minus what sells paid out.
func (h *FinanceHandler) Report(c *gin.Context) {
	trades, _, err := h.trades.List(c.Request.Context(), repository.TradeFilter{})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}

	totals := map[domain.Direction]*directionTotals{
		domain.DirectionBuy:          {},
		domain.DirectionSell:         {},
		domain.DirectionDistribution: {},
	}
	for _, t := range trades {
		agg, ok := totals[t.Direction]
		if !ok {
			continue
		}
		agg.Count++
		agg.Shares = agg.Shares.Add(t.Shares)
		agg.Payment = agg.Payment.Add(t.Payment)
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"buy":          totals[domain.DirectionBuy],
		"sell":         totals[domain.DirectionSell],
		"distribution": totals[domain.DirectionDistribution],
		"net_payment":  totals[domain.DirectionBuy].Payment.Sub(totals[domain.DirectionSell].Payment),
		"net_shares":   totals[domain.DirectionBuy].Shares.Add(totals[domain.DirectionDistribution].Shares).Sub(totals[domain.DirectionSell].Shares),
	})
}
