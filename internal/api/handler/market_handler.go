package handler

import (
	"net/http"

	"github.com/evetabi/brokerbot/internal/service"
	"github.com/gin-gonic/gin"
)

// MarketHandler serves quote and state query endpoints.
type MarketHandler struct {
	mm *service.MarketMaker
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(mm *service.MarketMaker) *MarketHandler {
	return &MarketHandler{mm: mm}
}

// GetQuote godoc
// GET /api/quote
func (h *MarketHandler) GetQuote(c *gin.Context) {
	sum, err := h.mm.Summary(c.Request.Context())
	if err != nil {
		respondEngineError(c, err, "could not fetch quote")
		return
	}
	respondSuccess(c, http.StatusOK, sum)
}

// GetState godoc
// GET /api/state
func (h *MarketHandler) GetState(c *gin.Context) {
	st, err := h.mm.State(c.Request.Context())
	if err != nil {
		respondEngineError(c, err, "could not fetch state")
		return
	}
	cfg := h.mm.Settings()
	respondSuccess(c, http.StatusOK, gin.H{
		"address":       cfg.Address,
		"share_token":   cfg.ShareToken,
		"payment_token": cfg.PaymentToken,
		"authority":     cfg.Authority,
		"state":         st,
		"gate":          st.State(),
	})
}

// GetBuyCost godoc
// GET /api/quote/buy?shares=10
func (h *MarketHandler) GetBuyCost(c *gin.Context) {
	n, ok := parseShareCount(c.Query("shares"))
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_SHARES", "shares must be a whole number")
		return
	}
	cost, err := h.mm.BuyCost(c.Request.Context(), n)
	if err != nil {
		respondEngineError(c, err, "could not price buy")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"shares": n, "cost": cost})
}

// GetSellCost godoc
// GET /api/quote/sell?shares=10
func (h *MarketHandler) GetSellCost(c *gin.Context) {
	n, ok := parseShareCount(c.Query("shares"))
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_SHARES", "shares must be a whole number")
		return
	}
	proceeds, err := h.mm.SellCost(c.Request.Context(), n)
	if err != nil {
		respondEngineError(c, err, "could not price sell")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"shares": n, "proceeds": proceeds})
}

// GetSharesForPayment godoc
// GET /api/quote/shares?amount=1000
func (h *MarketHandler) GetSharesForPayment(c *gin.Context) {
	amount, ok := parseAmount(c.Query("amount"))
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a non-negative whole number")
		return
	}
	n, err := h.mm.SharesForPayment(c.Request.Context(), amount)
	if err != nil {
		respondEngineError(c, err, "could not price payment")
		return
	}
	cost, err := h.mm.BuyCost(c.Request.Context(), n)
	if err != nil {
		respondEngineError(c, err, "could not price payment")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"amount": amount, "shares": n, "cost": cost})
}
