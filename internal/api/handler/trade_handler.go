package handler

import (
	"context"
	"net/http"

	"github.com/evetabi/brokerbot/internal/api/middleware"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/paymenthub"
	"github.com/evetabi/brokerbot/internal/repository"
	"github.com/evetabi/brokerbot/internal/service"
	"github.com/gin-gonic/gin"
)

// TradeLister reads the trade audit log. Implemented by
// repository.TradeRepository and repository.MemoryTradeLog.
type TradeLister interface {
	List(ctx context.Context, f repository.TradeFilter) ([]domain.Trade, int, error)
}

// TradeHandler serves direct trades, router-relayed payments and the
// caller's trade history.
type TradeHandler struct {
	mm     *service.MarketMaker
	hub    *paymenthub.Hub
	trades TradeLister
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(mm *service.MarketMaker, hub *paymenthub.Hub, trades TradeLister) *TradeHandler {
	return &TradeHandler{mm: mm, hub: hub, trades: trades}
}

// GetMyTrades godoc
// GET /api/trades/my?page=1&limit=20 [JWT]
func (h *TradeHandler) GetMyTrades(c *gin.Context) {
	page, limit := parsePagination(c)
	caller := middleware.GetAddress(c)

	trades, total, err := h.trades.List(c.Request.Context(), repository.TradeFilter{
		Counterparty: caller,
		Direction:    domain.Direction(c.Query("direction")),
		Limit:        limit,
		Offset:       (page - 1) * limit,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch trades")
		return
	}
	respondList(c, trades, total, page, limit)
}

// Buy godoc
// POST /api/trades/buy [JWT]
// Body: {"payment":"1000","ref":"0x..."}
func (h *TradeHandler) Buy(c *gin.Context) {
	var body struct {
		Payment string `json:"payment" binding:"required"`
		Ref     string `json:"ref"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	payment, ok := parseAmount(body.Payment)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "payment must be a non-negative whole number")
		return
	}
	ref, ok := parseRef(body.Ref)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_REF", "ref must be 0x-prefixed hex")
		return
	}

	exec, err := h.mm.Buy(c.Request.Context(), middleware.GetAddress(c), payment, ref)
	if err != nil {
		respondEngineError(c, err, "could not execute buy")
		return
	}
	respondSuccess(c, http.StatusOK, exec)
}

// Sell godoc
// POST /api/trades/sell [JWT]
// Body: {"shares":"3","ref":"0x..."}
func (h *TradeHandler) Sell(c *gin.Context) {
	var body struct {
		Shares string `json:"shares" binding:"required"`
		Ref    string `json:"ref"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	shares, ok := parseAmount(body.Shares)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_SHARES", "shares must be a non-negative whole number")
		return
	}
	ref, ok := parseRef(body.Ref)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_REF", "ref must be 0x-prefixed hex")
		return
	}

	exec, err := h.mm.Sell(c.Request.Context(), middleware.GetAddress(c), shares, ref)
	if err != nil {
		respondEngineError(c, err, "could not execute sell")
		return
	}
	respondSuccess(c, http.StatusOK, exec)
}

// HubApprove godoc
// POST /api/hub/approve [JWT]
// Body: {"token":"0x...","amount":"1000"}
func (h *TradeHandler) HubApprove(c *gin.Context) {
	var body struct {
		Token  string `json:"token"  binding:"required"`
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	token, ok := parseAddress(body.Token)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "token must be a hex address")
		return
	}
	amount, ok := parseAmount(body.Amount)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a non-negative whole number")
		return
	}

	if err := h.hub.Approve(c.Request.Context(), middleware.GetAddress(c), token, amount); err != nil {
		respondEngineError(c, err, "could not approve router")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"spender": h.hub.Address(), "token": token, "amount": amount})
}

// HubPay godoc
// POST /api/hub/pay [JWT]
// Body: {"token":"0x...","amount":"1000","data":"0x..."}
//
// Pulls amount through the payment router and notifies the market maker.
// Paying with the payment token buys, paying with the share token sells.
func (h *TradeHandler) HubPay(c *gin.Context) {
	var body struct {
		Token  string `json:"token"  binding:"required"`
		Amount string `json:"amount" binding:"required"`
		Data   string `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	token, ok := parseAddress(body.Token)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "token must be a hex address")
		return
	}
	amount, ok := parseAmount(body.Amount)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a non-negative whole number")
		return
	}
	data, ok := parseRef(body.Data)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_REF", "data must be 0x-prefixed hex")
		return
	}

	payer := middleware.GetAddress(c)
	if err := h.hub.PayAndNotify(c.Request.Context(), payer, token, h.mm, amount, data); err != nil {
		respondEngineError(c, err, "could not route payment")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"payer": payer, "token": token, "amount": amount})
}
