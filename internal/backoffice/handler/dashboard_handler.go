package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/repository"
	"github.com/evetabi/brokerbot/internal/service"
	"github.com/gin-gonic/gin"
)

// TradeLister reads the trade audit log. Implemented by
// repository.TradeRepository and repository.MemoryTradeLog.
type TradeLister interface {
	List(ctx context.Context, f repository.TradeFilter) ([]domain.Trade, int, error)
}

// ConnectionCounter reports live WS clients. Implemented by ws.Hub.
type ConnectionCounter interface {
	ConnectedCount() int
}

// DashboardHandler serves the /admin/dashboard endpoint.
type DashboardHandler struct {
	mm     *service.MarketMaker
	trades TradeLister
	hub    ConnectionCounter
}

// NewDashboardHandler creates a DashboardHandler. hub may be nil.
func NewDashboardHandler(mm *service.MarketMaker, trades TradeLister, hub ConnectionCounter) *DashboardHandler {
	return &DashboardHandler{mm: mm, trades: trades, hub: hub}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	// ── Market ───────────────────────────────────────────────────────────────
	sum, err := h.mm.Summary(ctx)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	st, err := h.mm.State(ctx)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	// mark-to-quote value of the share reserve
	mark := sum.Price.Mul(sum.ShareReserve)

	// ── Recent trades ────────────────────────────────────────────────────────
	var recent []domain.Trade
	var tradeCount int
	if h.trades != nil {
		recent, tradeCount, _ = h.trades.List(ctx, repository.TradeFilter{Limit: 10})
	}

	// ── WS connections ────────────────────────────────────────────────────────
	var wsConnections int
	if h.hub != nil {
		wsConnections = h.hub.ConnectedCount()
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"timestamp":      time.Now().UTC(),
		"market":         sum,
		"payment_router": st.PaymentRouter,
		"updated_at":     st.UpdatedAt,
		"reserve_mark":   mark,
		"trade_count":    tradeCount,
		"recent_trades":  recent,
		"ws_connections": wsConnections,
	})
}
