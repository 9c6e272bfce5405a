package api

import (
	"net/http"

	"github.com/evetabi/brokerbot/internal/api/handler"
	"github.com/evetabi/brokerbot/internal/api/middleware"
	"github.com/evetabi/brokerbot/internal/config"
	"github.com/evetabi/brokerbot/internal/paymenthub"
	"github.com/evetabi/brokerbot/internal/service"
	"github.com/evetabi/brokerbot/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc   *service.AuthService
	MM        *service.MarketMaker
	WalletSvc *service.WalletService
	PayHub    *paymenthub.Hub     // nil disables /api/hub
	Trades    handler.TradeLister // audit log for /api/trades/my
	Hub       *ws.Hub             // nil disables /ws
	Cfg       *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	authH := handler.NewAuthHandler(deps.AuthSvc)
	marketH := handler.NewMarketHandler(deps.MM)
	tradeH := handler.NewTradeHandler(deps.MM, deps.PayHub, deps.Trades)
	walletH := handler.NewWalletHandler(deps.WalletSvc, deps.MM)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	authRL := middleware.RateLimitMiddleware(10)  // 10 req/s per IP for auth endpoints
	tradeRL := middleware.RateLimitMiddleware(30) // 30 req/s per address for trade endpoints

	api := r.Group("/api")
	{
		// ── Auth (public, strict rate limit) ─────────────────────────────────
		auth := api.Group("/auth")
		auth.Use(authRL)
		{
			auth.POST("/login", authH.Login)
		}

		// ── Quotes and state (public) ────────────────────────────────────────
		quote := api.Group("/quote")
		{
			quote.GET("", marketH.GetQuote)
			quote.GET("/buy", marketH.GetBuyCost)
			quote.GET("/sell", marketH.GetSellCost)
			quote.GET("/shares", marketH.GetSharesForPayment)
		}
		api.GET("/state", marketH.GetState)
		api.GET("/balances/:address", walletH.GetBalances)

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW)
		{
			authed.GET("/me", authH.Me)

			// Direct trades
			trades := authed.Group("/trades")
			trades.Use(tradeRL)
			{
				trades.POST("/buy", tradeH.Buy)
				trades.POST("/sell", tradeH.Sell)
				if deps.Trades != nil {
					trades.GET("/my", tradeH.GetMyTrades)
				}
			}

			// Wallet
			authed.POST("/allowances", walletH.Approve)
			authed.POST("/transfers/notify", tradeRL, walletH.TransferAndCall)

			// Payment router
			if deps.PayHub != nil {
				hub := authed.Group("/hub")
				hub.Use(tradeRL)
				{
					hub.POST("/approve", tradeH.HubApprove)
					hub.POST("/pay", tradeH.HubPay)
				}
			}
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets CORS headers. Outside
// production every origin is allowed; in production only the configured
// WS_ALLOWED_ORIGINS.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
