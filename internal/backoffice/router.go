package backoffice

import (
	"net/http"
	"strings"

	"github.com/evetabi/brokerbot/internal/backoffice/handler"
	"github.com/evetabi/brokerbot/internal/config"
	"github.com/evetabi/brokerbot/internal/service"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc *service.AuthService
	MM      *service.MarketMaker
	Trades  handler.TradeLister
	Hub     handler.ConnectionCounter // nil reports zero connections
	Cfg     *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine on BACKOFFICE_PORT.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	dashH := handler.NewDashboardHandler(deps.MM, deps.Trades, deps.Hub)
	marketH := handler.NewMarketAdminHandler(deps.MM)
	financeH := handler.NewFinanceHandler(deps.Trades)

	admin := r.Group("/admin")
	admin.Use(adminJWTMiddleware(deps.AuthSvc))
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Settings
		admin.POST("/price", marketH.SetPrice)
		admin.POST("/enabled", marketH.SetEnabled)
		admin.POST("/router", marketH.SetRouter)

		// Reserve
		admin.POST("/distribute", marketH.Distribute)
		admin.POST("/withdraw", marketH.Withdraw)

		// Audit
		if deps.Trades != nil {
			admin.GET("/trades", financeH.Trades)
			admin.GET("/trades/report", financeH.Report)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_DENIED",
			})
			return
		}
		c.Next()
	}
}

// ── Admin JWT middleware ──────────────────────────────────────────────────────

// adminJWTMiddleware validates a JWT and requires the authority role. The
// market maker checks the address again on every call.
func adminJWTMiddleware(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized", "code": "ERR_UNAUTHORIZED"})
			return
		}

		claims, err := authSvc.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token", "code": "ERR_TOKEN_INVALID"})
			return
		}
		if claims.Role != service.RoleAuthority {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "insufficient permissions", "code": "ERR_FORBIDDEN"})
			return
		}

		addr, _ := claims.Address()
		c.Set(handler.CtxAddress, addr)
		c.Set("role", claims.Role)
		c.Next()
	}
}
