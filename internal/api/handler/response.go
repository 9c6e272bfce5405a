package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/ledger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

// respondEngineError maps a market maker or ledger error onto a status and
// error code. Unknown errors become a 500 carrying fallback instead of the
// internal message.
func respondEngineError(c *gin.Context, err error, fallback string) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		respondError(c, status, code, fallback)
		return
	}
	respondError(c, status, code, err.Error())
}

// classifyError is the status table shared by every handler.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "ERR_INVALID_CREDENTIALS"
	case errors.Is(err, domain.ErrTokenInvalid):
		return http.StatusUnauthorized, "ERR_TOKEN_INVALID"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "ERR_FORBIDDEN"
	case errors.Is(err, domain.ErrTradingDisabled):
		return http.StatusConflict, "ERR_TRADING_DISABLED"
	case errors.Is(err, domain.ErrInsufficientShareReserve):
		return http.StatusConflict, "ERR_INSUFFICIENT_SHARE_RESERVE"
	case errors.Is(err, domain.ErrInsufficientPaymentReserve):
		return http.StatusConflict, "ERR_INSUFFICIENT_PAYMENT_RESERVE"
	case errors.Is(err, domain.ErrReentrantCall):
		return http.StatusConflict, "ERR_REENTRANT_CALL"
	case errors.Is(err, domain.ErrNegativeQuote):
		return http.StatusUnprocessableEntity, "ERR_NEGATIVE_QUOTE"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "ERR_INSUFFICIENT_BALANCE"
	case errors.Is(err, ledger.ErrInsufficientAllowance):
		return http.StatusPaymentRequired, "ERR_INSUFFICIENT_ALLOWANCE"
	case errors.Is(err, domain.ErrStateNotFound):
		return http.StatusServiceUnavailable, "ERR_NOT_INITIALISED"
	case domain.IsInvalidInput(err):
		return http.StatusBadRequest, "ERR_INVALID_INPUT"
	default:
		return http.StatusInternalServerError, "ERR_INTERNAL"
	}
}

// ── request parsing helpers ──────────────────────────────────────────────────

func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return
}

// parseAddress accepts a 0x-prefixed 20-byte hex address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseAmount accepts a non-negative whole number in decimal notation.
func parseAmount(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() || !d.IsInteger() {
		return decimal.Zero, false
	}
	return d, true
}

// parseRef decodes an optional 0x-prefixed hex payload. Empty means no ref.
func parseRef(s string) ([]byte, bool) {
	if s == "" {
		return nil, true
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, false
	}
	return b, true
}

// parseShareCount reads a whole share count from a query parameter.
func parseShareCount(s string) (uint64, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
