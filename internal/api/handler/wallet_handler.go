package handler

import (
	"net/http"

	"github.com/evetabi/brokerbot/internal/api/middleware"
	"github.com/evetabi/brokerbot/internal/service"
	"github.com/gin-gonic/gin"
)

// WalletHandler serves balance, allowance and transfer endpoints.
type WalletHandler struct {
	wallet *service.WalletService
	mm     *service.MarketMaker
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(wallet *service.WalletService, mm *service.MarketMaker) *WalletHandler {
	return &WalletHandler{wallet: wallet, mm: mm}
}

// GetBalances godoc
// GET /api/balances/:address
func (h *WalletHandler) GetBalances(c *gin.Context) {
	holder, ok := parseAddress(c.Param("address"))
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "address must be a hex address")
		return
	}
	shares, payment, err := h.mm.Balances(c.Request.Context(), holder)
	if err != nil {
		respondEngineError(c, err, "could not fetch balances")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"address": holder,
		"shares":  shares,
		"payment": payment,
	})
}

// Approve godoc
// POST /api/allowances [JWT]
// Body: {"token":"0x...","spender":"0x...","amount":"1000"}
//
// Omitting spender approves the market maker, which direct trades pull from.
func (h *WalletHandler) Approve(c *gin.Context) {
	var body struct {
		Token   string `json:"token"  binding:"required"`
		Spender string `json:"spender"`
		Amount  string `json:"amount" binding:"required"`
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
	spender := h.mm.Address()
	if body.Spender != "" {
		if spender, ok = parseAddress(body.Spender); !ok {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "spender must be a hex address")
			return
		}
	}
	amount, ok := parseAmount(body.Amount)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a non-negative whole number")
		return
	}

	owner := middleware.GetAddress(c)
	if err := h.wallet.Approve(c.Request.Context(), owner, token, spender, amount); err != nil {
		respondEngineError(c, err, "could not set allowance")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"owner": owner, "spender": spender, "token": token, "amount": amount})
}

// TransferAndCall godoc
// POST /api/transfers/notify [JWT]
// Body: {"token":"0x...","amount":"1000","data":"0x..."}
//
// Sends amount straight to the market maker and lets the token deliver the
// notification itself.
func (h *WalletHandler) TransferAndCall(c *gin.Context) {
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

	from := middleware.GetAddress(c)
	if err := h.wallet.TransferAndCall(c.Request.Context(), from, token, h.mm, amount, data); err != nil {
		respondEngineError(c, err, "could not transfer")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"from": from, "token": token, "amount": amount})
}
