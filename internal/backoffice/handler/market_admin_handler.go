package handler

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// CtxAddress is where adminJWTMiddleware stores the caller's address.
const CtxAddress = "address"

func callerAddress(c *gin.Context) common.Address {
	v, _ := c.Get(CtxAddress)
	addr, _ := v.(common.Address)
	return addr
}

// MarketAdminHandler serves the authority-only /admin endpoints.
type MarketAdminHandler struct {
	mm *service.MarketMaker
}

// NewMarketAdminHandler creates a MarketAdminHandler.
func NewMarketAdminHandler(mm *service.MarketMaker) *MarketAdminHandler {
	return &MarketAdminHandler{mm: mm}
}

// SetPrice godoc
// POST /admin/price
// Body: {"price":"1000000","increment":"10"}
func (h *MarketAdminHandler) SetPrice(c *gin.Context) {
	var body struct {
		Price     string `json:"price"     binding:"required"`
		Increment string `json:"increment" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	price, ok := parseWhole(body.Price, false)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PRICE", "price must be a non-negative whole number")
		return
	}
	increment, ok := parseWhole(body.Increment, true)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PRICE", "increment must be a whole number")
		return
	}

	if err := h.mm.SetPrice(c.Request.Context(), callerAddress(c), price, increment); err != nil {
		respondEngineError(c, err)
		return
	}
	h.respondState(c)
}

// SetEnabled godoc
// POST /admin/enabled
// Body: {"buying":true,"selling":false}
func (h *MarketAdminHandler) SetEnabled(c *gin.Context) {
	var body struct {
		Buying  *bool `json:"buying"  binding:"required"`
		Selling *bool `json:"selling" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	if err := h.mm.SetEnabled(c.Request.Context(), callerAddress(c), *body.Buying, *body.Selling); err != nil {
		respondEngineError(c, err)
		return
	}
	h.respondState(c)
}

// SetRouter godoc
// POST /admin/router
// Body: {"router":"0x..."}; an empty router stops trusting router notifications.
func (h *MarketAdminHandler) SetRouter(c *gin.Context) {
	var body struct {
		Router string `json:"router"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	var router common.Address
	if body.Router != "" {
		var ok bool
		if router, ok = parseAddress(body.Router); !ok {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "router must be a hex address")
			return
		}
	}

	if err := h.mm.SetPaymentRouter(c.Request.Context(), callerAddress(c), router); err != nil {
		respondEngineError(c, err)
		return
	}
	h.respondState(c)
}

// Distribute godoc
// POST /admin/distribute
// Body: {"recipients":["0x.."],"amounts":["10"],"refs":["0x.."]}
//
// The three arrays must have the same length. Omitting refs entirely sends
// every entry with an empty ref.
func (h *MarketAdminHandler) Distribute(c *gin.Context) {
	var body struct {
		Recipients []string `json:"recipients" binding:"required"`
		Amounts    []string `json:"amounts"    binding:"required"`
		Refs       []string `json:"refs"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if body.Refs == nil {
		body.Refs = make([]string, len(body.Recipients))
	}

	recipients := make([]common.Address, len(body.Recipients))
	for i, s := range body.Recipients {
		addr, ok := parseAddress(s)
		if !ok {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "recipients must be hex addresses")
			return
		}
		recipients[i] = addr
	}
	amounts := make([]decimal.Decimal, len(body.Amounts))
	for i, s := range body.Amounts {
		d, ok := parseWhole(s, false)
		if !ok {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amounts must be non-negative whole numbers")
			return
		}
		amounts[i] = d
	}
	refs := make([][]byte, len(body.Refs))
	for i, s := range body.Refs {
		b, ok := parseRef(s)
		if !ok {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_REF", "refs must be 0x-prefixed hex")
			return
		}
		refs[i] = b
	}

	trades, err := h.mm.Distribute(c.Request.Context(), callerAddress(c), recipients, amounts, refs)
	if err != nil {
		if errors.Is(err, domain.ErrLengthMismatch) {
			respondError(c, http.StatusBadRequest, "ERR_LENGTH_MISMATCH", err.Error())
			return
		}
		respondEngineError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"trades": trades})
}

// Withdraw godoc
// POST /admin/withdraw
// Body: {"token":"0x...","to":"0x...","amount":"1000"}
func (h *MarketAdminHandler) Withdraw(c *gin.Context) {
	var body struct {
		Token  string `json:"token"  binding:"required"`
		To     string `json:"to"     binding:"required"`
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
	to, ok := parseAddress(body.To)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "to must be a hex address")
		return
	}
	amount, ok := parseWhole(body.Amount, false)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a non-negative whole number")
		return
	}

	if err := h.mm.Withdraw(c.Request.Context(), callerAddress(c), token, to, amount); err != nil {
		respondEngineError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"token": token, "to": to, "amount": amount})
}

// respondState answers an administrative call with the resulting state.
func (h *MarketAdminHandler) respondState(c *gin.Context) {
	st, err := h.mm.State(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"state": st, "gate": st.State()})
}
