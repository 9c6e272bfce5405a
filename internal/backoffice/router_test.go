package backoffice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/brokerbot/internal/backoffice"
	"github.com/evetabi/brokerbot/internal/config"
	"github.com/evetabi/brokerbot/internal/domain"
	"github.com/evetabi/brokerbot/internal/ledger"
	"github.com/evetabi/brokerbot/internal/repository"
	"github.com/evetabi/brokerbot/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	mmAddr       = common.HexToAddress("0x000000000000000000000000000000000000b07b")
	shareToken   = common.HexToAddress("0x0000000000000000000000000000000000005a4e")
	paymentToken = common.HexToAddress("0x000000000000000000000000000000000000c4f0")
	authority    = common.HexToAddress("0x000000000000000000000000000000000000a07b")
	alice        = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type env struct {
	handler http.Handler
	auth    *service.AuthService
	mm      *service.MarketMaker
	book    ledger.Book
	trades  *repository.MemoryTradeLog
}

func newEnv(t *testing.T, allowedIPs string) *env {
	t.Helper()
	ctx := context.Background()
	book := ledger.NewMemoryBook()
	mm, err := service.NewMarketMaker(ctx, book, service.Settings{
		Address:        mmAddr,
		ShareToken:     shareToken,
		PaymentToken:   paymentToken,
		Authority:      authority,
		Price:          decimal.NewFromInt(100),
		Increment:      decimal.NewFromInt(10),
		BuyingEnabled:  true,
		SellingEnabled: true,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, book.Update(ctx, func(_ context.Context, tx ledger.Tx) error {
		if err := ledger.NewToken(shareToken).Mint(tx, mmAddr, decimal.NewFromInt(100)); err != nil {
			return err
		}
		return ledger.NewToken(paymentToken).Mint(tx, mmAddr, decimal.NewFromInt(10_000))
	}))
	trades := repository.NewMemoryTradeLog(0)
	mm.SetRecorder(trades)

	cfg := &config.Config{Server: config.ServerConfig{Env: "development", BackofficeAllowedIPs: allowedIPs}}
	auth := service.NewAuthService("backoffice-secret", time.Minute, authority, "")
	r := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc: auth,
		MM:      mm,
		Trades:  trades,
		Cfg:     cfg,
	})
	return &env{handler: r, auth: auth, mm: mm, book: book, trades: trades}
}

func (e *env) token(t *testing.T, addr common.Address, role string) string {
	t.Helper()
	tok, _, err := e.auth.IssueToken(addr, role)
	require.NoError(t, err)
	return tok
}

func (e *env) post(t *testing.T, path, token, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.serve(t, req)
}

func (e *env) get(t *testing.T, path, token string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.serve(t, req)
}

func (e *env) serve(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	var body map[string]interface{}
	require.NoErrorf(t, json.Unmarshal(rr.Body.Bytes(), &body), "body: %s", rr.Body.String())
	return rr.Code, body
}

func (e *env) shares(t *testing.T, holder common.Address) decimal.Decimal {
	t.Helper()
	var bal decimal.Decimal
	require.NoError(t, e.book.View(context.Background(), func(_ context.Context, tx ledger.Tx) error {
		var err error
		bal, err = ledger.NewToken(shareToken).BalanceOf(tx, holder)
		return err
	}))
	return bal
}

// ── Access control ────────────────────────────────────────────────────────────

func TestAdmin_RequiresAuthorityToken(t *testing.T) {
	e := newEnv(t, "")

	code, _ := e.get(t, "/admin/dashboard", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = e.get(t, "/admin/dashboard", e.token(t, alice, service.RoleTrader))
	assert.Equal(t, http.StatusForbidden, code)

	// the role alone is not enough: the market maker checks the address
	code, body := e.post(t, "/admin/price", e.token(t, alice, service.RoleAuthority), `{"price":"1","increment":"0"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "ERR_FORBIDDEN", body["code"])

	code, _ = e.get(t, "/admin/dashboard", e.token(t, authority, service.RoleAuthority))
	assert.Equal(t, http.StatusOK, code)
}

func TestAdmin_IPWhitelist(t *testing.T) {
	e := newEnv(t, "10.0.0.1")
	code, body := e.get(t, "/admin/dashboard", e.token(t, authority, service.RoleAuthority))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "ERR_IP_DENIED", body["code"])
}

// ── Settings ──────────────────────────────────────────────────────────────────

func TestAdmin_SetPriceAndEnabled(t *testing.T) {
	e := newEnv(t, "")
	tok := e.token(t, authority, service.RoleAuthority)

	code, _ := e.post(t, "/admin/price", tok, `{"price":"250","increment":"-5"}`)
	require.Equal(t, http.StatusOK, code)
	st, err := e.mm.State(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Price.Equal(decimal.NewFromInt(250)))
	assert.True(t, st.Increment.Equal(decimal.NewFromInt(-5)))

	code, _ = e.post(t, "/admin/price", tok, `{"price":"-1","increment":"0"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.post(t, "/admin/enabled", tok, `{"buying":false}`)
	assert.Equal(t, http.StatusBadRequest, code, "both flags are required")

	code, body := e.post(t, "/admin/enabled", tok, `{"buying":false,"selling":true}`)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, string(domain.GateSellOnly), data["gate"])
}

func TestAdmin_SetRouter(t *testing.T) {
	e := newEnv(t, "")
	tok := e.token(t, authority, service.RoleAuthority)
	router := common.HexToAddress("0x0000000000000000000000000000000000007007")

	code, _ := e.post(t, "/admin/router", tok, `{"router":"`+router.Hex()+`"}`)
	require.Equal(t, http.StatusOK, code)
	st, err := e.mm.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, router, st.PaymentRouter)

	code, _ = e.post(t, "/admin/router", tok, `{"router":""}`)
	require.Equal(t, http.StatusOK, code)
	st, err = e.mm.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, st.PaymentRouter)
}

// ── Reserve ───────────────────────────────────────────────────────────────────

func TestAdmin_Distribute(t *testing.T) {
	e := newEnv(t, "")
	tok := e.token(t, authority, service.RoleAuthority)

	code, body := e.post(t, "/admin/distribute", tok,
		`{"recipients":["`+alice.Hex()+`","`+bob.Hex()+`"],"amounts":["3"],"refs":["0x","0x"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_LENGTH_MISMATCH", body["code"])

	code, _ = e.post(t, "/admin/distribute", tok,
		`{"recipients":["`+alice.Hex()+`","`+bob.Hex()+`","`+alice.Hex()+`"],"amounts":["3","2","1"]}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, e.shares(t, alice).Equal(decimal.NewFromInt(4)))
	assert.True(t, e.shares(t, bob).Equal(decimal.NewFromInt(2)))

	code, body = e.post(t, "/admin/distribute", tok,
		`{"recipients":["`+alice.Hex()+`"],"amounts":["1000"]}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ERR_REJECTED", body["code"])
}

func TestAdmin_WithdrawAndTrades(t *testing.T) {
	e := newEnv(t, "")
	tok := e.token(t, authority, service.RoleAuthority)

	code, _ := e.post(t, "/admin/withdraw", tok,
		`{"token":"`+paymentToken.Hex()+`","to":"`+bob.Hex()+`","amount":"500"}`)
	require.Equal(t, http.StatusOK, code)

	code, _ = e.post(t, "/admin/withdraw", tok,
		`{"token":"`+shareToken.Hex()+`","to":"`+bob.Hex()+`","amount":"5"}`)
	assert.Equal(t, http.StatusBadRequest, code, "shares leave only by distribution")
	assert.True(t, e.shares(t, bob).IsZero())

	code, body := e.post(t, "/admin/withdraw", tok,
		`{"token":"`+paymentToken.Hex()+`","to":"`+bob.Hex()+`","amount":"1000000"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ERR_REJECTED", body["code"])

	code, _ = e.post(t, "/admin/distribute", tok, `{"recipients":["`+alice.Hex()+`"],"amounts":["5"]}`)
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool {
		_, total, _ := e.trades.List(context.Background(), repository.TradeFilter{})
		return total == 1
	}, time.Second, 10*time.Millisecond)

	code, body = e.get(t, "/admin/trades?direction=distribution&counterparty="+alice.Hex(), tok)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"], 1)

	code, _ = e.get(t, "/admin/trades?counterparty=nope", tok)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = e.get(t, "/admin/trades/report", tok)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "5", data["net_shares"])
}
