package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/events"
	"github.com/alanyoungcy/nftmarket/internal/market"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/ws"
	"github.com/alanyoungcy/nftmarket/internal/store/memory"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	feeAccount = common.HexToAddress("0xf000000000000000000000000000000000000001")
	escrowAcct = common.HexToAddress("0xe000000000000000000000000000000000000001")
	seller     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	buyer      = common.HexToAddress("0x2000000000000000000000000000000000000002")
	collection = common.HexToAddress("0xc000000000000000000000000000000000000001")
)

type testEnv struct {
	t        *testing.T
	srv      *Server
	hub      *ws.Hub
	bus      *memory.SignalBus
	custody  *memory.CustodyBook
	balances *memory.BalanceBook
	admin    common.Address
	signer   *crypto.Signer
}

func newEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)

	ledger := memory.NewLedger()
	bus := memory.NewSignalBus()
	custody := memory.NewCustodyBook()
	balances := memory.NewBalanceBook()
	pub := events.NewPublisher(bus, memory.NewAuditStore(), logger)

	eng, err := market.New(market.Deps{
		Ledger:   ledger,
		Custody:  custody,
		Payments: balances,
		Locks:    memory.NewLockManager(),
		Events:   pub,
	}, market.Options{EscrowAccount: escrowAcct, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, eng.Bootstrap(context.Background(), signer.Address(), domain.PlatformConfig{
		FeeBps:       250,
		FeeRecipient: feeAccount,
	}))

	if cfg.Nonces == nil {
		cfg.Nonces = memory.NewLockManager()
	}
	hub := ws.NewHub(bus, logger, ws.Config{})
	srv := NewServer(cfg, Handlers{
		Health:      handler.NewHealthHandler(eng, logger),
		Listings:    handler.NewListingHandler(eng, logger),
		Offers:      handler.NewOfferHandler(eng, logger),
		Admin:       handler.NewAdminHandler(eng, logger),
		Settlements: handler.NewSettlementHandler(eng, logger),
	}, hub, memory.NewRateLimiter(), logger)

	return &testEnv{
		t:        t,
		srv:      srv,
		hub:      hub,
		bus:      bus,
		custody:  custody,
		balances: balances,
		admin:    signer.Address(),
		signer:   signer,
	}
}

// do sends a request as acct (dev auth) and decodes a JSON reply into out.
func (e *testEnv) do(method, path string, acct *common.Address, body any, out any) int {
	e.t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if acct != nil {
		req.Header.Set("X-Account", acct.Hex())
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func listingBody(tokenID string, price int64) map[string]any {
	return map[string]any{
		"asset": map[string]any{"contract": collection.Hex(), "token_id": tokenID},
		"price": price,
	}
}

func TestFixedPriceSaleOverHTTP(t *testing.T) {
	env := newEnv(t, Config{DevAuth: true})
	env.custody.Mint(domain.AssetRef{Contract: collection, TokenID: "1"}, seller)
	env.balances.Credit(buyer, domain.NativeCurrency, 1_000)

	var created struct{ ID uint64 }
	require.Equal(t, http.StatusCreated, env.do("POST", "/api/listings", &seller, listingBody("1", 1_000), &created))
	require.Equal(t, uint64(1), created.ID)

	var listing domain.Listing
	require.Equal(t, http.StatusOK, env.do("GET", "/api/listings/1", nil, nil, &listing))
	assert.Equal(t, domain.ListingActive, listing.Status)
	assert.Equal(t, seller, listing.Seller)

	var rec domain.Settlement
	require.Equal(t, http.StatusOK, env.do("POST", "/api/listings/1/buy", &buyer, nil, &rec))
	assert.Equal(t, int64(1_000), rec.Price)
	assert.Equal(t, int64(25), rec.Fee)
	assert.Equal(t, buyer, rec.Buyer)

	var errBody struct{ Error, Kind string }
	assert.Equal(t, http.StatusConflict, env.do("POST", "/api/listings/1/buy", &buyer, nil, &errBody))
	assert.Equal(t, string(domain.KindStateConflict), errBody.Kind)

	var history struct{ Settlements []domain.Settlement }
	require.Equal(t, http.StatusOK, env.do("GET", "/api/settlements", nil, nil, &history))
	require.Len(t, history.Settlements, 1)
	assert.Equal(t, rec.ID, history.Settlements[0].ID)
}

func TestStatusMapping(t *testing.T) {
	env := newEnv(t, Config{DevAuth: true})
	env.custody.Mint(domain.AssetRef{Contract: collection, TokenID: "7"}, seller)

	assert.Equal(t, http.StatusUnauthorized, env.do("POST", "/api/listings", nil, listingBody("7", 10), nil))
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/api/listings/99", nil, nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.do("GET", "/api/listings/abc", nil, nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/listings", &seller, listingBody("7", 0), nil))
	assert.Equal(t, http.StatusForbidden, env.do("POST", "/api/listings", &buyer, listingBody("7", 10), nil))
	assert.Equal(t, http.StatusForbidden, env.do("POST", "/api/pause", &buyer, nil, nil))

	admin := env.admin
	var cfg domain.PlatformConfig
	require.Equal(t, http.StatusOK, env.do("POST", "/api/pause", &admin, nil, &cfg))
	assert.True(t, cfg.Paused)
	assert.Equal(t, http.StatusLocked, env.do("POST", "/api/listings", &seller, listingBody("7", 10), nil))

	require.Equal(t, http.StatusOK, env.do("POST", "/api/unpause", &admin, nil, &cfg))
	assert.False(t, cfg.Paused)
	assert.Equal(t, http.StatusCreated, env.do("POST", "/api/listings", &seller, listingBody("7", 10), nil))
}

func TestRolesAndConfigEndpoints(t *testing.T) {
	env := newEnv(t, Config{DevAuth: true})
	admin := env.admin

	grant := map[string]any{"role": "approver", "account": buyer.Hex()}
	require.Equal(t, http.StatusNoContent, env.do("POST", "/api/roles", &admin, grant, nil))

	var roles struct {
		Roles []domain.Role
	}
	require.Equal(t, http.StatusOK, env.do("GET", "/api/roles?account="+buyer.Hex(), nil, nil, &roles))
	assert.Equal(t, []domain.Role{domain.RoleApprover}, roles.Roles)

	token := common.HexToAddress("0x4000000000000000000000000000000000000004")
	var cfg domain.PlatformConfig
	require.Equal(t, http.StatusOK, env.do("POST", "/api/config/payment-tokens", &buyer, map[string]any{"token": token.Hex()}, &cfg))
	assert.Contains(t, cfg.ApprovedPaymentTokens, token)

	assert.Equal(t, http.StatusForbidden, env.do("PUT", "/api/config/fee", &buyer, map[string]any{"fee_bps": 100}, nil))
	assert.Equal(t, http.StatusBadRequest, env.do("PUT", "/api/config/fee", &admin, map[string]any{"fee_bps": 1_001}, nil))
	require.Equal(t, http.StatusOK, env.do("PUT", "/api/config/fee", &admin, map[string]any{"fee_bps": 100}, &cfg))
	assert.Equal(t, uint16(100), cfg.FeeBps)

	require.Equal(t, http.StatusNoContent, env.do("DELETE", "/api/roles?role=approver&account="+buyer.Hex(), &admin, nil, nil))
	assert.Equal(t, http.StatusConflict, env.do("DELETE", "/api/roles?role=admin&account="+admin.Hex(), &admin, nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/api/roles", &admin, map[string]any{"role": "owner", "account": buyer.Hex()}, nil))
}

func signedRequest(t *testing.T, signer *crypto.Signer, method, path string, body []byte, ts time.Time) *http.Request {
	t.Helper()
	sig, err := signer.SignRequest(method, path, ts.Unix(), body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("X-Account", signer.Address().Hex())
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set("X-Signature", sig)
	return req
}

func TestSignatureAuth(t *testing.T) {
	env := newEnv(t, Config{MaxSkew: time.Minute})
	body := []byte(`{"role":"team","account":"` + buyer.Hex() + `"}`)

	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, signedRequest(t, env.signer, "POST", "/api/roles", body, time.Now()))
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// Body differs from what was signed.
	req := signedRequest(t, env.signer, "POST", "/api/roles", body, time.Now())
	req.Body = io.NopCloser(strings.NewReader(`{"role":"admin","account":"` + buyer.Hex() + `"}`))
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Stale timestamp.
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, signedRequest(t, env.signer, "POST", "/api/roles", body, time.Now().Add(-time.Hour)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Unsigned claim.
	assert.Equal(t, http.StatusUnauthorized, env.do("POST", "/api/pause", &env.admin, nil, nil))
}

func TestSignedMutationCannotBeReplayed(t *testing.T) {
	env := newEnv(t, Config{MaxSkew: time.Minute})
	body := []byte(`{"role":"team","account":"` + buyer.Hex() + `"}`)
	at := time.Now()

	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, signedRequest(t, env.signer, "POST", "/api/roles", body, at))
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, signedRequest(t, env.signer, "POST", "/api/roles", body, at))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "replayed request")

	// A fresh timestamp is a new request.
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, signedRequest(t, env.signer, "POST", "/api/roles", body, at.Add(time.Second)))
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// Signed reads may repeat.
	for range 2 {
		rec = httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(rec, signedRequest(t, env.signer, "GET", "/api/config", nil, at))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAPIKeyGate(t *testing.T) {
	env := newEnv(t, Config{DevAuth: true, APIKey: "s3cret"})

	assert.Equal(t, http.StatusOK, env.do("GET", "/api/health", nil, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/api/config", nil, nil, nil))

	req := httptest.NewRequest("GET", "/api/config", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newEnv(t, Config{DevAuth: true, RateLimit: 2, RateWindow: time.Minute})
	assert.Equal(t, http.StatusOK, env.do("GET", "/api/config", nil, nil, nil))
	assert.Equal(t, http.StatusOK, env.do("GET", "/api/config", nil, nil, nil))
	assert.Equal(t, http.StatusTooManyRequests, env.do("GET", "/api/config", nil, nil, nil))
	assert.Equal(t, http.StatusOK, env.do("GET", "/api/config", &buyer, nil, nil), "accounts have their own bucket")
}

func TestWebSocketStreamsEvents(t *testing.T) {
	env := newEnv(t, Config{DevAuth: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.hub.Run(ctx)

	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?types=listed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello struct{ Type string }
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)

	env.custody.Mint(domain.AssetRef{Contract: collection, TokenID: "3"}, seller)
	require.Equal(t, http.StatusCreated, env.do("POST", "/api/listings", &seller, listingBody("3", 50), nil))

	var evt domain.Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, domain.EventListed, evt.Type)
	require.NotNil(t, evt.ListingID)
	assert.Equal(t, uint64(1), *evt.ListingID)
}
