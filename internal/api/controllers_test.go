package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"rebalancer-core/internal/engine"
	"rebalancer-core/internal/events"
	"rebalancer-core/internal/journal"
	"rebalancer-core/internal/monitor"
	"rebalancer-core/internal/order"
	"rebalancer-core/internal/portfolio"
	"rebalancer-core/pkg/crypto"
	"rebalancer-core/pkg/db"
	exchange "rebalancer-core/pkg/exchanges/common"
)

const testSecret = "test-secret"

type fakeExchange struct {
	placed []exchange.OrderRequest
}

func (f *fakeExchange) Name() string { return "binance" }

func (f *fakeExchange) GetPrice(context.Context, string) (float64, error) { return 100, nil }

func (f *fakeExchange) Get24hStats(_ context.Context, symbol string) ([]exchange.TickerStats, error) {
	return []exchange.TickerStats{{Symbol: symbol, LastPrice: 100}}, nil
}

func (f *fakeExchange) GetAccountBalances(context.Context) ([]exchange.Balance, error) {
	return []exchange.Balance{{Asset: "BTC", Free: 0.5}}, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.placed = append(f.placed, req)
	return exchange.OrderResult{ExternalOrderID: "42", Status: exchange.StatusNew, Raw: json.RawMessage(`{"orderId":42}`)}, nil
}

type staticResolver struct{ ex exchange.Exchange }

func (r staticResolver) Resolve(context.Context, string) (exchange.Exchange, error) { return r.ex, nil }

type testAPI struct {
	srv   *Server
	db    *db.Database
	vault *crypto.Vault
	ex    *fakeExchange
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	vault, err := crypto.DerivedVault(testSecret)
	if err != nil {
		t.Fatalf("DerivedVault: %v", err)
	}

	q := database.Queries()
	bus := events.NewBus()
	audit := journal.New(q, bus, nil)
	executor := order.NewExecutor(q, audit, bus, nil)
	ex := &fakeExchange{}
	resolver := staticResolver{ex: ex}
	eng := engine.New(engine.Config{
		Store:     q,
		Exchanges: resolver,
		Trader:    executor,
		Audit:     audit,
		Bus:       bus,
	})

	srv := NewServer(Config{
		DB:        database,
		Engine:    eng,
		Exchanges: resolver,
		Trader:    executor,
		Syncer:    portfolio.NewSyncer(q, audit, nil),
		Vault:     vault,
		Journal:   audit,
		Bus:       bus,
		Metrics:   monitor.New(),
		JWTSecret: testSecret,
		Version:   "test",
	})
	return &testAPI{srv: srv, db: database, vault: vault, ex: ex}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.srv.Router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

// login registers email and returns a bearer token plus the user id.
func (a *testAPI) login(t *testing.T, email string) (string, string) {
	t.Helper()
	creds := map[string]string{"email": email, "password": "correct-horse"}
	if w, body := a.do(t, http.MethodPost, "/api/v1/auth/register", "", creds); w.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%v", w.Code, body)
	}
	w, body := a.do(t, http.MethodPost, "/api/v1/auth/login", "", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%v", w.Code, body)
	}
	return body["token"].(string), body["user_id"].(string)
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	w, body := a.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", w.Code, body)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestAuthFlow(t *testing.T) {
	a := newTestAPI(t)
	a.login(t, "alice@example.com")

	creds := map[string]string{"email": "ALICE@example.com", "password": "correct-horse"}
	if w, body := a.do(t, http.MethodPost, "/api/v1/auth/register", "", creds); w.Code != http.StatusConflict || body["code"] != "EMAIL_ALREADY_REGISTERED" {
		t.Fatalf("duplicate register = %d %v", w.Code, body)
	}
	bad := map[string]string{"email": "alice@example.com", "password": "wrong-password"}
	if w, body := a.do(t, http.MethodPost, "/api/v1/auth/login", "", bad); w.Code != http.StatusUnauthorized || body["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("bad login = %d %v", w.Code, body)
	}
	short := map[string]string{"email": "bob@example.com", "password": "short"}
	if w, body := a.do(t, http.MethodPost, "/api/v1/auth/register", "", short); w.Code != http.StatusBadRequest || body["code"] != "WEAK_PASSWORD" {
		t.Fatalf("weak password = %d %v", w.Code, body)
	}
}

func TestAuthMiddlewareCodes(t *testing.T) {
	a := newTestAPI(t)
	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing", "", "MISSING_TOKEN"},
		{"wrong scheme", "Basic abc", "INVALID_AUTH_HEADER"},
		{"garbage token", "Bearer not-a-jwt", "INVALID_TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/strategies", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			a.srv.Router.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized || !strings.Contains(w.Body.String(), tt.code) {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
		})
	}
}

func TestStrategyLifecycle(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t, "alice@example.com")
	other, _ := a.login(t, "mallory@example.com")

	w, body := a.do(t, http.MethodPost, "/api/v1/strategies", token, map[string]any{
		"name":       "Momentum",
		"parameters": map[string]any{"symbols": []string{"btcusdt"}, "min_confidence": 60},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %v", w.Code, body)
	}
	id := body["id"].(string)
	params := body["parameters"].(map[string]any)
	if syms := params["symbols"].([]any); len(syms) != 1 || syms[0] != "BTCUSDT" {
		t.Fatalf("symbols = %v", syms)
	}
	if body["is_active"] != false || body["strategy_type"] != "sma_rsi_crossover" {
		t.Fatalf("created = %v", body)
	}

	if w, _ := a.do(t, http.MethodGet, "/api/v1/strategies/"+id, other, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign get = %d", w.Code)
	}
	if w, body := a.do(t, http.MethodPost, "/api/v1/strategies/"+id+"/run", token, nil); w.Code != http.StatusConflict || body["code"] != "STRATEGY_INACTIVE" {
		t.Fatalf("run inactive = %d %v", w.Code, body)
	}
	if w, body := a.do(t, http.MethodPost, "/api/v1/strategies/missing/run", token, nil); w.Code != http.StatusNotFound || body["code"] != "STRATEGY_NOT_FOUND" {
		t.Fatalf("run missing = %d %v", w.Code, body)
	}

	w, body = a.do(t, http.MethodPost, "/api/v1/strategies/"+id+"/bot/start", token, map[string]any{"interval_ms": 60000})
	if w.Code != http.StatusOK || body["success"] != true || body["interval_ms"] != float64(60000) {
		t.Fatalf("start bot = %d %v", w.Code, body)
	}
	w, body = a.do(t, http.MethodPost, "/api/v1/strategies/"+id+"/run", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run = %d %v", w.Code, body)
	}
	if results := body["results"].([]any); len(results) != 0 {
		t.Fatalf("results without history = %v", results)
	}

	w, body = a.do(t, http.MethodGet, "/api/v1/bots/status", token, nil)
	if w.Code != http.StatusOK || body["active_bots"] != float64(1) || body["total_strategies"] != float64(1) {
		t.Fatalf("status = %d %v", w.Code, body)
	}
	if w, body := a.do(t, http.MethodPost, "/api/v1/strategies/"+id+"/bot/stop", token, nil); w.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("stop bot = %d %v", w.Code, body)
	}

	w, body = a.do(t, http.MethodPut, "/api/v1/strategies/"+id, token, map[string]any{
		"name":       "Momentum v2",
		"parameters": map[string]any{"min_confidence": 150},
	})
	if w.Code != http.StatusBadRequest || body["code"] != "INVALID_PARAMETERS" {
		t.Fatalf("invalid update = %d %v", w.Code, body)
	}
	w, body = a.do(t, http.MethodPut, "/api/v1/strategies/"+id, token, map[string]any{"name": "Momentum v2"})
	if w.Code != http.StatusOK || body["name"] != "Momentum v2" || body["is_active"] != true {
		t.Fatalf("update = %d %v", w.Code, body)
	}

	if w, _ := a.do(t, http.MethodDelete, "/api/v1/strategies/"+id, other, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign delete = %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodDelete, "/api/v1/strategies/"+id, token, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
}

func TestAPIKeysAreEncrypted(t *testing.T) {
	a := newTestAPI(t)
	token, userID := a.login(t, "alice@example.com")

	w, body := a.do(t, http.MethodPost, "/api/v1/api-keys", token, map[string]any{
		"label": "main", "api_key": "plain-key", "api_secret": "plain-secret",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create key = %d %v", w.Code, body)
	}
	if strings.Contains(w.Body.String(), "plain-") {
		t.Fatalf("response leaks credentials: %s", w.Body.String())
	}

	stored, err := a.db.Queries().GetActiveAPIKey(context.Background(), userID, "binance")
	if err != nil {
		t.Fatalf("GetActiveAPIKey: %v", err)
	}
	if stored.APISecretEncrypted == "plain-secret" {
		t.Fatal("secret stored in plaintext")
	}
	if got, err := a.vault.Decrypt(stored.APISecretEncrypted); err != nil || got != "plain-secret" {
		t.Fatalf("Decrypt = %q, %v", got, err)
	}

	if w, body := a.do(t, http.MethodDelete, "/api/v1/api-keys/"+body["id"].(string), token, nil); w.Code != http.StatusOK {
		t.Fatalf("deactivate = %d %v", w.Code, body)
	}
	if w, _ := a.do(t, http.MethodDelete, "/api/v1/api-keys/unknown", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("deactivate unknown = %d", w.Code)
	}
}

func TestPricesAndAnalysis(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t, "alice@example.com")

	w, body := a.do(t, http.MethodPost, "/api/v1/prices", token, map[string]any{
		"points": []map[string]any{{"symbol": "btcusdt", "price": 10}, {"symbol": "BTCUSDT", "price": 11}},
	})
	if w.Code != http.StatusCreated || body["inserted"] != float64(2) {
		t.Fatalf("record = %d %v", w.Code, body)
	}
	if w, _ := a.do(t, http.MethodPost, "/api/v1/prices", token, map[string]any{"symbol": "BTCUSDT", "price": -1}); w.Code != http.StatusBadRequest {
		t.Fatalf("negative price = %d", w.Code)
	}

	w, body = a.do(t, http.MethodGet, "/api/v1/prices/btcusdt", token, nil)
	if w.Code != http.StatusOK || len(body["prices"].([]any)) != 2 {
		t.Fatalf("prices = %d %v", w.Code, body)
	}

	w, body = a.do(t, http.MethodGet, "/api/v1/market/analyze/btcusdt", token, nil)
	if w.Code != http.StatusOK || body["data_points"] != float64(2) {
		t.Fatalf("analyze = %d %v", w.Code, body)
	}
	sig := body["signal"].(map[string]any)
	if sig["action"] != "hold" || sig["strategy"] != "insufficient_data" {
		t.Fatalf("signal = %v", sig)
	}
}

func TestPortfolioSyncAndRebalance(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t, "alice@example.com")

	w, body := a.do(t, http.MethodPost, "/api/v1/portfolio/rebalance", token, nil)
	if w.Code != http.StatusOK || body["message"] != "No portfolio to rebalance" {
		t.Fatalf("empty rebalance = %d %v", w.Code, body)
	}

	w, body = a.do(t, http.MethodPost, "/api/v1/portfolio/sync", token, nil)
	if w.Code != http.StatusOK || body["updated"] != float64(1) || body["total_value"] != float64(50) {
		t.Fatalf("sync = %d %v", w.Code, body)
	}
	w, body = a.do(t, http.MethodGet, "/api/v1/portfolio", token, nil)
	positions := body["positions"].([]any)
	if w.Code != http.StatusOK || len(positions) != 1 || positions[0].(map[string]any)["symbol"] != "BTCUSDT" {
		t.Fatalf("portfolio = %d %v", w.Code, body)
	}
}

func TestManualOrderAndStatus(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t, "alice@example.com")

	if w, body := a.do(t, http.MethodPost, "/api/v1/exchange/orders", token, map[string]any{
		"symbol": "btcusdt", "side": "hold", "quantity": 1,
	}); w.Code != http.StatusBadRequest || body["code"] != "INVALID_ORDER" {
		t.Fatalf("bad side = %d %v", w.Code, body)
	}
	w, body := a.do(t, http.MethodPost, "/api/v1/exchange/orders", token, map[string]any{
		"symbol": "btcusdt", "side": "buy", "quantity": 0.1,
	})
	if w.Code != http.StatusCreated || body["success"] != true {
		t.Fatalf("place = %d %v", w.Code, body)
	}
	if len(a.ex.placed) != 1 || a.ex.placed[0].Symbol != "BTCUSDT" || a.ex.placed[0].Type != exchange.OrderTypeMarket {
		t.Fatalf("placed = %+v", a.ex.placed)
	}

	w, body = a.do(t, http.MethodGet, "/api/v1/orders", token, nil)
	orders := body["orders"].([]any)
	if w.Code != http.StatusOK || len(orders) != 1 {
		t.Fatalf("orders = %d %v", w.Code, body)
	}
	id := orders[0].(map[string]any)["id"].(string)

	if w, body := a.do(t, http.MethodPatch, "/api/v1/orders/"+id+"/status", token, map[string]any{"status": "filled"}); w.Code != http.StatusOK {
		t.Fatalf("patch = %d %v", w.Code, body)
	}
	if w, _ := a.do(t, http.MethodPatch, "/api/v1/orders/nope/status", token, map[string]any{"status": "filled"}); w.Code != http.StatusNotFound {
		t.Fatalf("patch unknown = %d", w.Code)
	}
	if w, _ := a.do(t, http.MethodPatch, "/api/v1/orders/"+id+"/status", token, map[string]any{"status": "lost"}); w.Code != http.StatusBadRequest {
		t.Fatalf("patch invalid = %d", w.Code)
	}

	w, body = a.do(t, http.MethodGet, "/api/v1/logs?level=info", token, nil)
	if w.Code != http.StatusOK || len(body["logs"].([]any)) == 0 {
		t.Fatalf("logs = %d %v", w.Code, body)
	}
}

func TestExchangePassthrough(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t, "alice@example.com")

	w, body := a.do(t, http.MethodGet, "/api/v1/exchange/price/btcusdt", token, nil)
	if w.Code != http.StatusOK || body["price"] != float64(100) || body["symbol"] != "BTCUSDT" {
		t.Fatalf("price = %d %v", w.Code, body)
	}
	w, body = a.do(t, http.MethodGet, "/api/v1/exchange/ticker?symbol=ethusdt", token, nil)
	if w.Code != http.StatusOK || len(body["tickers"].([]any)) != 1 {
		t.Fatalf("ticker = %d %v", w.Code, body)
	}
	w, body = a.do(t, http.MethodGet, "/api/v1/exchange/account", token, nil)
	if w.Code != http.StatusOK || body["exchange"] != "binance" {
		t.Fatalf("account = %d %v", w.Code, body)
	}
}

func TestEngineDispatch(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t, "alice@example.com")

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"unknown", map[string]any{"action": "selfDestruct"}, http.StatusBadRequest},
		{"analyze", map[string]any{"action": "analyzeMarket", "symbol": "BTCUSDT"}, http.StatusOK},
		{"analyze without symbol", map[string]any{"action": "analyzeMarket"}, http.StatusBadRequest},
		{"execute missing", map[string]any{"action": "executeStrategy", "strategyId": "nope"}, http.StatusNotFound},
		{"rebalance", map[string]any{"action": "rebalancePortfolio"}, http.StatusOK},
		{"start missing", map[string]any{"action": "startBot", "strategyId": "nope"}, http.StatusNotFound},
		{"status", map[string]any{"action": "getBotStatus"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w, body := a.do(t, http.MethodPost, "/api/v1/engine", token, tt.body); w.Code != tt.status {
				t.Fatalf("status = %d, want %d (%v)", w.Code, tt.status, body)
			}
		})
	}
}

func TestWebsocketRequiresToken(t *testing.T) {
	a := newTestAPI(t)
	w, body := a.do(t, http.MethodGet, "/ws", "", nil)
	if w.Code != http.StatusUnauthorized || body["code"] != "MISSING_TOKEN" {
		t.Fatalf("ws = %d %v", w.Code, body)
	}
	w, body = a.do(t, http.MethodGet, "/ws?token=bogus", "", nil)
	if w.Code != http.StatusUnauthorized || body["code"] != "INVALID_TOKEN" {
		t.Fatalf("ws bogus = %d %v", w.Code, body)
	}
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(1, 2)
	if !l.allow("a") || !l.allow("a") {
		t.Fatal("burst should be allowed")
	}
	if l.allow("a") {
		t.Fatal("third request should be limited")
	}
	if !l.allow("b") {
		t.Fatal("other ip should have its own bucket")
	}
}

func TestMetricsCountsRequests(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.login(t, "alice@example.com")
	w, body := a.do(t, http.MethodGet, "/api/v1/metrics", token, nil)
	// register + login were observed before this request.
	if w.Code != http.StatusOK || body["requests"].(float64) < 2 {
		t.Fatalf("metrics = %d %v", w.Code, body)
	}
}
