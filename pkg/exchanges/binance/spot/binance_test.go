package spot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"rebalancer-core/pkg/exchanges/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, withKeys bool) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := Config{BaseURL: srv.URL}
	if withKeys {
		cfg.APIKey = "key"
		cfg.APISecret = "secret"
	}
	return New(cfg)
}

func TestGetPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/price" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %q", got)
		}
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"43250.12000000"}`)
	}, false)

	price, err := c.GetPrice(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 43250.12 {
		t.Fatalf("price = %v", price)
	}
}

func TestGet24hStatsSingleAndAll(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "" {
			fmt.Fprint(w, `{"symbol":"ETHUSDT","lastPrice":"2500","priceChangePercent":"1.5","volume":"10"}`)
			return
		}
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","lastPrice":"40000"},{"symbol":"ETHUSDT","lastPrice":"2500"}]`)
	}, false)

	one, err := c.Get24hStats(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	if len(one) != 1 || one[0].LastPrice != 2500 || one[0].PriceChangePercent != 1.5 {
		t.Fatalf("unexpected single stats %+v", one)
	}

	all, err := c.Get24hStats(context.Background(), "")
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 || all[0].Symbol != "BTCUSDT" {
		t.Fatalf("unexpected stats %+v", all)
	}
}

func TestPlaceOrderSignsForm(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/time":
			fmt.Fprint(w, `{"serverTime":1700000000000}`)
		case "/api/v3/order":
			if r.Method != http.MethodPost {
				t.Errorf("method = %s", r.Method)
			}
			if r.Header.Get("X-MBX-APIKEY") != "key" {
				t.Errorf("missing api key header")
			}
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			form := r.PostForm
			sig := form.Get("signature")
			form.Del("signature")
			if want := sign(form.Encode(), "secret"); sig != want {
				t.Errorf("signature mismatch")
			}
			if form.Get("type") != "MARKET" || form.Get("side") != "BUY" || form.Get("quantity") != "0.001" {
				t.Errorf("unexpected form %v", form)
			}
			w.Header().Set("X-MBX-USED-WEIGHT-1M", "5")
			fmt.Fprint(w, `{"symbol":"BTCUSDT","orderId":12345,"clientOrderId":"abc","status":"FILLED"}`)
		default:
			http.NotFound(w, r)
		}
	}, true)

	res, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Quantity: 0.001,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.ExternalOrderID != "12345" || res.Status != common.StatusFilled || res.ClientID != "abc" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(string(res.Raw), `"orderId":12345`) {
		t.Fatalf("raw body not kept: %s", res.Raw)
	}
	if used, _, _ := c.rateLimiter.GetUsage(); used != 5 {
		t.Fatalf("weight usage = %d", used)
	}
}

func TestAPIErrorDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v3/time" {
			fmt.Fprint(w, `{"serverTime":1700000000000}`)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`)
	}, true)

	_, err := c.PlaceOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Side: common.SideSell, Quantity: 1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Code != -2010 {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestSignedEndpointsRequireCredentials(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0"})
	if _, err := c.GetAccountBalances(context.Background()); !errors.Is(err, ErrCredentialsRequired) {
		t.Fatalf("balances err = %v", err)
	}
	if _, err := c.PlaceOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Quantity: 1}); !errors.Is(err, ErrCredentialsRequired) {
		t.Fatalf("order err = %v", err)
	}
}

func TestGetAccountBalancesSkipsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/time":
			fmt.Fprint(w, `{"serverTime":1700000000000}`)
		case "/api/v3/account":
			q, _ := url.ParseQuery(r.URL.RawQuery)
			if q.Get("signature") == "" || q.Get("timestamp") == "" {
				t.Errorf("unsigned account request: %s", r.URL.RawQuery)
			}
			fmt.Fprint(w, `{"canTrade":true,"balances":[{"asset":"BTC","free":"0.5","locked":"0.25"},{"asset":"XRP","free":"0","locked":"0"}]}`)
		}
	}, true)

	bals, err := c.GetAccountBalances(context.Background())
	if err != nil {
		t.Fatalf("GetAccountBalances: %v", err)
	}
	if len(bals) != 1 || bals[0].Asset != "BTC" || bals[0].Total() != 0.75 {
		t.Fatalf("unexpected balances %+v", bals)
	}
}
