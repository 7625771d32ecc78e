package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"rebalancer-core/pkg/exchanges/common"
)

const (
	mainnetURL = "https://api.binance.com"
	testnetURL = "https://testnet.binance.vision"
)

// ErrCredentialsRequired is returned by signed endpoints on a public client.
var ErrCredentialsRequired = errors.New("binance: API key/secret required")

// Config holds Binance credentials and transport options.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64  // ms
	BaseURL    string // overrides the mainnet/testnet host when set
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a Binance spot REST client.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	logger      *zap.Logger
}

var _ common.Exchange = (*Client)(nil)

// APIError carries the venue's raw error response.
type APIError struct {
	Method string
	Path   string
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance %s %s status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// ResponseBody returns the raw venue response.
func (e *APIError) ResponseBody() string { return e.Body }

var _ common.ResponseError = (*APIError)(nil)

// New builds a client. Credentials may be empty for public market data use.
func New(cfg Config) *Client {
	base := mainnetURL
	if cfg.Testnet {
		base = testnetURL
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: httpClient,
		logger:     logger.Named("binance"),
	}
	client.timeSync = common.NewTimeSync(client.GetServerTime, 30*time.Minute, client.logger)
	// 1200 weight/min for spot
	client.rateLimiter = common.NewRateLimiter(1200, time.Minute, client.logger)
	return client
}

// Name identifies the venue on persisted orders.
func (c *Client) Name() string { return "binance" }

func (c *Client) hasCredentials() bool {
	return c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

// GetPrice returns the latest traded price for symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	body, err := c.doPublic(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, err
	}
	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode ticker price: %w", err)
	}
	price, err := strconv.ParseFloat(res.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ticker price %q: %w", res.Price, err)
	}
	return price, nil
}

type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
}

func (t ticker24h) toStats() common.TickerStats {
	return common.TickerStats{
		Symbol:             t.Symbol,
		LastPrice:          parseFloat(t.LastPrice),
		PriceChange:        parseFloat(t.PriceChange),
		PriceChangePercent: parseFloat(t.PriceChangePercent),
		HighPrice:          parseFloat(t.HighPrice),
		LowPrice:           parseFloat(t.LowPrice),
		Volume:             parseFloat(t.Volume),
		QuoteVolume:        parseFloat(t.QuoteVolume),
	}
}

// Get24hStats returns rolling 24h statistics for symbol, or all symbols when empty.
func (c *Client) Get24hStats(ctx context.Context, symbol string) ([]common.TickerStats, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", strings.ToUpper(symbol))
	}
	body, err := c.doPublic(ctx, "/api/v3/ticker/24hr", params)
	if err != nil {
		return nil, err
	}

	if symbol != "" {
		var t ticker24h
		if err := json.Unmarshal(body, &t); err != nil {
			return nil, fmt.Errorf("decode 24h ticker: %w", err)
		}
		return []common.TickerStats{t.toStats()}, nil
	}

	var all []ticker24h
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, fmt.Errorf("decode 24h tickers: %w", err)
	}
	out := make([]common.TickerStats, 0, len(all))
	for _, t := range all {
		out = append(out, t.toStats())
	}
	return out, nil
}

// AccountInfo holds balances and permissions.
type AccountInfo struct {
	CanTrade   bool      `json:"canTrade"`
	UpdateTime int64     `json:"updateTime"`
	Balances   []Balance `json:"balances"`
}

// Balance represents an asset balance.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// GetAccountInfo returns account balances and basic flags.
func (c *Client) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	if !c.hasCredentials() {
		return nil, ErrCredentialsRequired
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}
	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return &info, nil
}

// GetAccountBalances returns the non-empty asset balances.
func (c *Client) GetAccountBalances(ctx context.Context) ([]common.Balance, error) {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]common.Balance, 0, len(info.Balances))
	for _, b := range info.Balances {
		bal := common.Balance{Asset: b.Asset, Free: parseFloat(b.Free), Locked: parseFloat(b.Locked)}
		if bal.Total() <= 0 {
			continue
		}
		out = append(out, bal)
	}
	return out, nil
}

type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
}

// PlaceOrder submits a MARKET or LIMIT order.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if !c.hasCredentials() {
		return common.OrderResult{}, ErrCredentialsRequired
	}
	if req.Quantity <= 0 {
		return common.OrderResult{}, fmt.Errorf("binance: quantity must be > 0")
	}

	ordType := strings.ToUpper(string(req.Type))
	if ordType == "" {
		ordType = string(common.OrderTypeMarket)
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(req.Symbol))
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", ordType)
	params.Set("quantity", formatFloat(req.Quantity))
	if ordType == string(common.OrderTypeLimit) {
		if req.Price <= 0 {
			return common.OrderResult{}, fmt.Errorf("binance: limit order requires price")
		}
		params.Set("price", formatFloat(req.Price))
		params.Set("timeInForce", "GTC")
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{Raw: body}, fmt.Errorf("decode order response: %w", err)
	}

	return common.OrderResult{
		ExternalOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          mapStatus(resp.Status),
		ClientID:        resp.ClientOrderID,
		Raw:             json.RawMessage(body),
	}, nil
}

// GetServerTime fetches server time (ms).
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, path)
}

// doSigned signs the query and performs the HTTP request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	c.timeSync.EnsureFresh(ctx)
	params.Set("timestamp", strconv.FormatInt(c.timeSync.Now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	var (
		req *http.Request
		err error
	)
	endpoint := c.baseURL + path
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		// For GET/DELETE Binance expects signed params in query string.
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(req, path)
}

func (c *Client) do(req *http.Request, path string) ([]byte, error) {
	if err := c.rateLimiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 300 {
		apiErr := &APIError{Method: req.Method, Path: path, Status: res.StatusCode, Body: string(body)}
		_ = json.Unmarshal(body, apiErr)
		c.logger.Debug("request failed", zap.String("path", path), zap.Int("status", res.StatusCode), zap.Int("code", apiErr.Code))
		return nil, apiErr
	}
	return body, nil
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// formatFloat renders v as the shortest plain decimal, never in exponent form.
func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// parseFloat reads a Binance decimal string; malformed input yields 0.
func parseFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
