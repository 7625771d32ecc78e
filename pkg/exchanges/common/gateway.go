package common

import "context"

// MarketData is the public, credential-free part of a venue.
type MarketData interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	// Get24hStats returns one entry for symbol, or every symbol when empty.
	Get24hStats(ctx context.Context, symbol string) ([]TickerStats, error)
}

// Exchange abstracts a trading venue bound to one owner's credentials.
type Exchange interface {
	MarketData
	Name() string
	GetAccountBalances(ctx context.Context) ([]Balance, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// ResponseError is implemented by venue errors that carry the raw response
// body so callers can surface it verbatim.
type ResponseError interface {
	error
	ResponseBody() string
}
