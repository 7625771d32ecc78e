package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	exchange "rebalancer-core/pkg/exchanges/common"
)

type placeOrderRequest struct {
	Symbol   string  `json:"symbol" binding:"required,min=1"`
	Side     string  `json:"side" binding:"required"`
	Type     string  `json:"type"`
	Quantity float64 `json:"quantity" binding:"gt=0"`
	Price    float64 `json:"price"`
}

func (r placeOrderRequest) toOrder() (exchange.OrderRequest, string) {
	side := exchange.Side(strings.ToUpper(strings.TrimSpace(r.Side)))
	if side != exchange.SideBuy && side != exchange.SideSell {
		return exchange.OrderRequest{}, "side must be BUY or SELL"
	}
	typ := exchange.OrderType(strings.ToUpper(strings.TrimSpace(r.Type)))
	switch typ {
	case "":
		typ = exchange.OrderTypeMarket
	case exchange.OrderTypeMarket:
	case exchange.OrderTypeLimit:
		if r.Price <= 0 {
			return exchange.OrderRequest{}, "price is required for LIMIT orders"
		}
	default:
		return exchange.OrderRequest{}, "type must be MARKET or LIMIT"
	}
	return exchange.OrderRequest{
		Symbol:   strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Side:     side,
		Type:     typ,
		Quantity: r.Quantity,
		Price:    r.Price,
	}, ""
}

// marketData prefers the shared public client and falls back to the
// caller's authenticated one.
func (s *Server) marketData(c *gin.Context) (exchange.MarketData, bool) {
	if s.market != nil {
		return s.market, true
	}
	ex, err := s.exchanges.Resolve(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		s.respondEngineError(c, err)
		return nil, false
	}
	return ex, true
}

func (s *Server) exchangeAccount(c *gin.Context) {
	ctx := c.Request.Context()
	ex, err := s.exchanges.Resolve(ctx, CurrentUserID(c))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	balances, err := ex.GetAccountBalances(ctx)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": ex.Name(), "balances": nonNil(balances)})
}

func (s *Server) exchangePrice(c *gin.Context) {
	md, ok := s.marketData(c)
	if !ok {
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	price, err := md.GetPrice(c.Request.Context(), symbol)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
}

func (s *Server) exchangeTicker(c *gin.Context) {
	md, ok := s.marketData(c)
	if !ok {
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	stats, err := md.Get24hStats(c.Request.Context(), symbol)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickers": nonNil(stats)})
}

func (s *Server) exchangePlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	orderReq, msg := req.toOrder()
	if msg != "" {
		respondError(c, http.StatusBadRequest, "INVALID_ORDER", msg)
		return
	}
	ctx := c.Request.Context()
	userID := CurrentUserID(c)
	ex, err := s.exchanges.Resolve(ctx, userID)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	res, err := s.trader.PlaceManual(ctx, ex, userID, orderReq)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
