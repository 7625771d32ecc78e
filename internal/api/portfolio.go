package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rebalancer-core/internal/journal"
	"rebalancer-core/pkg/db"
)

type limitQuery struct {
	Limit int    `form:"limit"`
	Level string `form:"level"`
}

func (q *limitQuery) normalize(def, max int) {
	if q.Limit <= 0 {
		q.Limit = def
	}
	if q.Limit > max {
		q.Limit = max
	}
}

type pricePointRequest struct {
	Symbol    string     `json:"symbol"`
	Price     float64    `json:"price"`
	Volume    *float64   `json:"volume"`
	MarketCap *float64   `json:"market_cap"`
	Timestamp *time.Time `json:"timestamp"`
}

// recordPricesRequest accepts a single point or a batch under "points".
type recordPricesRequest struct {
	pricePointRequest
	Points []pricePointRequest `json:"points"`
}

type orderStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending filled cancelled"`
}

func (s *Server) getPortfolio(c *gin.Context) {
	rows, err := s.queries.GetPortfolio(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		s.internalError(c, "get portfolio", err)
		return
	}
	total := 0.0
	for _, p := range rows {
		total += p.TotalValue
	}
	c.JSON(http.StatusOK, gin.H{
		"positions":   mapSlice(rows, newPositionView),
		"total_value": total,
	})
}

func (s *Server) rebalance(c *gin.Context) {
	res, err := s.engine.Rebalance(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	res.Actions = nonNil(res.Actions)
	c.JSON(http.StatusOK, res)
}

func (s *Server) syncPortfolio(c *gin.Context) {
	if s.syncer == nil {
		respondError(c, http.StatusServiceUnavailable, "SYNC_UNAVAILABLE", "portfolio sync is not configured")
		return
	}
	ctx := c.Request.Context()
	userID := CurrentUserID(c)
	ex, err := s.exchanges.Resolve(ctx, userID)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	res, err := s.syncer.Sync(ctx, ex, userID)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"positions":   mapSlice(res.Positions, newPositionView),
		"total_value": res.TotalValue,
		"updated":     res.Updated,
		"removed":     res.Removed,
		"skipped":     res.Skipped,
	})
}

func (s *Server) analyzeMarket(c *gin.Context) {
	res, err := s.engine.AnalyzeMarket(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getPrices(c *gin.Context) {
	var q limitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize(50, 1000)
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	rows, err := s.db.RecentPrices(c.Request.Context(), symbol, q.Limit)
	if err != nil {
		s.internalError(c, "recent prices", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "prices": mapSlice(rows, newPricePointView)})
}

func (s *Server) recordPrices(c *gin.Context) {
	var req recordPricesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	reqs := req.Points
	if len(reqs) == 0 {
		reqs = []pricePointRequest{req.pricePointRequest}
	}

	points := make([]db.PricePoint, 0, len(reqs))
	for i, r := range reqs {
		if err := r.validate(); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PRICE_POINT", err.Error()+" (index "+strconv.Itoa(i)+")")
			return
		}
		p := db.PricePoint{
			Symbol:    strings.ToUpper(strings.TrimSpace(r.Symbol)),
			Price:     r.Price,
			Volume:    r.Volume,
			MarketCap: r.MarketCap,
		}
		if r.Timestamp != nil {
			p.Timestamp = *r.Timestamp
		}
		points = append(points, p)
	}
	if err := s.db.InsertPricePoints(c.Request.Context(), points); err != nil {
		s.internalError(c, "insert prices", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"inserted": len(points)})
}

func (r pricePointRequest) validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return errors.New("symbol is required")
	}
	if r.Price <= 0 || math.IsNaN(r.Price) || math.IsInf(r.Price, 0) {
		return errors.New("price must be > 0")
	}
	return nil
}

func (s *Server) listOrders(c *gin.Context) {
	var q limitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize(100, 500)
	rows, err := s.queries.ListOrders(c.Request.Context(), CurrentUserID(c), q.Limit)
	if err != nil {
		s.internalError(c, "list orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": mapSlice(rows, newOrderView)})
}

func (s *Server) updateOrderStatus(c *gin.Context) {
	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	ctx := c.Request.Context()
	userID := CurrentUserID(c)
	id := c.Param("id")
	err := s.queries.UpdateOrderStatus(ctx, userID, id, req.Status, time.Now())
	switch {
	case errors.Is(err, db.ErrNotFound):
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
		return
	case errors.Is(err, db.ErrInvalidStatus):
		respondError(c, http.StatusBadRequest, "INVALID_STATUS", err.Error())
		return
	case err != nil:
		s.internalError(c, "update order status", err)
		return
	}
	if s.journal != nil {
		_, _ = s.journal.Info(ctx, userID, "Order "+id+" marked "+req.Status, journal.Metadata{
			"order_id": id, "status": req.Status,
		})
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

func (s *Server) listLogs(c *gin.Context) {
	var q limitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize(100, 500)
	rows, err := s.queries.ListLogs(c.Request.Context(), CurrentUserID(c), strings.ToLower(q.Level), q.Limit)
	if err != nil {
		s.internalError(c, "list logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": mapSlice(rows, journal.FromRow)})
}
