package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"rebalancer-core/internal/strategy"
	"rebalancer-core/pkg/db"
)

const (
	defaultStrategyType = strategy.TagCrossover
	defaultRiskLevel    = "medium"
)

type strategyRequest struct {
	Name         string          `json:"name" binding:"required,min=1,max=120"`
	Description  string          `json:"description" binding:"max=2000"`
	StrategyType string          `json:"strategy_type"`
	RiskLevel    string          `json:"risk_level" binding:"omitempty,oneof=low medium high"`
	IsActive     *bool           `json:"is_active"`
	Parameters   strategy.Config `json:"parameters"`
}

type listStrategiesQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func (q *listStrategiesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

type botStartRequest struct {
	IntervalMs int64 `json:"interval_ms"`
}

// apply validates the request and fills s with the editable columns.
func (r strategyRequest) apply(s *db.Strategy) error {
	if err := r.Parameters.Validate(); err != nil {
		return err
	}
	params, err := r.Parameters.Encode()
	if err != nil {
		return err
	}
	s.Name = strings.TrimSpace(r.Name)
	s.Description = strings.TrimSpace(r.Description)
	s.StrategyType = strings.TrimSpace(r.StrategyType)
	if s.StrategyType == "" {
		s.StrategyType = defaultStrategyType
	}
	s.RiskLevel = r.RiskLevel
	if s.RiskLevel == "" {
		s.RiskLevel = defaultRiskLevel
	}
	if r.IsActive != nil {
		s.IsActive = *r.IsActive
	}
	s.Parameters = params
	return nil
}

func (s *Server) listStrategies(c *gin.Context) {
	var q listStrategiesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	q.normalize()
	rows, err := s.queries.ListStrategies(c.Request.Context(), CurrentUserID(c), q.Limit, q.Offset)
	if err != nil {
		s.internalError(c, "list strategies", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": mapSlice(rows, newStrategyView)})
}

func (s *Server) createStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	row := db.Strategy{ID: uuid.NewString(), UserID: CurrentUserID(c)}
	if err := req.apply(&row); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
		return
	}
	ctx := c.Request.Context()
	if err := s.queries.CreateStrategy(ctx, row); err != nil {
		s.internalError(c, "create strategy", err)
		return
	}
	created, err := s.queries.GetStrategy(ctx, row.UserID, row.ID)
	if err != nil {
		s.internalError(c, "reload strategy", err)
		return
	}
	c.JSON(http.StatusCreated, newStrategyView(*created))
}

func (s *Server) getStrategy(c *gin.Context) {
	row, ok := s.ownedStrategy(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newStrategyView(*row))
}

func (s *Server) updateStrategy(c *gin.Context) {
	row, ok := s.ownedStrategy(c)
	if !ok {
		return
	}
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if err := req.apply(row); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
		return
	}
	ctx := c.Request.Context()
	if err := s.queries.UpdateStrategy(ctx, *row); err != nil {
		s.strategyStoreError(c, "update strategy", err)
		return
	}
	updated, err := s.queries.GetStrategy(ctx, row.UserID, row.ID)
	if err != nil {
		s.strategyStoreError(c, "reload strategy", err)
		return
	}
	c.JSON(http.StatusOK, newStrategyView(*updated))
}

func (s *Server) deleteStrategy(c *gin.Context) {
	id := c.Param("id")
	if err := s.queries.DeleteStrategy(c.Request.Context(), CurrentUserID(c), id); err != nil {
		s.strategyStoreError(c, "delete strategy", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) runStrategy(c *gin.Context) {
	results, err := s.engine.RunStrategy(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": c.Param("id"), "results": nonNil(results)})
}

func (s *Server) startBot(c *gin.Context) {
	var req botStartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
			return
		}
	}
	if req.IntervalMs < 0 {
		respondError(c, http.StatusBadRequest, "INVALID_INTERVAL", "interval_ms must be positive")
		return
	}
	res, err := s.engine.StartBot(c.Request.Context(), CurrentUserID(c), c.Param("id"), req.IntervalMs)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) stopBot(c *gin.Context) {
	res, err := s.engine.StopBot(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) botStatus(c *gin.Context) {
	res, err := s.engine.BotStatus(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) ownedStrategy(c *gin.Context) (*db.Strategy, bool) {
	row, err := s.queries.GetStrategy(c.Request.Context(), CurrentUserID(c), c.Param("id"))
	if err != nil {
		s.strategyStoreError(c, "get strategy", err)
		return nil, false
	}
	return row, true
}

func (s *Server) strategyStoreError(c *gin.Context, op string, err error) {
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusNotFound, "STRATEGY_NOT_FOUND", "strategy not found")
		return
	}
	s.internalError(c, op, err)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
