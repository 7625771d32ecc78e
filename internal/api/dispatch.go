package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// dispatchRequest is the action envelope used by older clients:
// {"action": "executeStrategy", "strategyId": "..."}.
type dispatchRequest struct {
	Action     string `json:"action" binding:"required"`
	Symbol     string `json:"symbol"`
	StrategyID string `json:"strategyId"`
	Interval   int64  `json:"interval"`
}

func (s *Server) dispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	ctx := c.Request.Context()
	userID := CurrentUserID(c)

	var (
		result any
		err    error
	)
	switch req.Action {
	case "analyzeMarket":
		result, err = s.engine.AnalyzeMarket(ctx, req.Symbol)
	case "executeStrategy":
		trades, runErr := s.engine.RunStrategy(ctx, userID, req.StrategyID)
		result, err = nonNil(trades), runErr
	case "rebalancePortfolio":
		res, rbErr := s.engine.Rebalance(ctx, userID)
		if rbErr == nil {
			res.Actions = nonNil(res.Actions)
		}
		result, err = res, rbErr
	case "startBot":
		result, err = s.engine.StartBot(ctx, userID, req.StrategyID, req.Interval)
	case "stopBot":
		result, err = s.engine.StopBot(ctx, userID, req.StrategyID)
	case "getBotStatus":
		result, err = s.engine.BotStatus(ctx, userID)
	default:
		respondError(c, http.StatusBadRequest, "UNKNOWN_ACTION", "Unknown action: "+req.Action)
		return
	}
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
