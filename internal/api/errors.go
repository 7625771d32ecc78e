package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rebalancer-core/internal/engine"
	"rebalancer-core/internal/gateway"
	"rebalancer-core/internal/order"
	"rebalancer-core/pkg/crypto"
	"rebalancer-core/pkg/db"
	exchange "rebalancer-core/pkg/exchanges/common"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error(op, zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
	respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// respondEngineError maps engine, gateway and exchange failures onto HTTP.
func (s *Server) respondEngineError(c *gin.Context, err error) {
	var re exchange.ResponseError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		respondError(c, http.StatusNotFound, "STRATEGY_NOT_FOUND", "strategy not found")
	case errors.Is(err, engine.ErrInactive):
		respondError(c, http.StatusConflict, "STRATEGY_INACTIVE", "strategy is not active")
	case errors.Is(err, engine.ErrInvalid):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, gateway.ErrNoCredentials):
		respondError(c, http.StatusPreconditionFailed, "NO_EXCHANGE_CREDENTIALS", "no active exchange API key configured")
	case errors.Is(err, crypto.ErrDecryptionFailed), errors.Is(err, crypto.ErrKeyNotFound):
		s.internalError(c, "decrypt credentials", err)
	case errors.Is(err, order.ErrZeroQuantity), errors.Is(err, order.ErrNotTradable):
		respondError(c, http.StatusUnprocessableEntity, "ORDER_REJECTED", err.Error())
	case errors.Is(err, engine.ErrUpstream), errors.As(err, &re):
		body := gin.H{"code": "UPSTREAM_FAILURE", "error": err.Error()}
		if errors.As(err, &re) && re.ResponseBody() != "" {
			body["details"] = re.ResponseBody()
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.Is(err, db.ErrUserIDRequired):
		respondError(c, http.StatusUnauthorized, "INVALID_TOKEN", "missing user identity")
	default:
		s.internalError(c, "engine", err)
	}
}
