package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"rebalancer-core/internal/gateway"
	"rebalancer-core/internal/journal"
	"rebalancer-core/pkg/db"
)

type createAPIKeyRequest struct {
	Exchange  string `json:"exchange"`
	Label     string `json:"label" binding:"max=120"`
	APIKey    string `json:"api_key" binding:"required,min=1"`
	APISecret string `json:"api_secret" binding:"required,min=1"`
	Testnet   *bool  `json:"testnet"`
}

type evictor interface {
	Evict(ownerID string)
}

func (s *Server) evictExchange(userID string) {
	if ev, ok := s.exchanges.(evictor); ok {
		ev.Evict(userID)
	}
}

func (s *Server) listAPIKeys(c *gin.Context) {
	keys, err := s.queries.ListAPIKeys(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		s.internalError(c, "list api keys", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": mapSlice(keys, newAPIKeyView)})
}

func (s *Server) createAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	exchangeName := strings.ToLower(strings.TrimSpace(req.Exchange))
	if exchangeName == "" {
		exchangeName = gateway.ExchangeBinance
	}
	if exchangeName != gateway.ExchangeBinance {
		respondError(c, http.StatusBadRequest, "UNSUPPORTED_EXCHANGE", "only binance is supported")
		return
	}
	if s.vault == nil {
		respondError(c, http.StatusServiceUnavailable, "ENCRYPTION_UNAVAILABLE", "credential encryption is not configured")
		return
	}

	encKey, err := s.vault.Encrypt(strings.TrimSpace(req.APIKey))
	if err != nil {
		s.internalError(c, "encrypt api key", err)
		return
	}
	encSecret, err := s.vault.Encrypt(strings.TrimSpace(req.APISecret))
	if err != nil {
		s.internalError(c, "encrypt api secret", err)
		return
	}

	testnet := true
	if req.Testnet != nil {
		testnet = *req.Testnet
	}
	userID := CurrentUserID(c)
	key := db.APIKey{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Exchange:           exchangeName,
		Label:              strings.TrimSpace(req.Label),
		APIKeyEncrypted:    encKey,
		APISecretEncrypted: encSecret,
		Testnet:            testnet,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
	}
	key.UpdatedAt = key.CreatedAt
	ctx := c.Request.Context()
	if err := s.queries.CreateAPIKey(ctx, key); err != nil {
		s.internalError(c, "create api key", err)
		return
	}
	s.evictExchange(userID)
	if s.journal != nil {
		_, _ = s.journal.Info(ctx, userID, "API key added for "+exchangeName, journal.Metadata{
			"key_id": key.ID, "label": key.Label, "testnet": testnet,
		})
	}
	c.JSON(http.StatusCreated, newAPIKeyView(key))
}

func (s *Server) deactivateAPIKey(c *gin.Context) {
	userID := CurrentUserID(c)
	keyID := c.Param("id")
	ctx := c.Request.Context()
	if err := s.queries.DeactivateAPIKey(ctx, userID, keyID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			respondError(c, http.StatusNotFound, "API_KEY_NOT_FOUND", "api key not found")
			return
		}
		s.internalError(c, "deactivate api key", err)
		return
	}
	s.evictExchange(userID)
	if s.journal != nil {
		_, _ = s.journal.Warning(ctx, userID, "API key deactivated", journal.Metadata{"key_id": keyID})
	}
	c.JSON(http.StatusOK, gin.H{"id": keyID, "is_active": false})
}
