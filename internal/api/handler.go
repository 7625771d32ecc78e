package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

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

// ManualTrader places user-entered orders. *order.Executor satisfies it.
type ManualTrader interface {
	PlaceManual(ctx context.Context, ex exchange.Exchange, ownerID string, req exchange.OrderRequest) (order.TradeResult, error)
}

// PortfolioSyncer refreshes positions from exchange balances.
type PortfolioSyncer interface {
	Sync(ctx context.Context, ex exchange.Exchange, ownerID string) (*portfolio.SyncResult, error)
}

// Config collects the server's collaborators. Market and Syncer are optional.
type Config struct {
	DB        *db.Database
	Engine    engine.Service
	Exchanges engine.ExchangeResolver
	Trader    ManualTrader
	Syncer    PortfolioSyncer
	Vault     crypto.Sealer
	Market    exchange.MarketData
	Journal   *journal.Journal
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	Logger    *zap.Logger

	JWTSecret      string
	TokenTTL       time.Duration
	RequestTimeout time.Duration
	Version        string
}

// Server wires HTTP endpoints around the engine.
type Server struct {
	Router *gin.Engine

	db        *db.Database
	queries   *db.UserQueries
	engine    engine.Service
	exchanges engine.ExchangeResolver
	trader    ManualTrader
	syncer    PortfolioSyncer
	vault     crypto.Sealer
	market    exchange.MarketData
	journal   *journal.Journal
	bus       *events.Bus
	metrics   *monitor.Metrics
	logger    *zap.Logger
	limiter   *ipLimiter

	jwtSecret string
	tokenTTL  time.Duration
	version   string
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 72 * time.Hour
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		Router:    gin.New(),
		db:        cfg.DB,
		queries:   cfg.DB.Queries(),
		engine:    cfg.Engine,
		exchanges: cfg.Exchanges,
		trader:    cfg.Trader,
		syncer:    cfg.Syncer,
		vault:     cfg.Vault,
		market:    cfg.Market,
		journal:   cfg.Journal,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		logger:    logger.Named("api"),
		limiter:   newIPLimiter(20, 50),
		jwtSecret: cfg.JWTSecret,
		tokenTTL:  cfg.TokenTTL,
		version:   cfg.Version,
	}

	// Middleware stack (order matters!)
	s.Router.Use(gin.Recovery())
	s.Router.Use(RequestIDMiddleware())
	s.Router.Use(RequestLogger(s.logger, s.metrics))
	s.Router.Use(RateLimitMiddleware(s.limiter, s.logger))
	s.Router.Use(TimeoutMiddleware(cfg.RequestTimeout))
	s.Router.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	v1 := s.Router.Group("/api/v1")
	v1.GET("/health", s.health)

	auth := v1.Group("/auth")
	{
		auth.POST("/register", s.registerUser)
		auth.POST("/login", s.loginUser)
	}

	protected := v1.Group("")
	protected.Use(AuthMiddleware(s.jwtSecret))
	{
		protected.GET("/api-keys", s.listAPIKeys)
		protected.POST("/api-keys", s.createAPIKey)
		protected.DELETE("/api-keys/:id", s.deactivateAPIKey)

		protected.GET("/strategies", s.listStrategies)
		protected.POST("/strategies", s.createStrategy)
		protected.GET("/strategies/:id", s.getStrategy)
		protected.PUT("/strategies/:id", s.updateStrategy)
		protected.DELETE("/strategies/:id", s.deleteStrategy)
		protected.POST("/strategies/:id/run", s.runStrategy)
		protected.POST("/strategies/:id/bot/start", s.startBot)
		protected.POST("/strategies/:id/bot/stop", s.stopBot)
		protected.GET("/bots/status", s.botStatus)

		protected.GET("/portfolio", s.getPortfolio)
		protected.POST("/portfolio/rebalance", s.rebalance)
		protected.POST("/portfolio/sync", s.syncPortfolio)

		protected.GET("/market/analyze/:symbol", s.analyzeMarket)
		protected.GET("/prices/:symbol", s.getPrices)
		protected.POST("/prices", s.recordPrices)

		protected.GET("/orders", s.listOrders)
		protected.PATCH("/orders/:id/status", s.updateOrderStatus)
		protected.GET("/logs", s.listLogs)

		protected.GET("/exchange/account", s.exchangeAccount)
		protected.GET("/exchange/price/:symbol", s.exchangePrice)
		protected.GET("/exchange/ticker", s.exchangeTicker)
		protected.POST("/exchange/orders", s.exchangePlaceOrder)

		protected.POST("/engine", s.dispatch)
		protected.GET("/metrics", s.getMetrics)
	}
}

func (s *Server) health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.DB.PingContext(c.Request.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "version": s.version})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics are not enabled")
		return
	}
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// Handler exposes the router for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
