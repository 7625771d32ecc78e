// Package gateway resolves the per-owner exchange client from stored,
// encrypted API credentials.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"rebalancer-core/pkg/crypto"
	"rebalancer-core/pkg/db"
	exchange "rebalancer-core/pkg/exchanges/common"
)

// ErrNoCredentials is returned when the owner has no active API key.
var ErrNoCredentials = errors.New("no active exchange credentials")

// KeyStore reads stored credentials.
type KeyStore interface {
	GetActiveAPIKey(ctx context.Context, userID, exchange string) (*db.APIKey, error)
}

// Config tunes the client cache.
type Config struct {
	Exchange    string        // venue looked up in api_keys, default binance
	IdleTimeout time.Duration // cached clients unused for this long are dropped
}

type cachedClient struct {
	keyID    string
	ex       exchange.Exchange
	lastUsed time.Time
}

// Resolver builds and caches one exchange client per owner. A cached client
// is reused only while the owner's newest active key is unchanged.
type Resolver struct {
	keys    KeyStore
	vault   crypto.Sealer
	factory Factory
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*cachedClient // ownerID -> client
}

// NewResolver wires a resolver.
func NewResolver(keys KeyStore, vault crypto.Sealer, factory Factory, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.Exchange == "" {
		cfg.Exchange = ExchangeBinance
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		keys:    keys,
		vault:   vault,
		factory: factory,
		cfg:     cfg,
		logger:  logger.Named("gateway"),
		now:     time.Now,
		clients: make(map[string]*cachedClient),
	}
}

// Resolve returns the exchange bound to ownerID's active credentials.
func (r *Resolver) Resolve(ctx context.Context, ownerID string) (exchange.Exchange, error) {
	key, err := r.keys.GetActiveAPIKey(ctx, ownerID, r.cfg.Exchange)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load api key: %w", err)
	}

	r.mu.Lock()
	if c, ok := r.clients[ownerID]; ok && c.keyID == key.ID {
		c.lastUsed = r.now()
		r.mu.Unlock()
		return c.ex, nil
	}
	r.mu.Unlock()

	apiKey, err := r.vault.Decrypt(key.APIKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := r.vault.Decrypt(key.APISecretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt api secret: %w", err)
	}

	ex, err := r.factory(Credentials{
		KeyID:     key.ID,
		UserID:    ownerID,
		Exchange:  key.Exchange,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Testnet:   key.Testnet,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.clients[ownerID] = &cachedClient{keyID: key.ID, ex: ex, lastUsed: r.now()}
	r.mu.Unlock()
	r.logger.Debug("exchange client created", zap.String("user_id", ownerID), zap.String("key_id", key.ID))
	return ex, nil
}

// Evict drops the cached client for ownerID.
func (r *Resolver) Evict(ownerID string) {
	r.mu.Lock()
	delete(r.clients, ownerID)
	r.mu.Unlock()
}

// Prune drops clients idle longer than the configured timeout and returns
// how many were removed.
func (r *Resolver) Prune() int {
	cutoff := r.now().Add(-r.cfg.IdleTimeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for owner, c := range r.clients {
		if c.lastUsed.Before(cutoff) {
			delete(r.clients, owner)
			n++
		}
	}
	return n
}

// Cached returns the number of cached clients.
func (r *Resolver) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
