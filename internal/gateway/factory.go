package gateway

import (
	"fmt"

	"go.uber.org/zap"

	exspot "rebalancer-core/pkg/exchanges/binance/spot"
	exchange "rebalancer-core/pkg/exchanges/common"
)

// ExchangeBinance is the only venue credentials can be stored for.
const ExchangeBinance = "binance"

// Credentials are decrypted API credentials for one venue.
type Credentials struct {
	KeyID     string
	UserID    string
	Exchange  string
	APIKey    string
	APISecret string
	Testnet   bool
}

// Factory builds an Exchange from decrypted credentials.
type Factory func(c Credentials) (exchange.Exchange, error)

// BinanceFactory returns a Factory for Binance spot. forceTestnet routes
// every client to the testnet regardless of the stored flag.
func BinanceFactory(forceTestnet bool, logger *zap.Logger) Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c Credentials) (exchange.Exchange, error) {
		switch c.Exchange {
		case ExchangeBinance, "binance-spot", "":
			return exspot.New(exspot.Config{
				APIKey:    c.APIKey,
				APISecret: c.APISecret,
				Testnet:   forceTestnet || c.Testnet,
				Logger:    logger.With(zap.String("user_id", c.UserID)),
			}), nil
		default:
			return nil, fmt.Errorf("unsupported exchange type: %s", c.Exchange)
		}
	}
}

// PublicMarketData returns a credential-free Binance client for market data.
func PublicMarketData(testnet bool, logger *zap.Logger) exchange.MarketData {
	return exspot.New(exspot.Config{Testnet: testnet, Logger: logger})
}
