// Package db provides user-isolated database queries for multi-tenant architecture.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
	ErrInvalidStatus  = errors.New("invalid order status")
)

// UserQueries provides user-isolated database queries.
type UserQueries struct {
	db *sql.DB
}

// NewUserQueries creates a new UserQueries instance.
func NewUserQueries(db *sql.DB) *UserQueries {
	return &UserQueries{db: db}
}

// ----------------------------------------
// Strategy Queries
// ----------------------------------------

const strategyColumns = `id, user_id, name, COALESCE(description, ''), strategy_type, risk_level,
	is_active, parameters, bot_active, COALESCE(bot_interval_ms, 300000),
	bot_started_at, bot_stopped_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row rowScanner) (Strategy, error) {
	var (
		s         Strategy
		startedAt sql.NullTime
		stoppedAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.Description, &s.StrategyType, &s.RiskLevel,
		&s.IsActive, &s.Parameters, &s.BotActive, &s.BotIntervalMs,
		&startedAt, &stoppedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Strategy{}, err
	}
	s.BotStartedAt = timePtr(startedAt)
	s.BotStoppedAt = timePtr(stoppedAt)
	return s, nil
}

func scanStrategies(rows *sql.Rows) ([]Strategy, error) {
	var out []Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateStrategy inserts a strategy owned by s.UserID.
func (q *UserQueries) CreateStrategy(ctx context.Context, s Strategy) error {
	if s.UserID == "" {
		return ErrUserIDRequired
	}
	if s.Parameters == "" {
		s.Parameters = "{}"
	}
	if s.BotIntervalMs <= 0 {
		s.BotIntervalMs = 300000
	}
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO strategies (
			id, user_id, name, description, strategy_type, risk_level, is_active, parameters,
			bot_active, bot_interval_ms, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, s.ID, s.UserID, s.Name, s.Description, s.StrategyType, s.RiskLevel, s.IsActive, s.Parameters,
		s.BotIntervalMs, now, now)
	if err != nil {
		return fmt.Errorf("insert strategy: %w", err)
	}
	return nil
}

// GetStrategy returns one strategy, verifying ownership.
func (q *UserQueries) GetStrategy(ctx context.Context, userID, strategyID string) (*Strategy, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	row := q.db.QueryRowContext(ctx, `
		SELECT `+strategyColumns+`
		FROM strategies
		WHERE id = ? AND user_id = ?
	`, strategyID, userID)
	s, err := scanStrategy(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query strategy: %w", err)
	}
	return &s, nil
}

// ListStrategies returns a page of the user's strategies, newest first.
func (q *UserQueries) ListStrategies(ctx context.Context, userID string, limit, offset int) ([]Strategy, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+strategyColumns+`
		FROM strategies
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()
	return scanStrategies(rows)
}

// ListActiveStrategies returns the user's strategies with is_active set.
func (q *UserQueries) ListActiveStrategies(ctx context.Context, userID string) ([]Strategy, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+strategyColumns+`
		FROM strategies
		WHERE user_id = ? AND is_active = 1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query active strategies: %w", err)
	}
	defer rows.Close()
	return scanStrategies(rows)
}

// UpdateStrategy rewrites the owner-editable columns. Lifecycle columns are untouched.
func (q *UserQueries) UpdateStrategy(ctx context.Context, s Strategy) error {
	if s.UserID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE strategies
		SET name = ?, description = ?, strategy_type = ?, risk_level = ?, is_active = ?,
		    parameters = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, s.Name, s.Description, s.StrategyType, s.RiskLevel, s.IsActive, s.Parameters,
		time.Now().UTC(), s.ID, s.UserID)
	if err != nil {
		return fmt.Errorf("update strategy: %w", err)
	}
	return requireAffected(res)
}

// DeleteStrategy removes a strategy owned by userID.
func (q *UserQueries) DeleteStrategy(ctx context.Context, userID, strategyID string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ? AND user_id = ?`, strategyID, userID)
	if err != nil {
		return fmt.Errorf("delete strategy: %w", err)
	}
	return requireAffected(res)
}

// MarkBotStarted activates the strategy and its bot, refreshing the start time and interval.
func (q *UserQueries) MarkBotStarted(ctx context.Context, userID, strategyID string, intervalMs int64, at time.Time) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE strategies
		SET is_active = 1, bot_active = 1, bot_started_at = ?, bot_interval_ms = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, at.UTC(), intervalMs, time.Now().UTC(), strategyID, userID)
	if err != nil {
		return fmt.Errorf("start bot: %w", err)
	}
	return requireAffected(res)
}

// MarkBotStopped clears the bot flag and records the stop time. is_active is left unchanged.
func (q *UserQueries) MarkBotStopped(ctx context.Context, userID, strategyID string, at time.Time) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE strategies
		SET bot_active = 0, bot_stopped_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, at.UTC(), time.Now().UTC(), strategyID, userID)
	if err != nil {
		return fmt.Errorf("stop bot: %w", err)
	}
	return requireAffected(res)
}

// ----------------------------------------
// API Key Queries
// ----------------------------------------

// CreateAPIKey stores an encrypted credential pair.
func (q *UserQueries) CreateAPIKey(ctx context.Context, k APIKey) error {
	if k.UserID == "" {
		return ErrUserIDRequired
	}
	if k.Exchange == "" {
		k.Exchange = "binance"
	}
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO api_keys (
			id, user_id, exchange, label, api_key_encrypted, api_secret_encrypted,
			testnet, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, k.ID, k.UserID, k.Exchange, k.Label, k.APIKeyEncrypted, k.APISecretEncrypted, k.Testnet, now, now)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// ListAPIKeys returns all credential rows for a user, newest first.
func (q *UserQueries) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, exchange, label, api_key_encrypted, api_secret_encrypted,
		       COALESCE(testnet, 1), is_active, created_at, updated_at
		FROM api_keys
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Exchange, &k.Label, &k.APIKeyEncrypted, &k.APISecretEncrypted,
			&k.Testnet, &k.IsActive, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetActiveAPIKey returns the newest active credential for an exchange.
func (q *UserQueries) GetActiveAPIKey(ctx context.Context, userID, exchange string) (*APIKey, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var k APIKey
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, exchange, label, api_key_encrypted, api_secret_encrypted,
		       COALESCE(testnet, 1), is_active, created_at, updated_at
		FROM api_keys
		WHERE user_id = ? AND exchange = ? AND is_active = 1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, exchange).Scan(&k.ID, &k.UserID, &k.Exchange, &k.Label, &k.APIKeyEncrypted, &k.APISecretEncrypted,
		&k.Testnet, &k.IsActive, &k.CreatedAt, &k.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query api key: %w", err)
	}
	return &k, nil
}

// DeactivateAPIKey marks a credential as inactive.
func (q *UserQueries) DeactivateAPIKey(ctx context.Context, userID, keyID string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = 0, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, time.Now().UTC(), keyID, userID)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	return requireAffected(res)
}

// ----------------------------------------
// Order Queries
// ----------------------------------------

// CreateOrder records a submitted order.
func (q *UserQueries) CreateOrder(ctx context.Context, o Order) error {
	if o.UserID == "" {
		return ErrUserIDRequired
	}
	if o.Status == "" {
		o.Status = OrderStatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, strategy_id, exchange, symbol, side, order_type, quantity, price,
			status, external_order_id, created_at
		) VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
	`, o.ID, o.UserID, o.StrategyID, o.Exchange, o.Symbol, o.Side, o.OrderType, o.Quantity, nullFloat(o.Price),
		o.Status, o.ExternalOrderID, o.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// ListOrders returns the user's most recent orders.
func (q *UserQueries) ListOrders(ctx context.Context, userID string, limit int) ([]Order, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(strategy_id, ''), exchange, symbol, side, order_type, quantity, price,
		       status, COALESCE(external_order_id, ''), created_at, filled_at, cancelled_at
		FROM orders
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var (
			o           Order
			price       sql.NullFloat64
			filledAt    sql.NullTime
			cancelledAt sql.NullTime
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.StrategyID, &o.Exchange, &o.Symbol, &o.Side, &o.OrderType,
			&o.Quantity, &price, &o.Status, &o.ExternalOrderID, &o.CreatedAt, &filledAt, &cancelledAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Price = floatPtr(price)
		o.FilledAt = timePtr(filledAt)
		o.CancelledAt = timePtr(cancelledAt)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus applies an exchange-driven status transition and stamps
// the matching filled_at/cancelled_at column.
func (q *UserQueries) UpdateOrderStatus(ctx context.Context, userID, orderID, status string, at time.Time) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	var stamp string
	switch status {
	case OrderStatusFilled:
		stamp = "filled_at"
	case OrderStatusCancelled:
		stamp = "cancelled_at"
	case OrderStatusPending:
	default:
		return ErrInvalidStatus
	}

	query := `UPDATE orders SET status = ?`
	args := []any{status}
	if stamp != "" {
		query += ", " + stamp + " = ?"
		args = append(args, at.UTC())
	}
	query += ` WHERE id = ? AND user_id = ?`
	args = append(args, orderID, userID)

	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return requireAffected(res)
}

// ----------------------------------------
// Portfolio Queries
// ----------------------------------------

// GetPortfolio returns all positions held by the user.
func (q *UserQueries) GetPortfolio(ctx context.Context, userID string) ([]PortfolioPosition, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id, symbol, quantity, avg_price, current_price, total_value, pnl_percentage, last_updated
		FROM portfolio
		WHERE user_id = ?
		ORDER BY symbol
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query portfolio: %w", err)
	}
	defer rows.Close()

	var positions []PortfolioPosition
	for rows.Next() {
		var p PortfolioPosition
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Quantity, &p.AvgPrice, &p.CurrentPrice,
			&p.TotalValue, &p.PnLPercentage, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// UpsertPosition creates or updates the (user, symbol) portfolio row.
func (q *UserQueries) UpsertPosition(ctx context.Context, p PortfolioPosition) error {
	if p.UserID == "" {
		return ErrUserIDRequired
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO portfolio (user_id, symbol, quantity, avg_price, current_price, total_value, pnl_percentage, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			current_price = excluded.current_price,
			total_value = excluded.total_value,
			pnl_percentage = excluded.pnl_percentage,
			last_updated = excluded.last_updated
	`, p.UserID, p.Symbol, p.Quantity, p.AvgPrice, p.CurrentPrice, p.TotalValue, p.PnLPercentage, p.LastUpdated.UTC())
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// DeletePosition removes the (user, symbol) portfolio row.
func (q *UserQueries) DeletePosition(ctx context.Context, userID, symbol string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM portfolio WHERE user_id = ? AND symbol = ?`, userID, symbol)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return requireAffected(res)
}

// ----------------------------------------
// Log Queries
// ----------------------------------------

// InsertLog appends an audit entry. An empty UserID records a system entry.
func (q *UserQueries) InsertLog(ctx context.Context, e LogEntry) (int64, error) {
	if e.Metadata == "" {
		e.Metadata = "{}"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO system_logs (user_id, level, message, metadata, created_at)
		VALUES (NULLIF(?, ''), ?, ?, ?, ?)
	`, e.UserID, e.Level, e.Message, e.Metadata, e.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert log: %w", err)
	}
	return res.LastInsertId()
}

// ListLogs returns the user's audit entries, newest first, optionally filtered by level.
func (q *UserQueries) ListLogs(ctx context.Context, userID, level string, limit int) ([]LogEntry, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, COALESCE(user_id, ''), level, message, metadata, created_at
		FROM system_logs
		WHERE user_id = ?`
	args := []any{userID}
	if level = strings.TrimSpace(level); level != "" {
		query += ` AND level = ?`
		args = append(args, level)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Level, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ----------------------------------------
// Market Data
// ----------------------------------------

// RecentPrices exposes the shared price history through the same handle the
// engine uses for owner-scoped reads.
func (q *UserQueries) RecentPrices(ctx context.Context, symbol string, limit int) ([]PricePoint, error) {
	return (&Database{DB: q.db}).RecentPrices(ctx, symbol, limit)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
