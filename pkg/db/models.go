package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Order statuses persisted in the orders table.
const (
	OrderStatusPending   = "pending"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

// Log levels persisted in system_logs.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// User is an account able to own strategies, keys and portfolio rows.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// APIKey stores exchange credentials; both secrets are ciphertext.
type APIKey struct {
	ID                 string
	UserID             string
	Exchange           string
	Label              string
	APIKeyEncrypted    string
	APISecretEncrypted string
	Testnet            bool
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Strategy is a user-owned strategy row. Parameters holds the JSON-encoded
// business configuration; the bot_* columns hold lifecycle state.
type Strategy struct {
	ID            string
	UserID        string
	Name          string
	Description   string
	StrategyType  string
	RiskLevel     string
	IsActive      bool
	Parameters    string
	BotActive     bool
	BotIntervalMs int64
	BotStartedAt  *time.Time
	BotStoppedAt  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Order is an exchange order recorded after submission.
type Order struct {
	ID              string
	UserID          string
	StrategyID      string
	Exchange        string
	Symbol          string
	Side            string
	OrderType       string
	Quantity        float64
	Price           *float64
	Status          string
	ExternalOrderID string
	CreatedAt       time.Time
	FilledAt        *time.Time
	CancelledAt     *time.Time
}

// PortfolioPosition is one holding per (user, symbol).
type PortfolioPosition struct {
	UserID        string
	Symbol        string
	Quantity      float64
	AvgPrice      float64
	CurrentPrice  float64
	TotalValue    float64
	PnLPercentage float64
	LastUpdated   time.Time
}

// PricePoint is an append-only market observation.
type PricePoint struct {
	ID        int64
	Symbol    string
	Price     float64
	Volume    *float64
	MarketCap *float64
	Timestamp time.Time
}

// LogEntry is an audit trail row. UserID is empty for system-wide entries.
type LogEntry struct {
	ID        int64
	UserID    string
	Level     string
	Message   string
	Metadata  string
	CreatedAt time.Time
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// InsertPricePoint appends a market observation. Price history is shared
// market data and carries no owner.
func (d *Database) InsertPricePoint(ctx context.Context, p PricePoint) (int64, error) {
	if p.Symbol == "" {
		return 0, fmt.Errorf("price point symbol is required")
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO price_history (symbol, price, volume, market_cap, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, strings.ToUpper(p.Symbol), p.Price, nullFloat(p.Volume), nullFloat(p.MarketCap), p.Timestamp.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert price point: %w", err)
	}
	return res.LastInsertId()
}

// InsertPricePoints appends a batch of observations in one transaction.
func (d *Database) InsertPricePoints(ctx context.Context, points []PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin price batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_history (symbol, price, volume, market_cap, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare price batch: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range points {
		if p.Symbol == "" {
			return fmt.Errorf("price point symbol is required")
		}
		ts := p.Timestamp
		if ts.IsZero() {
			ts = now
		}
		if _, err := stmt.ExecContext(ctx, strings.ToUpper(p.Symbol), p.Price, nullFloat(p.Volume), nullFloat(p.MarketCap), ts.UTC()); err != nil {
			return fmt.Errorf("insert price point: %w", err)
		}
	}
	return tx.Commit()
}

// RecentPrices returns up to limit price points for symbol, most recent first.
func (d *Database) RecentPrices(ctx context.Context, symbol string, limit int) ([]PricePoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, price, volume, market_cap, timestamp
		FROM price_history
		WHERE symbol = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var points []PricePoint
	for rows.Next() {
		var (
			p         PricePoint
			volume    sql.NullFloat64
			marketCap sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Price, &volume, &marketCap, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		p.Volume = floatPtr(volume)
		p.MarketCap = floatPtr(marketCap)
		points = append(points, p)
	}
	return points, rows.Err()
}

// ListRunningBots returns every active strategy whose bot flag is set,
// across all owners. Used by the in-process scheduler only.
func (d *Database) ListRunningBots(ctx context.Context) ([]Strategy, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+strategyColumns+`
		FROM strategies
		WHERE is_active = 1 AND bot_active = 1
		ORDER BY user_id, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query running bots: %w", err)
	}
	defer rows.Close()
	return scanStrategies(rows)
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
