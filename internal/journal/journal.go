// Package journal writes the user-visible audit trail. Every entry is
// persisted to system_logs, mirrored to the process logger and published on
// the event bus for live streaming.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rebalancer-core/internal/events"
	"rebalancer-core/pkg/db"
)

// Store persists audit entries.
type Store interface {
	InsertLog(ctx context.Context, e db.LogEntry) (int64, error)
}

// Metadata is the structured context attached to an entry.
type Metadata map[string]any

// Entry is a persisted audit entry as seen by API clients and subscribers.
type Entry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal records audit entries.
type Journal struct {
	store  Store
	bus    *events.Bus
	logger *zap.Logger
	now    func() time.Time
}

// New builds a journal. bus may be nil.
func New(store Store, bus *events.Bus, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{store: store, bus: bus, logger: logger.Named("journal"), now: time.Now}
}

// Record persists one entry. Persistence failures are returned; the zap
// mirror is written either way.
func (j *Journal) Record(ctx context.Context, userID, level, message string, meta Metadata) (Entry, error) {
	if meta == nil {
		meta = Metadata{}
	}
	entry := Entry{UserID: userID, Level: level, Message: message, Metadata: meta, CreatedAt: j.now().UTC()}

	j.mirror(entry)

	raw, err := json.Marshal(meta)
	if err != nil {
		return entry, fmt.Errorf("encode log metadata: %w", err)
	}
	id, err := j.store.InsertLog(ctx, db.LogEntry{
		UserID:    userID,
		Level:     level,
		Message:   message,
		Metadata:  string(raw),
		CreatedAt: entry.CreatedAt,
	})
	if err != nil {
		j.logger.Error("persist audit entry", zap.String("user_id", userID), zap.Error(err))
		return entry, err
	}
	entry.ID = id

	j.bus.Publish(events.Message{Topic: events.EventLogEntry, UserID: userID, Payload: entry})
	return entry, nil
}

func (j *Journal) Info(ctx context.Context, userID, message string, meta Metadata) (Entry, error) {
	return j.Record(ctx, userID, db.LevelInfo, message, meta)
}

func (j *Journal) Warning(ctx context.Context, userID, message string, meta Metadata) (Entry, error) {
	return j.Record(ctx, userID, db.LevelWarning, message, meta)
}

func (j *Journal) Error(ctx context.Context, userID, message string, meta Metadata) (Entry, error) {
	return j.Record(ctx, userID, db.LevelError, message, meta)
}

func (j *Journal) Success(ctx context.Context, userID, message string, meta Metadata) (Entry, error) {
	return j.Record(ctx, userID, db.LevelSuccess, message, meta)
}

func (j *Journal) mirror(e Entry) {
	fields := []zap.Field{zap.String("user_id", e.UserID), zap.Any("metadata", map[string]any(e.Metadata))}
	switch e.Level {
	case db.LevelError:
		j.logger.Error(e.Message, fields...)
	case db.LevelWarning:
		j.logger.Warn(e.Message, fields...)
	default:
		j.logger.Info(e.Message, fields...)
	}
}

// FromRow converts a stored row into an Entry. Undecodable metadata is
// returned under the "raw" key.
func FromRow(row db.LogEntry) Entry {
	meta := Metadata{}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			meta = Metadata{"raw": row.Metadata}
		}
	}
	return Entry{
		ID:        row.ID,
		UserID:    row.UserID,
		Level:     row.Level,
		Message:   row.Message,
		Metadata:  meta,
		CreatedAt: row.CreatedAt,
	}
}
