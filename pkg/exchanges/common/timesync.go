package common

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimeSync keeps the offset between local time and an exchange server clock.
type TimeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	offset        int64 // milliseconds offset (server - local)
	lastSync      time.Time
	maxAge        time.Duration
	logger        *zap.Logger
	mu            sync.RWMutex
}

// NewTimeSync creates a time synchronization manager. The offset is refreshed
// lazily by EnsureFresh once it is older than maxAge.
func NewTimeSync(getServerTime func(ctx context.Context) (int64, error), maxAge time.Duration, logger *zap.Logger) *TimeSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &TimeSync{
		getServerTime: getServerTime,
		maxAge:        maxAge,
		logger:        logger,
	}
}

// Sync synchronizes with server time.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	// Assume network latency is symmetric
	networkLatency := (localAfter - localBefore) / 2
	localTime := localBefore + networkLatency

	offset := serverTime - localTime

	ts.mu.Lock()
	ts.offset = offset
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	ts.logger.Debug("time sync", zap.Int64("offset_ms", offset), zap.Int64("server", serverTime), zap.Int64("local", localTime))
	return nil
}

// EnsureFresh re-syncs when the offset is stale. Failures are logged and the
// previous offset is kept.
func (ts *TimeSync) EnsureFresh(ctx context.Context) {
	ts.mu.RLock()
	stale := ts.lastSync.IsZero() || time.Since(ts.lastSync) >= ts.maxAge
	ts.mu.RUnlock()
	if !stale {
		return
	}
	if err := ts.Sync(ctx); err != nil {
		ts.logger.Warn("time sync failed", zap.Error(err))
		ts.mu.Lock()
		// Back off until the next maxAge window.
		ts.lastSync = time.Now()
		ts.mu.Unlock()
	}
}

// Now returns current time adjusted for server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the current time offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
