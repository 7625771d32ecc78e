// Package persistence buffers high-volume writes and flushes them in batches.
package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"rebalancer-core/pkg/db"
)

// BatchStore writes a batch of price points atomically.
type BatchStore interface {
	InsertPricePoints(ctx context.Context, points []db.PricePoint) error
}

// Metrics reports writer activity.
type Metrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	TotalDropped  uint64    `json:"total_dropped"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// PriceWriter buffers price points and flushes them when the buffer fills
// or the interval elapses. A failed batch goes back to the front of the
// buffer for the next flush; points beyond maxPending are dropped oldest
// first and counted.
type PriceWriter struct {
	store    BatchStore
	logger   *zap.Logger
	maxSize    int
	maxPending int
	interval   time.Duration

	mu     sync.Mutex
	buffer []db.PricePoint

	writes  atomic.Uint64
	batches atomic.Uint64
	errors  atomic.Uint64
	dropped atomic.Uint64
	lastMu  sync.Mutex
	last    Metrics

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPriceWriter starts a writer with a background flush loop.
func NewPriceWriter(store BatchStore, maxSize int, interval time.Duration, logger *zap.Logger) *PriceWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &PriceWriter{
		store:    store,
		logger:   logger.Named("price_writer"),
		maxSize:    maxSize,
		maxPending: maxSize * 10,
		interval:   interval,
		buffer:     make([]db.PricePoint, 0, maxSize),
		done:       make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Add queues points, flushing synchronously once the buffer is full.
func (w *PriceWriter) Add(points ...db.PricePoint) {
	if len(points) == 0 {
		return
	}
	w.mu.Lock()
	w.buffer = append(w.buffer, points...)
	full := len(w.buffer) >= w.maxSize
	w.mu.Unlock()

	if full {
		_ = w.Flush(context.Background())
	}
}

// Flush writes everything buffered so far.
func (w *PriceWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.buffer
	w.buffer = make([]db.PricePoint, 0, w.maxSize)
	w.mu.Unlock()

	if err := w.store.InsertPricePoints(ctx, batch); err != nil {
		w.errors.Add(1)
		dropped := w.requeue(batch)
		w.logger.Error("price batch failed",
			zap.Int("size", len(batch)), zap.Int("dropped", dropped), zap.Error(err))
		return err
	}

	w.writes.Add(uint64(len(batch)))
	w.batches.Add(1)
	w.lastMu.Lock()
	w.last.LastBatchSize = len(batch)
	w.last.LastFlushTime = time.Now()
	w.lastMu.Unlock()
	w.logger.Debug("price batch flushed", zap.Int("size", len(batch)))
	return nil
}

// requeue puts a failed batch ahead of points added since, trimming the
// oldest beyond maxPending. It returns how many points were dropped.
func (w *PriceWriter) requeue(batch []db.PricePoint) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	merged := append(batch, w.buffer...)
	dropped := 0
	if len(merged) > w.maxPending {
		dropped = len(merged) - w.maxPending
		merged = merged[dropped:]
		w.dropped.Add(uint64(dropped))
	}
	w.buffer = merged
	return dropped
}

func (w *PriceWriter) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = w.Flush(context.Background())
		case <-w.done:
			_ = w.Flush(context.Background())
			return
		}
	}
}

// Pending returns the number of buffered points.
func (w *PriceWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Metrics returns a snapshot of writer counters.
func (w *PriceWriter) Metrics() Metrics {
	w.lastMu.Lock()
	m := w.last
	w.lastMu.Unlock()
	m.TotalWrites = w.writes.Load()
	m.TotalBatches = w.batches.Load()
	m.TotalErrors = w.errors.Load()
	m.TotalDropped = w.dropped.Load()
	return m
}

// Close stops the loop after a final flush. Safe to call more than once.
func (w *PriceWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return nil
}
