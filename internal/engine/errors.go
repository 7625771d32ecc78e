package engine

import (
	"errors"

	"rebalancer-core/internal/order"
)

// Whole-invocation failures. Per-item failures inside a run are logged and
// never surface as these.
var (
	ErrNotFound = errors.New("strategy not found")
	ErrInactive = errors.New("strategy is inactive")
	ErrInvalid  = errors.New("invalid request")
	// ErrUpstream is the executor's sentinel, re-exported for callers that
	// only import engine.
	ErrUpstream = order.ErrUpstream
)
