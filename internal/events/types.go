package events

// Event enumerates topics published inside the rebalancer.
type Event string

const (
	// EventLogEntry carries a journal.Entry after it has been persisted.
	EventLogEntry Event = "log.entry"
	// EventOrderCreated carries the db.Order row written after a submission.
	EventOrderCreated Event = "order.created"
	// EventSignal carries a strategy.Signal produced during a strategy run.
	EventSignal Event = "strategy.signal"
	// EventBotState carries a BotState change (start/stop).
	EventBotState Event = "bot.state"
	// EventPriceRecorded carries a batch of db.PricePoint rows.
	EventPriceRecorded Event = "price.recorded"
)

// Message is what subscribers receive. UserID is empty for global events.
type Message struct {
	Topic   Event  `json:"topic"`
	UserID  string `json:"user_id,omitempty"`
	Payload any    `json:"payload"`
}
