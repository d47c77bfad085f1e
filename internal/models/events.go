package models

import "time"

// Kafka event type constants
const (
	EventTypeTransactionCreated = "TRANSACTION_CREATED"
	EventTypeCacheInvalidated   = "CACHE_INVALIDATED"
	EventTypeRebuildCompleted   = "REBUILD_COMPLETED"
	EventTypeRebuildFailed      = "REBUILD_FAILED"
)

// TransactionEvent is the envelope consumed from the transactions topic.
type TransactionEvent struct {
	EventType string               `json:"event_type"`
	Source    string               `json:"source"`
	Timestamp time.Time            `json:"timestamp"`
	Data      TransactionEventData `json:"data"`
}

// TransactionEventData carries the raw transaction fields as strings; parsing
// and validation happen at the consumer boundary.
type TransactionEventData struct {
	OrderID    string  `json:"order_id"`
	UserID     string  `json:"user_id"`
	Symbol     string  `json:"symbol"`
	Type       string  `json:"type"`
	Quantity   string  `json:"quantity"`
	Price      string  `json:"price"`
	Currency   string  `json:"currency"`
	Date       string  `json:"date"`
	ExecutedAt *string `json:"executed_at,omitempty"`
}

// RebuildEvent is published after cache invalidations and rebuilds.
type RebuildEvent struct {
	EventType string    `json:"event_type"`
	UserID    string    `json:"user_id"`
	Benchmark string    `json:"benchmark,omitempty"`
	Error     string    `json:"error,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
