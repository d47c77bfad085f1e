package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/foliotrack/valuation-service/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// TransactionRepository defines the ledger operations the consumer needs.
type TransactionRepository interface {
	CreateTransaction(t *models.Transaction) error
	TransactionExistsByOrderID(orderID, source string) (bool, error)
}

// Invalidator schedules cache invalidation and rebuilds after a ledger change.
type Invalidator interface {
	Invalidate(userID string, benchmarks []string) error
}

// Consumer ingests transaction events: it persists the ledger entry, then
// invalidates the user's cached series so a rebuild gets scheduled.
type Consumer struct {
	reader      *kafka.Reader
	repo        TransactionRepository
	invalidator Invalidator
	benchmarks  []string
}

// NewConsumer creates a new Kafka consumer for transaction events. The given
// benchmarks are rebuilt after every ingested transaction.
func NewConsumer(brokers []string, topic, groupID string, repo TransactionRepository, invalidator Invalidator, benchmarks []string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &Consumer{
		reader:      reader,
		repo:        repo,
		invalidator: invalidator,
		benchmarks:  benchmarks,
	}
}

// Start begins consuming messages from Kafka.
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting Kafka consumer for topic: %s", c.reader.Config().Topic)

	for {
		select {
		case <-ctx.Done():
			log.Println("Kafka consumer shutting down...")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil // Context cancelled, normal shutdown
				}
				log.Printf("Error reading message: %v", err)
				continue
			}

			if err := c.processMessage(msg); err != nil {
				log.Printf("Error processing message: %v", err)
				// Continue processing other messages
			}
		}
	}
}

// processMessage handles a single Kafka message.
func (c *Consumer) processMessage(msg kafka.Message) error {
	log.Printf("Received message from partition %d offset %d: key=%s",
		msg.Partition, msg.Offset, string(msg.Key))

	var event models.TransactionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal transaction event: %w", err)
	}

	if event.EventType != models.EventTypeTransactionCreated {
		log.Printf("Ignoring event type: %s", event.EventType)
		return nil
	}

	// Check for duplicate (idempotency)
	exists, err := c.repo.TransactionExistsByOrderID(event.Data.OrderID, event.Source)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate transaction: %w", err)
	}
	if exists {
		log.Printf("Transaction %s from %s already exists, skipping", event.Data.OrderID, event.Source)
		return nil
	}

	tx, err := c.convertEventToTransaction(event)
	if err != nil {
		return fmt.Errorf("failed to convert event to transaction: %w", err)
	}

	if err := c.repo.CreateTransaction(tx); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	log.Printf("Saved transaction: %s %s %s @ %s for user %s (order_id: %s)",
		tx.Type, tx.Quantity, tx.Symbol, tx.Price, tx.UserID, tx.OrderID)

	// The ledger changed, so every cached series for this user is stale.
	if c.invalidator != nil {
		if err := c.invalidator.Invalidate(tx.UserID, c.benchmarks); err != nil {
			log.Printf("Failed to invalidate series cache for user %s: %v", tx.UserID, err)
		}
	}

	return nil
}

// convertEventToTransaction maps a TransactionEvent to a ledger entry,
// validating at the ingestion boundary.
func (c *Consumer) convertEventToTransaction(event models.TransactionEvent) (*models.Transaction, error) {
	data := event.Data

	if data.UserID == "" {
		return nil, fmt.Errorf("missing user_id")
	}
	if data.Symbol == "" {
		return nil, fmt.Errorf("missing symbol")
	}

	txType := strings.ToUpper(data.Type)
	switch txType {
	case models.TransactionTypeBuy, models.TransactionTypeSell, models.TransactionTypeDividend:
	default:
		return nil, fmt.Errorf("invalid transaction type: %s", data.Type)
	}

	quantity, err := decimal.NewFromString(data.Quantity)
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %s: %w", data.Quantity, err)
	}
	price, err := decimal.NewFromString(data.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %s: %w", data.Price, err)
	}
	if quantity.IsNegative() || price.IsNegative() {
		return nil, fmt.Errorf("negative quantity or price; direction is encoded by type")
	}

	date, err := time.Parse("2006-01-02", data.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %s: %w", data.Date, err)
	}

	currency := data.Currency
	if currency == "" {
		currency = "USD"
	}

	var executedAt time.Time
	if data.ExecutedAt != nil && *data.ExecutedAt != "" {
		executedAt, err = time.Parse(time.RFC3339, *data.ExecutedAt)
		if err != nil {
			// Try parsing without timezone
			executedAt, err = time.Parse("2006-01-02T15:04:05", *data.ExecutedAt)
			if err != nil {
				executedAt = time.Now()
			}
		}
	} else {
		executedAt = time.Now()
	}

	return &models.Transaction{
		UserID:     data.UserID,
		Symbol:     data.Symbol,
		Type:       txType,
		Quantity:   quantity,
		Price:      price,
		Currency:   currency,
		Date:       date,
		OrderID:    data.OrderID,
		Source:     event.Source,
		ExecutedAt: executedAt,
	}, nil
}

// Close closes the Kafka consumer.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
