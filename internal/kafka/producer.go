package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foliotrack/valuation-service/internal/models"
	"github.com/segmentio/kafka-go"
)

// Producer publishes cache and rebuild lifecycle events.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishCacheInvalidated publishes a cache invalidation event for a user.
func (p *Producer) PublishCacheInvalidated(ctx context.Context, userID string) error {
	event := models.RebuildEvent{
		EventType: models.EventTypeCacheInvalidated,
		UserID:    userID,
		Timestamp: time.Now(),
	}
	return p.publish(ctx, userID, event)
}

// PublishRebuildCompleted publishes a successful rebuild event.
func (p *Producer) PublishRebuildCompleted(ctx context.Context, userID, benchmark string, elapsed time.Duration) error {
	event := models.RebuildEvent{
		EventType: models.EventTypeRebuildCompleted,
		UserID:    userID,
		Benchmark: benchmark,
		ElapsedMs: elapsed.Milliseconds(),
		Timestamp: time.Now(),
	}
	return p.publish(ctx, userID, event)
}

// PublishRebuildFailed publishes a failed rebuild event.
func (p *Producer) PublishRebuildFailed(ctx context.Context, userID, benchmark string, rebuildErr error) error {
	event := models.RebuildEvent{
		EventType: models.EventTypeRebuildFailed,
		UserID:    userID,
		Benchmark: benchmark,
		Error:     rebuildErr.Error(),
		Timestamp: time.Now(),
	}
	return p.publish(ctx, userID, event)
}

func (p *Producer) publish(ctx context.Context, key string, event models.RebuildEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
