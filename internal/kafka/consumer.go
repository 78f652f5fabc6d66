package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderHandler turns one completed order into tickets. Returning an error
// marks the order for retry; a nil return commits it.
type OrderHandler func(ctx context.Context, order models.OrderCompleted) error

// ErrPermanent marks a handler failure that retrying cannot fix. The message
// is committed and skipped.
var ErrPermanent = errors.New("permanent failure")

type Consumer struct {
	Reader     MessageReader
	Logger     *logger.Logger
	MaxRetries int
	Backoff    time.Duration
}

// NewConsumer creates a consumer-group reader for the completed-order topic.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{Reader: reader, Logger: log, MaxRetries: 3, Backoff: time.Second}
}

// Start consumes until ctx is cancelled. Each message is committed only after
// the handler succeeded, failed permanently, or ran out of retries.
func (c *Consumer) Start(ctx context.Context, handle OrderHandler) error {
	c.Logger.Info("KAFKA", "Order consumer started")
	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.Logger.Info("KAFKA", "Order consumer stopped")
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		c.process(ctx, msg, handle)

		if err := c.Reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message, handle OrderHandler) {
	var order models.OrderCompleted
	if err := json.Unmarshal(msg.Value, &order); err != nil {
		c.Logger.Warn("KAFKA", fmt.Sprintf("Skipping malformed order message at offset %d: %v", msg.Offset, err))
		return
	}
	c.Logger.LogKafka("RECEIVE", msg.Topic, order.OrderID)

	for attempt := 1; ; attempt++ {
		err := handle(ctx, order)
		if err == nil {
			return
		}
		if errors.Is(err, ErrPermanent) {
			c.Logger.Warn("KAFKA", fmt.Sprintf("Order %s rejected: %v", order.OrderID, err))
			return
		}
		if attempt > c.MaxRetries {
			c.Logger.Error("KAFKA", fmt.Sprintf("Giving up on order %s after %d attempts: %v", order.OrderID, attempt, err))
			return
		}
		c.Logger.Warn("KAFKA", fmt.Sprintf("Order %s failed (attempt %d): %v", order.OrderID, attempt, err))
		if !c.sleep(ctx) {
			return
		}
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.Backoff):
		return true
	}
}

func (c *Consumer) Close() error {
	return c.Reader.Close()
}
