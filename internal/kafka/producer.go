package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TicketEvent is published whenever a ticket is issued or revoked.
type TicketEvent struct {
	Type   string        `json:"type"`
	Ticket models.Ticket `json:"ticket"`
	Actor  string        `json:"actor"`
	At     time.Time     `json:"at"`
}

type Producer struct {
	Writer MessageWriter
	Topics Topics
	Logger *logger.Logger
}

// NewProducer builds a producer whose messages carry their own topic, so one
// writer serves every topic. Keys are hashed so all events of one ticket stay
// on one partition.
func NewProducer(brokers []string, topics Topics, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

// PublishScan streams one audit record to the scan topic.
func (p *Producer) PublishScan(ctx context.Context, rec models.ScanRecord) error {
	key := rec.TicketNumber
	if key == "" {
		key = rec.GateID
	}
	return p.publish(ctx, p.Topics.ScanRecorded, key, rec)
}

func (p *Producer) PublishTicketIssued(ctx context.Context, t models.Ticket, actor string) error {
	return p.publish(ctx, p.Topics.TicketIssued, t.Number, TicketEvent{
		Type:   "ticket_issued",
		Ticket: t,
		Actor:  actor,
		At:     time.Now(),
	})
}

func (p *Producer) PublishTicketRevoked(ctx context.Context, t models.Ticket, actor string) error {
	return p.publish(ctx, p.Topics.TicketRevoked, t.Number, TicketEvent{
		Type:   "ticket_revoked",
		Ticket: t,
		Actor:  actor,
		At:     time.Now(),
	})
}

func (p *Producer) publish(ctx context.Context, topic, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.Logger.LogKafka("PUBLISH", topic, key)
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
