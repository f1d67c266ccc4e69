// Package events publishes billing lifecycle events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Type names a billing event
type Type string

const (
	QuoteCreated               Type = "quote.created"
	QuoteLocked                Type = "quote.locked"
	InvoiceCreated             Type = "invoice.created"
	InvoiceFinalized           Type = "invoice.finalized"
	InvoicePaid                Type = "invoice.paid"
	InvoicePaymentFailed       Type = "invoice.payment_failed"
	InvoiceVoided              Type = "invoice.voided"
	InvoiceMarkedUncollectible Type = "invoice.marked_uncollectible"
	InvoiceEmailSent           Type = "invoice.email_sent"
)

// Event is the message envelope. Data carries the event-specific payload.
type Event struct {
	ID         string      `json:"id"`
	Type       Type        `json:"type"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data"`
}

// New builds an event with a fresh id
func New(t Type, data interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher delivers events. Key orders events of one aggregate onto one partition.
type Publisher interface {
	Publish(ctx context.Context, key string, event Event) error
	Close() error
}

// Writer is the subset of kafka.Writer the producer needs
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages to one topic
type KafkaPublisher struct {
	writer Writer
	logger *zap.Logger
}

func NewKafkaPublisher(cfg *config.EventsConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("events.brokers and events.topic are required when events are enabled")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return NewKafkaPublisherWithWriter(w, logger), nil
}

// NewKafkaPublisherWithWriter allows injecting a test writer
func NewKafkaPublisherWithWriter(w Writer, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger.Named("events")}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Kafka write failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops every event. Used when events are disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, Event) error { return nil }
func (NoopPublisher) Close() error                                 { return nil }
