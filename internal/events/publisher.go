package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// VerdictEvent is emitted once per finished verification.
type VerdictEvent struct {
	RequestID  string    `json:"request_id"`
	SubjectID  string    `json:"subject_id"`
	Status     string    `json:"status"`
	Age        string    `json:"age,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers verdict events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event VerdictEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish discards event.
func (NopPublisher) Publish(context.Context, VerdictEvent) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes verdict events as JSON keyed by request id.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher builds a writer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

// Publish writes event to the configured topic.
func (p *KafkaPublisher) Publish(ctx context.Context, event VerdictEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events - json.Marshal: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.RequestID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(event.Status)},
		},
	})
	if err != nil {
		return fmt.Errorf("events - WriteMessages: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
