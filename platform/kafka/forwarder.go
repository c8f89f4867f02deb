// Package kafka forwards in-process events to a Kafka topic.
// This is part of the platform layer and contains no business logic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"activation_backend/platform/config"
	"activation_backend/platform/events"
	"activation_backend/platform/logger"

	"github.com/segmentio/kafka-go"
)

const writeTimeout = 10 * time.Second

// Keyed events choose their own message key.
type Keyed interface {
	PartitionKey() string
}

// Identified events carry a unique ID, sent in the "event-id" header.
type Identified interface {
	EventID() string
}

// messageWriter is the subset of *kafka.Writer the forwarder uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Forwarder is an events.Handler that writes every event it receives to Kafka.
type Forwarder struct {
	writer messageWriter
	log    *logger.Logger
}

// NewForwarder creates a forwarder writing to the configured activation topic.
func NewForwarder(cfg config.KafkaConfig, log *logger.Logger) (*Forwarder, error) {
	if !cfg.IsKafkaEnabled() {
		return nil, fmt.Errorf("kafka is not configured")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.GetKafkaBrokers()...),
		Topic:                  cfg.GetKafkaActivationTopic(),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Forwarder{writer: w, log: log}, nil
}

// Register subscribes the forwarder to each event name.
func (f *Forwarder) Register(bus events.Bus, names ...string) {
	for _, name := range names {
		bus.Subscribe(name, f)
	}
}

// Handle implements events.Handler.
func (f *Forwarder) Handle(ctx context.Context, event events.Event) error {
	msg, err := Message(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to kafka: %w", event.EventName(), err)
	}
	f.log.Debug("event forwarded to kafka", "event", event.EventName())
	return nil
}

// Close flushes and closes the writer.
func (f *Forwarder) Close() error {
	return f.writer.Close()
}

// Message encodes an event as a Kafka message. The event name travels in the
// "event" header and the payload is the event's JSON form.
func Message(event events.Event) (kafka.Message, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", event.EventName(), err)
	}
	msg := kafka.Message{
		Value:   body,
		Time:    event.OccurredAt(),
		Headers: []kafka.Header{{Key: "event", Value: []byte(event.EventName())}},
	}
	if id, ok := event.(Identified); ok && id.EventID() != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "event-id", Value: []byte(id.EventID())})
	}
	if k, ok := event.(Keyed); ok && k.PartitionKey() != "" {
		msg.Key = []byte(k.PartitionKey())
	}
	return msg, nil
}
