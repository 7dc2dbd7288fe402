// Package events relays invoice outbox rows to Kafka for downstream
// bookkeeping.
package events

import (
	"context"
	"fmt"
	"strconv"

	"goldledger/internal/domain"

	skafka "github.com/segmentio/kafka-go"
)

// Writer is the part of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, events []domain.InvoiceEvent) error
	Close() error
}

type KafkaPublisher struct {
	writer Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &skafka.Writer{
		Addr:         skafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireAll,
	}
	return &KafkaPublisher{writer: w}
}

func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish writes one message per event, keyed by invoice id so the events of
// one invoice stay ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, events []domain.InvoiceEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]skafka.Message, 0, len(events))
	for _, event := range events {
		msgs = append(msgs, skafka.Message{
			Key:   []byte(strconv.FormatInt(event.InvoiceID, 10)),
			Value: event.Payload,
			Headers: []skafka.Header{
				{Key: "event_id", Value: []byte(event.EventID.String())},
				{Key: "event_type", Value: []byte(event.Type)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d invoice events: %w", len(msgs), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
