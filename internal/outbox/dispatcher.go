package outbox

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaDispatcher struct {
	producer Producer
	topic    string
}

func NewKafkaDispatcher(producer Producer, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{producer: producer, topic: topic}
}

// NewWriter builds the producer used for notification events.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, event Event) error {
	msg := kafka.Message{
		Topic: d.topic,
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "aggregate_type", Value: []byte(event.AggregateType)},
		},
	}

	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		log.Error().Err(err).Int64("event_id", event.ID).Str("topic", d.topic).Msg("outbox dispatch failed")
		return err
	}

	log.Debug().Int64("event_id", event.ID).Str("type", event.Type).Msg("outbox dispatched")
	return nil
}
