package repository

import (
	"context"
	"time"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
)

// Producer is the subset of the Kafka producer used by the publisher.
type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

const (
	EventSwitch         = "strategy.switch"
	EventRecommendation = "strategy.recommendation"
)

// Envelope wraps every selector event on the bus.
type Envelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// KafkaPublisher implements EventPublisher for Kafka. Events are keyed by the
// strategy they concern so a consumer sees them in order.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

var _ repository.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates the selector event publisher.
func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = "futures.selector.events"
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishSwitch(ctx context.Context, ev models.SwitchEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(ev.To), Envelope{
		Type:      EventSwitch,
		Timestamp: ev.Timestamp,
		Payload:   ev,
	})
}

func (p *KafkaPublisher) PublishRecommendation(ctx context.Context, rec models.Recommendation) error {
	return p.producer.Publish(ctx, p.topic, []byte(rec.Strategy), Envelope{
		Type:      EventRecommendation,
		Timestamp: rec.Timestamp,
		Payload:   rec,
	})
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopPublisher drops every event. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishSwitch(context.Context, models.SwitchEvent) error { return nil }

func (NopPublisher) PublishRecommendation(context.Context, models.Recommendation) error { return nil }

func (NopPublisher) Close() error { return nil }
