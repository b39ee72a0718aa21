package notify

import (
	"context"

	"FuturesPilot/internal/domain/models"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// Kafka publishes alerts as JSON keyed by alert id.
type Kafka struct {
	pub   Publisher
	topic string
}

func NewKafka(pub Publisher, topic string) *Kafka {
	if topic == "" {
		topic = "futures.alerts"
	}
	return &Kafka{pub: pub, topic: topic}
}

func (k *Kafka) Notify(ctx context.Context, alert models.Alert) error {
	return k.pub.Publish(ctx, k.topic, []byte(alert.ID), alert)
}
