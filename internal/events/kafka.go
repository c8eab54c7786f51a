package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"lookout-server/internal/engine"
)

const (
	TopicPresenceChanged = "lookout.presence.changed"
	TopicSessionChanged  = "lookout.session.changed"
)

// Publisher streams presence and session changes to Kafka for downstream
// dashboards. Messages are keyed by userId so per-user ordering survives
// partitioning.
type Publisher struct {
	presence *kafka.Writer
	sessions *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		presence: newWriter(brokers, TopicPresenceChanged),
		sessions: newWriter(brokers, TopicSessionChanged),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
}

func (p *Publisher) PublishPresenceChange(ctx context.Context, ev engine.PresenceEvent) error {
	return p.publish(ctx, p.presence, ev.UserID, ev)
}

func (p *Publisher) PublishSessionChange(ctx context.Context, ev engine.SessionEvent) error {
	return p.publish(ctx, p.sessions, ev.UserID, ev)
}

func (p *Publisher) publish(ctx context.Context, w *kafka.Writer, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data})
}

func (p *Publisher) Close() error {
	if err := p.presence.Close(); err != nil {
		return err
	}
	return p.sessions.Close()
}
