package repository

import (
	"context"
	"time"

	"CoinPull/internal/domain/models"
	"CoinPull/internal/domain/repository"
)

// messageProducer is the subset of pkg/kafka.Producer used here.
type messageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaPublisher publishes notifications keyed by pair so one partition
// carries a pair's updates in order.
type KafkaPublisher struct {
	producer         messageProducer
	topic            string
	publishUnchanged bool
	now              func() time.Time
}

var _ repository.NotificationPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates Kafka publisher. Unless publishUnchanged is set
// only notifications whose price changed are published.
func NewKafkaPublisher(producer messageProducer, topic string, publishUnchanged bool) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, publishUnchanged: publishUnchanged, now: time.Now}
}

func (p *KafkaPublisher) Publish(ctx context.Context, n models.Notification) error {
	return p.producer.Publish(ctx, p.topic, []byte(n.PairKey), models.NewNotificationMessage(n, p.now()))
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// Name implements middleware.Sink.
func (p *KafkaPublisher) Name() string { return "kafka" }

// Accept implements middleware.Sink.
func (p *KafkaPublisher) Accept(n models.Notification) bool {
	return n.Changed || p.publishUnchanged
}

// Write implements middleware.Sink.
func (p *KafkaPublisher) Write(ctx context.Context, n models.Notification) error {
	return p.Publish(ctx, n)
}
