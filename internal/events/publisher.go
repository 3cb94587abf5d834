// Package events publishes durable domain events for downstream consumers
// (agent statistics, email digests). Like the realtime notifier this is
// fire-and-forget from the caller's point of view.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/keyhaven/messaging-service/internal/models"
)

// Publisher is satisfied by the kafka producer and by test fakes.
type Publisher interface {
	MessageSent(ctx context.Context, msg *models.MessageDTO)
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.SugaredLogger) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	})
	return &KafkaPublisher{writer: w, log: log}
}

// MessageSent hands the event to a background goroutine and returns
// immediately. The caller has already persisted the message, so a broker
// outage must not stall the send path; failures are logged and dropped.
func (p *KafkaPublisher) MessageSent(_ context.Context, msg *models.MessageDTO) {
	b, err := json.Marshal(msg)
	if err != nil {
		p.log.Warnw("event marshal failed", "err", err)
		return
	}
	go func() {
		// Detached from the request context, which may already be done.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(msg.ConversationID),
			Value: b,
		}); err != nil {
			p.log.Warnw("event publish failed", "conversation_id", msg.ConversationID, "err", err)
		}
	}()
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
