package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/domain"
)

type sender interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key, value []byte) error
	Close() error
}

// Producer publishes JSON values to a single topic.
type Producer struct {
	client   sender
	topic    string
	strategy retry.Strategy
}

func NewProducer(brokers []string, topic string, strategy retry.Strategy) *Producer {
	client := wbfkafka.NewProducer(brokers, topic)
	zlog.Logger.Info().
		Strs("brokers", brokers).
		Str("topic", topic).
		Msg("Kafka producer initialized (wbf)")
	return &Producer{
		client:   client,
		topic:    topic,
		strategy: strategy,
	}
}

func (p *Producer) Topic() string {
	return p.topic
}

func (p *Producer) Publish(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", p.topic, err)
	}
	if err := p.client.SendWithRetry(ctx, p.strategy, []byte(key), data); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("topic", p.topic).
			Str("key", key).
			Msg("Failed to send Kafka message with retry")
		return fmt.Errorf("%w: send to %s: %v", domain.ErrQueueFailed, p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if err := p.client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Str("topic", p.topic).Msg("Failed to close Kafka producer")
		return err
	}
	zlog.Logger.Info().Str("topic", p.topic).Msg("Kafka producer closed successfully")
	return nil
}

// TaskProducer puts task messages on the work queue.
type TaskProducer struct {
	*Producer
}

func NewTaskProducer(p *Producer) *TaskProducer {
	return &TaskProducer{Producer: p}
}

func (p *TaskProducer) PublishTask(ctx context.Context, msg *domain.TaskMessage) error {
	if err := p.Publish(ctx, msg.RecordKey, msg); err != nil {
		return err
	}
	zlog.Logger.Debug().
		Str("record_key", msg.RecordKey).
		Int("attempt", msg.Attempt).
		Msg("task message published")
	return nil
}

// NotificationProducer is the notifier trigger. Delivery to the owner is
// done by whoever consumes the notification topic.
type NotificationProducer struct {
	*Producer
}

func NewNotificationProducer(p *Producer) *NotificationProducer {
	return &NotificationProducer{Producer: p}
}

func (p *NotificationProducer) Notify(ctx context.Context, n domain.Notification) error {
	if err := p.Publish(ctx, n.BatchID.String(), n); err != nil {
		return err
	}
	zlog.Logger.Info().
		Str("batch_id", n.BatchID.String()).
		Int("image_count", n.ImageCount).
		Msg("batch notification published")
	return nil
}

// DeadLetter is the payload written to the dead-letter topic.
type DeadLetter struct {
	Task      *domain.TaskMessage `json:"task,omitempty"`
	Raw       string              `json:"raw,omitempty"`
	Reason    string              `json:"reason"`
	Permanent bool                `json:"permanent"`
	Attempts  int                 `json:"attempts"`
	FailedAt  time.Time           `json:"failed_at"`
}
