package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/config"
	"github.com/yokitheyo/batchflow/internal/domain"
)

type fetcher interface {
	FetchWithRetry(ctx context.Context, strategy retry.Strategy) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
	Close() error
}

// Consumer reads task messages from one consumer-group member and hands
// each one to the handler as a domain.Delivery.
type Consumer struct {
	client      fetcher
	requeue     publisher
	deadLetter  publisher
	topic       string
	maxAttempts int
	strategy    retry.Strategy
	backoff     Backoff
	settleDelay time.Duration
}

func NewConsumer(cfg *config.KafkaConfig, maxAttempts int, strategy retry.Strategy, backoff Backoff, requeue, deadLetter *Producer) *Consumer {
	client := wbfkafka.NewConsumer(cfg.Brokers, cfg.TaskTopic, cfg.GroupID)

	zlog.Logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.TaskTopic).
		Str("group_id", cfg.GroupID).
		Int("max_attempts", maxAttempts).
		Dur("requeue_delay", backoff.Delay).
		Msg("Kafka consumer initialized (wbf)")

	return &Consumer{
		client:      client,
		requeue:     requeue,
		deadLetter:  deadLetter,
		topic:       cfg.TaskTopic,
		maxAttempts: maxAttempts,
		strategy:    strategy,
		backoff:     backoff,
		settleDelay: time.Second,
	}
}

// Start blocks until ctx is cancelled. A message that was fetched is
// always run to ack or nack with a context detached from ctx, so shutdown
// never interrupts a task halfway.
func (c *Consumer) Start(ctx context.Context, handler domain.DeliveryHandler) error {
	for {
		if ctx.Err() != nil {
			zlog.Logger.Info().Str("topic", c.topic).Msg("Kafka consumer stopped")
			return nil
		}

		msg, err := c.client.FetchWithRetry(ctx, c.strategy)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			zlog.Logger.Error().Err(err).Msg("Failed to fetch Kafka message")
			time.Sleep(c.settleDelay)
			continue
		}

		c.handle(ctx, msg, handler)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler domain.DeliveryHandler) {
	taskCtx := context.WithoutCancel(ctx)

	var task domain.TaskMessage
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		zlog.Logger.Error().
			Err(err).
			Int64("offset", msg.Offset).
			Msg("Failed to unmarshal message")
		c.deadLetterRaw(ctx, taskCtx, msg, fmt.Errorf("%w: %v", domain.ErrInvalidTask, err))
		return
	}

	// A requeued task waits out its backoff here. Later offsets of this
	// partition wait with it, which bounds how far ahead they can get.
	if !c.waitUntil(ctx, task.NotBefore) {
		return
	}

	d := &delivery{
		msg:         msg,
		task:        &task,
		committer:   c.client,
		requeue:     c.requeue,
		deadLetter:  c.deadLetter,
		maxAttempts: c.maxAttempts,
		strategy:    c.strategy,
		backoff:     c.backoff,
	}

	if err := handler(taskCtx, d); err != nil {
		zlog.Logger.Error().
			Err(err).
			Str("record_key", task.RecordKey).
			Msg("Task handler returned error")
	}

	// Offsets are positional, so the next message is not fetched until
	// this one is settled; otherwise a later commit would skip it.
	for {
		err := d.finish(taskCtx)
		if err == nil {
			return
		}
		zlog.Logger.Error().
			Err(err).
			Str("record_key", task.RecordKey).
			Msg("Failed to settle Kafka message")
		if ctx.Err() != nil {
			return
		}
		time.Sleep(c.settleDelay)
	}
}

// waitUntil reports false when ctx ends first. The message is then left
// uncommitted and comes back to whichever member owns the partition next.
func (c *Consumer) waitUntil(ctx context.Context, at time.Time) bool {
	wait := time.Until(at)
	if wait <= 0 {
		return true
	}
	zlog.Logger.Debug().Dur("wait", wait).Msg("holding requeued task until its backoff ends")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Consumer) deadLetterRaw(ctx, taskCtx context.Context, msg kafka.Message, cause error) {
	letter := DeadLetter{
		Raw:       string(msg.Value),
		Reason:    cause.Error(),
		Permanent: true,
		FailedAt:  time.Now().UTC(),
	}
	for {
		err := c.deadLetter.Publish(taskCtx, string(msg.Key), letter)
		if err == nil {
			err = c.client.Commit(taskCtx, msg)
		}
		if err == nil {
			return
		}
		zlog.Logger.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to dead-letter malformed message")
		if ctx.Err() != nil {
			return
		}
		time.Sleep(c.settleDelay)
	}
}

func (c *Consumer) Close() error {
	if err := c.client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("Failed to close Kafka consumer")
		return err
	}
	zlog.Logger.Info().Msg("Kafka consumer closed successfully")
	return nil
}
