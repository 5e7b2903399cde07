package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/domain"
)

type committer interface {
	Commit(ctx context.Context, msg kafka.Message) error
}

type publisher interface {
	Publish(ctx context.Context, key string, v any) error
}

var errNotSettled = errors.New("delivery was neither acked nor nacked")

// delivery settles one fetched message. Ack commits the offset. Nack either
// requeues the task with attempt+1 and a NotBefore from the backoff, or
// writes it to the dead-letter topic, and commits the original offset only
// after that publish succeeded.
type delivery struct {
	msg         kafka.Message
	task        *domain.TaskMessage
	committer   committer
	requeue     publisher
	deadLetter  publisher
	maxAttempts int
	strategy    retry.Strategy
	backoff     Backoff

	settle    func(ctx context.Context) error
	published bool
	done      bool
}

func (d *delivery) Task() *domain.TaskMessage {
	return d.task
}

func (d *delivery) Ack(ctx context.Context) error {
	if d.settle != nil {
		return fmt.Errorf("delivery %s already settled", d.task.RecordKey)
	}
	d.settle = d.commit
	return d.run(ctx)
}

func (d *delivery) Nack(ctx context.Context, cause error) error {
	if d.settle != nil {
		return fmt.Errorf("delivery %s already settled", d.task.RecordKey)
	}
	if cause == nil {
		cause = errNotSettled
	}

	next := *d.task
	next.Attempt++
	permanent := domain.IsPermanent(cause)

	if permanent || next.Attempt >= d.maxAttempts {
		letter := DeadLetter{
			Task:      &next,
			Reason:    cause.Error(),
			Permanent: permanent,
			Attempts:  next.Attempt,
			FailedAt:  time.Now().UTC(),
		}
		zlog.Logger.Warn().
			Str("record_key", next.RecordKey).
			Int("attempts", next.Attempt).
			Bool("permanent", permanent).
			Str("reason", letter.Reason).
			Msg("routing task to dead-letter topic")
		d.settle = d.publishThenCommit(d.deadLetter, next.RecordKey, letter)
	} else {
		wait := d.backoff.For(next.Attempt)
		next.NotBefore = time.Now().UTC().Add(wait)
		zlog.Logger.Info().
			Str("record_key", next.RecordKey).
			Int("attempt", next.Attempt).
			Dur("backoff", wait).
			Str("reason", cause.Error()).
			Msg("requeueing task for redelivery")
		d.settle = d.publishThenCommit(d.requeue, next.RecordKey, &next)
	}
	return d.run(ctx)
}

func (d *delivery) publishThenCommit(p publisher, key string, v any) func(context.Context) error {
	return func(ctx context.Context) error {
		if !d.published {
			if err := p.Publish(ctx, key, v); err != nil {
				return err
			}
			d.published = true
		}
		return d.commit(ctx)
	}
}

func (d *delivery) commit(ctx context.Context) error {
	return retry.Do(func() error {
		return d.committer.Commit(ctx, d.msg)
	}, d.strategy)
}

func (d *delivery) run(ctx context.Context) error {
	if d.done {
		return nil
	}
	if err := d.settle(ctx); err != nil {
		return err
	}
	d.done = true
	return nil
}

// finish makes sure the message ends up settled. A handler that returned
// without acking or nacking is treated as a transient failure.
func (d *delivery) finish(ctx context.Context) error {
	if d.settle == nil {
		return d.Nack(ctx, errNotSettled)
	}
	return d.run(ctx)
}
