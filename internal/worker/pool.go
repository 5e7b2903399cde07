package worker

import (
	"context"

	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/yokitheyo/batchflow/internal/domain"
)

// Consumer is one member of the task consumer group.
type Consumer interface {
	Start(ctx context.Context, handler domain.DeliveryHandler) error
	Close() error
}

// Pool runs several consumers against the same handler. Each consumer
// finishes its current message before fetching the next one.
type Pool struct {
	consumers []Consumer
	worker    *ImageWorker
}

func NewPool(worker *ImageWorker, consumers ...Consumer) *Pool {
	return &Pool{
		consumers: consumers,
		worker:    worker,
	}
}

// Run blocks until ctx is cancelled or a consumer stops with an error, then
// closes every consumer.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i, c := range p.consumers {
		i, c := i, c
		g.Go(func() error {
			zlog.Logger.Info().Int("consumer", i).Msg("worker consumer started")
			err := c.Start(gctx, p.worker.HandleDelivery)
			zlog.Logger.Info().Int("consumer", i).Msg("worker consumer stopped")
			return err
		})
	}

	err := g.Wait()
	for i, c := range p.consumers {
		if cerr := c.Close(); cerr != nil {
			zlog.Logger.Error().Err(cerr).Int("consumer", i).Msg("failed to close consumer")
		}
	}
	return err
}
