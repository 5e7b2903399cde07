package worker

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/domain"
)

// ImageWorker turns one delivery into one processing run and settles it.
type ImageWorker struct {
	processorService domain.ProcessorService
}

func NewImageWorker(processorService domain.ProcessorService) *ImageWorker {
	return &ImageWorker{
		processorService: processorService,
	}
}

// HandleDelivery acks after a successful report and nacks otherwise. The
// returned error is only about settling; processing failures end in a nack.
func (w *ImageWorker) HandleDelivery(ctx context.Context, d domain.Delivery) error {
	task := d.Task()

	zlog.Logger.Debug().
		Str("record_key", task.RecordKey).
		Int("attempt", task.Attempt).
		Msg("starting image task")

	state, err := w.processorService.Process(ctx, task)
	if err != nil {
		zlog.Logger.Warn().
			Err(err).
			Str("record_key", task.RecordKey).
			Str("state", string(state)).
			Bool("permanent", domain.IsPermanent(err)).
			Msg("image task failed")
		if nackErr := d.Nack(ctx, err); nackErr != nil {
			return fmt.Errorf("nack %s: %w", task.RecordKey, nackErr)
		}
		return nil
	}

	if err := d.Ack(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", task.RecordKey, err)
	}

	zlog.Logger.Debug().
		Str("record_key", task.RecordKey).
		Str("state", string(domain.StateAcknowledged)).
		Msg("image task acknowledged")
	return nil
}
