package domain

import (
	"context"
	"io"

	"github.com/google/uuid"
)

type FilterEngine interface {
	Apply(data []byte, filters []Filter) (*FilterResult, error)
}

type ObjectStorage interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
}

type TaskPublisher interface {
	PublishTask(ctx context.Context, msg *TaskMessage) error
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type CompletionReporter interface {
	Report(ctx context.Context, report CompletionReport) (*CompletionResult, error)
}

// Delivery is one received copy of a task message. Exactly one of Ack or
// Nack must be called. Nack treats causes wrapped with Permanent as not
// worth redelivering.
type Delivery interface {
	Task() *TaskMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, cause error) error
}

type DeliveryHandler func(ctx context.Context, d Delivery) error

// BatchCache keeps completed batches, whose state can no longer change.
type BatchCache interface {
	Get(ctx context.Context, id uuid.UUID) (*Batch, error)
	Set(ctx context.Context, batch *Batch) error
}

type UploadedImage struct {
	Name   string
	Size   int64
	Reader io.Reader
}

type SubmitBatchInput struct {
	OwnerEmail string
	// Filters is the default chain for images without an entry in ImageFilters.
	Filters      []Filter
	ImageFilters map[string][]Filter
	Images       []UploadedImage
}

// FiltersFor returns the chain for one image. An entry in ImageFilters wins
// over the batch default, even when it is empty.
func (in SubmitBatchInput) FiltersFor(name string) []Filter {
	if chain, ok := in.ImageFilters[name]; ok {
		return chain
	}
	return in.Filters
}

type DispatchResult struct {
	BatchID  uuid.UUID
	Enqueued int
	Failed   int
}

type BatchService interface {
	Submit(ctx context.Context, in SubmitBatchInput) (*Batch, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)
	ListImages(ctx context.Context, id uuid.UUID, processed *bool) ([]*ImageTask, error)
	ListProcessed(ctx context.Context, id uuid.UUID) ([]*ImageTask, error)
	GetObject(ctx context.Context, id uuid.UUID, imageName string, output bool) ([]byte, error)
}

type DispatchService interface {
	Dispatch(ctx context.Context, batchID uuid.UUID) (*DispatchResult, error)
}

type ProcessorService interface {
	Process(ctx context.Context, msg *TaskMessage) (TaskState, error)
}
