package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yokitheyo/batchflow/internal/config"
	"github.com/yokitheyo/batchflow/internal/domain"
	"github.com/yokitheyo/batchflow/internal/infrastructure/processor"
	"github.com/yokitheyo/batchflow/internal/infrastructure/storage"
	"github.com/yokitheyo/batchflow/internal/repository/memory"
	"github.com/yokitheyo/batchflow/internal/usecase"
)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Process(ctx context.Context, msg *domain.TaskMessage) (domain.TaskState, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(domain.TaskState), args.Error(1)
}

// fakeDelivery records how it was settled.
type fakeDelivery struct {
	mu     sync.Mutex
	task   *domain.TaskMessage
	acked  bool
	nacked error
	ackErr error
}

func (d *fakeDelivery) Task() *domain.TaskMessage { return d.task }

func (d *fakeDelivery) Ack(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ackErr != nil {
		return d.ackErr
	}
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(_ context.Context, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacked = cause
	return nil
}

func (d *fakeDelivery) settled() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked, d.nacked
}

func newMessage(name string) *domain.TaskMessage {
	b := domain.NewBatch("o@example.com", 1)
	return domain.NewTaskMessage(domain.NewImageTask(b.ID, name, nil))
}

func TestHandleDelivery_AcksOnSuccess(t *testing.T) {
	msg := newMessage("a.jpg")
	proc := new(mockProcessor)
	proc.On("Process", mock.Anything, msg).Return(domain.StateReported, nil)
	d := &fakeDelivery{task: msg}

	require.NoError(t, NewImageWorker(proc).HandleDelivery(context.Background(), d))
	acked, nacked := d.settled()
	assert.True(t, acked)
	assert.NoError(t, nacked)
}

func TestHandleDelivery_NacksWithClassification(t *testing.T) {
	msg := newMessage("a.jpg")
	cause := domain.Permanent(domain.ErrDecodeFailed)
	proc := new(mockProcessor)
	proc.On("Process", mock.Anything, msg).Return(domain.StateRejected, cause)
	d := &fakeDelivery{task: msg}

	require.NoError(t, NewImageWorker(proc).HandleDelivery(context.Background(), d))
	acked, nacked := d.settled()
	assert.False(t, acked)
	assert.True(t, domain.IsPermanent(nacked))
}

func TestHandleDelivery_ReportsAckFailure(t *testing.T) {
	msg := newMessage("a.jpg")
	proc := new(mockProcessor)
	proc.On("Process", mock.Anything, msg).Return(domain.StateReported, nil)
	d := &fakeDelivery{task: msg, ackErr: errors.New("commit failed")}

	assert.Error(t, NewImageWorker(proc).HandleDelivery(context.Background(), d))
}

// chanConsumer feeds deliveries from a channel, like a consumer group member.
type chanConsumer struct {
	in     <-chan *fakeDelivery
	closed bool
}

func (c *chanConsumer) Start(ctx context.Context, handler domain.DeliveryHandler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-c.in:
			if !ok {
				return nil
			}
			_ = handler(context.WithoutCancel(ctx), d)
		}
	}
}

func (c *chanConsumer) Close() error {
	c.closed = true
	return nil
}

func TestPool_ProcessesBatchToCompletion(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewBatchRepository()
	store := storage.NewMemoryStorage()
	notified := make(chan domain.Notification, 4)

	names := []string{"a.png", "b.png", "c.png"}
	b := domain.NewBatch("owner@example.com", len(names))
	tasks := make([]*domain.ImageTask, 0, len(names))
	for _, n := range names {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))))
		require.NoError(t, store.Put(ctx, domain.InputPath(b.ID, n), buf.Bytes(), "image/png"))
		tasks = append(tasks, domain.NewImageTask(b.ID, n, nil))
	}
	require.NoError(t, repo.CreateBatch(ctx, b, tasks))

	aggregator := usecase.NewAggregatorUsecase(repo, notifierFunc(func(n domain.Notification) { notified <- n }), "")
	proc := usecase.NewProcessorUsecase(store, processor.NewImageProcessor(&config.ProcessingConfig{JPEGQuality: 90}), aggregator)

	in := make(chan *fakeDelivery, len(names)*2)
	deliveries := make([]*fakeDelivery, 0, len(names)*2)
	for _, task := range tasks {
		// every message is delivered twice
		for i := 0; i < 2; i++ {
			d := &fakeDelivery{task: domain.NewTaskMessage(task)}
			deliveries = append(deliveries, d)
			in <- d
		}
	}
	close(in)

	consumers := []Consumer{&chanConsumer{in: in}, &chanConsumer{in: in}, &chanConsumer{in: in}}
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, NewPool(NewImageWorker(proc), consumers...).Run(runCtx))

	for _, d := range deliveries {
		acked, _ := d.settled()
		assert.True(t, acked)
	}
	for _, c := range consumers {
		assert.True(t, c.(*chanConsumer).closed)
	}

	require.Len(t, notified, 1)
	n := <-notified
	assert.Equal(t, 3, n.ImageCount)

	got, err := repo.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchCompleted, got.Status)
}

type notifierFunc func(domain.Notification)

func (f notifierFunc) Notify(_ context.Context, n domain.Notification) error {
	f(n)
	return nil
}
