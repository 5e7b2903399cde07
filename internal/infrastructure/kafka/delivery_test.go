package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/yokitheyo/batchflow/internal/domain"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, key string, v any) error {
	args := m.Called(ctx, key, v)
	return args.Error(0)
}

type mockCommitter struct {
	mock.Mock
}

func (m *mockCommitter) Commit(ctx context.Context, msg kafka.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

var testStrategy = retry.Strategy{Attempts: 1, Delay: time.Millisecond, Backoff: 1}

func newTask() *domain.TaskMessage {
	return domain.NewTaskMessage(domain.NewImageTask(uuid.New(), "a.jpg", nil))
}

func newDelivery(task *domain.TaskMessage, c committer, requeue, dlq publisher) *delivery {
	return &delivery{
		msg:         kafka.Message{Offset: 7},
		task:        task,
		committer:   c,
		requeue:     requeue,
		deadLetter:  dlq,
		maxAttempts: 3,
		strategy:    testStrategy,
	}
}

func TestDelivery_AckCommits(t *testing.T) {
	c := new(mockCommitter)
	c.On("Commit", mock.Anything, kafka.Message{Offset: 7}).Return(nil).Once()
	requeue, dlq := new(mockPublisher), new(mockPublisher)

	d := newDelivery(newTask(), c, requeue, dlq)
	require.NoError(t, d.Ack(context.Background()))
	require.NoError(t, d.finish(context.Background()))

	c.AssertExpectations(t)
	requeue.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	dlq.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestDelivery_TransientNackRequeuesWithNextAttempt(t *testing.T) {
	task := newTask()
	c := new(mockCommitter)
	c.On("Commit", mock.Anything, mock.Anything).Return(nil).Once()
	requeue, dlq := new(mockPublisher), new(mockPublisher)
	requeue.On("Publish", mock.Anything, task.RecordKey, mock.MatchedBy(func(m *domain.TaskMessage) bool {
		return m.Attempt == 1 && m.CorrelationID == task.CorrelationID
	})).Return(nil).Once()

	d := newDelivery(task, c, requeue, dlq)
	require.NoError(t, d.Nack(context.Background(), errors.New("storage down")))

	requeue.AssertExpectations(t)
	c.AssertExpectations(t)
	dlq.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, task.Attempt)
}

func TestDelivery_PermanentNackGoesToDeadLetter(t *testing.T) {
	task := newTask()
	c := new(mockCommitter)
	c.On("Commit", mock.Anything, mock.Anything).Return(nil).Once()
	requeue, dlq := new(mockPublisher), new(mockPublisher)
	dlq.On("Publish", mock.Anything, task.RecordKey, mock.MatchedBy(func(l DeadLetter) bool {
		return l.Permanent && l.Attempts == 1 && l.Task.RecordKey == task.RecordKey
	})).Return(nil).Once()

	d := newDelivery(task, c, requeue, dlq)
	require.NoError(t, d.Nack(context.Background(), domain.Permanent(domain.ErrUnsupportedFormat)))

	dlq.AssertExpectations(t)
	requeue.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestDelivery_ExhaustedAttemptsGoToDeadLetter(t *testing.T) {
	task := newTask()
	task.Attempt = 2
	c := new(mockCommitter)
	c.On("Commit", mock.Anything, mock.Anything).Return(nil).Once()
	requeue, dlq := new(mockPublisher), new(mockPublisher)
	dlq.On("Publish", mock.Anything, task.RecordKey, mock.MatchedBy(func(l DeadLetter) bool {
		return !l.Permanent && l.Attempts == 3
	})).Return(nil).Once()

	d := newDelivery(task, c, requeue, dlq)
	require.NoError(t, d.Nack(context.Background(), errors.New("still down")))

	dlq.AssertExpectations(t)
}

func TestDelivery_PublishFailureLeavesOffsetUncommitted(t *testing.T) {
	task := newTask()
	c := new(mockCommitter)
	requeue, dlq := new(mockPublisher), new(mockPublisher)
	requeue.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	requeue.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	c.On("Commit", mock.Anything, mock.Anything).Return(nil).Once()

	d := newDelivery(task, c, requeue, dlq)
	require.Error(t, d.Nack(context.Background(), errors.New("io")))
	c.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)

	require.NoError(t, d.finish(context.Background()))
	c.AssertExpectations(t)
	requeue.AssertNumberOfCalls(t, "Publish", 2)
}

func TestDelivery_SettleTwiceFails(t *testing.T) {
	c := new(mockCommitter)
	c.On("Commit", mock.Anything, mock.Anything).Return(nil)
	d := newDelivery(newTask(), c, new(mockPublisher), new(mockPublisher))

	require.NoError(t, d.Ack(context.Background()))
	assert.Error(t, d.Nack(context.Background(), errors.New("late")))
}

type fakeFetcher struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
}

func (f *fakeFetcher) FetchWithRetry(ctx context.Context, _ retry.Strategy) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		m := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeFetcher) Commit(_ context.Context, msg kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msg.Offset)
	return nil
}

func (f *fakeFetcher) Close() error { return nil }

func (f *fakeFetcher) Committed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

func TestConsumer_SettlesEveryMessage(t *testing.T) {
	good := newTask()
	goodValue, err := json.Marshal(good)
	require.NoError(t, err)

	fetch := &fakeFetcher{messages: []kafka.Message{
		{Offset: 1, Value: goodValue},
		{Offset: 2, Value: []byte("{not json")},
		{Offset: 3, Value: goodValue},
	}}
	requeue, dlq := new(mockPublisher), new(mockPublisher)
	dlq.On("Publish", mock.Anything, mock.Anything, mock.MatchedBy(func(l DeadLetter) bool {
		return l.Raw == "{not json" && l.Permanent
	})).Return(nil).Once()
	requeue.On("Publish", mock.Anything, good.RecordKey, mock.Anything).Return(nil).Once()

	c := &Consumer{
		client:      fetch,
		requeue:     requeue,
		deadLetter:  dlq,
		topic:       "tasks",
		maxAttempts: 3,
		strategy:    testStrategy,
		settleDelay: time.Millisecond,
	}

	var calls int
	handler := func(ctx context.Context, d domain.Delivery) error {
		calls++
		if calls == 1 {
			return d.Ack(ctx)
		}
		// second task is left unsettled and must be requeued
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Start(ctx, handler)
	}()

	require.Eventually(t, func() bool { return len(fetch.Committed()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int64{1, 2, 3}, fetch.Committed())
	assert.Equal(t, 2, calls)
	requeue.AssertExpectations(t)
	dlq.AssertExpectations(t)
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := Backoff{Delay: time.Second, Factor: 2, Max: 5 * time.Second}

	assert.Zero(t, b.For(0))
	assert.Equal(t, time.Second, b.For(1))
	assert.Equal(t, 2*time.Second, b.For(2))
	assert.Equal(t, 4*time.Second, b.For(3))
	assert.Equal(t, 5*time.Second, b.For(4))
	assert.Equal(t, 5*time.Second, b.For(30))

	assert.Equal(t, time.Second, Backoff{Delay: time.Second, Factor: 0.5}.For(3))
	assert.Zero(t, Backoff{}.For(3))
}

func TestDelivery_RequeuedTasksBackOffFurtherEachTime(t *testing.T) {
	backoff := Backoff{Delay: time.Second, Factor: 3, Max: time.Minute}
	task := newTask()

	var requeued []*domain.TaskMessage
	requeue := new(mockPublisher)
	requeue.On("Publish", mock.Anything, task.RecordKey, mock.Anything).Run(func(args mock.Arguments) {
		requeued = append(requeued, args.Get(2).(*domain.TaskMessage))
	}).Return(nil)
	dlq := new(mockPublisher)
	dlq.On("Publish", mock.Anything, task.RecordKey, mock.Anything).Return(nil).Once()
	c := new(mockCommitter)
	c.On("Commit", mock.Anything, mock.Anything).Return(nil)

	// follow the task through every redelivery until it is dead-lettered
	current := task
	for i := 0; i < 3; i++ {
		d := newDelivery(current, c, requeue, dlq)
		d.backoff = backoff
		before := time.Now().UTC()
		require.NoError(t, d.Nack(context.Background(), errors.New("store unavailable")))
		if i < 2 {
			require.Len(t, requeued, i+1)
			current = requeued[i]
			want := backoff.For(current.Attempt)
			assert.WithinDuration(t, before.Add(want), current.NotBefore, 500*time.Millisecond)
		}
	}

	require.Len(t, requeued, 2)
	assert.Equal(t, 1, requeued[0].Attempt)
	assert.Equal(t, 2, requeued[1].Attempt)
	gap1 := requeued[0].NotBefore.Sub(time.Now())
	gap2 := requeued[1].NotBefore.Sub(time.Now())
	assert.Greater(t, gap2, gap1+time.Second)
	dlq.AssertExpectations(t)
}

func TestConsumer_HoldsRequeuedTaskUntilNotBefore(t *testing.T) {
	task := newTask()
	task.Attempt = 1
	task.NotBefore = time.Now().Add(150 * time.Millisecond)
	value, err := json.Marshal(task)
	require.NoError(t, err)

	fetch := &fakeFetcher{messages: []kafka.Message{{Offset: 1, Value: value}}}
	c := &Consumer{
		client:      fetch,
		requeue:     new(mockPublisher),
		deadLetter:  new(mockPublisher),
		topic:       "tasks",
		maxAttempts: 3,
		strategy:    testStrategy,
		settleDelay: time.Millisecond,
	}

	handled := make(chan time.Time, 1)
	handler := func(ctx context.Context, d domain.Delivery) error {
		handled <- time.Now()
		return d.Ack(ctx)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Start(ctx, handler) }()

	select {
	case at := <-handled:
		assert.False(t, at.Before(task.NotBefore), "handled %s before %s", at, task.NotBefore)
	case <-time.After(2 * time.Second):
		t.Fatal("task was never handled")
	}
	require.Eventually(t, func() bool { return len(fetch.Committed()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestConsumer_ShutdownDuringBackoffLeavesOffsetUncommitted(t *testing.T) {
	task := newTask()
	task.NotBefore = time.Now().Add(time.Hour)
	value, err := json.Marshal(task)
	require.NoError(t, err)

	fetch := &fakeFetcher{messages: []kafka.Message{{Offset: 1, Value: value}}}
	c := &Consumer{
		client:      fetch,
		requeue:     new(mockPublisher),
		deadLetter:  new(mockPublisher),
		topic:       "tasks",
		maxAttempts: 3,
		strategy:    testStrategy,
		settleDelay: time.Millisecond,
	}

	var calls int
	handler := func(ctx context.Context, d domain.Delivery) error {
		calls++
		return d.Ack(ctx)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Start(ctx, handler)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop while holding a task")
	}

	assert.Zero(t, calls)
	assert.Empty(t, fetch.Committed())
}
