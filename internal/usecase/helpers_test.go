package usecase

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yokitheyo/batchflow/internal/domain"
	"github.com/yokitheyo/batchflow/internal/infrastructure/storage"
	"github.com/yokitheyo/batchflow/internal/repository/memory"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 40), G: uint8(y * 40), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// seedBatch stores a batch, its records and an input object per name.
func seedBatch(t *testing.T, repo *memory.BatchRepository, store *storage.MemoryStorage, names ...string) *domain.Batch {
	t.Helper()
	ctx := context.Background()
	b := domain.NewBatch("owner@example.com", len(names))
	tasks := make([]*domain.ImageTask, 0, len(names))
	for _, n := range names {
		tasks = append(tasks, domain.NewImageTask(b.ID, n, nil))
		if store != nil {
			require.NoError(t, store.Put(ctx, domain.InputPath(b.ID, n), pngBytes(t, 4, 3), "image/png"))
		}
	}
	require.NoError(t, repo.CreateBatch(ctx, b, tasks))
	return b
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishTask(ctx context.Context, msg *domain.TaskMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Apply(data []byte, filters []domain.Filter) (*domain.FilterResult, error) {
	args := m.Called(data, filters)
	if r := args.Get(0); r != nil {
		return r.(*domain.FilterResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Report(ctx context.Context, r domain.CompletionReport) (*domain.CompletionResult, error) {
	args := m.Called(ctx, r)
	if res := args.Get(0); res != nil {
		return res.(*domain.CompletionResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	args := m.Called(ctx, id)
	if b := args.Get(0); b != nil {
		return b.(*domain.Batch), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCache) Set(ctx context.Context, b *domain.Batch) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

// recordingNotifier counts notifications and is safe for concurrent use.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) Sent() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.sent...)
}

// chanPublisher hands published messages to a channel instead of a broker.
type chanPublisher struct {
	ch chan *domain.TaskMessage
}

func (p *chanPublisher) PublishTask(_ context.Context, msg *domain.TaskMessage) error {
	p.ch <- msg
	return nil
}

// failingStorage fails Put for paths containing failOn.
type failingStorage struct {
	*storage.MemoryStorage
	failOn string
}

func (s *failingStorage) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if s.failOn != "" && strings.Contains(path, s.failOn) {
		return errors.New("disk full")
	}
	return s.MemoryStorage.Put(ctx, path, data, contentType)
}
