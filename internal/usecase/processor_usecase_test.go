package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yokitheyo/batchflow/internal/config"
	"github.com/yokitheyo/batchflow/internal/domain"
	"github.com/yokitheyo/batchflow/internal/infrastructure/processor"
	"github.com/yokitheyo/batchflow/internal/infrastructure/storage"
	"github.com/yokitheyo/batchflow/internal/repository/memory"
)

func taskFor(batchID uuid.UUID, name string, filters ...domain.Filter) *domain.TaskMessage {
	return domain.NewTaskMessage(domain.NewImageTask(batchID, name, filters))
}

func TestProcess_HappyPath(t *testing.T) {
	store := storage.NewMemoryStorage()
	batchID := uuid.New()
	msg := taskFor(batchID, "a.png", domain.Filter{Kind: domain.FilterGrayscale})
	input := pngBytes(t, 4, 3)
	require.NoError(t, store.Put(context.Background(), msg.InputPath(), input, "image/png"))

	engine := new(mockEngine)
	engine.On("Apply", input, msg.Filters).Return(&domain.FilterResult{Data: []byte("out"), Format: "png"}, nil).Once()
	reporter := new(mockReporter)
	reporter.On("Report", mock.Anything, domain.CompletionReport{
		RecordKey:     msg.RecordKey,
		BatchID:       batchID,
		CorrelationID: msg.CorrelationID,
	}).Return(&domain.CompletionResult{Marked: true}, nil).Once()

	state, err := NewProcessorUsecase(store, engine, reporter).Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReported, state)

	out, err := store.Get(context.Background(), msg.OutputPath())
	require.NoError(t, err)
	assert.Equal(t, []byte("out"), out)
	assert.Equal(t, "image/png", store.ContentType(msg.OutputPath()))
	engine.AssertExpectations(t)
	reporter.AssertExpectations(t)
}

func TestProcess_GifRejectedBeforeEngineAndPut(t *testing.T) {
	store := storage.NewMemoryStorage()
	engine := new(mockEngine)
	reporter := new(mockReporter)
	msg := taskFor(uuid.New(), "photo.gif")

	state, err := NewProcessorUsecase(store, engine, reporter).Process(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, domain.StateRejected, state)
	assert.True(t, domain.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	engine.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
	reporter.AssertNotCalled(t, "Report", mock.Anything, mock.Anything)
	assert.Zero(t, store.PutCount(msg.OutputPath()))
}

func TestProcess_MismatchedRecordKeyIsPermanent(t *testing.T) {
	msg := taskFor(uuid.New(), "a.jpg")
	msg.RecordKey = "other_a.jpg"

	_, err := NewProcessorUsecase(storage.NewMemoryStorage(), new(mockEngine), new(mockReporter)).Process(context.Background(), msg)
	assert.True(t, domain.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrInvalidTask)
}

func TestProcess_MissingInputIsTransient(t *testing.T) {
	engine := new(mockEngine)
	msg := taskFor(uuid.New(), "a.jpg")

	state, err := NewProcessorUsecase(storage.NewMemoryStorage(), engine, new(mockReporter)).Process(context.Background(), msg)
	assert.Equal(t, domain.StateRejected, state)
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
	assert.False(t, domain.IsPermanent(err))
	engine.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestProcess_EngineErrorIsPermanent(t *testing.T) {
	store := storage.NewMemoryStorage()
	msg := taskFor(uuid.New(), "a.jpg")
	require.NoError(t, store.Put(context.Background(), msg.InputPath(), []byte("junk"), "image/jpeg"))

	engine := new(mockEngine)
	engine.On("Apply", mock.Anything, mock.Anything).Return(nil, domain.ErrDecodeFailed)
	reporter := new(mockReporter)

	_, err := NewProcessorUsecase(store, engine, reporter).Process(context.Background(), msg)
	assert.True(t, domain.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrDecodeFailed)
	assert.Zero(t, store.PutCount(msg.OutputPath()))
	reporter.AssertNotCalled(t, "Report", mock.Anything, mock.Anything)
}

func TestProcess_UploadFailureIsTransient(t *testing.T) {
	store := &failingStorage{MemoryStorage: storage.NewMemoryStorage(), failOn: "/output/"}
	msg := taskFor(uuid.New(), "a.png")
	require.NoError(t, store.Put(context.Background(), msg.InputPath(), pngBytes(t, 2, 2), "image/png"))

	engine := new(mockEngine)
	engine.On("Apply", mock.Anything, mock.Anything).Return(&domain.FilterResult{Data: []byte("x"), Format: "png"}, nil)
	reporter := new(mockReporter)

	_, err := NewProcessorUsecase(store, engine, reporter).Process(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, domain.IsPermanent(err))
	reporter.AssertNotCalled(t, "Report", mock.Anything, mock.Anything)
}

func TestProcess_ReportErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"store down", errors.New("connection refused"), false},
		{"unknown record", domain.ErrImageTaskNotFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStorage()
			msg := taskFor(uuid.New(), "a.png")
			require.NoError(t, store.Put(context.Background(), msg.InputPath(), pngBytes(t, 2, 2), "image/png"))

			engine := new(mockEngine)
			engine.On("Apply", mock.Anything, mock.Anything).Return(&domain.FilterResult{Data: []byte("x"), Format: "png"}, nil)
			reporter := new(mockReporter)
			reporter.On("Report", mock.Anything, mock.Anything).Return(nil, tt.err)

			state, err := NewProcessorUsecase(store, engine, reporter).Process(context.Background(), msg)
			assert.Equal(t, domain.StateRejected, state)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.permanent, domain.IsPermanent(err))
		})
	}
}

func TestProcess_AnomalyTravelsInReport(t *testing.T) {
	store := storage.NewMemoryStorage()
	msg := taskFor(uuid.New(), "a.png")
	require.NoError(t, store.Put(context.Background(), msg.InputPath(), pngBytes(t, 2, 2), "image/png"))

	engine := new(mockEngine)
	engine.On("Apply", mock.Anything, mock.Anything).Return(&domain.FilterResult{Data: []byte("x"), Format: "png", Anomaly: "re-encoded as png"}, nil)
	reporter := new(mockReporter)
	reporter.On("Report", mock.Anything, mock.MatchedBy(func(r domain.CompletionReport) bool {
		return r.Anomaly == "re-encoded as png"
	})).Return(&domain.CompletionResult{Marked: true}, nil).Once()

	_, err := NewProcessorUsecase(store, engine, reporter).Process(context.Background(), msg)
	require.NoError(t, err)
	reporter.AssertExpectations(t)
}

func TestProcess_RedeliveryAfterUploadIsSafe(t *testing.T) {
	repo := memory.NewBatchRepository()
	store := storage.NewMemoryStorage()
	b := seedBatch(t, repo, store, "a.png", "b.png")
	notifier := &recordingNotifier{}
	engine := processor.NewImageProcessor(&config.ProcessingConfig{JPEGQuality: 90})
	uc := NewProcessorUsecase(store, engine, NewAggregatorUsecase(repo, notifier, ""))

	msg := taskFor(b.ID, "a.png", domain.Filter{Kind: domain.FilterRotate, Param: domain.NumberParam(90)})
	_, err := uc.Process(context.Background(), msg)
	require.NoError(t, err)
	first, err := store.Get(context.Background(), msg.OutputPath())
	require.NoError(t, err)

	// the ack was lost, so the same message comes back
	_, err = uc.Process(context.Background(), msg)
	require.NoError(t, err)
	second, err := store.Get(context.Background(), msg.OutputPath())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, store.PutCount(msg.OutputPath()))

	got, err := repo.GetBatch(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Remaining)
	assert.Empty(t, notifier.Sent())
}
