package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TaskState string

const (
	StateReceived     TaskState = "received"
	StateValidated    TaskState = "validated"
	StateDownloaded   TaskState = "downloaded"
	StateTransformed  TaskState = "transformed"
	StateUploaded     TaskState = "uploaded"
	StateReported     TaskState = "reported"
	StateAcknowledged TaskState = "acknowledged"
	StateRejected     TaskState = "rejected"
)

func (s TaskState) IsTerminal() bool {
	return s == StateAcknowledged || s == StateRejected
}

// TaskMessage is the queue payload. It carries everything a worker needs.
type TaskMessage struct {
	RecordKey     string    `json:"record_key"`
	BatchID       uuid.UUID `json:"batch_id"`
	ImageName     string    `json:"image_name"`
	Filters       []Filter  `json:"filters"`
	CorrelationID string    `json:"correlation_id"`
	Attempt       int       `json:"attempt"`
	// NotBefore holds back a redelivered task until the backoff has passed.
	NotBefore time.Time `json:"not_before,omitzero"`
}

func NewTaskMessage(task *ImageTask) *TaskMessage {
	filters := make([]Filter, len(task.Filters))
	copy(filters, task.Filters)
	return &TaskMessage{
		RecordKey:     task.Key,
		BatchID:       task.BatchID,
		ImageName:     task.ImageName,
		Filters:       filters,
		CorrelationID: uuid.NewString(),
	}
}

func (m *TaskMessage) Validate() error {
	if m.BatchID == uuid.Nil {
		return fmt.Errorf("%w: missing batch_id", ErrInvalidTask)
	}
	if m.ImageName == "" {
		return fmt.Errorf("%w: missing image_name", ErrInvalidTask)
	}
	if m.RecordKey != TaskKey(m.BatchID, m.ImageName) {
		return fmt.Errorf("%w: record_key %q does not match batch and image", ErrInvalidTask, m.RecordKey)
	}
	return ValidateImageName(m.ImageName)
}

func (m *TaskMessage) InputPath() string {
	return InputPath(m.BatchID, m.ImageName)
}

func (m *TaskMessage) OutputPath() string {
	return OutputPath(m.BatchID, m.ImageName)
}

type CompletionReport struct {
	RecordKey     string    `json:"record_key"`
	BatchID       uuid.UUID `json:"batch_id"`
	Anomaly       string    `json:"anomaly,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// CompletionResult describes what a single report changed.
type CompletionResult struct {
	// Marked is true when this report flipped the record to processed.
	Marked    bool
	Remaining int
	// Completed is true only for the report that moved the batch to completed.
	Completed bool
	Batch     *Batch
}

// FilterResult is the output of the filter engine.
type FilterResult struct {
	Data    []byte
	Format  string
	Anomaly string
}
