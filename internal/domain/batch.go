package domain

import (
	"time"

	"github.com/google/uuid"
)

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchInProgress BatchStatus = "in_progress"
	BatchCompleted  BatchStatus = "completed"
)

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchPending, BatchInProgress, BatchCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
// Completion may be reached from pending when reports race ahead of the dispatcher.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	switch s {
	case BatchPending:
		return next == BatchInProgress || next == BatchCompleted
	case BatchInProgress:
		return next == BatchCompleted
	}
	return false
}

type Batch struct {
	ID               uuid.UUID   `json:"id"`
	OwnerEmail       string      `json:"owner_email"`
	ImageCount       int         `json:"image_count"`
	Remaining        int         `json:"remaining"`
	Status           BatchStatus `json:"status"`
	NotificationSent bool        `json:"notification_sent"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

func NewBatch(ownerEmail string, imageCount int) *Batch {
	now := time.Now().UTC()
	return &Batch{
		ID:         uuid.New(),
		OwnerEmail: ownerEmail,
		ImageCount: imageCount,
		Remaining:  imageCount,
		Status:     BatchPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (b *Batch) IsCompleted() bool {
	return b.Status == BatchCompleted
}

func (b *Batch) Processed() int {
	return b.ImageCount - b.Remaining
}

// Notification is what the notifier trigger receives once per batch.
type Notification struct {
	BatchID    uuid.UUID `json:"batch_id"`
	OwnerEmail string    `json:"owner_email"`
	ImageCount int       `json:"image_count"`
	Link       string    `json:"link,omitempty"`
}
