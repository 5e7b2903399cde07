package dto

import (
	"time"

	"github.com/yokitheyo/batchflow/internal/domain"
)

type BatchResponse struct {
	ID               string     `json:"id"`
	OwnerEmail       string     `json:"owner_email"`
	Status           string     `json:"status"`
	ImageCount       int        `json:"image_count"`
	Processed        int        `json:"processed"`
	Remaining        int        `json:"remaining"`
	NotificationSent bool       `json:"notification_sent"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	// URLs
	StatusURL string `json:"status_url"`
}

type ImageResponse struct {
	Key         string          `json:"key"`
	ImageName   string          `json:"image_name"`
	Filters     []domain.Filter `json:"filters"`
	Processed   bool            `json:"processed"`
	Anomaly     string          `json:"anomaly,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`

	InputURL  string `json:"input_url"`
	OutputURL string `json:"output_url,omitempty"`
}

type ImageListResponse struct {
	BatchID string           `json:"batch_id"`
	Images  []*ImageResponse `json:"images"`
	Total   int              `json:"total"`
}

// ImagePair links a processed image to its source and result objects.
type ImagePair struct {
	ImageName  string `json:"image_name"`
	InputPath  string `json:"input_path"`
	OutputPath string `json:"output_path"`
	Anomaly    string `json:"anomaly,omitempty"`
}

type ProcessedResponse struct {
	BatchID string      `json:"batch_id"`
	Pairs   []ImagePair `json:"pairs"`
}

type DispatchResponse struct {
	BatchID  string `json:"batch_id"`
	Enqueued int    `json:"enqueued"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

type ReportResponse struct {
	DocID     string `json:"doc_id"`
	Marked    bool   `json:"marked"`
	Remaining int    `json:"remaining"`
	Completed bool   `json:"completed"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func MapBatchToResponse(b *domain.Batch, baseURL string) *BatchResponse {
	if b == nil {
		return nil
	}
	return &BatchResponse{
		ID:               b.ID.String(),
		OwnerEmail:       b.OwnerEmail,
		Status:           string(b.Status),
		ImageCount:       b.ImageCount,
		Processed:        b.Processed(),
		Remaining:        b.Remaining,
		NotificationSent: b.NotificationSent,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
		CompletedAt:      b.CompletedAt,
		StatusURL:        baseURL + "/batches/" + b.ID.String(),
	}
}

func MapImageToResponse(t *domain.ImageTask, baseURL string) *ImageResponse {
	if t == nil {
		return nil
	}
	objectURL := baseURL + "/batches/" + t.BatchID.String() + "/images/" + t.ImageName
	resp := &ImageResponse{
		Key:         t.Key,
		ImageName:   t.ImageName,
		Filters:     t.Filters,
		Processed:   t.Processed,
		Anomaly:     t.Anomaly,
		ProcessedAt: t.ProcessedAt,
		InputURL:    objectURL + "?variant=input",
	}
	if t.Processed {
		resp.OutputURL = objectURL + "?variant=output"
	}
	return resp
}

func MapImagesToResponse(batchID string, tasks []*domain.ImageTask, baseURL string) *ImageListResponse {
	images := make([]*ImageResponse, 0, len(tasks))
	for _, t := range tasks {
		images = append(images, MapImageToResponse(t, baseURL))
	}
	return &ImageListResponse{
		BatchID: batchID,
		Images:  images,
		Total:   len(images),
	}
}

func MapProcessedToResponse(batchID string, tasks []*domain.ImageTask) *ProcessedResponse {
	pairs := make([]ImagePair, 0, len(tasks))
	for _, t := range tasks {
		pairs = append(pairs, ImagePair{
			ImageName:  t.ImageName,
			InputPath:  t.InputPath(),
			OutputPath: t.OutputPath(),
			Anomaly:    t.Anomaly,
		})
	}
	return &ProcessedResponse{BatchID: batchID, Pairs: pairs}
}

func MapDispatchToResponse(batchID string, r *domain.DispatchResult, err error) *DispatchResponse {
	resp := &DispatchResponse{BatchID: batchID}
	if r != nil {
		resp.Enqueued = r.Enqueued
		resp.Failed = r.Failed
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

type SubmitResponse struct {
	Batch    *BatchResponse    `json:"batch"`
	Dispatch *DispatchResponse `json:"dispatch,omitempty"`
}
