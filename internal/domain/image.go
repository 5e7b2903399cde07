package domain

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Allowed source extensions, lower-case and without the dot.
var SupportedExtensions = []string{"jpg", "jpeg", "png"}

type ImageTask struct {
	Key         string     `json:"key"`
	BatchID     uuid.UUID  `json:"batch_id"`
	ImageName   string     `json:"image_name"`
	Filters     []Filter   `json:"filters"`
	Processed   bool       `json:"processed"`
	Anomaly     string     `json:"anomaly,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func NewImageTask(batchID uuid.UUID, imageName string, filters []Filter) *ImageTask {
	if filters == nil {
		filters = []Filter{}
	}
	return &ImageTask{
		Key:       TaskKey(batchID, imageName),
		BatchID:   batchID,
		ImageName: imageName,
		Filters:   filters,
		CreatedAt: time.Now().UTC(),
	}
}

func (t *ImageTask) InputPath() string {
	return InputPath(t.BatchID, t.ImageName)
}

func (t *ImageTask) OutputPath() string {
	return OutputPath(t.BatchID, t.ImageName)
}

// TaskKey derives the record key of an image inside a batch.
func TaskKey(batchID uuid.UUID, imageName string) string {
	return batchID.String() + "_" + imageName
}

func InputPath(batchID uuid.UUID, imageName string) string {
	return path.Join(batchID.String(), "input", imageName)
}

func OutputPath(batchID uuid.UUID, imageName string) string {
	return path.Join(batchID.String(), "output", imageName)
}

// Extension returns the lower-cased extension of name without the leading dot.
func Extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

func IsSupportedImage(name string) bool {
	ext := Extension(name)
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// ContentType maps a supported image name to its MIME type.
func ContentType(name string) string {
	switch Extension(name) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

// ValidateImageName rejects names that cannot be stored under a batch prefix.
func ValidateImageName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty image name", ErrInvalidImageName)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidImageName, name)
	}
	if !IsSupportedImage(name) {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
	return nil
}
