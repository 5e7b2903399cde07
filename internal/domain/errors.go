package domain

import "errors"

var (
	ErrBatchNotFound        = errors.New("batch not found")
	ErrImageTaskNotFound    = errors.New("image task not found")
	ErrBatchAlreadyExists   = errors.New("batch already exists")
	ErrBatchCompleted       = errors.New("batch already completed")
	ErrEmptyBatch           = errors.New("batch has no images")
	ErrDuplicateImage       = errors.New("duplicate image name in batch")
	ErrInvalidImageName     = errors.New("invalid image name")
	ErrUnsupportedFormat    = errors.New("unsupported image format")
	ErrInvalidTask          = errors.New("invalid task message")
	ErrInvalidFilterParam   = errors.New("invalid filter parameter")
	ErrDecodeFailed         = errors.New("image decode failed")
	ErrFileTooLarge         = errors.New("file size exceeds maximum allowed")
	ErrObjectNotFound       = errors.New("object not found")
	ErrStorageFailed        = errors.New("storage operation failed")
	ErrQueueFailed          = errors.New("queue operation failed")
	ErrPartialDispatch      = errors.New("some task messages were not enqueued")
	ErrInvalidStatusFilter  = errors.New("invalid processed filter")
	ErrInvalidObjectVariant = errors.New("variant must be input or output")
	ErrInvalidEmail         = errors.New("invalid owner email")
	ErrInvalidMetadata      = errors.New("invalid image metadata")
)

// PermanentError marks a task failure that redelivery cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that IsPermanent reports true. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return err
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
