package http

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/batchflow/internal/domain"
	"github.com/yokitheyo/batchflow/internal/dto"
)

type BatchHandler struct {
	batches       domain.BatchService
	dispatcher    domain.DispatchService
	reporter      domain.CompletionReporter
	maxUploadSize int64
}

func NewBatchHandler(
	batches domain.BatchService,
	dispatcher domain.DispatchService,
	reporter domain.CompletionReporter,
	maxUploadSizeMB int,
) *BatchHandler {
	return &BatchHandler{
		batches:       batches,
		dispatcher:    dispatcher,
		reporter:      reporter,
		maxUploadSize: int64(maxUploadSizeMB) * 1024 * 1024,
	}
}

func (h *BatchHandler) RegisterRoutes(engine *ginext.Engine) {
	engine.POST("/batches", h.SubmitBatch)
	engine.GET("/batches/:id", h.GetBatch)
	engine.POST("/batches/:id/dispatch", h.DispatchBatch)
	engine.POST("/batches/:id/reports", h.ReportImage)
	engine.GET("/batches/:id/images", h.ListImages)
	engine.GET("/batches/:id/images/:name", h.GetImageObject)
	engine.GET("/batches/:id/processed", h.ListProcessed)

	// trigger endpoints kept for existing callers
	engine.GET("/process_batch", h.ProcessBatch)
	engine.GET("/update_image_status", h.UpdateImageStatus)
}

// SubmitBatch POST /batches
func (h *BatchHandler) SubmitBatch(c *ginext.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to parse multipart form")
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "Expected multipart form with email, images and optional filters or metadata",
		})
		return
	}

	filters, err := dto.ParseFilters(c.PostForm("filters"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	imageFilters, err := dto.ParseImageMetadata(c.PostForm("metadata"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	headers := form.File["images"]
	images := make([]domain.UploadedImage, 0, len(headers))
	files := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	for _, header := range headers {
		if h.maxUploadSize > 0 && header.Size > h.maxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{
				Error:   "file_too_large",
				Message: fmt.Sprintf("%s exceeds maximum allowed (%d MB)", header.Filename, h.maxUploadSize/(1024*1024)),
			})
			return
		}
		file, err := header.Open()
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("filename", header.Filename).Msg("failed to open uploaded file")
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "invalid_request",
				Message: "Failed to read " + header.Filename,
			})
			return
		}
		files = append(files, file)
		images = append(images, domain.UploadedImage{
			Name:   header.Filename,
			Size:   header.Size,
			Reader: file,
		})
	}

	batch, err := h.batches.Submit(c.Request.Context(), domain.SubmitBatchInput{
		OwnerEmail:   c.PostForm("email"),
		Filters:      filters,
		ImageFilters: imageFilters,
		Images:       images,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := dto.SubmitResponse{Batch: dto.MapBatchToResponse(batch, h.getBaseURL(c))}
	if dispatch, _ := strconv.ParseBool(c.PostForm("dispatch")); dispatch {
		result, err := h.dispatcher.Dispatch(c.Request.Context(), batch.ID)
		if err != nil {
			zlog.Logger.Error().Err(err).Str("batch_id", batch.ID.String()).Msg("dispatch after submit failed")
		}
		resp.Dispatch = dto.MapDispatchToResponse(batch.ID.String(), result, err)
		if updated, err := h.batches.GetBatch(c.Request.Context(), batch.ID); err == nil {
			resp.Batch = dto.MapBatchToResponse(updated, h.getBaseURL(c))
		}
	}

	c.JSON(http.StatusCreated, resp)
}

// GetBatch GET /batches/:id
func (h *BatchHandler) GetBatch(c *ginext.Context) {
	id, ok := h.batchID(c, c.Param("id"))
	if !ok {
		return
	}

	batch, err := h.batches.GetBatch(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MapBatchToResponse(batch, h.getBaseURL(c)))
}

// DispatchBatch POST /batches/:id/dispatch
func (h *BatchHandler) DispatchBatch(c *ginext.Context) {
	id, ok := h.batchID(c, c.Param("id"))
	if !ok {
		return
	}
	h.dispatch(c, id)
}

// ProcessBatch GET /process_batch?batch_id=
func (h *BatchHandler) ProcessBatch(c *ginext.Context) {
	id, ok := h.batchID(c, c.Query("batch_id"))
	if !ok {
		return
	}
	h.dispatch(c, id)
}

func (h *BatchHandler) dispatch(c *ginext.Context, id uuid.UUID) {
	result, err := h.dispatcher.Dispatch(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrPartialDispatch) {
			c.JSON(http.StatusMultiStatus, dto.MapDispatchToResponse(id.String(), result, err))
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.MapDispatchToResponse(id.String(), result, nil))
}

// ReportImage POST /batches/:id/reports
func (h *BatchHandler) ReportImage(c *ginext.Context) {
	id, ok := h.batchID(c, c.Param("id"))
	if !ok {
		return
	}

	var req dto.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "doc_id is required",
		})
		return
	}
	h.report(c, req.ToDomain(id))
}

// UpdateImageStatus GET /update_image_status?doc_id=&batch_id=
func (h *BatchHandler) UpdateImageStatus(c *ginext.Context) {
	id, ok := h.batchID(c, c.Query("batch_id"))
	if !ok {
		return
	}
	docID := strings.TrimSpace(c.Query("doc_id"))
	if docID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "doc_id is required",
		})
		return
	}
	h.report(c, domain.CompletionReport{RecordKey: docID, BatchID: id})
}

func (h *BatchHandler) report(c *ginext.Context, r domain.CompletionReport) {
	res, err := h.reporter.Report(c.Request.Context(), r)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ReportResponse{
		DocID:     r.RecordKey,
		Marked:    res.Marked,
		Remaining: res.Remaining,
		Completed: res.Completed,
	})
}

// ListImages GET /batches/:id/images?processed=
func (h *BatchHandler) ListImages(c *ginext.Context) {
	id, ok := h.batchID(c, c.Param("id"))
	if !ok {
		return
	}
	processed, err := dto.ParseProcessed(c.Query("processed"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	tasks, err := h.batches.ListImages(c.Request.Context(), id, processed)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MapImagesToResponse(id.String(), tasks, h.getBaseURL(c)))
}

// ListProcessed GET /batches/:id/processed
func (h *BatchHandler) ListProcessed(c *ginext.Context) {
	id, ok := h.batchID(c, c.Param("id"))
	if !ok {
		return
	}

	tasks, err := h.batches.ListProcessed(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MapProcessedToResponse(id.String(), tasks))
}

// GetImageObject GET /batches/:id/images/:name?variant=input|output
func (h *BatchHandler) GetImageObject(c *ginext.Context) {
	id, ok := h.batchID(c, c.Param("id"))
	if !ok {
		return
	}
	output, err := dto.ParseVariant(c.Query("variant"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	name := c.Param("name")

	data, err := h.batches.GetObject(c.Request.Context(), id, name, output)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	c.Data(http.StatusOK, domain.ContentType(name), data)
}

// Helper methods

func (h *BatchHandler) batchID(c *ginext.Context, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "A valid batch ID is required",
		})
		return uuid.Nil, false
	}
	return id, true
}

func (h *BatchHandler) writeError(c *ginext.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		zlog.Logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(status, dto.ErrorResponse{Error: code, Message: "Internal server error"})
		return
	}
	c.JSON(status, dto.ErrorResponse{Error: code, Message: err.Error()})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrBatchNotFound),
		errors.Is(err, domain.ErrImageTaskNotFound),
		errors.Is(err, domain.ErrObjectNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrBatchCompleted):
		return http.StatusConflict, "batch_completed"
	case errors.Is(err, domain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrInvalidImageName):
		return http.StatusBadRequest, "invalid_format"
	case errors.Is(err, domain.ErrEmptyBatch),
		errors.Is(err, domain.ErrDuplicateImage),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrInvalidMetadata),
		errors.Is(err, domain.ErrInvalidFilterParam),
		errors.Is(err, domain.ErrInvalidStatusFilter),
		errors.Is(err, domain.ErrInvalidObjectVariant),
		errors.Is(err, domain.ErrInvalidTask):
		return http.StatusBadRequest, "invalid_request"
	}
	return http.StatusInternalServerError, "server_error"
}

func (h *BatchHandler) getBaseURL(c *ginext.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Request.Host)
}
