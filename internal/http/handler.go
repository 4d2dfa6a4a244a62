package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vin-service/internal/domain/vin"
	"vin-service/internal/http/middleware"
	"vin-service/internal/service"
)

const maxSnapshotSize = 10 << 20

type VINService interface {
	SubmitScan(ctx context.Context, req vin.ScanResult, clientIP string) (*service.SubmitResult, error)
	GetRecord(ctx context.Context, raw string) (*vin.RecordInfo, error)
	UploadSnapshot(ctx context.Context, raw string, filename string, body io.Reader, size int64, contentType string) (string, error)
}

type Handler struct {
	vinService VINService
	log        zerolog.Logger
}

func NewHandler(vinService VINService, log zerolog.Logger) *Handler {
	return &Handler{
		vinService: vinService,
		log:        log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.GET("/vin/:vin", h.getVINRecord)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/vin/scans", h.submitScan)
		protected.POST("/vin/:vin/snapshot", h.uploadSnapshot)
	}
}

type submitScanRequest struct {
	VIN          string           `json:"vin" binding:"required"`
	CapturedAt   time.Time        `json:"captured_at"`
	Geolocation  *vin.Geolocation `json:"geolocation"`
	SourceIP     *string          `json:"source_ip"`
	MaterialKind *string          `json:"material_kind"`
	Recognizer   string           `json:"recognizer"`
	RawText      string           `json:"raw_text"`
}

func (h *Handler) submitScan(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok || !principal.CanSubmitScans() {
		c.JSON(http.StatusForbidden, errorResponse("forbidden"))
		return
	}

	var req submitScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.vinService.SubmitScan(c.Request.Context(), vin.ScanResult{
		VIN:            vin.VIN(req.VIN),
		CapturedAt:     req.CapturedAt,
		Geolocation:    req.Geolocation,
		SourceIP:       req.SourceIP,
		MaterialOrKind: req.MaterialKind,
		Recognizer:     req.Recognizer,
		RawText:        req.RawText,
	}, c.ClientIP())
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			h.log.Warn().
				Err(err).
				Str("vin", req.VIN).
				Str("user_id", principal.UserID.String()).
				Msg("rejected vin scan")
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		h.log.Error().Err(err).Str("vin", req.VIN).Msg("failed to submit vin scan")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	response := vin.SubmitResponse{
		Status: vin.StatusCreated,
		ID:     result.ID,
		VIN:    result.VIN.String(),
	}
	status := http.StatusCreated
	if !result.Created {
		response.Status = vin.StatusDuplicate
		status = http.StatusConflict
	}

	c.JSON(status, response)
}

func (h *Handler) getVINRecord(c *gin.Context) {
	record, err := h.vinService.GetRecord(c.Request.Context(), c.Param("vin"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) uploadSnapshot(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok || !principal.CanUploadSnapshots() {
		c.JSON(http.StatusForbidden, errorResponse("forbidden"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("file is required"))
		return
	}
	if fileHeader.Size > maxSnapshotSize {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse("file is too large"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("failed to read file"))
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	url, err := h.vinService.UploadSnapshot(
		c.Request.Context(),
		c.Param("vin"),
		fileHeader.Filename,
		file,
		fileHeader.Size,
		contentType,
	)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{"snapshot_url": url}))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
