package documents

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"expense-backend/internal/intake"
	"expense-backend/internal/shared/server/middleware"
	"expense-backend/internal/shared/server/respond"
)

// multipart framing allowance on top of the file bytes
const formOverheadBytes = 1 << 20

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
	// MaxBodyBytes caps the whole request body. Zero disables the cap.
	MaxBodyBytes int64
}

// NewHandler constructs a Handler. The request body cap is derived from the
// per-file cap and the batch size.
func NewHandler(svc *Service, maxFileBytes int64, maxFiles int) *Handler {
	if maxFiles <= 0 {
		maxFiles = 1
	}
	var maxBody int64
	if maxFileBytes > 0 {
		maxBody = maxFileBytes*int64(maxFiles) + formOverheadBytes
	}
	return &Handler{Svc: svc, MaxBodyBytes: maxBody}
}

// RegisterRoutes attaches document routes to the router group. Upload routes
// get the extra handlers (rate limiting) in front of them.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, upload ...gin.HandlerFunc) {
	rg.POST("/documents", withPrefix(upload, h.upload)...)
	rg.POST("/documents/batch", withPrefix(upload, h.uploadBatch)...)
	rg.GET("/documents", h.list)
	rg.GET("/documents/:id", h.get)
	rg.DELETE("/documents/:id", h.delete)
}

func withPrefix(prefix []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(prefix)+1)
	out = append(out, prefix...)
	return append(out, h)
}

func (h *Handler) limitBody(c *gin.Context) {
	if h.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBodyBytes)
	}
}

func (h *Handler) upload(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	h.limitBody(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		formError(c, err, "file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	doc, err := h.Svc.CreateDocument(c.Request.Context(), userID, toUpload(fileHeader, file))
	if err != nil {
		writeError(c, err, "failed to upload document")
		return
	}

	respond.JSON(c, http.StatusAccepted, toAccepted(doc))
}

func (h *Handler) uploadBatch(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	h.limitBody(c)

	form, err := c.MultipartForm()
	if err != nil {
		formError(c, err, "multipart form with files is required")
		return
	}
	headers := form.File["files"]

	uploads := make([]intake.Upload, 0, len(headers))
	for _, fh := range headers {
		file, err := fh.Open()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", gin.H{"fileName": fh.Filename})
			return
		}
		defer file.Close()
		uploads = append(uploads, toUpload(fh, file))
	}

	res, err := h.Svc.CreateBatch(c.Request.Context(), userID, uploads)
	if err != nil {
		writeError(c, err, "failed to upload documents")
		return
	}

	respond.JSON(c, http.StatusAccepted, toBatchResponse(res))
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	doc, err := h.Svc.GetDocument(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err, "failed to fetch document")
		return
	}

	respond.OK(c, toResponse(doc))
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	limit := 20
	offset := 0

	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	docs, err := h.Svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		writeError(c, err, "failed to list documents")
		return
	}

	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, toResponse(doc))
	}

	respond.OK(c, gin.H{"documents": resp, "limit": limit, "offset": offset})
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	if err := h.Svc.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeError(c, err, "failed to delete document")
		return
	}
	c.Status(http.StatusNoContent)
}

func toUpload(fh *multipart.FileHeader, file multipart.File) intake.Upload {
	return intake.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        file,
	}
}

func formError(c *gin.Context, err error, message string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		respond.Error(c, http.StatusRequestEntityTooLarge, "validation_error", "request body too large",
			gin.H{"reason": intake.ReasonFileTooLarge})
		return
	}
	respond.Error(c, http.StatusBadRequest, "validation_error", message, gin.H{"reason": intake.ReasonMissingFile})
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, intake.ErrValidation):
		status := http.StatusBadRequest
		switch intake.ReasonOf(err) {
		case intake.ReasonFileTooLarge:
			status = http.StatusRequestEntityTooLarge
		case intake.ReasonUnsupportedType, intake.ReasonContentMismatch:
			status = http.StatusUnsupportedMediaType
		}
		respond.Error(c, status, "validation_error", err.Error(), gin.H{"reason": intake.ReasonOf(err)})
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
