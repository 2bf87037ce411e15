package statements

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"expense-backend/internal/extraction"
	"expense-backend/internal/intake"
	"expense-backend/internal/shared/server/middleware"
	"expense-backend/internal/shared/server/respond"
)

const formOverheadBytes = 1 << 20

// Handler exposes the statement import endpoint.
type Handler struct {
	Importer     *Importer
	MaxBodyBytes int64
}

// NewHandler constructs a Handler accepting statements up to maxFileBytes.
func NewHandler(im *Importer, maxFileBytes int64) *Handler {
	var maxBody int64
	if maxFileBytes > 0 {
		maxBody = maxFileBytes + formOverheadBytes
	}
	return &Handler{Importer: im, MaxBodyBytes: maxBody}
}

// RegisterRoutes attaches POST /statements/import behind the given handlers.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, upload ...gin.HandlerFunc) {
	chain := make([]gin.HandlerFunc, 0, len(upload)+1)
	chain = append(chain, upload...)
	rg.POST("/statements/import", append(chain, h.importStatement)...)
}

func (h *Handler) importStatement(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if h.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBodyBytes)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "validation_error", "request body too large",
				gin.H{"reason": intake.ReasonFileTooLarge})
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", gin.H{"reason": intake.ReasonMissingFile})
		return
	}
	file, err := fh.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()

	res, err := h.Importer.ImportStatement(c.Request.Context(), userID, intake.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        file,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	respond.JSON(c, statusCode(res.Status), res)
}

func statusCode(status string) int {
	switch status {
	case StatusFailed:
		return http.StatusUnprocessableEntity
	case StatusPartial:
		return http.StatusMultiStatus
	default:
		return http.StatusCreated
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, intake.ErrValidation):
		status := http.StatusBadRequest
		switch intake.ReasonOf(err) {
		case intake.ReasonFileTooLarge:
			status = http.StatusRequestEntityTooLarge
		case intake.ReasonUnsupportedType, intake.ReasonContentMismatch:
			status = http.StatusUnsupportedMediaType
		case intake.ReasonUnreadablePDF:
			status = http.StatusUnprocessableEntity
		}
		respond.Error(c, status, "validation_error", err.Error(), gin.H{"reason": intake.ReasonOf(err)})
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, extraction.ErrServiceUnavailable):
		respond.Error(c, http.StatusServiceUnavailable, "extraction_unavailable", "statement parser is unavailable", nil)
	case errors.Is(err, extraction.ErrBadInput), errors.Is(err, extraction.ErrEmptyResult):
		respond.Error(c, http.StatusUnprocessableEntity, "extraction_rejected", err.Error(), nil)
	case errors.Is(err, extraction.ErrServiceError):
		respond.Error(c, http.StatusBadGateway, "extraction_failed", "statement parser failed", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to import statement", nil)
	}
}
