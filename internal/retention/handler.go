package retention

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"expense-backend/internal/shared/server/respond"
)

// Handler exposes retention stats and the manual sweep.
type Handler struct {
	Collector *Collector
}

func NewHandler(c *Collector) *Handler {
	return &Handler{Collector: c}
}

// RegisterRoutes attaches the admin routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/admin/retention/stats", h.stats)
	rg.POST("/admin/retention/sweep", h.sweep)
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.Collector.Stats(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read retention stats", nil)
		return
	}
	respond.OK(c, st)
}

func (h *Handler) sweep(c *gin.Context) {
	res, err := h.Collector.Sweep(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "retention sweep failed", nil)
		return
	}
	respond.OK(c, res)
}
