package ingest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"expense-backend/internal/shared/server/respond"
)

// ReconcileHandler exposes the manual reconcile trigger.
type ReconcileHandler struct {
	Reconciler *Reconciler
}

func NewReconcileHandler(r *Reconciler) *ReconcileHandler {
	return &ReconcileHandler{Reconciler: r}
}

// RegisterRoutes attaches POST /admin/reconcile.
func (h *ReconcileHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/admin/reconcile", h.reconcile)
}

func (h *ReconcileHandler) reconcile(c *gin.Context) {
	res, err := h.Reconciler.Sweep(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "reconcile failed", nil)
		return
	}
	respond.OK(c, res)
}
