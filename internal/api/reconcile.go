package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wick3d/customdomains/internal/reconcile"
)

// ReconcileHandler exposes the background scheduler's queue.
type ReconcileHandler struct {
	pending func() []reconcile.Task
}

// NewReconcileHandler creates a ReconcileHandler over a pending-task source,
// usually (*reconcile.Scheduler).Pending.
func NewReconcileHandler(pending func() []reconcile.Task) *ReconcileHandler {
	return &ReconcileHandler{pending: pending}
}

// Register mounts GET /reconcile/tasks.
func (h *ReconcileHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/reconcile/tasks", h.Tasks)
}

// Tasks handles GET /reconcile/tasks.
func (h *ReconcileHandler) Tasks(c *gin.Context) {
	tasks := h.pending()
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}
