package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/audit"
)

const maxAuditPage = 500

// AuditHandler serves the domain audit log.
type AuditHandler struct {
	ledger audit.Ledger
	logger *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(ledger audit.Ledger, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{ledger: ledger, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("", h.List)
		a.GET("/verify", h.Verify)
	}
}

// List handles GET /audit?offset=&limit=.
func (h *AuditHandler) List(c *gin.Context) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer", "kind": "input"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer", "kind": "input"})
		return
	}
	limit = min(limit, maxAuditPage)

	ctx := c.Request.Context()
	entries, err := h.ledger.List(ctx, offset, limit)
	if err != nil {
		h.logger.Error("list audit entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": "internal"})
		return
	}
	total, err := h.ledger.Len(ctx)
	if err != nil {
		h.logger.Error("count audit entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

// Verify handles GET /audit/verify. A broken chain answers 409.
func (h *AuditHandler) Verify(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.ledger.Verify(ctx); err != nil {
		h.logger.Warn("audit chain verification failed", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"valid": false, "error": err.Error()})
		return
	}
	root, err := h.ledger.Root(ctx)
	if err != nil {
		h.logger.Error("audit root", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": "internal"})
		return
	}
	n, _ := h.ledger.Len(ctx)
	c.JSON(http.StatusOK, gin.H{"valid": true, "root": root, "entries": n})
}
