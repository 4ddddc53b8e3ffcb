package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/dns"
	"github.com/wick3d/customdomains/internal/domains"
	"github.com/wick3d/customdomains/internal/settings"
)

// domainService is the part of *domains.Service the handler needs.
type domainService interface {
	AddDomain(ctx context.Context, domain string, opts domains.AddOptions) (*domains.Registration, error)
	CheckDomainNow(ctx context.Context, domain string) (*domains.CheckResult, error)
	ListDomains(ctx context.Context) (*domains.DomainList, error)
	RemoveDomain(ctx context.Context, domain string) error
	Instructions(ctx context.Context, domain string) (*domains.Instructions, error)
}

// DomainHandler serves the custom-domain endpoints.
type DomainHandler struct {
	svc    domainService
	logger *zap.Logger
}

// NewDomainHandler creates a DomainHandler.
func NewDomainHandler(svc domainService, logger *zap.Logger) *DomainHandler {
	return &DomainHandler{svc: svc, logger: logger}
}

// Register mounts the domain routes on the given router group.
func (h *DomainHandler) Register(rg *gin.RouterGroup) {
	d := rg.Group("/domains")
	{
		d.POST("", h.Add)
		d.GET("", h.List)
		d.POST("/:domain/check", h.Check)
		d.GET("/:domain/instructions", h.Instructions)
		d.DELETE("/:domain", h.Remove)
	}
}

// AddRequest is the body of POST /domains.
type AddRequest struct {
	Domain  string `json:"domain" binding:"required"`
	Primary bool   `json:"primary"`
	Method  string `json:"method"`
}

// Add handles POST /domains.
//
// Response: the value to publish and DNS setup instructions. Background
// verification starts immediately.
func (h *DomainHandler) Add(c *gin.Context) {
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	method, err := dns.ParseMethod(req.Method)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reg, err := h.svc.AddDomain(c.Request.Context(), req.Domain, domains.AddOptions{Primary: req.Primary, Method: method})
	if err != nil {
		h.fail(c, "add domain", err)
		return
	}
	c.JSON(http.StatusCreated, reg)
}

// List handles GET /domains.
func (h *DomainHandler) List(c *gin.Context) {
	list, err := h.svc.ListDomains(c.Request.Context())
	if err != nil {
		h.fail(c, "list domains", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Check handles POST /domains/:domain/check. The body always carries the
// verification result, with instructions when the domain is not verified.
func (h *DomainHandler) Check(c *gin.Context) {
	res, err := h.svc.CheckDomainNow(c.Request.Context(), c.Param("domain"))
	if err != nil {
		h.fail(c, "check domain", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Instructions handles GET /domains/:domain/instructions.
func (h *DomainHandler) Instructions(c *gin.Context) {
	ins, err := h.svc.Instructions(c.Request.Context(), c.Param("domain"))
	if err != nil {
		h.fail(c, "domain instructions", err)
		return
	}
	c.JSON(http.StatusOK, ins)
}

// Remove handles DELETE /domains/:domain.
func (h *DomainHandler) Remove(c *gin.Context) {
	if err := h.svc.RemoveDomain(c.Request.Context(), c.Param("domain")); err != nil {
		h.fail(c, "remove domain", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DomainHandler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, dns.ErrInvalidDomain), errors.Is(err, dns.ErrMissingToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "input"})
	case errors.Is(err, domains.ErrDomainNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": "not_found"})
	case errors.Is(err, domains.ErrDomainConflict), errors.Is(err, domains.ErrDomainLimitReached):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": "conflict"})
	case errors.Is(err, domains.ErrNeedsMigration):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": "needs_migration"})
	case errors.Is(err, domains.ErrPersistFailed), errors.Is(err, settings.ErrSettingsNotFound):
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "kind": "store"})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": "internal"})
	}
}
