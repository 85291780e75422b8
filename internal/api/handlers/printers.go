package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fablepress/pressroom/internal/fleet"
)

type RegisterPrinterRequest struct {
	Name         string                    `json:"name" binding:"required"`
	Endpoint     string                    `json:"endpoint" binding:"required,url"`
	Location     fleet.Location            `json:"location" binding:"required"`
	Capabilities fleet.PrinterCapabilities `json:"capabilities" binding:"required"`
}

type UpdatePrinterStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type UpdateMetricsRequest struct {
	Metrics fleet.QualityMetrics `json:"metrics" binding:"required"`
}

type PrinterResponse struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name"`
	Endpoint     string                    `json:"endpoint"`
	Status       string                    `json:"status"`
	Location     fleet.Location            `json:"location"`
	Capabilities fleet.PrinterCapabilities `json:"capabilities"`
	CurrentLoad  int                       `json:"current_load"`
	LastSeenAt   *time.Time                `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
}

type PrinterHealthResponse struct {
	ID         string               `json:"id"`
	Status     string               `json:"status"`
	Metrics    fleet.QualityMetrics `json:"metrics"`
	LastSeenAt *time.Time           `json:"last_seen_at,omitempty"`
}

type PrinterHandler struct {
	registry *fleet.Registry
}

func NewPrinterHandler(registry *fleet.Registry) *PrinterHandler {
	return &PrinterHandler{registry: registry}
}

func (h *PrinterHandler) RegisterPrinter(c *gin.Context) {
	var req RegisterPrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	printer := &fleet.Printer{
		Name:         req.Name,
		Endpoint:     strings.TrimRight(req.Endpoint, "/"),
		Location:     req.Location,
		Capabilities: req.Capabilities,
	}

	if err := h.registry.Register(c.Request.Context(), printer); err != nil {
		if errors.Is(err, fleet.ErrPrinterAlreadyExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error()})
			return
		}
		// Compliance rejections come back as descriptive errors.
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "compliance_rejected", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, printerToResponse(printer))
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	region := c.Query("region")
	if region == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "region query parameter is required"})
		return
	}

	printers, err := h.registry.ListByRegion(c.Request.Context(), region)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to list printers"})
		return
	}

	responses := make([]PrinterResponse, 0, len(printers))
	for _, p := range printers {
		responses = append(responses, printerToResponse(p))
	}

	c.JSON(http.StatusOK, gin.H{
		"region":   region,
		"printers": responses,
		"count":    len(responses),
	})
}

func (h *PrinterHandler) GetPrinterHealth(c *gin.Context) {
	printer, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondPrinterError(c, err)
		return
	}

	c.JSON(http.StatusOK, PrinterHealthResponse{
		ID:         printer.ID,
		Status:     string(printer.Status),
		Metrics:    printer.Capabilities.Metrics,
		LastSeenAt: printer.LastSeenAt,
	})
}

func (h *PrinterHandler) UpdatePrinterStatus(c *gin.Context) {
	var req UpdatePrinterStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	status := fleet.PrinterStatus(req.Status)
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid printer status: " + req.Status})
		return
	}

	if err := h.registry.UpdateStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		respondPrinterError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "printer status updated"})
}

func (h *PrinterHandler) UpdatePrinterMetrics(c *gin.Context) {
	var req UpdateMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	if err := h.registry.UpdateQualityMetrics(c.Request.Context(), c.Param("id"), req.Metrics); err != nil {
		respondPrinterError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "printer metrics updated"})
}

func respondPrinterError(c *gin.Context, err error) {
	if errors.Is(err, fleet.ErrPrinterNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "printer not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
}

func printerToResponse(p *fleet.Printer) PrinterResponse {
	return PrinterResponse{
		ID:           p.ID,
		Name:         p.Name,
		Endpoint:     p.Endpoint,
		Status:       string(p.Status),
		Location:     p.Location,
		Capabilities: p.Capabilities,
		CurrentLoad:  p.CurrentLoad,
		LastSeenAt:   p.LastSeenAt,
		CreatedAt:    p.CreatedAt,
	}
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup, operatorOnly gin.HandlerFunc) {
	r.GET("/printers", h.ListPrinters)
	r.GET("/printers/:id/health", h.GetPrinterHealth)

	operator := r.Group("")
	if operatorOnly != nil {
		operator.Use(operatorOnly)
	}
	operator.POST("/printers", h.RegisterPrinter)
	operator.PUT("/printers/:id/status", h.UpdatePrinterStatus)
	operator.PUT("/printers/:id/metrics", h.UpdatePrinterMetrics)
}
