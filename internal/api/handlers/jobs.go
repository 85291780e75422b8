package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fablepress/pressroom/internal/compliance"
	"github.com/fablepress/pressroom/internal/fleet"
	"github.com/fablepress/pressroom/internal/jobs"
)

type ErrorResponse struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

type CreateJobRequest struct {
	OrderRef string                 `json:"order_ref" binding:"required"`
	BookRef  string                 `json:"book_ref" binding:"required"`
	Region   string                 `json:"region" binding:"required"`
	Spec     compliance.QualitySpec `json:"quality_spec" binding:"required"`
}

type AssignJobRequest struct {
	Region   string `json:"region"`
	Priority *int   `json:"priority" binding:"omitempty,min=0,max=3"`
}

type AdvanceJobRequest struct {
	Target string `json:"target" binding:"required"`
}

type JobResponse struct {
	ID           string                   `json:"id"`
	OrderRef     string                   `json:"order_ref"`
	BookRef      string                   `json:"book_ref"`
	Region       string                   `json:"region"`
	PrinterID    string                   `json:"printer_id,omitempty"`
	Status       string                   `json:"status"`
	Priority     int                      `json:"priority"`
	RetryCount   int                      `json:"retry_count"`
	QualityCheck *jobs.QualityCheckResult `json:"quality_check,omitempty"`
	Metadata     map[string]string        `json:"metadata,omitempty"`
	Timeline     []jobs.Event             `json:"timeline,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	StartedAt    *time.Time               `json:"started_at,omitempty"`
	CompletedAt  *time.Time               `json:"completed_at,omitempty"`
}

type ListJobsQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type JobHandler struct {
	orchestrator *jobs.Orchestrator
	registry     *fleet.Registry
}

func NewJobHandler(orchestrator *jobs.Orchestrator, registry *fleet.Registry) *JobHandler {
	return &JobHandler{orchestrator: orchestrator, registry: registry}
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	job, err := h.orchestrator.Create(c.Request.Context(), req.OrderRef, req.BookRef, req.Region, req.Spec)
	if err != nil {
		var verr *jobs.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:      "spec_not_compliant",
				Message:    "quality spec failed compliance validation",
				Violations: verr.Violations,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "failed to create job",
		})
		return
	}

	c.JSON(http.StatusCreated, jobToResponse(job, nil))
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondJobError(c, err)
		return
	}

	timeline, err := h.orchestrator.Events(c.Request.Context(), job.ID)
	if err != nil {
		timeline = nil
	}

	c.JSON(http.StatusOK, jobToResponse(job, timeline))
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 50
	}

	list, err := h.orchestrator.List(c.Request.Context(), jobs.Status(query.Status), query.Limit, query.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to list jobs"})
		return
	}

	responses := make([]JobResponse, 0, len(list))
	for _, job := range list {
		responses = append(responses, jobToResponse(job, nil))
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   responses,
		"count":  len(responses),
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

func (h *JobHandler) AssignJob(c *gin.Context) {
	var req AssignJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	job, err := h.orchestrator.Assign(c.Request.Context(), c.Param("id"), req.Region, req.Priority)
	if err != nil {
		if errors.Is(err, fleet.ErrNoEligiblePrinter) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "no_eligible_printer",
				Message: err.Error(),
			})
			return
		}
		respondJobError(c, err)
		return
	}

	resp := gin.H{"job": jobToResponse(job, nil)}
	if job.PrinterID != "" {
		if printer, perr := h.registry.Get(c.Request.Context(), job.PrinterID); perr == nil {
			resp["printer"] = printerToResponse(printer)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) AdvanceJob(c *gin.Context) {
	var req AdvanceJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}

	job, err := h.orchestrator.Advance(c.Request.Context(), c.Param("id"), jobs.Status(req.Target))
	if err != nil {
		respondJobError(c, err)
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job, nil))
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	if err := h.orchestrator.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondJobError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job cancelled"})
}

func (h *JobHandler) RetryJob(c *gin.Context) {
	job, err := h.orchestrator.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondJobError(c, err)
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job, nil))
}

func (h *JobHandler) GetQueueStats(c *gin.Context) {
	counts, err := h.orchestrator.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "failed to count jobs"})
		return
	}

	total := 0
	byStatus := make(map[string]int, len(counts))
	for status, count := range counts {
		byStatus[string(status)] = count
		total += count
	}

	c.JSON(http.StatusOK, gin.H{
		"by_status": byStatus,
		"total":     total,
	})
}

func respondJobError(c *gin.Context, err error) {
	var terr *jobs.TransitionError
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "job not found"})
	case errors.As(err, &terr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "transition_error", Message: terr.Error()})
	case errors.Is(err, jobs.ErrRetryExhausted):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "retry_exhausted", Message: err.Error()})
	case errors.Is(err, jobs.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}

func jobToResponse(job *jobs.PrintJob, timeline []jobs.Event) JobResponse {
	return JobResponse{
		ID:           job.ID,
		OrderRef:     job.OrderRef,
		BookRef:      job.BookRef,
		Region:       job.Region,
		PrinterID:    job.PrinterID,
		Status:       string(job.Status),
		Priority:     job.Priority,
		RetryCount:   job.RetryCount,
		QualityCheck: job.QualityCheck,
		Metadata:     job.Metadata,
		Timeline:     timeline,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup, operatorOnly gin.HandlerFunc) {
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
	r.POST("/jobs/:id/cancel", h.CancelJob)
	r.GET("/queue", h.GetQueueStats)

	operator := r.Group("")
	if operatorOnly != nil {
		operator.Use(operatorOnly)
	}
	operator.PUT("/jobs/:id/assign", h.AssignJob)
	operator.PUT("/jobs/:id/status", h.AdvanceJob)
	operator.POST("/jobs/:id/retry", h.RetryJob)
}
