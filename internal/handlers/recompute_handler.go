package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-ledger/internal/middleware"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/services"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

type RecomputeHandler struct {
	recomputeService *services.RecomputeService
	jobService       *services.JobService
}

func NewRecomputeHandler(recomputeService *services.RecomputeService, jobService *services.JobService) *RecomputeHandler {
	return &RecomputeHandler{recomputeService: recomputeService, jobService: jobService}
}

// RecomputeRequest selects a batch job. Without Confirm the job only reports
// what it would change. Async queues it on the background worker.
type RecomputeRequest struct {
	Job        string `json:"job"`
	TargetDate string `json:"target_date"`
	Confirm    bool   `json:"confirm"`
	PageSize   int    `json:"page_size"`
	Limit      int    `json:"limit"`
	Async      bool   `json:"async"`
}

// Run executes a batch job and returns its result, or queues it and returns
// the run id to look for in /jobs/status
// POST /recompute
func (h *RecomputeHandler) Run(c *gin.Context) {
	var req RecomputeRequest
	if err := BindNestedOrFlat(c, "recompute", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := parseDate(req.TargetDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid target_date, expected YYYY-MM-DD"})
		return
	}
	if req.PageSize < 0 || req.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page_size and limit must not be negative"})
		return
	}

	opts := services.RecomputeOptions{
		DryRun:   !req.Confirm,
		PageSize: req.PageSize,
		Limit:    req.Limit,
	}
	if target != nil {
		opts.TargetDate = *target
	}

	if req.Job == "" {
		req.Job = services.JobRecomputeDirty
	}
	run, ok := h.recomputeService.Job(req.Job)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown job " + req.Job})
		return
	}

	logger.Info("recompute requested", "job", req.Job, "confirm", req.Confirm, "async", req.Async,
		"target_date", opts.TargetDate.Format(models.DateLayout), "user_id", middleware.GetUserID(c))

	if req.Async {
		runID, err := h.jobService.Enqueue(req.Job, opts)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "job": req.Job, "status": "queued"})
		return
	}

	result, err := run(c.Request.Context(), opts)
	if err != nil {
		if result == nil {
			respondError(c, err)
			return
		}
		status := http.StatusInternalServerError
		if services.IsTransient(err) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}
