package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/services"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

// Handlers holds all handler instances
type Handlers struct {
	Health    *HealthHandler
	Summary   *SummaryHandler
	Ledger    *LedgerHandler
	Loan      *LoanHandler
	Artifact  *ArtifactHandler
	Recompute *RecomputeHandler
	Audit     *AuditHandler
	Job       *JobHandler
}

// NewHandlers creates all handler instances
func NewHandlers(svcs *services.Services) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(),
		Summary:   NewSummaryHandler(svcs.Summary, svcs.Resolver),
		Ledger:    NewLedgerHandler(svcs.Ledger),
		Loan:      NewLoanHandler(svcs.Loan, svcs.Ledger, svcs.Adjustment),
		Artifact:  NewArtifactHandler(svcs.Sibling),
		Recompute: NewRecomputeHandler(svcs.Recompute, svcs.Job),
		Audit:     NewAuditHandler(svcs.Audit),
		Job:       NewJobHandler(svcs.Job),
	}
}

// respondError maps service errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	var validation *services.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": validation.Message, "details": validation.Details})
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidDate):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrFatalComputation):
		logger.Error("fatal computation error", "error", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrClosedLoan):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrTransientStore):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable, retry later"})
	default:
		logger.Error("request failed", "error", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// requestContext carries client metadata for audit entries
func requestContext(c *gin.Context) context.Context {
	return services.WithRequestMeta(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
}

// uintParam reads a positive numeric path parameter, answering 400 otherwise
func uintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// parseDate parses an optional YYYY-MM-DD value; empty yields nil
func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	day, err := models.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &day, nil
}

// dateQuery reads a date query parameter, defaulting to today
func dateQuery(c *gin.Context, name string) (time.Time, bool) {
	day, err := parseDate(c.Query(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + ", expected YYYY-MM-DD"})
		return time.Time{}, false
	}
	if day == nil {
		return models.DateOf(time.Now()), true
	}
	return *day, true
}
