package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/services"
)

type SummaryHandler struct {
	summaryService *services.SummaryService
	resolver       *services.ContractResolver
}

func NewSummaryHandler(summaryService *services.SummaryService, resolver *services.ContractResolver) *SummaryHandler {
	return &SummaryHandler{summaryService: summaryService, resolver: resolver}
}

// Show returns the stored financial summary of a company for a date
// GET /companies/:company_id/financial_summaries/:date
func (h *SummaryHandler) Show(c *gin.Context) {
	companyID, ok := uintParam(c, "company_id")
	if !ok {
		return
	}
	day, err := models.ParseDate(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date, expected YYYY-MM-DD"})
		return
	}

	summary, err := h.summaryService.Get(c.Request.Context(), companyID, day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"financial_summary": summary})
}

// Preview computes a summary from the ledger without storing it
// GET /companies/:company_id/financial_summaries/:date/preview
func (h *SummaryHandler) Preview(c *gin.Context) {
	companyID, ok := uintParam(c, "company_id")
	if !ok {
		return
	}
	day, err := models.ParseDate(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date, expected YYYY-MM-DD"})
		return
	}

	summary, err := h.summaryService.Preview(c.Request.Context(), companyID, day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"financial_summary": summary, "stored": false})
}

// Contract returns the contract in force for a company on a date
// GET /companies/:company_id/contract?date=YYYY-MM-DD
func (h *SummaryHandler) Contract(c *gin.Context) {
	companyID, ok := uintParam(c, "company_id")
	if !ok {
		return
	}
	day, ok := dateQuery(c, "date")
	if !ok {
		return
	}

	contract, err := h.resolver.GetContract(c.Request.Context(), companyID, day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}
