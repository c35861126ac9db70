package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/services"
)

type ArtifactHandler struct {
	sibling *services.SiblingAggregator
}

func NewArtifactHandler(sibling *services.SiblingAggregator) *ArtifactHandler {
	return &ArtifactHandler{sibling: sibling}
}

type CheckLimitRequest struct {
	CompanyID       uint            `json:"company_id"`
	ArtifactID      string          `json:"artifact_id"`
	ArtifactValue   decimal.Decimal `json:"artifact_value"`
	ProposedAmount  decimal.Decimal `json:"proposed_amount"`
	ExcludingLoanID uint            `json:"excluding_loan_id"`
	AsOf            string          `json:"as_of"`
}

// LoanSums totals the live loans financed against each artifact
// GET /artifacts/loan_sums?artifact_ids=a,b&excluding_loan_id=
func (h *ArtifactHandler) LoanSums(c *gin.Context) {
	var ids []string
	for _, raw := range strings.Split(c.Query("artifact_ids"), ",") {
		if id := strings.TrimSpace(raw); id != "" {
			ids = append(ids, id)
		}
	}
	var excluding uint
	if raw := c.Query("excluding_loan_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid excluding_loan_id"})
			return
		}
		excluding = uint(id)
	}

	sums, err := h.sibling.GetLoanSumPerArtifact(c.Request.Context(), ids, excluding)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loan_sums": sums})
}

// CheckLimit validates a proposed loan against the artifact's financing limit
// POST /artifacts/check_limit
func (h *ArtifactHandler) CheckLimit(c *gin.Context) {
	var req CheckLimitRequest
	if err := BindNestedOrFlat(c, "artifact", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asOf := models.DateOf(time.Now())
	if req.AsOf != "" {
		day, err := models.ParseDate(req.AsOf)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid as_of, expected YYYY-MM-DD"})
			return
		}
		asOf = day
	}

	check, err := h.sibling.CheckArtifactLimit(c.Request.Context(), req.CompanyID, req.ArtifactID,
		req.ArtifactValue, req.ProposedAmount, req.ExcludingLoanID, asOf)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}
