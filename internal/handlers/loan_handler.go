package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-ledger/internal/middleware"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/services"
)

type LoanHandler struct {
	loanService       *services.LoanService
	ledgerService     *services.LedgerService
	adjustmentService *services.AdjustmentService
}

func NewLoanHandler(loanService *services.LoanService, ledgerService *services.LedgerService, adjustmentService *services.AdjustmentService) *LoanHandler {
	return &LoanHandler{
		loanService:       loanService,
		ledgerService:     ledgerService,
		adjustmentService: adjustmentService,
	}
}

type CreateLoanRequest struct {
	CompanyID            uint            `json:"company_id"`
	Amount               decimal.Decimal `json:"amount"`
	ArtifactID           *string         `json:"artifact_id"`
	RequestedPaymentDate string          `json:"requested_payment_date"`
}

type FundLoanRequest struct {
	OriginationDate string `json:"origination_date"`
}

type AdjustmentRequest struct {
	CompanyID     uint            `json:"company_id"`
	ToPrincipal   decimal.Decimal `json:"to_principal"`
	ToInterest    decimal.Decimal `json:"to_interest"`
	ToFees        decimal.Decimal `json:"to_fees"`
	DepositDate   string          `json:"deposit_date"`
	EffectiveDate string          `json:"effective_date"`
}

// Create drafts a loan
// POST /loans
func (h *LoanHandler) Create(c *gin.Context) {
	var req CreateLoanRequest
	if err := BindNestedOrFlat(c, "loan", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	requested, err := parseDate(req.RequestedPaymentDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid requested_payment_date, expected YYYY-MM-DD"})
		return
	}

	loan, err := h.loanService.CreateLoan(requestContext(c), services.CreateLoanInput{
		CompanyID:            req.CompanyID,
		Amount:               req.Amount,
		ArtifactID:           req.ArtifactID,
		RequestedPaymentDate: requested,
	}, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"loan": loan})
}

// Approve moves a drafted loan to approved
// POST /loans/:loan_id/approve
func (h *LoanHandler) Approve(c *gin.Context) {
	loanID, ok := uintParam(c, "loan_id")
	if !ok {
		return
	}
	loan, err := h.loanService.Approve(requestContext(c), loanID, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loan": loan})
}

// Reject moves a drafted or approved loan to rejected
// POST /loans/:loan_id/reject
func (h *LoanHandler) Reject(c *gin.Context) {
	loanID, ok := uintParam(c, "loan_id")
	if !ok {
		return
	}
	loan, err := h.loanService.Reject(requestContext(c), loanID, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loan": loan})
}

// Fund books the advance of an approved loan
// POST /loans/:loan_id/fund
func (h *LoanHandler) Fund(c *gin.Context) {
	loanID, ok := uintParam(c, "loan_id")
	if !ok {
		return
	}
	var req FundLoanRequest
	if err := BindNestedOrFlat(c, "loan", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	origination, err := models.ParseDate(req.OriginationDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid origination_date, expected YYYY-MM-DD"})
		return
	}

	loan, err := h.ledgerService.FundLoan(requestContext(c), loanID, origination, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loan": loan})
}

// Delete soft deletes a loan without live ledger entries
// DELETE /loans/:loan_id
func (h *LoanHandler) Delete(c *gin.Context) {
	loanID, ok := uintParam(c, "loan_id")
	if !ok {
		return
	}
	if err := h.loanService.DeleteLoan(requestContext(c), loanID, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Loan deleted"})
}

// Adjust books a manual balance correction
// POST /loans/:loan_id/adjustments
func (h *LoanHandler) Adjust(c *gin.Context) {
	loanID, ok := uintParam(c, "loan_id")
	if !ok {
		return
	}
	var req AdjustmentRequest
	if err := BindNestedOrFlat(c, "adjustment", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	effective, err := parseDate(req.EffectiveDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid effective_date, expected YYYY-MM-DD"})
		return
	}
	deposit, err := parseDate(req.DepositDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid deposit_date, expected YYYY-MM-DD"})
		return
	}

	in := services.AdjustmentInput{
		CompanyID:       req.CompanyID,
		LoanID:          loanID,
		ToPrincipal:     req.ToPrincipal,
		ToInterest:      req.ToInterest,
		ToFees:          req.ToFees,
		CreatedByUserID: middleware.GetUserID(c),
	}
	if effective != nil {
		in.EffectiveDate = *effective
		in.DepositDate = *effective
	}
	if deposit != nil {
		in.DepositDate = *deposit
	}

	payment, err := h.adjustmentService.CreateAdjustment(requestContext(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": payment})
}
