package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-ledger/internal/middleware"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/sjperalta/fintera-ledger/internal/services"
)

type LedgerHandler struct {
	ledgerService *services.LedgerService
}

func NewLedgerHandler(ledgerService *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerService: ledgerService}
}

// TransactionRequest is one allocation line of a payment
type TransactionRequest struct {
	Type          string          `json:"type"`
	LoanID        *uint           `json:"loan_id"`
	ToPrincipal   decimal.Decimal `json:"to_principal"`
	ToInterest    decimal.Decimal `json:"to_interest"`
	ToFees        decimal.Decimal `json:"to_fees"`
	EffectiveDate string          `json:"effective_date"`
}

// RecordPaymentRequest is the body of POST /payments, flat or nested under "payment"
type RecordPaymentRequest struct {
	CompanyID            uint                 `json:"company_id"`
	LoanID               *uint                `json:"loan_id"`
	Type                 string               `json:"type"`
	Amount               decimal.Decimal      `json:"amount"`
	RequestedPaymentDate string               `json:"requested_payment_date"`
	SettlementDate       string               `json:"settlement_date"`
	DepositDate          string               `json:"deposit_date"`
	Transactions         []TransactionRequest `json:"transactions"`
}

// DeleteRequest carries the reason recorded on a soft delete
type DeleteRequest struct {
	Reason string `json:"reason"`
}

func (r RecordPaymentRequest) toInput(userID uint) (services.RecordPaymentInput, map[string]string) {
	bad := map[string]string{}
	date := func(field, raw string) *time.Time {
		day, err := parseDate(raw)
		if err != nil {
			bad[field] = "expected YYYY-MM-DD"
		}
		return day
	}

	in := services.RecordPaymentInput{
		CompanyID:            r.CompanyID,
		LoanID:               r.LoanID,
		Type:                 r.Type,
		Amount:               r.Amount,
		RequestedPaymentDate: date("requested_payment_date", r.RequestedPaymentDate),
		SettlementDate:       date("settlement_date", r.SettlementDate),
		DepositDate:          date("deposit_date", r.DepositDate),
		SubmittedByUserID:    &userID,
	}
	for i, t := range r.Transactions {
		line := services.TransactionInput{
			Type:        t.Type,
			LoanID:      t.LoanID,
			ToPrincipal: t.ToPrincipal,
			ToInterest:  t.ToInterest,
			ToFees:      t.ToFees,
		}
		if effective := date("transactions["+strconv.Itoa(i)+"].effective_date", t.EffectiveDate); effective != nil {
			line.EffectiveDate = *effective
		}
		in.Transactions = append(in.Transactions, line)
	}
	return in, bad
}

// RecordPayment books a payment and its transactions atomically
// POST /payments
func (h *LedgerHandler) RecordPayment(c *gin.Context) {
	var req RecordPaymentRequest
	if err := BindNestedOrFlat(c, "payment", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in, bad := req.toInput(middleware.GetUserID(c))
	if len(bad) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dates", "details": bad})
		return
	}

	payment, err := h.ledgerService.RecordPayment(requestContext(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": payment})
}

// AppendTransaction adds one entry to an existing payment
// POST /payments/:payment_id/transactions
func (h *LedgerHandler) AppendTransaction(c *gin.Context) {
	paymentID, ok := uintParam(c, "payment_id")
	if !ok {
		return
	}
	var req struct {
		TransactionRequest
		CompanyID uint `json:"company_id"`
	}
	if err := BindNestedOrFlat(c, "transaction", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	effective, err := parseDate(req.EffectiveDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid effective_date, expected YYYY-MM-DD"})
		return
	}

	userID := middleware.GetUserID(c)
	tx := &models.Transaction{
		CompanyID:       req.CompanyID,
		LoanID:          req.LoanID,
		PaymentID:       paymentID,
		Type:            req.Type,
		Amount:          req.ToPrincipal.Add(req.ToInterest).Add(req.ToFees),
		ToPrincipal:     req.ToPrincipal,
		ToInterest:      req.ToInterest,
		ToFees:          req.ToFees,
		CreatedByUserID: &userID,
	}
	if effective != nil {
		tx.EffectiveDate = *effective
	}

	if err := h.ledgerService.AppendTransaction(requestContext(c), tx); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": tx})
}

// LoanTransactions lists the ledger of one loan
// GET /loans/:loan_id/transactions?from=&to=&include_deleted=
func (h *LedgerHandler) LoanTransactions(c *gin.Context) {
	loanID, ok := uintParam(c, "loan_id")
	if !ok {
		return
	}
	from, err := parseDate(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from, expected YYYY-MM-DD"})
		return
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to, expected YYYY-MM-DD"})
		return
	}
	includeDeleted, _ := strconv.ParseBool(c.DefaultQuery("include_deleted", "false"))

	txs, err := h.ledgerService.ListTransactions(c.Request.Context(), repository.TransactionQuery{
		LoanID:         loanID,
		From:           from,
		To:             to,
		IncludeDeleted: includeDeleted,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "total": len(txs)})
}

// DeleteTransaction soft deletes a single transaction
// DELETE /transactions/:transaction_id
func (h *LedgerHandler) DeleteTransaction(c *gin.Context) {
	txID, ok := uintParam(c, "transaction_id")
	if !ok {
		return
	}
	var req DeleteRequest
	if err := BindNestedOrFlat(c, "transaction", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = c.Query("reason")
	}

	if err := h.ledgerService.SoftDeleteTransaction(requestContext(c), txID, req.Reason, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Transaction deleted"})
}

// DeletePayment soft deletes a payment and its transactions
// DELETE /payments/:payment_id
func (h *LedgerHandler) DeletePayment(c *gin.Context) {
	paymentID, ok := uintParam(c, "payment_id")
	if !ok {
		return
	}
	var req DeleteRequest
	if err := BindNestedOrFlat(c, "payment", &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = c.Query("reason")
	}

	if err := h.ledgerService.SoftDeletePayment(requestContext(c), paymentID, req.Reason, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment deleted"})
}
