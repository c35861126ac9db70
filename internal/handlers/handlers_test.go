package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-ledger/internal/config"
	"github.com/sjperalta/fintera-ledger/internal/jobs"
	"github.com/sjperalta/fintera-ledger/internal/middleware"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/sjperalta/fintera-ledger/internal/repository/memory"
	"github.com/sjperalta/fintera-ledger/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handlers-secret"

type apiFixture struct {
	t      *testing.T
	router *gin.Engine
	repos  *repository.Repositories
	store  *memory.Store
	svcs   *services.Services
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	return newAPIFixtureWith(t, nil)
}

func newAPIFixtureWith(t *testing.T, worker *jobs.Worker) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	now := time.Date(2021, 2, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	repos, store := memory.NewRepositories()
	store.Now = clock

	cfg := &config.Config{Recompute: config.RecomputeConfig{PageSize: 50, Backoff: time.Millisecond, MaxRetries: 1}}
	svcs := services.NewServices(repos, worker, cfg, clock)

	router := gin.New()
	router.Use(middleware.RequestLogger())
	RegisterRoutes(router.Group("/api/v1"), NewHandlers(svcs), testSecret)

	return &apiFixture{t: t, router: router, repos: repos, store: store, svcs: svcs}
}

// seedCompany creates a company under a contract starting 2021-01-01
func (f *apiFixture) seedCompany(name string) uint {
	f.t.Helper()
	ctx := context.Background()
	company := &models.Company{Name: name, Identifier: name}
	require.NoError(f.t, f.repos.Company.Create(ctx, company))
	contract := &models.Contract{
		CompanyID:    company.ID,
		StartDate:    time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		InterestRate: decimal.RequireFromString("0.01"),
		DayCount:     models.DayCountMonthly30,
		MaturityDays: 90,
		MaxLimit:     decimal.NewFromInt(50000),
		AdvanceRate:  decimal.NewFromInt(1),
	}
	require.NoError(f.t, f.repos.Contract.Create(ctx, contract))
	return company.ID
}

func (f *apiFixture) do(method, path, role string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		signed, err := middleware.GenerateToken(testSecret, 7, role+"@example.com", role, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		require.NoError(f.t, err)
		req.Header.Set("Authorization", "Bearer "+signed)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// fundLoan drives a loan from draft to funded over HTTP
func (f *apiFixture) fundLoan(companyID uint, amount, origination string) uint {
	f.t.Helper()
	w := f.do(http.MethodPost, "/api/v1/loans", middleware.RoleOperator, gin.H{"loan": gin.H{"company_id": companyID, "amount": amount}})
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	loanID := decode[struct{ Loan models.Loan }](f.t, w).Loan.ID

	w = f.do(http.MethodPost, fmt.Sprintf("/api/v1/loans/%d/approve", loanID), middleware.RoleOperator, nil)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPost, fmt.Sprintf("/api/v1/loans/%d/fund", loanID), middleware.RoleOperator, gin.H{"origination_date": origination})
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	return loanID
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fintera-ledger")
}

func TestRoutesRequireAuthAndRole(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		status int
	}{
		{"anonymous read", http.MethodGet, "/api/v1/companies/1/contract", "", http.StatusUnauthorized},
		{"viewer cannot book", http.MethodPost, "/api/v1/payments", middleware.RoleViewer, http.StatusForbidden},
		{"operator cannot recompute", http.MethodPost, "/api/v1/recompute", middleware.RoleOperator, http.StatusForbidden},
		{"operator cannot delete", http.MethodDelete, "/api/v1/transactions/1", middleware.RoleOperator, http.StatusForbidden},
		{"viewer cannot read audits", http.MethodGet, "/api/v1/audits", middleware.RoleViewer, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.method, tt.path, tt.role, nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestLedgerFlowThroughAPI(t *testing.T) {
	f := newAPIFixture(t)
	companyID := f.seedCompany("acme")
	loanID := f.fundLoan(companyID, "10000", "2021-01-01")

	w := f.do(http.MethodPost, "/api/v1/payments", middleware.RoleOperator, gin.H{
		"company_id":      companyID,
		"loan_id":         loanID,
		"type":            models.TransactionTypeRepayment,
		"amount":          "400.00",
		"settlement_date": "2021-01-15",
		"transactions": []gin.H{{
			"to_principal":   "400.00",
			"effective_date": "2021-01-15",
		}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(http.MethodGet, fmt.Sprintf("/api/v1/loans/%d/transactions", loanID), middleware.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[struct {
		Transactions []models.Transaction
		Total        int
	}](t, w)
	assert.Equal(t, 2, listed.Total)

	w = f.do(http.MethodPost, "/api/v1/recompute", middleware.RoleAdmin, gin.H{"target_date": "2021-02-01", "confirm": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	run := decode[struct{ Result services.RecomputeResult }](t, w).Result
	assert.False(t, run.DryRun)
	assert.NotEmpty(t, run.DatesUpdated)
	assert.Empty(t, run.FatalError)

	w = f.do(http.MethodGet, fmt.Sprintf("/api/v1/companies/%d/financial_summaries/2021-02-01", companyID), middleware.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stored := decode[struct {
		FinancialSummary models.FinancialSummary `json:"financial_summary"`
	}](t, w).FinancialSummary
	assert.False(t, stored.NeedsRecompute)
	assert.True(t, decimal.NewFromInt(9600).Equal(stored.TotalOutstandingPrincipal), stored.TotalOutstandingPrincipal.String())

	w = f.do(http.MethodGet, fmt.Sprintf("/api/v1/companies/%d/financial_summaries/2021-02-01/preview", companyID), middleware.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	preview := decode[struct {
		FinancialSummary models.FinancialSummary `json:"financial_summary"`
	}](t, w).FinancialSummary
	assert.True(t, stored.TotalOutstandingInterest.Equal(preview.TotalOutstandingInterest))

	w = f.do(http.MethodGet, "/api/v1/jobs/status", middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), run.RunID)

	w = f.do(http.MethodGet, "/api/v1/audits", middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), models.AuditActionFund)
}

func TestRecordPaymentErrors(t *testing.T) {
	f := newAPIFixture(t)
	companyID := f.seedCompany("acme")
	loanID := f.fundLoan(companyID, "1000", "2021-01-01")

	w := f.do(http.MethodPost, "/api/v1/payments", middleware.RoleOperator, gin.H{"payment": gin.H{
		"company_id": companyID,
		"loan_id":    loanID,
		"type":       models.TransactionTypeRepayment,
		"amount":     "100.00",
		"transactions": []gin.H{{
			"to_principal":   "90.00",
			"effective_date": "2021-01-10",
		}},
	}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[struct {
		Error   string
		Details map[string]string
	}](t, w)
	assert.Contains(t, body.Details, "amount")

	w = f.do(http.MethodPost, "/api/v1/payments", middleware.RoleOperator, gin.H{
		"company_id":      companyID,
		"type":            models.TransactionTypeFee,
		"amount":          "5",
		"settlement_date": "10/01/2021",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/payments", middleware.RoleOperator, gin.H{
		"company_id": companyID,
		"loan_id":    999,
		"type":       models.TransactionTypeRepayment,
		"amount":     "5",
		"transactions": []gin.H{{
			"to_principal":   "5",
			"effective_date": "2021-01-10",
		}},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteTransactionRequiresReason(t *testing.T) {
	f := newAPIFixture(t)
	companyID := f.seedCompany("acme")
	loanID := f.fundLoan(companyID, "1000", "2021-01-01")

	txs, err := f.repos.Transaction.Find(context.Background(), repository.TransactionQuery{LoanID: loanID})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	path := fmt.Sprintf("/api/v1/transactions/%d", txs[0].ID)

	w := f.do(http.MethodDelete, path, middleware.RoleAdmin, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(http.MethodDelete, path, middleware.RoleAdmin, gin.H{"reason": "booked twice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodDelete, path, middleware.RoleAdmin, gin.H{"reason": "again"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/transactions/abc", middleware.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoanLifecycleThroughAPI(t *testing.T) {
	f := newAPIFixture(t)
	companyID := f.seedCompany("acme")

	w := f.do(http.MethodPost, "/api/v1/loans", middleware.RoleOperator, gin.H{"company_id": companyID, "amount": "-5"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(http.MethodPost, "/api/v1/loans", middleware.RoleOperator, gin.H{"company_id": companyID, "amount": "250", "artifact_id": "PO-9"})
	require.Equal(t, http.StatusCreated, w.Code)
	loanID := decode[struct{ Loan models.Loan }](t, w).Loan.ID

	w = f.do(http.MethodPost, fmt.Sprintf("/api/v1/loans/%d/fund", loanID), middleware.RoleOperator, gin.H{"origination_date": "2021-01-05"})
	assert.Equal(t, http.StatusConflict, w.Code, "a drafted loan cannot be funded")

	w = f.do(http.MethodPost, fmt.Sprintf("/api/v1/loans/%d/fund", loanID), middleware.RoleOperator, gin.H{"origination_date": "tomorrow"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, fmt.Sprintf("/api/v1/loans/%d/approve", loanID), middleware.RoleOperator, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/artifacts/loan_sums?artifact_ids=PO-9,PO-10", middleware.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	sums := decode[struct {
		LoanSums map[string]decimal.Decimal `json:"loan_sums"`
	}](t, w).LoanSums
	assert.True(t, decimal.NewFromInt(250).Equal(sums["PO-9"]))
	assert.True(t, sums["PO-10"].IsZero())

	w = f.do(http.MethodPost, "/api/v1/artifacts/check_limit", middleware.RoleOperator, gin.H{
		"company_id":      companyID,
		"artifact_id":     "PO-9",
		"artifact_value":  "1000",
		"proposed_amount": "800",
		"as_of":           "2021-01-10",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	check := decode[services.ArtifactLimitCheck](t, w)
	assert.False(t, check.Allowed)

	w = f.do(http.MethodPost, fmt.Sprintf("/api/v1/loans/%d/reject", loanID), middleware.RoleOperator, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodDelete, fmt.Sprintf("/api/v1/loans/%d", loanID), middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.do(http.MethodDelete, fmt.Sprintf("/api/v1/loans/%d", loanID), middleware.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdjustmentThroughAPI(t *testing.T) {
	f := newAPIFixture(t)
	companyID := f.seedCompany("acme")
	loanID := f.fundLoan(companyID, "1000", "2021-01-01")
	path := fmt.Sprintf("/api/v1/loans/%d/adjustments", loanID)

	w := f.do(http.MethodPost, path, middleware.RoleAdmin, gin.H{"adjustment": gin.H{
		"company_id":     companyID,
		"to_fees":        "-2.50",
		"effective_date": "2021-01-20",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	payment := decode[struct{ Payment models.Payment }](t, w).Payment
	assert.Equal(t, models.TransactionTypeAdjustment, payment.Type)

	w = f.do(http.MethodPost, path, middleware.RoleAdmin, gin.H{"company_id": companyID, "effective_date": "2021-01-20"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSummaryAndContractLookups(t *testing.T) {
	f := newAPIFixture(t)
	companyID := f.seedCompany("acme")

	w := f.do(http.MethodGet, fmt.Sprintf("/api/v1/companies/%d/financial_summaries/2021-01-05", companyID), middleware.RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, fmt.Sprintf("/api/v1/companies/%d/financial_summaries/05-01-2021", companyID), middleware.RoleViewer, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, fmt.Sprintf("/api/v1/companies/%d/contract?date=2021-03-01", companyID), middleware.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"contract"`)

	w = f.do(http.MethodGet, fmt.Sprintf("/api/v1/companies/%d/contract?date=2020-12-31", companyID), middleware.RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecomputeDefaultsToDryRun(t *testing.T) {
	f := newAPIFixture(t)
	companyID := f.seedCompany("acme")
	f.fundLoan(companyID, "1000", "2021-01-01")
	before := len(f.store.Summaries())

	w := f.do(http.MethodPost, "/api/v1/recompute", middleware.RoleAdmin, gin.H{"target_date": "2021-02-01"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	run := decode[struct{ Result services.RecomputeResult }](t, w).Result
	assert.True(t, run.DryRun)
	assert.NotEmpty(t, run.DatesUpdated)
	assert.Len(t, f.store.Summaries(), before)

	w = f.do(http.MethodPost, "/api/v1/recompute", middleware.RoleAdmin, gin.H{"job": "rebuild_everything"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/recompute", middleware.RoleAdmin, gin.H{"job": services.JobRecomputeDate})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "recompute_date needs a target date")
}

func TestRecomputeAsyncRunsOnWorker(t *testing.T) {
	worker := jobs.NewWorker(1)
	t.Cleanup(worker.Shutdown)
	f := newAPIFixtureWith(t, worker)
	companyID := f.seedCompany("acme")
	f.fundLoan(companyID, "1000", "2021-01-01")

	w := f.do(http.MethodPost, "/api/v1/recompute", middleware.RoleAdmin, gin.H{"target_date": "2021-02-01", "confirm": true, "async": true})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	queued := decode[struct {
		RunID  string `json:"run_id"`
		Job    string `json:"job"`
		Status string `json:"status"`
	}](t, w)
	require.NotEmpty(t, queued.RunID)
	assert.Equal(t, services.JobRecomputeDirty, queued.Job)
	assert.Equal(t, "queued", queued.Status)

	assert.Eventually(t, func() bool {
		last := f.svcs.Recompute.LastRun()
		return last != nil && last.RunID == queued.RunID
	}, 2*time.Second, 5*time.Millisecond)

	w = f.do(http.MethodGet, "/api/v1/jobs/status", middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[struct {
		LastRun *services.RecomputeResult `json:"last_run"`
	}](t, w)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, queued.RunID, status.LastRun.RunID)
	assert.False(t, status.LastRun.DryRun)
	for _, s := range f.store.Summaries() {
		assert.False(t, s.NeedsRecompute, "summary %s", s.Date)
	}
}

func TestRecomputeAsyncNeedsWorker(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodPost, "/api/v1/recompute", middleware.RoleAdmin, gin.H{"async": true})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &services.ValidationError{Message: "bad", Details: map[string]string{"a": "b"}}, http.StatusUnprocessableEntity},
		{"invalid date", services.ErrInvalidDate, http.StatusUnprocessableEntity},
		{"not found", services.ErrLoanNotFound, http.StatusNotFound},
		{"invalid state", services.ErrRecomputeRunning, http.StatusConflict},
		{"closed loan", services.ErrClosedLoan, http.StatusConflict},
		{"transient", fmt.Errorf("%w: serialization", services.ErrTransientStore), http.StatusServiceUnavailable},
		{"fatal", &services.FatalComputationError{CompanyID: 1, Err: services.ErrNoActiveContract}, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			respondError(c, tt.err)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
