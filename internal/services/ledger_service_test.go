package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_RecordPaymentConservesAllocations(t *testing.T) {
	f := newLedgerFixture(t, day("2021-03-01"))
	companyID := f.company("acme")
	f.contract(companyID, contractTerms{start: "2021-01-01", rate: "0.01"})
	loanA := f.fundedLoan(companyID, "5000", "2021-01-01")
	loanB := f.fundedLoan(companyID, "3000", "2021-01-01")

	payment, err := f.svcs.Ledger.RecordPayment(f.ctx, RecordPaymentInput{
		CompanyID: companyID,
		Type:      models.TransactionTypeRepayment,
		Amount:    dec("1234.57"),
		Transactions: []TransactionInput{
			{LoanID: &loanA.ID, ToPrincipal: dec("1000.01"), ToInterest: dec("33.33"), EffectiveDate: day("2021-02-15")},
			{LoanID: &loanB.ID, ToPrincipal: dec("200.00"), ToInterest: dec("1.11"), ToFees: dec("0.12"), EffectiveDate: day("2021-02-15")},
		},
	})
	require.NoError(t, err)

	txs, err := f.svcs.Ledger.ListTransactions(f.ctx, repository.TransactionQuery{PaymentID: payment.ID})
	require.NoError(t, err)
	require.Len(t, txs, 2)

	total := decimal.Zero
	for _, tx := range txs {
		assert.True(t, tx.IsBalanced())
		total = total.Add(tx.ToPrincipal).Add(tx.ToInterest).Add(tx.ToFees)
	}
	assertMoney(t, "1234.57", total, "payment allocations")
}

func TestLedger_RecordPaymentRejectsUnbalancedPayment(t *testing.T) {
	f := newLedgerFixture(t, day("2021-03-01"))
	companyID := f.company("acme")
	f.contract(companyID, contractTerms{start: "2021-01-01", rate: "0.01"})
	loan := f.fundedLoan(companyID, "5000", "2021-01-01")

	_, err := f.svcs.Ledger.RecordPayment(f.ctx, RecordPaymentInput{
		CompanyID: companyID,
		LoanID:    &loan.ID,
		Type:      models.TransactionTypeRepayment,
		Amount:    dec("500"),
		Transactions: []TransactionInput{
			{ToPrincipal: dec("400"), ToInterest: dec("99.99"), EffectiveDate: day("2021-02-01")},
		},
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, verr.Details, "amount")
}

func TestLedger_RecordPaymentIsAtomic(t *testing.T) {
	f := newLedgerFixture(t, day("2021-03-01"))
	companyID := f.company("acme")
	f.contract(companyID, contractTerms{start: "2021-01-01", rate: "0.01"})
	loan := f.fundedLoan(companyID, "5000", "2021-01-01")
	missing := uint(9999)

	_, err := f.svcs.Ledger.RecordPayment(f.ctx, RecordPaymentInput{
		CompanyID: companyID,
		Type:      models.TransactionTypeRepayment,
		Amount:    dec("300"),
		Transactions: []TransactionInput{
			{LoanID: &loan.ID, ToPrincipal: dec("100"), EffectiveDate: day("2021-02-01")},
			{LoanID: &missing, ToPrincipal: dec("200"), EffectiveDate: day("2021-02-01")},
		},
	})
	assert.ErrorIs(t, err, ErrLoanNotFound)

	txs, err := f.svcs.Ledger.ListTransactions(f.ctx, repository.TransactionQuery{LoanID: loan.ID})
	require.NoError(t, err)
	require.Len(t, txs, 1, "only the funding advance remains")
	assert.Equal(t, models.TransactionTypeAdvance, txs[0].Type)
}

func TestLedger_AppendTransactionValidation(t *testing.T) {
	f := newLedgerFixture(t, day("2021-03-01"))
	companyID := f.company("acme")
	f.contract(companyID, contractTerms{start: "2021-01-01", rate: "0.01"})
	loan := f.fundedLoan(companyID, "5000", "2021-01-01")

	payments, err := f.repos.Payment.FindByLoan(f.ctx, loan.ID, false)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	paymentID := payments[0].ID

	tests := []struct {
		name string
		tx   models.Transaction
	}{
		{"unbalanced", models.Transaction{Type: models.TransactionTypeRepayment, Amount: dec("10"), ToPrincipal: dec("9")}},
		{"negative allocation", models.Transaction{Type: models.TransactionTypeRepayment, Amount: dec("10"), ToPrincipal: dec("11"), ToInterest: dec("-1")}},
		{"zero adjustment", models.Transaction{Type: models.TransactionTypeAdjustment}},
		{"unknown type", models.Transaction{Type: "refund", Amount: dec("10"), ToPrincipal: dec("10")}},
		{"repayment without loan", models.Transaction{Type: models.TransactionTypeRepayment, Amount: dec("10"), ToPrincipal: dec("10"), LoanID: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := tt.tx
			tx.CompanyID = companyID
			tx.PaymentID = paymentID
			tx.EffectiveDate = day("2021-02-01")
			if tt.name != "repayment without loan" {
				tx.LoanID = &loan.ID
			}
			err := f.svcs.Ledger.AppendTransaction(f.ctx, &tx)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestLedger_AppendTransactionRejectsDuplicateGUID(t *testing.T) {
	f := newLedgerFixture(t, day("2021-03-01"))
	companyID := f.company("acme")
	f.contract(companyID, contractTerms{start: "2021-01-01", rate: "0.01"})
	loan := f.fundedLoan(companyID, "5000", "2021-01-01")

	payments, err := f.repos.Payment.FindByLoan(f.ctx, loan.ID, false)
	require.NoError(t, err)
	require.Len(t, payments, 1)

	entry := func() *models.Transaction {
		return &models.Transaction{
			GUID:          "9b2f1c4e-3a51-4d0b-8f6e-7c1d2e3f4a5b",
			CompanyID:     companyID,
			LoanID:        &loan.ID,
			PaymentID:     payments[0].ID,
			Type:          models.TransactionTypeRepayment,
			Amount:        dec("10"),
			ToPrincipal:   dec("10"),
			EffectiveDate: day("2021-02-01"),
		}
	}
	require.NoError(t, f.svcs.Ledger.AppendTransaction(f.ctx, entry()))

	err = f.svcs.Ledger.AppendTransaction(f.ctx, entry())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "already recorded", verr.Details["guid"])
}

func TestLedger_RejectsEntriesOnDeletedLoan(t *testing.T) {
	f := newLedgerFixture(t, day("2021-03-01"))
	companyID := f.company("acme")
	f.contract(companyID, contractTerms{start: "2021-01-01", rate: "0.01"})
	loan := f.fundedLoan(companyID, "5000", "2021-01-01")

	stored := f.loan(loan.ID)
	stored.IsDeleted = true
	require.NoError(t, f.repos.Loan.Update(f.ctx, stored))

	_, err := f.svcs.Ledger.RecordPayment(f.ctx, RecordPaymentInput{
		CompanyID:    companyID,
		LoanID:       &loan.ID,
		Type:         models.TransactionTypeRepayment,
		Amount:       dec("10"),
		Transactions: []TransactionInput{{ToPrincipal: dec("10"), EffectiveDate: day("2021-02-01")}},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "loan is deleted", verr.Details["loan_id"])
}

func TestLedger_SoftDeleteTransaction(t *testing.T) {
	f := newLedgerFixture(t, day("2021-03-01"))
	companyID := f.company("acme")
	f.contract(companyID, contractTerms{start: "2021-01-01", rate: "0.01"})
	loan := f.fundedLoan(companyID, "5000", "2021-01-01")
	payment := f.repay(companyID, loan.ID, "100", "0", "0", "2021-02-01")
	txID := payment.Transactions[0].ID

	err := f.svcs.Ledger.SoftDeleteTransaction(f.ctx, txID, "  ", testUserID)
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.svcs.Ledger.SoftDeleteTransaction(f.ctx, txID, "wrong loan", testUserID))

	err = f.svcs.Ledger.SoftDeleteTransaction(f.ctx, txID, "again", testUserID)
	assert.ErrorIs(t, err, ErrInvalidState)

	err = f.svcs.Ledger.SoftDeleteTransaction(f.ctx, 424242, "missing", testUserID)
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	live, err := f.svcs.Ledger.ListTransactions(f.ctx, repository.TransactionQuery{LoanID: loan.ID})
	require.NoError(t, err)
	assert.Len(t, live, 1)

	all, err := f.svcs.Ledger.ListTransactions(f.ctx, repository.TransactionQuery{LoanID: loan.ID, IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	deleted := all[1]
	assert.True(t, deleted.IsDeleted)
	require.NotNil(t, deleted.DeletedReason)
	assert.Equal(t, "wrong loan", *deleted.DeletedReason)
	assert.Equal(t, testUserID, *deleted.DeletedByUserID)

	logs, _, err := f.svcs.Audit.List(f.ctx, 50, 0)
	require.NoError(t, err)
	var found bool
	for _, l := range logs {
		if l.Action == models.AuditActionDelete && l.Entity == "Transaction" && l.EntityID == txID {
			found = true
		}
	}
	assert.True(t, found, "deletion is audited")

	summary, err := f.repos.Summary.FindByCompanyAndDate(f.ctx, companyID, day("2021-02-01"))
	require.NoError(t, err)
	assert.True(t, summary.NeedsRecompute)
}

func TestLedger_ListTransactionsRejectsInvertedRange(t *testing.T) {
	f := newLedgerFixture(t, day("2021-03-01"))

	_, err := f.svcs.Ledger.ListTransactions(f.ctx, repository.TransactionQuery{
		CompanyID: 1,
		From:      dayPtr("2021-02-01"),
		To:        dayPtr("2021-01-01"),
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLedger_FundLoanRequiresActiveContract(t *testing.T) {
	f := newLedgerFixture(t, day("2021-03-01"))
	companyID := f.company("acme")
	f.contract(companyID, contractTerms{start: "2021-02-01", rate: "0.01"})

	loan, err := f.svcs.Loan.CreateLoan(f.ctx, CreateLoanInput{CompanyID: companyID, Amount: dec("100")}, testUserID)
	require.NoError(t, err)
	_, err = f.svcs.Loan.Approve(f.ctx, loan.ID, testUserID)
	require.NoError(t, err)

	_, err = f.svcs.Ledger.FundLoan(f.ctx, loan.ID, day("2021-01-15"), testUserID)
	assert.ErrorIs(t, err, ErrNoActiveContract)
	assert.Equal(t, models.LoanStatusApproved, f.loan(loan.ID).Status)
}

func TestLedger_FundLoanRequiresApproval(t *testing.T) {
	f := newLedgerFixture(t, day("2021-03-01"))
	companyID := f.company("acme")
	f.contract(companyID, contractTerms{start: "2021-01-01", rate: "0.01"})

	loan, err := f.svcs.Loan.CreateLoan(f.ctx, CreateLoanInput{CompanyID: companyID, Amount: dec("100")}, testUserID)
	require.NoError(t, err)

	_, err = f.svcs.Ledger.FundLoan(f.ctx, loan.ID, day("2021-01-15"), testUserID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestLedger_SoftDeletePaymentReopensClosedLoan(t *testing.T) {
	f := newLedgerFixture(t, day("2021-01-11"))
	companyID := f.company("acme")
	f.contract(companyID, contractTerms{start: "2021-01-01", rate: "0.01"})
	loan := f.fundedLoan(companyID, "1000", "2021-01-01")
	payment := f.repay(companyID, loan.ID, "1000", "3.30", "0", "2021-01-11")

	_, err := f.svcs.Recompute.RunDirty(f.ctx, RecomputeOptions{TargetDate: day("2021-01-11")})
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusClosed, f.loan(loan.ID).Status)

	require.NoError(t, f.svcs.Ledger.SoftDeletePayment(f.ctx, payment.ID, "bounced", testUserID))

	reopened := f.loan(loan.ID)
	assert.Equal(t, models.LoanStatusFunded, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)

	stored, err := f.repos.Payment.FindByIDWithTransactions(f.ctx, payment.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	for _, tx := range stored.Transactions {
		assert.True(t, tx.IsDeleted)
	}
}
