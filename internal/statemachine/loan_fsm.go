package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/sjperalta/fintera-ledger/internal/models"
)

// Loan lifecycle events
const (
	LoanEventApprove = "approve"
	LoanEventReject  = "reject"
	LoanEventFund    = "fund"
	LoanEventClose   = "close"
	LoanEventReopen  = "reopen"
)

// LoanFSM wraps a loan with its state machine
type LoanFSM struct {
	loan *models.Loan
	fsm  *fsm.FSM
}

// NewLoanFSM creates a new loan state machine
func NewLoanFSM(loan *models.Loan) *LoanFSM {
	lfsm := &LoanFSM{
		loan: loan,
	}

	lfsm.fsm = fsm.NewFSM(
		loan.Status,
		fsm.Events{
			// drafted → approved
			{Name: LoanEventApprove, Src: []string{models.LoanStatusDrafted}, Dst: models.LoanStatusApproved},

			// drafted/approved → rejected
			{Name: LoanEventReject, Src: []string{models.LoanStatusDrafted, models.LoanStatusApproved}, Dst: models.LoanStatusRejected},

			// approved → funded (origination date set)
			{Name: LoanEventFund, Src: []string{models.LoanStatusApproved}, Dst: models.LoanStatusFunded},

			// funded → closed
			{Name: LoanEventClose, Src: []string{models.LoanStatusFunded}, Dst: models.LoanStatusClosed},

			// closed → funded when a settling entry is reversed
			{Name: LoanEventReopen, Src: []string{models.LoanStatusClosed}, Dst: models.LoanStatusFunded},
		},
		fsm.Callbacks{},
	)

	return lfsm
}

// Approve transitions the loan to approved
func (l *LoanFSM) Approve(ctx context.Context) error {
	if !l.loan.MayApprove() {
		return fmt.Errorf("loan cannot be approved in current state: %s", l.loan.Status)
	}
	return l.fire(ctx, LoanEventApprove)
}

// Reject transitions the loan to rejected
func (l *LoanFSM) Reject(ctx context.Context) error {
	if !l.loan.MayReject() {
		return fmt.Errorf("loan cannot be rejected in current state: %s", l.loan.Status)
	}
	return l.fire(ctx, LoanEventReject)
}

// Fund transitions the loan to funded and stamps its origination and maturity dates
func (l *LoanFSM) Fund(ctx context.Context, originationDate, maturityDate, adjustedMaturityDate time.Time, userID uint) error {
	if !l.loan.MayFund() {
		return fmt.Errorf("loan cannot be funded in current state: %s", l.loan.Status)
	}
	if err := l.fire(ctx, LoanEventFund); err != nil {
		return err
	}

	origination := models.DateOf(originationDate)
	maturity := models.DateOf(maturityDate)
	adjusted := models.DateOf(adjustedMaturityDate)
	l.loan.OriginationDate = &origination
	l.loan.MaturityDate = &maturity
	l.loan.AdjustedMaturityDate = &adjusted
	l.loan.FundedByUserID = &userID
	return nil
}

// Close transitions the loan to closed as of the given day
func (l *LoanFSM) Close(ctx context.Context, closedAt time.Time) error {
	if !l.loan.MayClose() {
		return fmt.Errorf("loan cannot be closed in current state: %s", l.loan.Status)
	}
	if err := l.fire(ctx, LoanEventClose); err != nil {
		return err
	}
	day := models.DateOf(closedAt)
	l.loan.ClosedAt = &day
	return nil
}

// Reopen transitions a closed loan back to funded
func (l *LoanFSM) Reopen(ctx context.Context) error {
	if !l.loan.MayReopen() {
		return fmt.Errorf("loan cannot be reopened in current state: %s", l.loan.Status)
	}
	if err := l.fire(ctx, LoanEventReopen); err != nil {
		return err
	}
	l.loan.ClosedAt = nil
	return nil
}

func (l *LoanFSM) fire(ctx context.Context, event string) error {
	if err := l.fsm.Event(ctx, event); err != nil {
		return fmt.Errorf("failed to %s loan: %w", event, err)
	}
	l.loan.Status = l.fsm.Current()
	return nil
}

// Current returns the current state
func (l *LoanFSM) Current() string {
	return l.fsm.Current()
}

// Can checks if a transition is possible
func (l *LoanFSM) Can(event string) bool {
	return l.fsm.Can(event)
}
