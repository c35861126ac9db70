package services

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
)

// Common service errors
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("record not found")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrTransientStore   = errors.New("transient store failure")
	ErrFatalComputation = errors.New("fatal computation error")

	ErrCompanyNotFound     = fmt.Errorf("company: %w", ErrNotFound)
	ErrLoanNotFound        = fmt.Errorf("loan: %w", ErrNotFound)
	ErrPaymentNotFound     = fmt.Errorf("payment: %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction: %w", ErrNotFound)
	ErrNoActiveContract    = fmt.Errorf("no active contract: %w", ErrNotFound)

	ErrClosedLoan  = errors.New("loan is closed")
	ErrInvalidDate = errors.New("invalid date")
)

// ValidationError carries a message and per-field details for malformed input
type ValidationError struct {
	Message string
	Details map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Details))
	for _, k := range slices.Sorted(maps.Keys(e.Details)) {
		parts = append(parts, k+": "+e.Details[k])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func newValidationError(message string, details map[string]string) *ValidationError {
	return &ValidationError{Message: message, Details: details}
}

// FatalComputationError aborts the recompute of a company and halts the batch
// run; no snapshot is written for that company.
type FatalComputationError struct {
	CompanyID uint
	Date      time.Time
	Err       error
}

func (e *FatalComputationError) Error() string {
	return fmt.Sprintf("company %d on %s: %v", e.CompanyID, e.Date.Format(models.DateLayout), e.Err)
}

// Unwrap exposes both the fatal marker and the underlying cause
func (e *FatalComputationError) Unwrap() []error {
	return []error{ErrFatalComputation, e.Err}
}

// storeErr maps repository failures onto service errors. Lookups that found
// nothing become notFound; transient failures keep their cause and gain
// ErrTransientStore.
func storeErr(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if notFound != nil && errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	if repository.IsTransient(err) {
		return fmt.Errorf("%w: %w", ErrTransientStore, err)
	}
	return err
}

// IsTransient reports whether a service error may succeed on retry
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStore) || repository.IsTransient(err)
}
