package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
)

// SummaryService serves stored financial summaries to readers
type SummaryService struct {
	summaries repository.FinancialSummaryRepository
	engine    *BalanceEngine
}

func NewSummaryService(summaries repository.FinancialSummaryRepository, engine *BalanceEngine) *SummaryService {
	return &SummaryService{summaries: summaries, engine: engine}
}

// Get returns the stored summary of a company for a date. A summary still
// flagged for recompute is returned as is; callers can check NeedsRecompute.
func (s *SummaryService) Get(ctx context.Context, companyID uint, date time.Time) (*models.FinancialSummary, error) {
	summary, err := s.summaries.FindByCompanyAndDate(ctx, companyID, models.DateOf(date))
	if err != nil {
		return nil, storeErr(err, fmt.Errorf("financial summary for company %d on %s: %w", companyID, models.DateOf(date).Format(models.DateLayout), ErrNotFound))
	}
	return summary, nil
}

// Preview computes a summary without storing it
func (s *SummaryService) Preview(ctx context.Context, companyID uint, date time.Time) (*models.FinancialSummary, error) {
	result, err := s.engine.Compute(ctx, companyID, date)
	if err != nil {
		return nil, err
	}
	return &result.Summary, nil
}
