package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
)

// SiblingAggregator sums the loans drawing on shared credit artifacts such
// as purchase orders. It never writes.
type SiblingAggregator struct {
	loans    repository.LoanRepository
	resolver *ContractResolver
}

// NewSiblingAggregator creates a sibling aggregator
func NewSiblingAggregator(loans repository.LoanRepository, resolver *ContractResolver) *SiblingAggregator {
	return &SiblingAggregator{loans: loans, resolver: resolver}
}

// GetLoanSumPerArtifact returns, for every requested artifact, the total amount
// of non-deleted loans that are neither drafted nor rejected. The loan being
// edited is passed as excludingLoanID so its prior amount is not counted.
func (a *SiblingAggregator) GetLoanSumPerArtifact(ctx context.Context, artifactIDs []string, excludingLoanID uint) (map[string]decimal.Decimal, error) {
	sums := make(map[string]decimal.Decimal, len(artifactIDs))
	for _, id := range artifactIDs {
		sums[id] = decimal.Zero
	}
	if len(artifactIDs) == 0 {
		return sums, nil
	}

	loans, err := a.loans.FindByArtifacts(ctx, artifactIDs)
	if err != nil {
		return nil, storeErr(fmt.Errorf("failed to load artifact loans: %w", err), nil)
	}

	for i := range loans {
		loan := &loans[i]
		if loan.ID == excludingLoanID || !loan.CountsTowardArtifact() {
			continue
		}
		if _, requested := sums[*loan.ArtifactID]; !requested {
			continue
		}
		sums[*loan.ArtifactID] = sums[*loan.ArtifactID].Add(loan.Amount)
	}
	return sums, nil
}

// ArtifactLimitCheck reports how a proposed loan fits within an artifact
type ArtifactLimitCheck struct {
	ArtifactID string          `json:"artifact_id"`
	Limit      decimal.Decimal `json:"limit"`
	Used       decimal.Decimal `json:"used"`
	Proposed   decimal.Decimal `json:"proposed"`
	Available  decimal.Decimal `json:"available"`
	Allowed    bool            `json:"allowed"`
}

// CheckArtifactLimit validates a proposed loan amount against the share of
// the artifact value the company's contract allows to be financed
func (a *SiblingAggregator) CheckArtifactLimit(ctx context.Context, companyID uint, artifactID string, artifactValue, proposed decimal.Decimal, excludingLoanID uint, asOf time.Time) (*ArtifactLimitCheck, error) {
	details := map[string]string{}
	if strings.TrimSpace(artifactID) == "" {
		details["artifact_id"] = "is required"
	}
	if !artifactValue.IsPositive() {
		details["artifact_value"] = "must be positive"
	}
	if !proposed.IsPositive() {
		details["amount"] = "must be positive"
	}
	if len(details) > 0 {
		return nil, newValidationError("invalid artifact limit check", details)
	}

	contract, err := a.resolver.GetContract(ctx, companyID, asOf)
	if err != nil {
		return nil, err
	}
	sums, err := a.GetLoanSumPerArtifact(ctx, []string{artifactID}, excludingLoanID)
	if err != nil {
		return nil, err
	}

	limit := models.RoundMoney(artifactValue.Mul(contract.AdvanceRate))
	used := sums[artifactID]
	available := limit.Sub(used)
	return &ArtifactLimitCheck{
		ArtifactID: artifactID,
		Limit:      limit,
		Used:       used,
		Proposed:   proposed,
		Available:  available,
		Allowed:    proposed.LessThanOrEqual(available),
	}, nil
}
