package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
)

func sortedIDs[T any](m map[uint]T) []uint {
	ids := make([]uint, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func touch(created, updated *time.Time, now time.Time) {
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

// companies

type companyRepo struct{ s *Store }

func (r *companyRepo) FindByID(_ context.Context, id uint) (*models.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.companies[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *companyRepo) Create(_ context.Context, company *models.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	company.ID = r.s.id()
	touch(&company.CreatedAt, &company.UpdatedAt, r.s.Now())
	r.s.companies[company.ID] = *company
	return nil
}

func (r *companyRepo) ListAfter(_ context.Context, afterID uint, limit int) ([]models.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Company
	for _, id := range sortedIDs(r.s.companies) {
		if id <= afterID {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, r.s.companies[id])
	}
	return out, nil
}

// contracts

type contractRepo struct{ s *Store }

func (r *contractRepo) FindByID(_ context.Context, id uint) (*models.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contracts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *contractRepo) FindByCompany(_ context.Context, companyID uint) ([]models.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Contract
	for _, id := range sortedIDs(r.s.contracts) {
		c := r.s.contracts[id]
		if c.CompanyID == companyID && !c.IsDeleted {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *contractRepo) Create(_ context.Context, contract *models.Contract) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	contract.ID = r.s.id()
	touch(&contract.CreatedAt, &contract.UpdatedAt, r.s.Now())
	r.s.contracts[contract.ID] = *contract
	return nil
}

func (r *contractRepo) SoftDelete(_ context.Context, id uint, userID uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contracts[id]
	if !ok || c.IsDeleted {
		return repository.ErrNotFound
	}
	c.IsDeleted = true
	c.ModifiedByUserID = &userID
	c.UpdatedAt = r.s.Now()
	r.s.contracts[id] = c
	return nil
}

// loans

type loanRepo struct{ s *Store }

func (r *loanRepo) FindByID(_ context.Context, id uint) (*models.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.loans[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

func (r *loanRepo) Create(_ context.Context, loan *models.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	loan.ID = r.s.id()
	if loan.Status == "" {
		loan.Status = models.LoanStatusDrafted
	}
	touch(&loan.CreatedAt, &loan.UpdatedAt, r.s.Now())
	r.s.loans[loan.ID] = *loan
	return nil
}

func (r *loanRepo) Update(_ context.Context, loan *models.Loan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.loans[loan.ID]; !ok {
		return repository.ErrNotFound
	}
	loan.UpdatedAt = r.s.Now()
	r.s.loans[loan.ID] = *loan
	return nil
}

func (r *loanRepo) FindOriginatedByCompany(_ context.Context, companyID uint, asOf time.Time) ([]models.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	asOf = models.DateOf(asOf)
	var out []models.Loan
	for _, id := range sortedIDs(r.s.loans) {
		l := r.s.loans[id]
		if l.CompanyID != companyID || l.IsDeleted || l.OriginationDate == nil {
			continue
		}
		if models.DateOf(*l.OriginationDate).After(asOf) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *loanRepo) FindByCompanyAndStatus(_ context.Context, companyID uint, statuses ...string) ([]models.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Loan
	for _, id := range sortedIDs(r.s.loans) {
		l := r.s.loans[id]
		if l.CompanyID == companyID && !l.IsDeleted && slices.Contains(statuses, l.Status) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *loanRepo) FindByArtifacts(_ context.Context, artifactIDs []string) ([]models.Loan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Loan
	for _, id := range sortedIDs(r.s.loans) {
		l := r.s.loans[id]
		if l.ArtifactID != nil && slices.Contains(artifactIDs, *l.ArtifactID) {
			out = append(out, l)
		}
	}
	return out, nil
}

// payments

type paymentRepo struct{ s *Store }

func (r *paymentRepo) FindByID(_ context.Context, id uint) (*models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *paymentRepo) FindByIDWithTransactions(_ context.Context, id uint) (*models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p.Transactions = nil
	for _, txID := range sortedIDs(r.s.txs) {
		if tx := r.s.txs[txID]; tx.PaymentID == id {
			p.Transactions = append(p.Transactions, tx)
		}
	}
	return &p, nil
}

func (r *paymentRepo) FindByLoan(_ context.Context, loanID uint, includeDeleted bool) ([]models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Payment
	for _, id := range sortedIDs(r.s.payments) {
		p := r.s.payments[id]
		if p.LoanID == nil || *p.LoanID != loanID {
			continue
		}
		if p.IsDeleted && !includeDeleted {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *paymentRepo) Create(_ context.Context, payment *models.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payment.ID = r.s.id()
	touch(&payment.CreatedAt, &payment.UpdatedAt, r.s.Now())
	stored := *payment
	stored.Transactions = nil
	r.s.payments[payment.ID] = stored
	return nil
}

func (r *paymentRepo) Update(_ context.Context, payment *models.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.payments[payment.ID]; !ok {
		return repository.ErrNotFound
	}
	payment.UpdatedAt = r.s.Now()
	stored := *payment
	stored.Transactions = nil
	r.s.payments[payment.ID] = stored
	return nil
}

// transactions

type transactionRepo struct{ s *Store }

func (r *transactionRepo) Create(_ context.Context, tx *models.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.txs {
		if tx.GUID != "" && existing.GUID == tx.GUID {
			return gorm.ErrDuplicatedKey
		}
	}
	tx.ID = r.s.id()
	touch(&tx.CreatedAt, &tx.UpdatedAt, r.s.Now())
	r.s.txs[tx.ID] = *tx
	return nil
}

func (r *transactionRepo) FindByID(_ context.Context, id uint) (*models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.txs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &tx, nil
}

func (r *transactionRepo) Find(_ context.Context, q repository.TransactionQuery) ([]models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Transaction
	for _, id := range sortedIDs(r.s.txs) {
		tx := r.s.txs[id]
		if q.CompanyID != 0 && tx.CompanyID != q.CompanyID {
			continue
		}
		if q.LoanID != 0 && (tx.LoanID == nil || *tx.LoanID != q.LoanID) {
			continue
		}
		if q.PaymentID != 0 && tx.PaymentID != q.PaymentID {
			continue
		}
		day := models.DateOf(tx.EffectiveDate)
		if q.From != nil && day.Before(models.DateOf(*q.From)) {
			continue
		}
		if q.To != nil && day.After(models.DateOf(*q.To)) {
			continue
		}
		if tx.IsDeleted && !q.IncludeDeleted {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := models.DateOf(out[i].EffectiveDate), models.DateOf(out[j].EffectiveDate)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *transactionRepo) MarkDeleted(_ context.Context, id uint, reason string, userID uint, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.txs[id]
	if !ok || tx.IsDeleted {
		return repository.ErrNotFound
	}
	tx.IsDeleted = true
	tx.DeletedReason = &reason
	tx.DeletedAt = &at
	tx.DeletedByUserID = &userID
	tx.UpdatedAt = r.s.Now()
	r.s.txs[id] = tx
	return nil
}

func (r *transactionRepo) CountLiveByLoan(_ context.Context, loanID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, tx := range r.s.txs {
		if tx.LoanID != nil && *tx.LoanID == loanID && !tx.IsDeleted {
			n++
		}
	}
	return n, nil
}

// financial summaries

type summaryRepo struct{ s *Store }

func (r *summaryRepo) findLocked(companyID uint, day time.Time) (uint, bool) {
	for _, id := range sortedIDs(r.s.summaries) {
		row := r.s.summaries[id]
		if row.CompanyID == companyID && row.Date != nil && row.Date.Equal(day) {
			return id, true
		}
	}
	return 0, false
}

func (r *summaryRepo) FindByCompanyAndDate(_ context.Context, companyID uint, date time.Time) (*models.FinancialSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.findLocked(companyID, models.DateOf(date))
	if !ok {
		return nil, repository.ErrNotFound
	}
	row := r.s.summaries[id]
	return &row, nil
}

func (r *summaryRepo) MarkDirty(_ context.Context, companyID uint, date time.Time, daysToCompute int, requestedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	day := models.DateOf(date)
	now := r.s.Now()

	id, ok := r.findLocked(companyID, day)
	if !ok {
		row := models.FinancialSummary{
			ID:                   r.s.id(),
			CompanyID:            companyID,
			Date:                 &day,
			NeedsRecompute:       true,
			DaysToCompute:        daysToCompute,
			RecomputeRequestedAt: &requestedAt,
			LastRequestedAt:      &requestedAt,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		r.s.summaries[row.ID] = row
		return nil
	}

	row := r.s.summaries[id]
	if row.NeedsRecompute && row.RecomputeRequestedAt != nil {
		if daysToCompute > row.DaysToCompute {
			row.DaysToCompute = daysToCompute
		}
		if requestedAt.Before(*row.RecomputeRequestedAt) {
			row.RecomputeRequestedAt = &requestedAt
		}
		if row.LastRequestedAt == nil || requestedAt.After(*row.LastRequestedAt) {
			row.LastRequestedAt = &requestedAt
		}
	} else {
		row.DaysToCompute = daysToCompute
		row.RecomputeRequestedAt = &requestedAt
		row.LastRequestedAt = &requestedAt
	}
	row.NeedsRecompute = true
	row.UpdatedAt = now
	r.s.summaries[id] = row
	return nil
}

func (r *summaryRepo) ListNeedingRecompute(_ context.Context, asOf time.Time, after *models.ComputeRequest, limit int) ([]models.ComputeRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	asOf = models.DateOf(asOf)

	var rows []models.FinancialSummary
	for _, row := range r.s.summaries {
		if !row.NeedsRecompute || row.Date == nil || row.Date.After(asOf) || row.RecomputeRequestedAt == nil {
			continue
		}
		if after != nil {
			at := *row.RecomputeRequestedAt
			if at.Before(after.RequestedAt) || (at.Equal(after.RequestedAt) && row.ID <= after.SummaryID) {
				continue
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		ai, aj := *rows[i].RecomputeRequestedAt, *rows[j].RecomputeRequestedAt
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return rows[i].ID < rows[j].ID
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]models.ComputeRequest, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToComputeRequest())
	}
	return out, nil
}

func (r *summaryRepo) SaveComputed(_ context.Context, summary *models.FinancialSummary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.Now()
	day := models.DateOf(*summary.Date)
	summary.Date = &day

	id, ok := r.findLocked(summary.CompanyID, day)
	if !ok {
		summary.ID = r.s.id()
		touch(&summary.CreatedAt, &summary.UpdatedAt, now)
		r.s.summaries[summary.ID] = *summary
		return nil
	}

	existing := r.s.summaries[id]
	row := *summary
	row.ID = id
	row.CreatedAt = existing.CreatedAt
	row.UpdatedAt = now
	row.NeedsRecompute = existing.NeedsRecompute
	row.DaysToCompute = existing.DaysToCompute
	row.RecomputeRequestedAt = existing.RecomputeRequestedAt
	row.LastRequestedAt = existing.LastRequestedAt
	r.s.summaries[id] = row
	*summary = row
	return nil
}

func (r *summaryRepo) ClearMarker(_ context.Context, id uint, computedAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	row, ok := r.s.summaries[id]
	if !ok || !row.NeedsRecompute {
		return false, nil
	}
	if row.LastRequestedAt != nil && row.LastRequestedAt.After(computedAt) {
		return false, nil
	}
	row.NeedsRecompute = false
	row.DaysToCompute = 0
	row.RecomputeRequestedAt = nil
	row.LastRequestedAt = nil
	row.UpdatedAt = r.s.Now()
	r.s.summaries[id] = row
	return true, nil
}

func (r *summaryRepo) ListNullDate(_ context.Context, afterID uint, limit int) ([]models.FinancialSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.FinancialSummary
	for _, id := range sortedIDs(r.s.summaries) {
		row := r.s.summaries[id]
		if id <= afterID || row.Date != nil {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *summaryRepo) DeleteByIDs(_ context.Context, ids []uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.s.summaries[id]; ok {
			delete(r.s.summaries, id)
			n++
		}
	}
	return n, nil
}

// loan reports

type loanReportRepo struct{ s *Store }

func (r *loanReportRepo) FindByLoan(_ context.Context, loanID uint) (*models.LoanReport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range sortedIDs(r.s.reports) {
		if rep := r.s.reports[id]; rep.LoanID == loanID {
			return &rep, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *loanReportRepo) Upsert(_ context.Context, report *models.LoanReport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.Now()
	for id, existing := range r.s.reports {
		if existing.LoanID == report.LoanID {
			report.ID = id
			report.CreatedAt = existing.CreatedAt
			report.UpdatedAt = now
			r.s.reports[id] = *report
			return nil
		}
	}
	report.ID = r.s.id()
	touch(&report.CreatedAt, &report.UpdatedAt, now)
	r.s.reports[report.ID] = *report
	return nil
}

func (r *loanReportRepo) ListOrphans(_ context.Context, afterID uint, limit int) ([]models.LoanReport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.LoanReport
	for _, id := range sortedIDs(r.s.reports) {
		if id <= afterID {
			continue
		}
		rep := r.s.reports[id]
		loan, ok := r.s.loans[rep.LoanID]
		if ok && !loan.IsDeleted {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, rep)
	}
	return out, nil
}

func (r *loanReportRepo) DeleteByIDs(_ context.Context, ids []uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.s.reports[id]; ok {
			delete(r.s.reports, id)
			n++
		}
	}
	return n, nil
}

// audit logs

type auditRepo struct{ s *Store }

func (r *auditRepo) Create(_ context.Context, entry *models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = r.s.id()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.s.Now()
	}
	r.s.audits[entry.ID] = *entry
	return nil
}

func (r *auditRepo) List(_ context.Context, limit, offset int) ([]models.AuditLog, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := sortedIDs(r.s.audits)
	slices.Reverse(ids)
	total := int64(len(ids))
	var out []models.AuditLog
	for i, id := range ids {
		if i < offset {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, r.s.audits[id])
	}
	return out, total, nil
}
