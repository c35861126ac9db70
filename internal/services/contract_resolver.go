package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
)

// BusinessCalendar knows which days are weekends or holidays
type BusinessCalendar struct {
	holidays map[time.Time]struct{}
}

// NewBusinessCalendar creates a calendar with the given holidays
func NewBusinessCalendar(holidays []time.Time) *BusinessCalendar {
	c := &BusinessCalendar{holidays: make(map[time.Time]struct{}, len(holidays))}
	for _, h := range holidays {
		c.holidays[models.DateOf(h)] = struct{}{}
	}
	return c
}

// IsBusinessDay reports whether day is neither a weekend nor a holiday
func (c *BusinessCalendar) IsBusinessDay(day time.Time) bool {
	day = models.DateOf(day)
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if c == nil {
		return true
	}
	_, holiday := c.holidays[day]
	return !holiday
}

// NextBusinessDay returns day itself when it is a business day, otherwise the
// first business day after it
func (c *BusinessCalendar) NextBusinessDay(day time.Time) time.Time {
	day = models.DateOf(day)
	for !c.IsBusinessDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// ContractTimeline holds every live contract of one company so the contract
// in force on any day can be resolved without further queries.
type ContractTimeline struct {
	CompanyID uint
	contracts []models.Contract // ordered by start date, then id
}

// NewContractTimeline builds a timeline from contracts ordered by start date, then id
func NewContractTimeline(companyID uint, contracts []models.Contract) *ContractTimeline {
	return &ContractTimeline{CompanyID: companyID, contracts: contracts}
}

// At returns the contract whose [start, end) interval contains day. When
// several overlap, the latest start wins, then the highest id.
func (t *ContractTimeline) At(day time.Time) (*models.Contract, error) {
	for i := len(t.contracts) - 1; i >= 0; i-- {
		if t.contracts[i].ActiveOn(day) {
			c := t.contracts[i]
			return &c, nil
		}
	}
	return nil, fmt.Errorf("company %d on %s: %w", t.CompanyID, models.DateOf(day).Format(models.DateLayout), ErrNoActiveContract)
}

type timelineCache struct {
	mu        sync.Mutex
	timelines map[uint]*ContractTimeline
}

// ContractResolver selects the contract in force for a company and date and
// derives maturity dates from it
type ContractResolver struct {
	contracts repository.ContractRepository
	calendar  *BusinessCalendar
	cache     *timelineCache
}

// NewContractResolver creates a resolver that queries contracts on every call
func NewContractResolver(contracts repository.ContractRepository, calendar *BusinessCalendar) *ContractResolver {
	return &ContractResolver{contracts: contracts, calendar: calendar}
}

// ForRun returns a resolver that loads each company's timeline once and keeps
// it for the lifetime of the returned value
func (r *ContractResolver) ForRun() *ContractResolver {
	return &ContractResolver{
		contracts: r.contracts,
		calendar:  r.calendar,
		cache:     &timelineCache{timelines: make(map[uint]*ContractTimeline)},
	}
}

// bind returns a resolver reading through another repository, sharing the
// timeline cache of r
func (r *ContractResolver) bind(contracts repository.ContractRepository) *ContractResolver {
	return &ContractResolver{contracts: contracts, calendar: r.calendar, cache: r.cache}
}

// LoadTimeline returns all live contracts of a company
func (r *ContractResolver) LoadTimeline(ctx context.Context, companyID uint) (*ContractTimeline, error) {
	if r.cache != nil {
		r.cache.mu.Lock()
		t, ok := r.cache.timelines[companyID]
		r.cache.mu.Unlock()
		if ok {
			return t, nil
		}
	}

	contracts, err := r.contracts.FindByCompany(ctx, companyID)
	if err != nil {
		return nil, storeErr(fmt.Errorf("failed to load contracts: %w", err), nil)
	}
	t := NewContractTimeline(companyID, contracts)

	if r.cache != nil {
		r.cache.mu.Lock()
		r.cache.timelines[companyID] = t
		r.cache.mu.Unlock()
	}
	return t, nil
}

// GetContract returns the single contract active for the company on asOf
func (r *ContractResolver) GetContract(ctx context.Context, companyID uint, asOf time.Time) (*models.Contract, error) {
	t, err := r.LoadTimeline(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return t.At(asOf)
}

// MaturityDate is the origination date plus the contract tenor
func (r *ContractResolver) MaturityDate(contract *models.Contract, originationDate *time.Time) (time.Time, error) {
	if originationDate == nil || originationDate.IsZero() {
		return time.Time{}, fmt.Errorf("origination date is required: %w", ErrInvalidDate)
	}
	return models.DateOf(*originationDate).AddDate(0, 0, contract.MaturityDays), nil
}

// AdjustedMaturityDate rolls the maturity date forward to a business day
func (r *ContractResolver) AdjustedMaturityDate(contract *models.Contract, originationDate *time.Time) (time.Time, error) {
	maturity, err := r.MaturityDate(contract, originationDate)
	if err != nil {
		return time.Time{}, err
	}
	return r.calendar.NextBusinessDay(maturity), nil
}
