package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Day-count conventions converting the contract rate into a daily rate
const (
	DayCountDaily     = "daily"      // rate is already per day
	DayCountActual360 = "actual_360" // annual rate over 360 days
	DayCountActual365 = "actual_365" // annual rate over 365 days
	DayCountMonthly30 = "monthly_30" // monthly rate over 30 days
)

// LateFeeTier multiplies the daily interest for days past the adjusted
// maturity date. ToDay of zero leaves the tier open ended.
type LateFeeTier struct {
	FromDay    int             `json:"from_day"`
	ToDay      int             `json:"to_day"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// Contract holds the interest, fee and limit terms effective for a company
// over the half-open interval [StartDate, EndDate).
type Contract struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	CompanyID        uint            `gorm:"not null;index" json:"company_id"`
	StartDate        time.Time       `gorm:"type:date;not null;index" json:"start_date"`
	EndDate          *time.Time      `gorm:"type:date" json:"end_date"`
	InterestRate     decimal.Decimal `gorm:"type:decimal(20,10);not null" json:"interest_rate"`
	DayCount         string          `gorm:"size:20;not null;default:actual_365" json:"day_count"`
	MaturityDays     int             `gorm:"not null" json:"maturity_days"`
	LateFeeTiers     []LateFeeTier   `gorm:"serializer:json;type:jsonb" json:"late_fee_tiers"`
	MaxLimit         decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"max_limit"`
	AdvanceRate      decimal.Decimal `gorm:"type:decimal(20,10);not null;default:1" json:"advance_rate"`
	ModifiedByUserID *uint           `json:"modified_by_user_id"`
	IsDeleted        bool            `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Contract
func (Contract) TableName() string {
	return "contracts"
}

// ActiveOn reports whether day falls in [StartDate, EndDate)
func (c *Contract) ActiveOn(day time.Time) bool {
	if c.IsDeleted {
		return false
	}
	day = DateOf(day)
	if day.Before(DateOf(c.StartDate)) {
		return false
	}
	return c.EndDate == nil || day.Before(DateOf(*c.EndDate))
}

// DailyInterestRate converts InterestRate through the day-count convention
func (c *Contract) DailyInterestRate() decimal.Decimal {
	switch c.DayCount {
	case DayCountDaily:
		return c.InterestRate
	case DayCountActual360:
		return c.InterestRate.Div(decimal.NewFromInt(360))
	case DayCountMonthly30:
		return c.InterestRate.Div(decimal.NewFromInt(30))
	default:
		return c.InterestRate.Div(decimal.NewFromInt(365))
	}
}

// LateFeeMultiplier returns the multiplier of the tier covering daysPastDue,
// or zero when no tier applies.
func (c *Contract) LateFeeMultiplier(daysPastDue int) decimal.Decimal {
	if daysPastDue <= 0 {
		return decimal.Zero
	}
	for _, tier := range c.LateFeeTiers {
		if daysPastDue < tier.FromDay {
			continue
		}
		if tier.ToDay != 0 && daysPastDue > tier.ToDay {
			continue
		}
		return tier.Multiplier
	}
	return decimal.Zero
}

// Validate checks the contract terms before they are stored
func (c *Contract) Validate() error {
	if c.CompanyID == 0 {
		return errors.New("company_id is required")
	}
	if c.StartDate.IsZero() {
		return errors.New("start_date is required")
	}
	if c.EndDate != nil && !DateOf(*c.EndDate).After(DateOf(c.StartDate)) {
		return errors.New("end_date must be after start_date")
	}
	if c.InterestRate.IsNegative() {
		return errors.New("interest_rate must not be negative")
	}
	switch c.DayCount {
	case DayCountDaily, DayCountActual360, DayCountActual365, DayCountMonthly30:
	default:
		return fmt.Errorf("unknown day_count %q", c.DayCount)
	}
	if c.MaturityDays <= 0 {
		return errors.New("maturity_days must be positive")
	}
	if c.MaxLimit.IsNegative() {
		return errors.New("max_limit must not be negative")
	}
	if c.AdvanceRate.IsNegative() || c.AdvanceRate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("advance_rate must be between 0 and 1")
	}
	for i, tier := range c.LateFeeTiers {
		if tier.FromDay <= 0 {
			return fmt.Errorf("late_fee_tiers[%d].from_day must be positive", i)
		}
		if tier.ToDay != 0 && tier.ToDay < tier.FromDay {
			return fmt.Errorf("late_fee_tiers[%d].to_day must not precede from_day", i)
		}
		if tier.Multiplier.IsNegative() {
			return fmt.Errorf("late_fee_tiers[%d].multiplier must not be negative", i)
		}
	}
	return nil
}
