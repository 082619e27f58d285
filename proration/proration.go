// Package proration computes billable days and prorated amounts.
// All functions are pure and operate on normalized dates (see Date).
package proration

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// RatePlaces is the precision of the daily rate
	RatePlaces int32 = 4
	// MoneyPlaces is the precision of every persisted amount
	MoneyPlaces int32 = 2
)

var hundred = decimal.NewFromInt(100)

// Interval is one billable span of a staff member. A nil End is open-ended.
// A nil Start means the staff member was never billable.
type Interval struct {
	Start *time.Time
	End   *time.Time
}

// ActiveDays returns the inclusive number of days of iv that fall within
// [periodStart, periodEnd].
func ActiveDays(iv Interval, periodStart, periodEnd time.Time) int {
	if iv.Start == nil {
		return 0
	}
	start, end, ok := clip(iv, periodStart, periodEnd)
	if !ok {
		return 0
	}
	return DaysBetween(start, end) + 1
}

// Overlap sums ActiveDays over every interval and returns the earliest and
// latest billed day within the period. first and last are zero when days is 0.
func Overlap(intervals []Interval, periodStart, periodEnd time.Time) (days int, first, last time.Time) {
	for _, iv := range intervals {
		if iv.Start == nil {
			continue
		}
		start, end, ok := clip(iv, periodStart, periodEnd)
		if !ok {
			continue
		}
		days += DaysBetween(start, end) + 1
		if first.IsZero() || start.Before(first) {
			first = start
		}
		if last.IsZero() || end.After(last) {
			last = end
		}
	}
	return
}

func clip(iv Interval, periodStart, periodEnd time.Time) (start, end time.Time, ok bool) {
	periodStart, periodEnd = Normalize(periodStart), Normalize(periodEnd)
	start = maxDate(Normalize(*iv.Start), periodStart)
	end = periodEnd
	if iv.End != nil {
		end = minDate(Normalize(*iv.End), periodEnd)
	}
	if start.After(end) {
		return start, end, false
	}
	return start, end, true
}

// DailyRate is monthly / daysInPeriod rounded half-up to RatePlaces
func DailyRate(monthly decimal.Decimal, daysInPeriod int) decimal.Decimal {
	if daysInPeriod <= 0 {
		return decimal.Zero
	}
	return monthly.Div(decimal.NewFromInt(int64(daysInPeriod))).Round(RatePlaces)
}

// LineSubtotal is round(DailyRate * daysActive, 2) with half-up rounding
func LineSubtotal(monthly decimal.Decimal, daysInPeriod, daysActive int) decimal.Decimal {
	if daysActive <= 0 {
		return decimal.Zero.Round(MoneyPlaces)
	}
	return DailyRate(monthly, daysInPeriod).
		Mul(decimal.NewFromInt(int64(daysActive))).
		Round(MoneyPlaces)
}

// ToCents converts an amount to integer minor units, round(amount * 100)
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromCents converts integer minor units back to an amount
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -MoneyPlaces)
}
