package proration

import "time"

// Day is the length of one calendar day in a normalized date
const Day = 24 * time.Hour

// Date returns the civil date as midnight UTC.
// Every date column in the engine is stored in this form.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf returns the civil date of instant t as observed in loc
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return Date(local.Year(), local.Month(), local.Day())
}

// Normalize drops the clock portion of an already civil date
func Normalize(d time.Time) time.Time {
	return Date(d.Year(), d.Month(), d.Day())
}

// AddDays moves a normalized date by n calendar days
func AddDays(d time.Time, n int) time.Time {
	return Normalize(d).AddDate(0, 0, n)
}

// DaysBetween returns the signed number of days from a to b
func DaysBetween(a, b time.Time) int {
	return int(Normalize(b).Sub(Normalize(a)) / Day)
}

// DaysInMonth returns the number of calendar days (28 to 31) of the month
func DaysInMonth(year int, month time.Month) int {
	// day 0 of the next month is the last day of this one
	return Date(year, month+1, 0).Day()
}

// MonthBounds returns the first and last day of the month containing d
func MonthBounds(d time.Time) (start, end time.Time) {
	start = Date(d.Year(), d.Month(), 1)
	end = Date(d.Year(), d.Month(), DaysInMonth(d.Year(), d.Month()))
	return
}

// PreviousMonth returns the first and last day of the calendar month before ref
func PreviousMonth(ref time.Time) (start, end time.Time) {
	return MonthBounds(Date(ref.Year(), ref.Month(), 0))
}

// FirstOfNextMonth returns the first day of the month after d
func FirstOfNextMonth(d time.Time) time.Time {
	return Date(d.Year(), d.Month()+1, 1)
}

// PeriodLabel formats the billing period as YYYY-MM for gateway metadata
func PeriodLabel(periodStart time.Time) string {
	return periodStart.Format("2006-01")
}

func maxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
