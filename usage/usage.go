package usage

import (
	"time"

	"github.com/zllovesuki/stylo/proration"
)

// Interval describes one billable span of a staff member in a business.
// A nil EndDate means the staff member is still billable.
type Interval struct {
	ID                  uint       `json:"id" gorm:"primaryKey"`
	StaffSubscriptionID uint       `json:"staffSubscriptionId" gorm:"not null;index"`
	BusinessID          string     `json:"businessId" gorm:"not null;index"`
	StaffID             string     `json:"staffId" gorm:"not null"`
	StartDate           time.Time  `json:"startDate" gorm:"not null;index"`
	EndDate             *time.Time `json:"endDate" gorm:"index"` // Last billed day, inclusive
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// IsOpen reports whether the interval has not ended
func (i *Interval) IsOpen() bool {
	return i.EndDate == nil
}

// Span converts the row for the proration engine
func (i *Interval) Span() proration.Interval {
	start := i.StartDate
	return proration.Interval{
		Start: &start,
		End:   i.EndDate,
	}
}

// Spans converts the rows for the proration engine
func Spans(intervals []Interval) []proration.Interval {
	spans := make([]proration.Interval, 0, len(intervals))
	for k := range intervals {
		spans = append(spans, intervals[k].Span())
	}
	return spans
}
